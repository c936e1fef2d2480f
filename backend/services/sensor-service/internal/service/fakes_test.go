package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/repository"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// memStore is an in-memory ReadingStore/ReadingQuerier honouring the unique dedup key.
type memStore struct {
	rows      map[models.Key]models.Reading
	failOn    map[models.Key]error
	keysErr   error
	inserts   int
	insertLog []models.Key
}

func newMemStore() *memStore {
	return &memStore{rows: map[models.Key]models.Reading{}, failOn: map[models.Key]error{}}
}

func (m *memStore) InsertIfAbsent(_ context.Context, r models.Reading) (repository.InsertStatus, error) {
	m.inserts++
	m.insertLog = append(m.insertLog, r.Key())
	if err, ok := m.failOn[r.Key()]; ok {
		return repository.Failed, err
	}
	if _, ok := m.rows[r.Key()]; ok {
		return repository.Skipped, nil
	}
	m.rows[r.Key()] = r
	return repository.Inserted, nil
}

func (m *memStore) ExistingKeys(context.Context) ([]models.Key, error) {
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	keys := make([]models.Key, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].TimestampMS < keys[j].TimestampMS })
	return keys, nil
}

func (m *memStore) QueryRange(_ context.Context, sensorNumbers []int, fromMS, toMS int64, fields []models.Field) ([]models.Reading, error) {
	wanted := map[int]bool{}
	for _, n := range sensorNumbers {
		wanted[n] = true
	}
	out := []models.Reading{}
	for _, r := range m.rows {
		if wanted[r.SensorNumber] && r.TimestampMS >= fromMS && r.TimestampMS < toMS {
			r.Measurements = r.Measurements.Only(fields)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMS != out[j].TimestampMS {
			return out[i].TimestampMS < out[j].TimestampMS
		}
		return out[i].SensorNumber < out[j].SensorNumber
	})
	return out, nil
}

func (m *memStore) count() int { return len(m.rows) }

// memCatalog is an in-memory CatalogStore.
type memCatalog struct {
	catalog *models.Catalog
}

func (m *memCatalog) Replace(_ context.Context, c *models.Catalog) error {
	m.catalog = c
	return nil
}

func (m *memCatalog) Load(context.Context) (*models.Catalog, error) {
	if m.catalog == nil {
		return models.NewCatalog(nil, nil, nil)
	}
	return m.catalog, nil
}

// fakeSource serves a fixed set of readings per sensor; After returns rows in
// [start, start+span).
type fakeSource struct {
	data        source.CatalogData
	readings    map[int][]models.Reading
	failSensors map[int]error
	latestErr   error
	span        int64
	afterCalls  []int64
}

func (f *fakeSource) Catalog(context.Context) (source.CatalogData, error) {
	return f.data, nil
}

func (f *fakeSource) Latest(_ context.Context, sensors []models.Sensor) ([]source.Batch, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	out := make([]source.Batch, 0, len(sensors))
	for _, s := range sensors {
		b := source.Batch{Sensor: s}
		if err, ok := f.failSensors[s.Number]; ok {
			b.Err = err
			out = append(out, b)
			continue
		}
		if rows := f.readings[s.Number]; len(rows) > 0 {
			b.Readings = []models.Reading{rows[len(rows)-1]}
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeSource) After(_ context.Context, sensors []models.Sensor, startMS int64) []source.Batch {
	f.afterCalls = append(f.afterCalls, startMS)
	out := make([]source.Batch, 0, len(sensors))
	for _, s := range sensors {
		b := source.Batch{Sensor: s}
		if err, ok := f.failSensors[s.Number]; ok {
			b.Err = err
			out = append(out, b)
			continue
		}
		for _, r := range f.readings[s.Number] {
			if r.TimestampMS >= startMS && r.TimestampMS < startMS+f.span {
				b.Readings = append(b.Readings, r)
			}
		}
		out = append(out, b)
	}
	return out
}

func testCatalogData() source.CatalogData {
	data := source.CatalogData{
		Buildings: []models.Building{{ID: 1, Number: 1, Name: "Main"}},
		Rooms: []models.Room{
			{ID: 10, Number: 1, Name: "Office", BuildingID: 1, BuildingName: "Main"},
			{ID: 20, Number: 2, Name: "Lab", BuildingID: 1, BuildingName: "Main"},
		},
	}
	for n := 1; n <= 5; n++ {
		room := int64(10)
		if n >= 4 {
			room = 20
		}
		data.Sensors = append(data.Sensors, models.Sensor{ID: int64(500 + n), Number: n, Name: "S" + string(rune('0'+n)), RoomID: room})
	}
	return data
}

func mustReading(t *testing.T, sensor, ms int64, occupancy float64) models.Reading {
	t.Helper()
	r, err := models.NewReading(models.Sensor{ID: 500 + sensor, Number: int(sensor)}, ms, models.Measurements{Occupancy: models.Float(occupancy)})
	require.NoError(t, err)
	return r
}

const testWindow = time.Minute

func newTestIngest(src *fakeSource, store *memStore, cat *memCatalog, nowMS int64, opts IngestOptions) *IngestService {
	if opts.Window == 0 {
		opts.Window = testWindow
	}
	src.span = opts.Window.Milliseconds()
	svc := NewIngestService(src, store, cat, nil, zap.NewNop(), opts)
	svc.now = func() time.Time { return time.UnixMilli(nowMS) }
	return svc
}

var errBoom = errors.New("boom")
