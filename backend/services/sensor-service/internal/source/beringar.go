package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/relvacode/iso8601"
	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// DefaultBaseURL is the Beringar console API root.
const DefaultBaseURL = "https://console.beringar.co.uk/api/"

var errMissingTimestamp = errors.New("row has no usable timestamp")

type apiBuilding struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiRoom struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Building     int64  `json:"building"`
	BuildingName string `json:"buildingname"`
}

type apiSensorLocation struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Room     int64  `json:"room"`
	RoomName string `json:"roomname"`
}

// channel is a measurement value that tolerates junk. A non-numeric value leaves the
// channel null and is remembered in bad so the row can be kept and the value reported.
type channel struct {
	value *float64
	bad   string
}

func (c *channel) UnmarshalJSON(b []byte) error {
	c.value, c.bad = nil, ""
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		c.value = &f
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			c.value = &f
			return nil
		}
	}
	c.bad = raw
	return nil
}

type apiReading struct {
	SensorLocation        *int64      `json:"sensorlocation"`
	SensorLocationCurrent *int64      `json:"sensorlocationcurrent"`
	ManagedSpace          *int64      `json:"managedspace"`
	TimestampUTC          string      `json:"timestamputc"`
	RxTimestampUTC        string      `json:"rxtimestamputc"`
	RxEpochMillisec       json.Number `json:"rxepochmillisec"`
	CO2                   channel     `json:"co2"`
	Humid                 channel     `json:"humid"`
	Lux                   channel     `json:"lux"`
	Noise                 channel     `json:"noise"`
	Occupancy             channel     `json:"occupancy"`
	Pressure              channel     `json:"pressure"`
	Temperature           channel     `json:"temperature"`
	VOC                   channel     `json:"voc"`
}

func (r apiReading) location() (int64, bool) {
	if r.SensorLocationCurrent != nil {
		return *r.SensorLocationCurrent, true
	}
	if r.SensorLocation != nil {
		return *r.SensorLocation, true
	}
	return 0, false
}

// timestampMS prefers the receive epoch and falls back to the ISO timestamps.
func (r apiReading) timestampMS() (int64, error) {
	if raw := r.RxEpochMillisec.String(); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return ms, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return int64(f), nil
		}
	}
	for _, raw := range []string{r.RxTimestampUTC, r.TimestampUTC} {
		if raw == "" {
			continue
		}
		t, err := iso8601.ParseString(raw)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
		return t.UnixMilli(), nil
	}
	return 0, errMissingTimestamp
}

func (r apiReading) channels() map[models.Field]channel {
	return map[models.Field]channel{
		models.FieldCO2:         r.CO2,
		models.FieldHumidity:    r.Humid,
		models.FieldLux:         r.Lux,
		models.FieldNoise:       r.Noise,
		models.FieldOccupancy:   r.Occupancy,
		models.FieldPressure:    r.Pressure,
		models.FieldTemperature: r.Temperature,
		models.FieldVOC:         r.VOC,
	}
}

// measurements copies the numeric channels and names the ones that held junk.
func (r apiReading) measurements() (models.Measurements, []string) {
	var (
		m   models.Measurements
		bad []string
	)
	channels := r.channels()
	for _, f := range models.AllFields {
		ch := channels[f]
		m.Set(f, ch.value)
		if ch.bad != "" {
			bad = append(bad, fmt.Sprintf("%s=%s", f, ch.bad))
		}
	}
	return m, bad
}

// decodeRows decodes a JSON array row by row so one malformed row only costs itself.
func decodeRows(body []byte) ([]apiReading, []error, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, nil, err
	}
	rows := make([]apiReading, 0, len(raws))
	var rowErrs []error
	for i, raw := range raws {
		var row apiReading
		if err := json.Unmarshal(raw, &row); err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

// BeringarClient implements Source against the Beringar smart building API.
type BeringarClient struct {
	base           *BaseClient
	buildingNumber int
	logger         *zap.Logger

	mu         sync.Mutex
	buildingID *int64
}

// NewBeringarClient returns client. buildingNumber selects which building's latest
// readings are polled (1-based, listing order).
func NewBeringarClient(baseURL string, creds Credentials, buildingNumber int, httpClient HTTPDoer, logger *zap.Logger) *BeringarClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if buildingNumber <= 0 {
		buildingNumber = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BeringarClient{
		base:           NewBaseClient(baseURL, creds.Username, creds.Password, httpClient),
		buildingNumber: buildingNumber,
		logger:         logger,
	}
}

func (c *BeringarClient) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.base.Get(ctx, path)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// getRows fetches a reading list. Rows that cannot be decoded are logged with log and skipped.
func (c *BeringarClient) getRows(ctx context.Context, path string, log *zap.Logger) ([]apiReading, error) {
	body, err := c.base.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, rowErrs, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, rowErr := range rowErrs {
		log.Warn("undecodable reading dropped", zap.String("path", path), zap.Error(rowErr))
	}
	return rows, nil
}

// Catalog lists buildings, rooms and sensor locations, numbering each list from 1.
func (c *BeringarClient) Catalog(ctx context.Context) (CatalogData, error) {
	var (
		buildings []apiBuilding
		rooms     []apiRoom
		locations []apiSensorLocation
	)
	if err := c.getJSON(ctx, "building/", &buildings); err != nil {
		return CatalogData{}, fmt.Errorf("list buildings: %w", err)
	}
	if err := c.getJSON(ctx, "room", &rooms); err != nil {
		return CatalogData{}, fmt.Errorf("list rooms: %w", err)
	}
	if err := c.getJSON(ctx, "sensorlocation", &locations); err != nil {
		return CatalogData{}, fmt.Errorf("list sensor locations: %w", err)
	}

	var data CatalogData
	for i, b := range buildings {
		data.Buildings = append(data.Buildings, models.Building{ID: b.ID, Number: i + 1, Name: b.Name})
	}
	for i, r := range rooms {
		data.Rooms = append(data.Rooms, models.Room{
			ID:           r.ID,
			Number:       i + 1,
			Name:         r.Name,
			BuildingID:   r.Building,
			BuildingName: r.BuildingName,
		})
	}
	for i, s := range locations {
		data.Sensors = append(data.Sensors, models.Sensor{
			ID:       s.ID,
			Number:   i + 1,
			Name:     s.Name,
			RoomID:   s.Room,
			RoomName: s.RoomName,
		})
	}
	return data, nil
}

func (c *BeringarClient) resolveBuildingID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buildingID != nil {
		return *c.buildingID, nil
	}

	var buildings []apiBuilding
	if err := c.getJSON(ctx, "building/", &buildings); err != nil {
		return 0, fmt.Errorf("list buildings: %w", err)
	}
	if c.buildingNumber > len(buildings) {
		return 0, fmt.Errorf("building number %d not found (%d buildings)", c.buildingNumber, len(buildings))
	}
	id := buildings[c.buildingNumber-1].ID
	c.buildingID = &id
	return id, nil
}

// Latest fetches the newest reading of every sensor in the configured building with a
// single call and distributes the rows to the requested sensors.
func (c *BeringarClient) Latest(ctx context.Context, sensors []models.Sensor) ([]Batch, error) {
	buildingID, err := c.resolveBuildingID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.getRows(ctx, fmt.Sprintf("sensorreading/latest/building/%d", buildingID), c.logger)
	if err != nil {
		return nil, fmt.Errorf("latest readings for building %d: %w", buildingID, err)
	}

	byID := make(map[int64]int, len(sensors))
	batches := make([]Batch, len(sensors))
	for i, s := range sensors {
		batches[i] = Batch{Sensor: s}
		byID[s.ID] = i
	}

	for _, row := range rows {
		loc, ok := row.location()
		if !ok {
			c.logger.Warn("latest reading without sensor location dropped")
			continue
		}
		idx, ok := byID[loc]
		if !ok {
			continue
		}
		reading, err := c.toReading(batches[idx].Sensor, row)
		if err != nil {
			c.logger.Warn("latest reading dropped",
				zap.Int("sensor_number", batches[idx].Sensor.Number),
				zap.String("sensor_name", batches[idx].Sensor.Name),
				zap.Error(err))
			continue
		}
		batches[idx].Readings = append(batches[idx].Readings, reading)
	}
	return batches, nil
}

// After polls each sensor in turn for the readings following startMS.
func (c *BeringarClient) After(ctx context.Context, sensors []models.Sensor, startMS int64) []Batch {
	batches := make([]Batch, 0, len(sensors))
	for _, s := range sensors {
		if err := ctx.Err(); err != nil {
			batches = append(batches, Batch{Sensor: s, Err: err})
			continue
		}
		batches = append(batches, c.after(ctx, s, startMS))
	}
	return batches
}

func (c *BeringarClient) after(ctx context.Context, sensor models.Sensor, startMS int64) Batch {
	batch := Batch{Sensor: sensor}

	log := c.logger.With(zap.Int("sensor_number", sensor.Number), zap.String("sensor_name", sensor.Name))
	path := fmt.Sprintf("beta/sensorreading/sensorlocation/%d/after/%d", sensor.ID, startMS)
	rows, err := c.getRows(ctx, path, log)
	if err != nil {
		batch.Err = err
		return batch
	}

	if len(rows) > PageSize {
		rows = rows[:PageSize]
	}
	for _, row := range rows {
		reading, err := c.toReading(sensor, row)
		if err != nil {
			log.Warn("reading dropped", zap.Error(err))
			continue
		}
		batch.Readings = append(batch.Readings, reading)
	}
	return batch
}

func (c *BeringarClient) toReading(sensor models.Sensor, row apiReading) (models.Reading, error) {
	ms, err := row.timestampMS()
	if err != nil {
		return models.Reading{}, err
	}
	m, bad := row.measurements()
	if len(bad) > 0 {
		c.logger.Warn("malformed channels stored as null",
			zap.Int("sensor_number", sensor.Number),
			zap.String("sensor_name", sensor.Name),
			zap.Int64("timestamp_ms", ms),
			zap.Strings("channels", bad))
	}
	return models.NewReading(sensor, ms, m)
}
