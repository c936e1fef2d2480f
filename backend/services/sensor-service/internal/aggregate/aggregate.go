package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"buildingsense/backend/services/sensor-service/internal/models"
)

var ErrMixedRooms = errors.New("readings span more than one room")

// RoomMinute is one room-level row for a one-minute bucket. SensorNumbers and SensorNames list
// the contributing sensors, ascending by number, joined with ", ".
type RoomMinute struct {
	BucketMS      int64  `json:"timestamp_ms"`
	BucketUTC     string `json:"timestamp_utc"`
	RoomNumber    int    `json:"room_number"`
	RoomName      string `json:"room_name"`
	SensorNumbers string `json:"sensor_numbers"`
	SensorNames   string `json:"sensor_names"`
	models.Measurements
}

// Aggregator buckets a room's readings by minute.
type Aggregator struct {
	catalog *models.Catalog
}

// New returns an aggregator resolving sensors against c.
func New(c *models.Catalog) *Aggregator {
	return &Aggregator{catalog: c}
}

type bucketSensor struct {
	bucket int64
	sensor int
}

type accumulator struct {
	sum   float64
	count int
}

func (a *accumulator) add(v *float64) {
	if v == nil {
		return
	}
	a.sum += *v
	a.count++
}

func (a accumulator) mean() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.sum / float64(a.count), true
}

// Aggregate collapses readings from one room into one row per minute. Each sensor's readings
// within a minute are averaged first; across sensors occupancy is summed and every other field
// averaged. Missing channel values are ignored and a field nobody reported stays nil. Only the
// requested fields are filled.
func (a *Aggregator) Aggregate(readings []models.Reading, fields []models.Field) ([]RoomMinute, error) {
	if len(readings) == 0 {
		return []RoomMinute{}, nil
	}
	if len(fields) == 0 {
		fields = models.AllFields
	}

	room, err := a.roomOf(readings)
	if err != nil {
		return nil, err
	}

	perSensor := map[bucketSensor][]accumulator{}
	for _, r := range readings {
		key := bucketSensor{bucket: models.FloorMinute(r.TimestampMS), sensor: r.SensorNumber}
		acc, ok := perSensor[key]
		if !ok {
			acc = make([]accumulator, len(fields))
			perSensor[key] = acc
		}
		for i, f := range fields {
			acc[i].add(r.Get(f))
		}
	}

	sensorsByBucket := map[int64][]int{}
	for key := range perSensor {
		sensorsByBucket[key.bucket] = append(sensorsByBucket[key.bucket], key.sensor)
	}
	buckets := make([]int64, 0, len(sensorsByBucket))
	for b := range sensorsByBucket {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	out := make([]RoomMinute, 0, len(buckets))
	for _, bucket := range buckets {
		sensors := sensorsByBucket[bucket]
		sort.Ints(sensors)

		row := RoomMinute{
			BucketMS:   bucket,
			BucketUTC:  models.FormatUTC(bucket),
			RoomNumber: room.Number,
			RoomName:   room.Name,
		}
		row.SensorNumbers, row.SensorNames = a.provenance(sensors)

		for i, f := range fields {
			var across accumulator
			for _, n := range sensors {
				if m, ok := perSensor[bucketSensor{bucket: bucket, sensor: n}][i].mean(); ok {
					across.add(&m)
				}
			}
			if across.count == 0 {
				continue
			}
			v := across.sum
			if f != models.FieldOccupancy {
				v = across.sum / float64(across.count)
			}
			row.Set(f, models.Float(v))
		}
		out = append(out, row)
	}
	return out, nil
}

// AggregateRooms splits readings by room, aggregates each room and concatenates the results
// in ascending room number.
func (a *Aggregator) AggregateRooms(readings []models.Reading, fields []models.Field) ([]RoomMinute, error) {
	byRoom := map[int][]models.Reading{}
	for _, r := range readings {
		room, ok := a.catalog.RoomOf(r.SensorNumber)
		if !ok {
			return nil, fmt.Errorf("%w: sensor %d has no room", models.ErrCatalogInconsistent, r.SensorNumber)
		}
		byRoom[room.Number] = append(byRoom[room.Number], r)
	}

	rooms := make([]int, 0, len(byRoom))
	for n := range byRoom {
		rooms = append(rooms, n)
	}
	sort.Ints(rooms)

	out := []RoomMinute{}
	for _, n := range rooms {
		rows, err := a.Aggregate(byRoom[n], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (a *Aggregator) roomOf(readings []models.Reading) (models.Room, error) {
	var (
		room  models.Room
		found bool
	)
	for _, r := range readings {
		if _, ok := a.catalog.Sensor(r.SensorNumber); !ok {
			return models.Room{}, fmt.Errorf("%w: sensor %d not in catalog", models.ErrCatalogInconsistent, r.SensorNumber)
		}
		current, ok := a.catalog.RoomOf(r.SensorNumber)
		if !ok {
			return models.Room{}, fmt.Errorf("%w: sensor %d has no room", models.ErrCatalogInconsistent, r.SensorNumber)
		}
		if found && current.Number != room.Number {
			return models.Room{}, fmt.Errorf("%w: rooms %d and %d", ErrMixedRooms, room.Number, current.Number)
		}
		room, found = current, true
	}
	return room, nil
}

func (a *Aggregator) provenance(sensors []int) (string, string) {
	numbers := make([]string, len(sensors))
	names := make([]string, len(sensors))
	for i, n := range sensors {
		numbers[i] = strconv.Itoa(n)
		s, _ := a.catalog.Sensor(n)
		names[i] = s.Name
	}
	return strings.Join(numbers, ", "), strings.Join(names, ", ")
}
