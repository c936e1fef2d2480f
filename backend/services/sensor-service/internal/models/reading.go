package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the display format of timestamputc: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// EarliestReadingMS is the first reading known to exist for the monitored building.
const EarliestReadingMS int64 = 1580920305102

const minuteMS int64 = 60_000

var (
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidSensorNumber = errors.New("invalid sensor number")
)

// Key is the dedup key of a persisted reading.
type Key struct {
	SensorNumber int
	TimestampMS  int64
}

// Reading represents one observation from one sensor at one instant.
type Reading struct {
	SensorID     int64  `db:"sensorlocation" json:"sensor_id"`
	SensorNumber int    `db:"sensor_number" json:"sensor_number"`
	SensorName   string `db:"sensor_name" json:"sensor_name"`
	TimestampMS  int64  `db:"timestampms" json:"timestamp_ms"`
	TimestampUTC string `db:"timestamputc" json:"timestamp_utc"`
	IngestedAt   int64  `db:"time" json:"ingested_at,omitempty"`
	Measurements
}

// NewReading validates the timestamp and stamps the sensor identity from the catalog entry.
func NewReading(sensor Sensor, timestampMS int64, m Measurements) (Reading, error) {
	if timestampMS <= 0 {
		return Reading{}, fmt.Errorf("%w: %d for sensor %d", ErrInvalidTimestamp, timestampMS, sensor.Number)
	}
	if sensor.Number <= 0 {
		return Reading{}, fmt.Errorf("%w: %d", ErrInvalidSensorNumber, sensor.Number)
	}
	return Reading{
		SensorID:     sensor.ID,
		SensorNumber: sensor.Number,
		SensorName:   sensor.Name,
		TimestampMS:  timestampMS,
		TimestampUTC: FormatUTC(timestampMS),
		Measurements: m,
	}, nil
}

// Key returns the (sensor_number, timestamp_ms) pair.
func (r Reading) Key() Key {
	return Key{SensorNumber: r.SensorNumber, TimestampMS: r.TimestampMS}
}

// ParseSensorNumber coerces a textual sensor number to its integer lookup key.
func ParseSensorNumber(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSensorNumber, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSensorNumber, n)
	}
	return n, nil
}

// FormatUTC renders epoch milliseconds in TimestampLayout.
func FormatUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimestampLayout)
}

// ParseUTC is the inverse of FormatUTC.
func ParseUTC(s string) (int64, error) {
	t, err := time.Parse(TimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.UnixMilli(), nil
}

// FloorMinute returns the start of the minute containing ms.
func FloorMinute(ms int64) int64 {
	rem := ms % minuteMS
	if rem < 0 {
		rem += minuteMS
	}
	return ms - rem
}
