package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownField = errors.New("unknown measurement field")

// Field names one measurement channel. The value is also the column name.
type Field string

const (
	FieldOccupancy   Field = "occupancy"
	FieldVOC         Field = "voc"
	FieldCO2         Field = "co2"
	FieldTemperature Field = "temperature"
	FieldPressure    Field = "pressure"
	FieldHumidity    Field = "humidity"
	FieldLux         Field = "lux"
	FieldNoise       Field = "noise"
)

// AllFields lists every channel in display order.
var AllFields = []Field{
	FieldOccupancy,
	FieldVOC,
	FieldCO2,
	FieldTemperature,
	FieldPressure,
	FieldHumidity,
	FieldLux,
	FieldNoise,
}

// Measurements holds the nullable channels of a reading. A nil pointer means the
// sensor did not report that channel.
type Measurements struct {
	CO2         *float64 `db:"co2" json:"co2"`
	Humidity    *float64 `db:"humidity" json:"humidity"`
	Lux         *float64 `db:"lux" json:"lux"`
	Noise       *float64 `db:"noise" json:"noise"`
	Occupancy   *float64 `db:"occupancy" json:"occupancy"`
	Pressure    *float64 `db:"pressure" json:"pressure"`
	Temperature *float64 `db:"temperature" json:"temperature"`
	VOC         *float64 `db:"voc" json:"voc"`
}

// ParseField accepts a channel name, case-insensitively. "humid" is the source API spelling.
func ParseField(raw string) (Field, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "humid" {
		return FieldHumidity, nil
	}
	for _, f := range AllFields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, raw)
}

// ParseFields parses a list of channel names. An empty list selects AllFields.
// Duplicates are dropped, first occurrence wins.
func ParseFields(raw []string) ([]Field, error) {
	if len(raw) == 0 {
		return append([]Field(nil), AllFields...), nil
	}
	seen := make(map[Field]struct{}, len(raw))
	out := make([]Field, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item) == "" {
			continue
		}
		f, err := ParseField(item)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return append([]Field(nil), AllFields...), nil
	}
	return out, nil
}

// HasField reports whether f is in fields.
func HasField(fields []Field, f Field) bool {
	for _, candidate := range fields {
		if candidate == f {
			return true
		}
	}
	return false
}

// Get returns the value of one channel.
func (m Measurements) Get(f Field) *float64 {
	switch f {
	case FieldCO2:
		return m.CO2
	case FieldHumidity:
		return m.Humidity
	case FieldLux:
		return m.Lux
	case FieldNoise:
		return m.Noise
	case FieldOccupancy:
		return m.Occupancy
	case FieldPressure:
		return m.Pressure
	case FieldTemperature:
		return m.Temperature
	case FieldVOC:
		return m.VOC
	}
	return nil
}

// Set assigns one channel.
func (m *Measurements) Set(f Field, v *float64) {
	switch f {
	case FieldCO2:
		m.CO2 = v
	case FieldHumidity:
		m.Humidity = v
	case FieldLux:
		m.Lux = v
	case FieldNoise:
		m.Noise = v
	case FieldOccupancy:
		m.Occupancy = v
	case FieldPressure:
		m.Pressure = v
	case FieldTemperature:
		m.Temperature = v
	case FieldVOC:
		m.VOC = v
	}
}

// Only returns a copy where every channel not in fields is nil.
func (m Measurements) Only(fields []Field) Measurements {
	var out Measurements
	for _, f := range fields {
		out.Set(f, m.Get(f))
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
