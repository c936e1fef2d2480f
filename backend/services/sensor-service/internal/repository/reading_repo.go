package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// InsertStatus is the outcome of InsertIfAbsent.
type InsertStatus int

const (
	Inserted InsertStatus = iota
	Skipped
	Failed
)

func (s InsertStatus) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// ReadingRepository persists sensor readings.
type ReadingRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewReadingRepository returns repository.
func NewReadingRepository(db *sqlx.DB) *ReadingRepository {
	return &ReadingRepository{db: db, now: time.Now}
}

// InsertIfAbsent writes one reading in its own statement. The unique constraint on
// (sensor_number, timestampms) decides: a conflicting row is Skipped, never overwritten.
func (r *ReadingRepository) InsertIfAbsent(ctx context.Context, reading models.Reading) (InsertStatus, error) {
	const query = `
		INSERT INTO sensor_readings (
			time, timestampms, timestamputc, sensor_number, sensor_name,
			co2, humidity, lux, noise, occupancy, pressure, sensorlocation, temperature, voc
		) VALUES (
			:time, :timestampms, :timestamputc, :sensor_number, :sensor_name,
			:co2, :humidity, :lux, :noise, :occupancy, :pressure, :sensorlocation, :temperature, :voc
		)
		ON CONFLICT (sensor_number, timestampms) DO NOTHING
	`
	if reading.IngestedAt == 0 {
		reading.IngestedAt = r.now().Unix()
	}
	if reading.TimestampUTC == "" {
		reading.TimestampUTC = models.FormatUTC(reading.TimestampMS)
	}

	res, err := r.db.NamedExecContext(ctx, query, reading)
	if err != nil {
		return Failed, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Failed, err
	}
	if affected == 0 {
		return Skipped, nil
	}
	return Inserted, nil
}

// QueryRange returns readings of the given sensors with from <= timestampms < to, ordered by
// timestamp then sensor. Channels not in fields are left nil. No match is not an error.
func (r *ReadingRepository) QueryRange(ctx context.Context, sensorNumbers []int, fromMS, toMS int64, fields []models.Field) ([]models.Reading, error) {
	if len(sensorNumbers) == 0 || fromMS >= toMS {
		return []models.Reading{}, nil
	}
	query, args, err := buildRangeQuery(r.db.DriverName(), sensorNumbers, fromMS, toMS, fields)
	if err != nil {
		return nil, err
	}

	readings := []models.Reading{}
	if err := r.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, classify(err)
	}
	return readings, nil
}

func buildRangeQuery(driver string, sensorNumbers []int, fromMS, toMS int64, fields []models.Field) (string, []interface{}, error) {
	columns := []string{
		"COALESCE(time, 0) AS time",
		"timestampms",
		"COALESCE(timestamputc, '') AS timestamputc",
		"sensor_number",
		"COALESCE(sensor_name, '') AS sensor_name",
		"COALESCE(sensorlocation, 0) AS sensorlocation",
	}
	for _, f := range fields {
		if _, err := models.ParseField(string(f)); err != nil || f == "" {
			return "", nil, fmt.Errorf("%w: %q", models.ErrUnknownField, f)
		}
		columns = append(columns, string(f))
	}

	base := `SELECT ` + strings.Join(columns, ", ") + `
		FROM sensor_readings
		WHERE sensor_number IN (?) AND timestampms >= ? AND timestampms < ?
		ORDER BY timestampms, sensor_number`

	query, args, err := sqlx.In(base, sensorNumbers, fromMS, toMS)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.BindType(driver), query), args, nil
}

type keyRow struct {
	SensorNumber int   `db:"sensor_number"`
	TimestampMS  int64 `db:"timestampms"`
}

// ExistingKeys returns every persisted (sensor_number, timestampms) pair ordered by timestamp.
func (r *ReadingRepository) ExistingKeys(ctx context.Context) ([]models.Key, error) {
	const query = `SELECT sensor_number, timestampms FROM sensor_readings ORDER BY timestampms`

	rows := []keyRow{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, classify(err)
	}
	keys := make([]models.Key, len(rows))
	for i, row := range rows {
		keys[i] = models.Key{SensorNumber: row.SensorNumber, TimestampMS: row.TimestampMS}
	}
	return keys, nil
}

// Count returns the number of persisted readings.
func (r *ReadingRepository) Count(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM sensor_readings`

	var n int64
	if err := r.db.GetContext(ctx, &n, query); err != nil {
		return 0, classify(err)
	}
	return n, nil
}
