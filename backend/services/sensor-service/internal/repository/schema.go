package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Column types are the common subset of SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS buildings (
		building_id     BIGINT PRIMARY KEY,
		building_number INTEGER NOT NULL UNIQUE,
		building_name   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id       BIGINT PRIMARY KEY,
		room_number   INTEGER NOT NULL UNIQUE,
		room_name     TEXT NOT NULL,
		building_id   BIGINT NOT NULL REFERENCES buildings (building_id),
		building_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensors (
		sensor_id     BIGINT PRIMARY KEY,
		sensor_number INTEGER NOT NULL UNIQUE,
		sensor_name   TEXT NOT NULL,
		room_id       BIGINT NOT NULL REFERENCES rooms (room_id),
		room_name     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		time           BIGINT,
		timestampms    BIGINT NOT NULL,
		timestamputc   TEXT,
		sensor_number  INTEGER NOT NULL,
		sensor_name    TEXT,
		co2            DOUBLE PRECISION,
		humidity       DOUBLE PRECISION,
		lux            DOUBLE PRECISION,
		noise          DOUBLE PRECISION,
		occupancy      DOUBLE PRECISION,
		pressure       DOUBLE PRECISION,
		sensorlocation BIGINT,
		temperature    DOUBLE PRECISION,
		voc            DOUBLE PRECISION,
		UNIQUE (sensor_number, timestampms)
	)`,
	`CREATE INDEX IF NOT EXISTS sensor_readings_timestampms_idx ON sensor_readings (timestampms)`,
}

// Migrate creates the catalog and readings tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", classify(err))
		}
	}
	return nil
}
