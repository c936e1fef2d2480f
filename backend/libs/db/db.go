package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
	defaultPingTimeout  = 5 * time.Second
	defaultBusyTimeout  = 5 * time.Second
)

// Open connects to the store named by driver and validates the connection with a ping.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgres", "postgresql":
		return NewPostgresDB(dsn)
	case DriverSQLite, "sqlite", "":
		return NewSQLiteDB(dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// NewPostgresDB creates a pgx/stdlib backed pool wrapped in sqlx.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)
	db.SetConnMaxIdleTime(defaultConnIdleTime)

	if err := ping(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteDB opens a local SQLite file in WAL mode so plotting readers never wait on the
// ingestion writer for longer than one single-row transaction.
func NewSQLiteDB(path string) (*sqlx.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("db: empty sqlite path")
	}

	db, err := sqlx.Open(DriverSQLite, SQLiteDSN(path))
	if err != nil {
		return nil, err
	}

	// SQLite serialises writers; one connection keeps the ingestion path from racing itself.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := ping(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteDSN appends the pragmas the store relies on unless the caller already set them.
func SQLiteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	params := []string{}
	if !strings.Contains(path, "_journal_mode") {
		params = append(params, "_journal_mode=WAL")
	}
	if !strings.Contains(path, "_busy_timeout") {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", defaultBusyTimeout.Milliseconds()))
	}
	if !strings.Contains(path, "_foreign_keys") {
		params = append(params, "_foreign_keys=on")
	}
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func ping(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
