package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t,
		"database.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on",
		SQLiteDSN("database.db"))

	require.Equal(t,
		"file:data.db?mode=rwc&_journal_mode=DELETE&_busy_timeout=5000&_foreign_keys=on",
		SQLiteDSN("file:data.db?mode=rwc&_journal_mode=DELETE"))

	require.Equal(t,
		"x.db?_journal_mode=WAL&_busy_timeout=100&_foreign_keys=off",
		SQLiteDSN("x.db?_journal_mode=WAL&_busy_timeout=100&_foreign_keys=off"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.Error(t, err)

	_, err = NewPostgresDB("  ")
	require.Error(t, err)

	_, err = NewSQLiteDB("")
	require.Error(t, err)
}
