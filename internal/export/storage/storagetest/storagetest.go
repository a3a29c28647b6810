// Package storagetest provides a file-backed sqlite database for tests.
package storagetest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/csv-export-service/internal/export/storage"
	"github.com/cuongbtq/csv-export-service/shared/database"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDB opens a sqlite database in t.TempDir() with the export schema applied
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "exports.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 8,
	}, DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, storage.EnsureSchema(context.Background(), client.GetDB()))
	return client.GetDB()
}
