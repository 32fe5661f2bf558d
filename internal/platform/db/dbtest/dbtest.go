// Package dbtest opens throwaway sqlite databases with the service schema for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fatflowers/membership/internal/platform/db"
)

// New returns a migrated in-memory database private to t. now drives gorm's
// CreatedAt/UpdatedAt so tests control timestamps.
func New(t testing.TB, now func() time.Time) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, time.Now().UnixNano())
	cfg := &gorm.Config{Logger: logger.Discard}
	if now != nil {
		cfg.NowFunc = now
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// a single connection serialises writers the way row locks do on postgres
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(db.Models...))
	return gdb
}
