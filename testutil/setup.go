// Package testutil provides shared helpers for package tests: an isolated
// in-memory database and an in-process cache.
package testutil

import (
	"testing"
	"time"

	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a fresh shared-cache in-memory SQLite database and runs
// migrations. Each call gets its own database so tests stay independent.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Shared cache keeps all pooled connections on the same in-memory DB.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, model.AutoMigrate(db))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SetupTestCache returns an in-process cache.
func SetupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{LocalGCInterval: time.Minute})
	require.NoError(t, err)
	return c
}

// SetupTestPubSub returns an in-process pub/sub.
func SetupTestPubSub(t *testing.T) cache.PubSub {
	t.Helper()
	ps, err := cache.NewPubSub(cache.Config{LocalPubSubBuf: 64})
	require.NoError(t, err)
	return ps
}
