// Package repotest opens a migrated sqlite database for tests.
package repotest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

// Open returns a fresh file-backed database. Writers take the database lock
// up front so concurrent tests serialize instead of failing with SQLITE_BUSY.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custody.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), repository.GormConfig(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedUser inserts an active user with the given balance in wei.
func SeedUser(t testing.TB, db *gorm.DB, email string, balance int64) *model.User {
	t.Helper()
	u := &model.User{
		Email:    email,
		Password: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		Balance:  model.WeiFromInt64(balance),
	}
	require.NoError(t, repository.NewUserRepository(db).Create(t.Context(), u))
	return u
}
