// Package dbtest opens migrated SQLite databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/migrate"
)

// Open creates a file-backed SQLite database in t.TempDir with every migration
// applied. A file is used rather than :memory: so concurrent connections share it.
func Open(t testing.TB) *db.Client {
	t.Helper()

	path := filepath.Join(t.TempDir(), "market.db")
	conn, err := gorm.Open(sqlite.Open(db.SQLiteDSN(path, 5*time.Second)), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.Up(context.Background(), sqlDB, config.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewFromConn(conn, db.RetryPolicy{Attempts: 10, BaseDelay: 5 * time.Millisecond})
}
