package config

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenSQLite opens dsn with the same gorm config and plugins as MySQL.
// A bare name (no "file:" prefix, no path) opens a shared in-memory database.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "notification"
	}
	if !strings.HasPrefix(dsn, "file:") && !strings.ContainsAny(dsn, "/.") {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", dsn)
	}
	db, err := gorm.Open(sqlite.Open(dsn), initConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps a memory db alive.
	sqlDB.SetMaxOpenConns(1)

	if err := InstallPlugins(db); err != nil {
		return nil, err
	}
	return db, nil
}
