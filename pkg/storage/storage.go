// Package storage persists projects in a local SQLite database through gorm.
package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/payback159/cubesatbudget/pkg/logging"
)

// Open connects to the SQLite database at dbPath and migrates the schema.
// With debug set, gorm logs every statement.
func Open(dbPath string, debug bool) (*gorm.DB, error) {
	level := logger.Silent
	if debug {
		level = logger.Info
	}
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}

	logging.LogInfo("Database ready", "path", dbPath)
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProjectRecord{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
