package database

import (
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connection pool limits
const (
	maxOpenConns    = 10
	maxIdleConns    = 2
	connMaxLifetime = 30 * time.Minute
)

// NewGormDBFromConfig creates a new GORM database connection from config
func NewGormDBFromConfig(databaseURL string) (*gorm.DB, error) {
	return NewGormDB(databaseURL)
}

// NewGormDB creates a new GORM database connection using the provided DSN.
// Persistence is best effort, so gorm's own logging is limited to errors.
func NewGormDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}
