package database

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/coderelay/core/internal/database/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize creates and returns a database connection.
// A DSN starting with postgres:// or postgresql:// opens PostgreSQL,
// anything else is treated as a SQLite file path.
func Initialize(dsn string) (*gorm.DB, error) {
	return open(dsn, logger.Warn)
}

// InitializeQuiet opens the database with GORM query logging disabled (CLI use)
func InitializeQuiet(dsn string) (*gorm.DB, error) {
	return open(dsn, logger.Silent)
}

func open(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}

	var dialector gorm.Dialector
	if IsPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		// Ensure the directory exists
		if dir := filepath.Dir(dsn); dir != "" && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Log{},
		&models.CodeResult{},
		&models.Delivery{},
		&models.BrowserSession{},
	); err != nil {
		return err
	}
	log.Printf("[Migration] Schema up to date (%s)", db.Dialector.Name())
	return nil
}
