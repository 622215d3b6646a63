package database

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"certdao/internal/config"
	"certdao/internal/models"
)

var DB *gorm.DB

// InitDB initializes the database connection
func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the configured database and migrates the schema
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var db *gorm.DB

	switch cfg.Type {
	case "sqlite":
		// Use pure Go SQLite driver (modernc.org/sqlite)
		sqlDB, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if isMemory(cfg.Path) {
			// Every connection to :memory: is a separate database
			sqlDB.SetMaxOpenConns(1)
		}

		db, err = gorm.Open(sqlite.Dialector{
			Conn: sqlDB,
		}, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GORM: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	// Auto migrate the schema
	if err := db.AutoMigrate(
		&models.Registration{},
		&models.Event{},
		&models.Escrow{},
		&models.Notification{},
		&models.Setting{},
		&models.User{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.FirstOrCreate(&models.Escrow{}, models.Escrow{ID: escrowID}).Error; err != nil {
		return nil, fmt.Errorf("failed to initialize escrow: %w", err)
	}

	return db, nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
