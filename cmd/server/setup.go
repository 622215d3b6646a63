package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"certdao/internal/config"
	"certdao/internal/database"
	"certdao/internal/models"
	"certdao/internal/services"
)

// setupLogger configures the standard logrus logger from cfg
func setupLogger(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

// loadConfig reads the configuration and prepares logging and the database
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogger(cfg.Log); err != nil {
		return nil, err
	}

	if err := database.InitDB(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logrus.WithField("path", cfg.Database.Path).Info("Database initialized")

	if err := database.EnsureAdministrator(database.GetDB(), cfg.Registry.Administrator); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSettingsFromDB applies runtime settings stored in the database
func loadSettingsFromDB(db *gorm.DB, cfg *config.Config) {
	settings, err := database.LoadSettings(db)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load settings from database")
		return
	}
	config.ApplySettings(cfg, settings)
	logrus.WithField("count", len(settings)).Info("Settings loaded from database and applied to configuration")
}

// initDefaultAdmin creates the administrator account on first start
func initDefaultAdmin(db *gorm.DB, cfg *config.Config, authService *services.AuthService) error {
	username := cfg.Auth.AdminUsername

	var existingUser models.User
	if err := db.Where("username = ?", username).First(&existingUser).Error; err == nil {
		logrus.WithField("username", username).Debug("Admin account already exists")
		return nil
	}

	if cfg.Auth.AdminPassword == "" {
		logrus.Warn("auth.admin_password is empty, no admin account created")
		return nil
	}

	_, err := createUser(db, authService, username, cfg.Auth.AdminPassword, cfg.Registry.Administrator, "")
	if err != nil {
		return fmt.Errorf("failed to create default admin account: %w", err)
	}

	logrus.WithField("username", username).Info("Default admin account created")
	return nil
}

func createUser(db *gorm.DB, authService *services.AuthService, username, password, identity, email string) (*models.User, error) {
	hashedPassword, err := authService.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		Username:  username,
		Password:  hashedPassword,
		Identity:  identity,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func newAuthService(cfg *config.Config) (*services.AuthService, error) {
	ttl, err := cfg.Auth.TTL()
	if err != nil {
		return nil, err
	}
	return services.NewAuthService(cfg.Auth.JWTSecret, ttl), nil
}
