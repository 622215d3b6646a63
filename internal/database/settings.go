package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"certdao/internal/models"
)

// AdministratorKey is the settings row pinning the registry administrator
const AdministratorKey = "registry.administrator"

// ErrAdministratorChanged is returned when the configured administrator
// differs from the one the database was created with.
var ErrAdministratorChanged = errors.New("registry administrator cannot be changed")

// EnsureAdministrator pins admin on first use and rejects any other
// administrator afterwards.
func EnsureAdministrator(db *gorm.DB, admin string) error {
	var setting models.Setting
	err := db.Where(&models.Setting{Key: AdministratorKey}).First(&setting).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.Create(&models.Setting{Key: AdministratorKey, Value: admin}).Error
	case err != nil:
		return fmt.Errorf("failed to load administrator: %w", err)
	case setting.Value != admin:
		return fmt.Errorf("%w: database has %s, configured %s", ErrAdministratorChanged, setting.Value, admin)
	}
	return nil
}

// LoadSettings returns every stored setting as a map
func LoadSettings(db *gorm.DB) (map[string]string, error) {
	var settings []models.Setting
	if err := db.Find(&settings).Error; err != nil {
		return nil, err
	}
	settingsMap := make(map[string]string, len(settings))
	for _, s := range settings {
		settingsMap[s.Key] = s.Value
	}
	return settingsMap, nil
}

// SaveSettings stores settings; the administrator key is read-only
func SaveSettings(db *gorm.DB, settings map[string]string) error {
	if _, ok := settings[AdministratorKey]; ok {
		return ErrAdministratorChanged
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for key, value := range settings {
			if err := tx.Save(&models.Setting{Key: key, Value: value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
