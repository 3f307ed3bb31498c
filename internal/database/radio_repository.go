package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RadioRepository provides database operations for discovered radios
type RadioRepository struct {
	db *gorm.DB
}

// NewRadioRepository creates a new repository instance
func NewRadioRepository(db *gorm.DB) *RadioRepository {
	return &RadioRepository{db: db}
}

// GetByMAC finds a radio by its MAC address
func (r *RadioRepository) GetByMAC(mac string) (*Radio, error) {
	var radio Radio
	err := r.db.Where("mac = ?", mac).First(&radio).Error
	if err != nil {
		return nil, err
	}
	return &radio, nil
}

// Upsert creates or refreshes a radio, keeping the time it was first seen
func (r *RadioRepository) Upsert(radio *Radio) error {
	if radio == nil {
		return fmt.Errorf("radio cannot be nil")
	}

	radio.SanitizeFields()
	if !radio.IsValid() {
		return fmt.Errorf("radio is not valid: mac=%q", radio.MAC)
	}

	now := time.Now()
	radio.LastSeen = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing Radio
		err := tx.Where("mac = ?", radio.MAC).First(&existing).Error
		switch {
		case err == nil:
			radio.FirstSeen = existing.FirstSeen
		case errors.Is(err, gorm.ErrRecordNotFound):
			radio.FirstSeen = now
		default:
			return err
		}
		return tx.Save(radio).Error
	})
}

// List returns every known radio, most recently seen first
func (r *RadioRepository) List() ([]Radio, error) {
	var radios []Radio
	err := r.db.Order("last_seen DESC").Find(&radios).Error
	return radios, err
}

// Count returns the number of known radios
func (r *RadioRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Radio{}).Count(&count).Error
	return count, err
}
