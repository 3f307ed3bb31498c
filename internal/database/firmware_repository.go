package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// FirmwareRepository provides database operations for the firmware table
type FirmwareRepository struct {
	db *gorm.DB
}

// NewFirmwareRepository creates a new repository instance
func NewFirmwareRepository(db *gorm.DB) *FirmwareRepository {
	return &FirmwareRepository{db: db}
}

// GetByBoard finds the requirement for a board id
func (r *FirmwareRepository) GetByBoard(board uint8) (*FirmwareRequirement, error) {
	var req FirmwareRequirement
	err := r.db.Where("board = ?", board).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Upsert creates or replaces the requirement for one board
func (r *FirmwareRepository) Upsert(req *FirmwareRequirement) error {
	if req == nil {
		return fmt.Errorf("requirement cannot be nil")
	}
	if req.Constraint == "" {
		return fmt.Errorf("requirement for board %d has no constraint", req.Board)
	}
	req.UpdatedAt = time.Now()
	return r.db.Save(req).Error
}

// Seed inserts reqs when the table is empty and reports how many rows
// were written. An existing table is left alone so local edits survive.
func (r *FirmwareRepository) Seed(reqs []FirmwareRequirement) (int, error) {
	count, err := r.Count()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for i := range reqs {
			reqs[i].UpdatedAt = now
			if err := tx.Create(&reqs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("firmware seed failed: %w", err)
	}
	return len(reqs), nil
}

// List returns the table ordered by board id
func (r *FirmwareRepository) List() ([]FirmwareRequirement, error) {
	var reqs []FirmwareRequirement
	err := r.db.Order("board ASC").Find(&reqs).Error
	return reqs, err
}

// Count returns the number of rows in the table
func (r *FirmwareRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&FirmwareRequirement{}).Count(&count).Error
	return count, err
}
