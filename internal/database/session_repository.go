package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SessionRepository provides database operations for the session log
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new repository instance
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create opens a session
func (r *SessionRepository) Create(s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session needs an id")
	}
	return r.db.Create(s).Error
}

// Close records the end time and counters of an open session
func (r *SessionRepository) Close(id string, at time.Time, counters Session) error {
	result := r.db.Model(&Session{}).
		Where("id = ? AND stopped_at IS NULL", id).
		Updates(map[string]interface{}{
			"stopped_at":      at,
			"frames_in":       counters.FramesIn,
			"frames_out":      counters.FramesOut,
			"sync_lost":       counters.SyncLost,
			"sequence_gaps":   counters.SequenceGaps,
			"queue_overflows": counters.QueueOverflows,
			"write_errors":    counters.WriteErrors,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no open session %s", id)
	}
	return nil
}

// GetByID finds a session
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	var s Session
	err := r.db.Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Recent returns the latest sessions, newest first
func (r *SessionRepository) Recent(limit int) ([]Session, error) {
	var sessions []Session
	err := r.db.Order("started_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// ForRadio returns the sessions run against one radio, newest first
func (r *SessionRepository) ForRadio(mac string, limit int) ([]Session, error) {
	var sessions []Session
	err := r.db.Where("radio_mac = ?", mac).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
