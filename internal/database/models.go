package database

import (
	"fmt"
	"strings"
	"time"
)

// Radio is a radio that answered discovery at least once
type Radio struct {
	MAC       string    `gorm:"primarykey;size:17" json:"mac"`
	Board     uint8     `gorm:"index" json:"board"`
	BoardName string    `gorm:"size:20" json:"board_name"`
	Firmware  string    `gorm:"size:10" json:"firmware"`
	Address   string    `gorm:"size:64" json:"address"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// TableName specifies the table name for GORM
func (Radio) TableName() string {
	return "radios"
}

// String returns a formatted string representation
func (r Radio) String() string {
	return fmt.Sprintf("%s %s firmware %s at %s", r.BoardName, r.MAC, r.Firmware, r.Address)
}

// IsValid checks that the record has a MAC address
func (r Radio) IsValid() bool {
	return len(r.MAC) == 17
}

// SanitizeFields normalises the MAC address to lower case
func (r *Radio) SanitizeFields() {
	r.MAC = strings.ToLower(strings.TrimSpace(r.MAC))
	r.Address = strings.TrimSpace(r.Address)
}

// FirmwareRequirement is one row of the firmware compatibility table
type FirmwareRequirement struct {
	Board       uint8     `gorm:"primarykey;autoIncrement:false" json:"board"`
	Name        string    `gorm:"size:20" json:"name"`
	Constraint  string    `gorm:"size:40;not null" json:"constraint"`
	Remediation string    `gorm:"size:200" json:"remediation"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (FirmwareRequirement) TableName() string {
	return "firmware_requirements"
}

// Session is one engine run from start command to stop command
type Session struct {
	ID             string     `gorm:"primarykey;size:36" json:"id"`
	RadioMAC       string     `gorm:"index;size:17" json:"radio_mac"`
	StartedAt      time.Time  `gorm:"index" json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	FramesIn       uint64     `json:"frames_in"`
	FramesOut      uint64     `json:"frames_out"`
	SyncLost       uint64     `json:"sync_lost"`
	SequenceGaps   uint64     `json:"sequence_gaps"`
	QueueOverflows uint64     `json:"queue_overflows"`
	WriteErrors    uint64     `json:"write_errors"`
}

// TableName specifies the table name for GORM
func (Session) TableName() string {
	return "sessions"
}

// Duration returns how long the session ran, zero while still open
func (s Session) Duration() time.Duration {
	if s.StoppedAt == nil {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}
