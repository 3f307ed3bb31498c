package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/zl2brg/cudasdr/internal/network"
)

// Recorder stores discovered radios and the session log for the engine
type Recorder struct {
	radios   *RadioRepository
	sessions *SessionRepository
}

// NewRecorder creates a recorder on db
func NewRecorder(db *DB) *Recorder {
	return &Recorder{
		radios:   NewRadioRepository(db.GetDB()),
		sessions: NewSessionRepository(db.GetDB()),
	}
}

// RecordRadio upserts a discovered radio
func (r *Recorder) RecordRadio(dev network.Device) error {
	radio := &Radio{
		MAC:       dev.MAC.String(),
		Board:     uint8(dev.Board),
		BoardName: dev.Board.String(),
		Firmware:  dev.Firmware(),
	}
	if dev.Address != nil {
		radio.Address = dev.Address.String()
	}
	return r.radios.Upsert(radio)
}

// StartSession opens a session row
func (r *Recorder) StartSession(id uuid.UUID, dev network.Device, at time.Time) error {
	return r.sessions.Create(&Session{
		ID:        id.String(),
		RadioMAC:  dev.MAC.String(),
		StartedAt: at,
	})
}

// EndSession closes a session row with the final counters
func (r *Recorder) EndSession(id uuid.UUID, at time.Time, io network.IOStats, syncLost, framesOut uint64) error {
	return r.sessions.Close(id.String(), at, Session{
		FramesIn:       io.FramesIn,
		FramesOut:      framesOut,
		SyncLost:       syncLost,
		SequenceGaps:   io.SequenceGaps,
		QueueOverflows: io.QueueOverflows,
		WriteErrors:    io.WriteErrors,
	})
}
