package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline
var (
	ErrSyncLost             = errors.New("sync lost")
	ErrSequenceGap          = errors.New("sequence gap")
	ErrFirmwareIncompatible = errors.New("firmware incompatible")
	ErrTransport            = errors.New("transport error")
	ErrQueueOverflow        = errors.New("queue overflow")
	ErrUnknownKeyerState    = errors.New("unknown keyer state")
	ErrNoDevice             = errors.New("no device found")
)

// FirmwareError describes a firmware version that failed the compatibility check
type FirmwareError struct {
	Board       string
	Found       string
	Constraint  string
	Remediation string
}

func (e *FirmwareError) Error() string {
	return fmt.Sprintf("%s firmware %s does not satisfy %s: %s",
		e.Board, e.Found, e.Constraint, e.Remediation)
}

func (e *FirmwareError) Unwrap() error { return ErrFirmwareIncompatible }

// GapError reports a sequence number that did not follow its predecessor
type GapError struct {
	Expected uint32
	Got      uint32
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, got %d", e.Expected, e.Got)
}

func (e *GapError) Unwrap() error { return ErrSequenceGap }
