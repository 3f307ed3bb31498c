package protocol

import "sync/atomic"

// SequenceCounter numbers outgoing datagrams and checks incoming ones.
// Gaps are detected, never corrected.
type SequenceCounter struct {
	next    atomic.Uint32
	last    uint32
	started bool
	gaps    atomic.Uint64
}

// NewSequenceCounter returns a counter whose first Next() is 0
func NewSequenceCounter() *SequenceCounter {
	return &SequenceCounter{}
}

// Next returns the sequence number for the next outgoing datagram
func (s *SequenceCounter) Next() uint32 {
	return s.next.Add(1) - 1
}

// Check records an observed sequence number and returns a *GapError when it
// is not exactly one past the previous value. The first value seen is accepted.
// Check is meant for a single reader goroutine.
func (s *SequenceCounter) Check(seq uint32) error {
	if !s.started {
		s.started = true
		s.last = seq
		return nil
	}
	expected := s.last + 1
	s.last = seq
	if seq != expected {
		s.gaps.Add(1)
		return &GapError{Expected: expected, Got: seq}
	}
	return nil
}

// Gaps returns the number of gaps detected so far
func (s *SequenceCounter) Gaps() uint64 {
	return s.gaps.Load()
}

// Reset returns the counter to its initial state
func (s *SequenceCounter) Reset() {
	s.next.Store(0)
	s.last = 0
	s.started = false
	s.gaps.Store(0)
}
