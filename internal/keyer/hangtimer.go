package keyer

import "time"

// HangTimer counts down the VOX/PTT hang time after the last element in
// 1 ms ticks. It is driven by the keyer loop, never by a wall clock, so a
// fake clock makes it deterministic.
type HangTimer struct {
	timeoutTicks int
	currentTicks int
	running      bool
}

// NewHangTimer creates a stopped timer
func NewHangTimer(d time.Duration) *HangTimer {
	t := &HangTimer{}
	t.SetTimeout(d)
	return t
}

// SetTimeout sets the hang time, rounded down to whole milliseconds
func (t *HangTimer) SetTimeout(d time.Duration) {
	t.timeoutTicks = int(d / time.Millisecond)
}

// Start re-arms the countdown from the full hang time
func (t *HangTimer) Start() {
	t.currentTicks = 0
	t.running = t.timeoutTicks > 0
}

// Stop abandons the countdown
func (t *HangTimer) Stop() {
	t.running = false
}

// IsRunning reports whether the countdown is in progress
func (t *HangTimer) IsRunning() bool {
	return t.running
}

// Clock advances the timer by ticks milliseconds
func (t *HangTimer) Clock(ticks int) {
	if !t.running {
		return
	}

	t.currentTicks += ticks
	if t.currentTicks >= t.timeoutTicks {
		t.running = false
	}
}

// HasExpired reports whether the full hang time has elapsed. A zero hang
// time has always expired.
func (t *HangTimer) HasExpired() bool {
	return t.currentTicks >= t.timeoutTicks
}

// Remaining returns the time left in the countdown
func (t *HangTimer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	return time.Duration(t.timeoutTicks-t.currentTicks) * time.Millisecond
}
