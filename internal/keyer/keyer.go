package keyer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

// State is a keyer state machine state
type State int

const (
	CHECK State = iota
	SENDDOT
	SENDDASH
	DOTDELAY
	DASHDELAY
	LETTERSPACE
	EXITLOOP
	HANGTIME
)

func (s State) String() string {
	switch s {
	case CHECK:
		return "CHECK"
	case SENDDOT:
		return "SENDDOT"
	case SENDDASH:
		return "SENDDASH"
	case DOTDELAY:
		return "DOTDELAY"
	case DASHDELAY:
		return "DASHDELAY"
	case LETTERSPACE:
		return "LETTERSPACE"
	case EXITLOOP:
		return "EXITLOOP"
	case HANGTIME:
		return "HANGTIME"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventType identifies a keyer output event
type EventType int

const (
	EVENT_KEY_DOWN EventType = iota
	EVENT_KEY_UP
	EVENT_MOX_ON
	EVENT_MOX_OFF
)

func (t EventType) String() string {
	switch t {
	case EVENT_KEY_DOWN:
		return "KEY_DOWN"
	case EVENT_KEY_UP:
		return "KEY_UP"
	case EVENT_MOX_ON:
		return "MOX_ON"
	case EVENT_MOX_OFF:
		return "MOX_OFF"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted to the transmitter and sidetone generator
type Event struct {
	Type EventType
	At   time.Time
}

const (
	EVENT_QUEUE_SIZE   = 256
	MAX_JITTER_SAMPLES = 4096
	POLL_INTERVAL      = time.Millisecond
)

// Config holds the keyer timing and paddle settings
type Config struct {
	Speed            int // wpm
	Weight           int // 50 gives the standard 3:1 dash
	Mode             radio.KeyerMode
	LetterSpacing    bool
	HangTime         time.Duration
	Reversed         bool
	SqueezeDashFirst bool // which element wins when both paddles close together
}

// DefaultConfig returns 20 wpm Mode B with letter spacing
func DefaultConfig() Config {
	return Config{
		Speed:            20,
		Weight:           50,
		Mode:             radio.KEYER_MODE_B,
		LetterSpacing:    true,
		HangTime:         300 * time.Millisecond,
		SqueezeDashFirst: true,
	}
}

// ElementLengths returns the dot and dash durations for cfg
func ElementLengths(cfg Config) (dot, dash time.Duration) {
	speed := cfg.Speed
	if speed < 1 {
		speed = 1
	}
	weight := cfg.Weight
	if weight <= 0 {
		weight = 50
	}
	dot = 1200 * time.Millisecond / time.Duration(speed)
	dash = dot * 3 * time.Duration(weight) / 50
	return dot, dash
}

// Keyer is the iambic keyer. Run drives it on its own goroutine; paddle
// changes arrive from any goroutine through SetPaddles.
type Keyer struct {
	clock Clock

	mu      sync.Mutex
	cfg     Config
	dotLen  time.Duration
	dashLen time.Duration
	state   State

	dot  bool
	dash bool

	dotMemory  bool
	dashMemory bool
	dotHeld    bool
	dashHeld   bool

	// owned by the loop goroutine
	next         time.Time
	hang         *HangTimer
	keyDown      bool
	transmitting bool
	prevState    State

	events chan Event
	wake   chan struct{}

	jmu        sync.Mutex
	lateness   []float64
	latePos    int
	onLateness func(time.Duration)

	unknownStates atomic.Uint64
	dropped       atomic.Uint64

	trace func(State, time.Time)
}

// New creates a keyer. A nil clock selects the system clock.
func New(cfg Config, clock Clock) *Keyer {
	if clock == nil {
		clock = SystemClock{}
	}

	k := &Keyer{
		clock:     clock,
		hang:      NewHangTimer(cfg.HangTime),
		events:    make(chan Event, EVENT_QUEUE_SIZE),
		wake:      make(chan struct{}, 1),
		prevState: -1,
	}
	k.applyConfig(cfg)
	return k
}

func (k *Keyer) applyConfig(cfg Config) {
	k.cfg = cfg
	k.dotLen, k.dashLen = ElementLengths(cfg)
}

// SetConfig changes the settings; the next element uses them
func (k *Keyer) SetConfig(cfg Config) {
	k.mu.Lock()
	k.applyConfig(cfg)
	k.mu.Unlock()
}

// Config returns the current settings
func (k *Keyer) Config() Config {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cfg
}

// SetLatenessObserver registers fn to receive the lateness of every
// element deadline
func (k *Keyer) SetLatenessObserver(fn func(time.Duration)) {
	k.jmu.Lock()
	k.onLateness = fn
	k.jmu.Unlock()
}

// Events returns the key and MOX event stream
func (k *Keyer) Events() <-chan Event {
	return k.events
}

// State returns the current state
func (k *Keyer) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Stats returns unknown-state recoveries and dropped events
func (k *Keyer) Stats() (unknownStates, dropped uint64) {
	return k.unknownStates.Load(), k.dropped.Load()
}

// SetPaddles records the live paddle contacts. A paddle closed during the
// opposite element, its delay, or the letter space is latched into memory.
func (k *Keyer) SetPaddles(dot, dash bool) {
	k.mu.Lock()
	if k.cfg.Reversed {
		dot, dash = dash, dot
	}
	k.dot = dot
	k.dash = dash

	switch k.state {
	case SENDDOT, DOTDELAY:
		if dash {
			k.dashMemory = true
		}
	case SENDDASH, DASHDELAY:
		if dot {
			k.dotMemory = true
		}
	case LETTERSPACE:
		if dot {
			k.dotMemory = true
		}
		if dash {
			k.dashMemory = true
		}
	}
	k.mu.Unlock()

	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Run drives the keyer until ctx is cancelled. The key is released, MOX
// dropped and the state machine reset on the way out, so the next Run
// starts idle in CHECK.
func (k *Keyer) Run(ctx context.Context) error {
	cfg := k.Config()
	log.Printf("[INFO] Keyer: started, %d wpm, mode %s, weight %d", cfg.Speed, cfg.Mode, cfg.Weight)

	defer func() {
		if k.keyDown {
			k.emitKey(false)
		}
		k.moxOff()
		k.reset()
		log.Printf("[INFO] Keyer: stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if idle := k.step(ctx); idle {
			select {
			case <-ctx.Done():
				return nil
			case <-k.wake:
			}
		}
	}
}

// reset returns the state machine to CHECK with no latched element. The
// live paddle contacts are kept.
func (k *Keyer) reset() {
	k.mu.Lock()
	k.state = CHECK
	k.dotMemory = false
	k.dashMemory = false
	k.dotHeld = false
	k.dashHeld = false
	k.mu.Unlock()

	k.hang.Stop()
	k.prevState = -1
}

// step runs one state and reports whether the keyer is idle in CHECK
func (k *Keyer) step(ctx context.Context) bool {
	k.mu.Lock()
	state := k.state
	k.mu.Unlock()

	if state != k.prevState {
		k.prevState = state
		if k.trace != nil {
			k.trace(state, k.clock.Now())
		}
	}

	switch state {
	case CHECK:
		return k.check(ctx)
	case SENDDOT:
		k.sendElement(ctx, true)
	case SENDDASH:
		k.sendElement(ctx, false)
	case DOTDELAY:
		k.elementDelay(ctx, true)
	case DASHDELAY:
		k.elementDelay(ctx, false)
	case LETTERSPACE:
		k.letterSpace(ctx)
	case EXITLOOP:
		k.exitLoop()
	case HANGTIME:
		k.hangTime(ctx)
	default:
		k.unknownStates.Add(1)
		log.Printf("[ERROR] Keyer: %v: %s, forcing EXITLOOP", protocol.ErrUnknownKeyerState, state)
		k.setState(EXITLOOP)
	}
	return false
}

func (k *Keyer) setState(s State) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

func (k *Keyer) check(ctx context.Context) bool {
	k.mu.Lock()
	dot, dash := k.dot, k.dash
	mode := k.cfg.Mode

	if mode == radio.KEYER_STRAIGHT {
		switch {
		case dash:
			k.mu.Unlock()
			k.straightKey(ctx)
			return false
		case dot:
			// bug mode: automatic dots from the dot contact
			k.state = SENDDOT
		default:
			k.mu.Unlock()
			return true
		}
	} else {
		switch {
		case dot && dash:
			if k.cfg.SqueezeDashFirst {
				k.state = SENDDASH
			} else {
				k.state = SENDDOT
			}
		case dash:
			k.state = SENDDASH
		case dot:
			k.state = SENDDOT
		default:
			k.mu.Unlock()
			return true
		}
	}
	k.mu.Unlock()

	k.next = k.clock.Now()
	return false
}

// straightKey follows the key contact, polling every millisecond
func (k *Keyer) straightKey(ctx context.Context) {
	k.emitKey(true)
	for {
		if err := k.clock.Sleep(ctx, POLL_INTERVAL); err != nil {
			break
		}
		k.mu.Lock()
		held := k.dash
		k.mu.Unlock()
		if !held {
			break
		}
	}
	k.emitKey(false)
	k.setState(EXITLOOP)
}

func (k *Keyer) sendElement(ctx context.Context, isDot bool) {
	k.mu.Lock()
	length := k.dashLen
	if isDot {
		length = k.dotLen
		k.dotMemory = false
		k.dotHeld = false
		k.dashHeld = k.dash
	} else {
		k.dashMemory = false
		k.dashHeld = false
		k.dotHeld = k.dot
	}
	k.mu.Unlock()

	k.emitKey(true)
	k.next = k.next.Add(length)
	k.sleepUntil(ctx, k.next)
	k.emitKey(false)

	if isDot {
		k.setState(DOTDELAY)
	} else {
		k.setState(DASHDELAY)
	}
}

// elementDelay waits one dot of inter-element space then picks the next element
func (k *Keyer) elementDelay(ctx context.Context, afterDot bool) {
	k.mu.Lock()
	k.next = k.next.Add(k.dotLen)
	k.mu.Unlock()

	k.sleepUntil(ctx, k.next)

	k.mu.Lock()
	defer k.mu.Unlock()

	modeA := k.cfg.Mode == radio.KEYER_MODE_A
	bothOpen := !k.dot && !k.dash

	if afterDot {
		if modeA && bothOpen {
			k.dashHeld = false
		}
		switch {
		case k.dashMemory || k.dash || k.dashHeld:
			k.state = SENDDASH
		case k.dot:
			k.state = SENDDOT
		default:
			k.state = k.afterCharacter()
		}
		return
	}

	if modeA && bothOpen {
		k.dotHeld = false
	}
	switch {
	case k.dotMemory || k.dot || k.dotHeld:
		k.state = SENDDOT
	case k.dash:
		k.state = SENDDASH
	default:
		k.state = k.afterCharacter()
	}
}

// afterCharacter is called with mu held
func (k *Keyer) afterCharacter() State {
	if k.cfg.LetterSpacing {
		return LETTERSPACE
	}
	return EXITLOOP
}

// letterSpace waits two more dots; a paddle hit meanwhile starts the next
// character without a gap
func (k *Keyer) letterSpace(ctx context.Context) {
	k.mu.Lock()
	k.next = k.next.Add(2 * k.dotLen)
	k.mu.Unlock()

	k.sleepUntil(ctx, k.next)

	k.mu.Lock()
	defer k.mu.Unlock()

	switch {
	case k.dotMemory && k.dashMemory:
		if k.cfg.SqueezeDashFirst {
			k.state = SENDDASH
		} else {
			k.state = SENDDOT
		}
	case k.dashMemory:
		k.state = SENDDASH
	case k.dotMemory:
		k.state = SENDDOT
	default:
		k.state = EXITLOOP
	}
}

func (k *Keyer) exitLoop() {
	k.mu.Lock()
	hang := k.cfg.HangTime
	k.dotMemory = false
	k.dashMemory = false
	k.dotHeld = false
	k.dashHeld = false
	k.mu.Unlock()

	k.hang.SetTimeout(hang)
	k.hang.Start()
	if !k.hang.IsRunning() {
		k.moxOff()
		k.setState(CHECK)
		return
	}
	k.setState(HANGTIME)
}

// hangTime decays the VOX/PTT hang one tick per iteration. A paddle
// returns to CHECK with the transmitter still keyed.
func (k *Keyer) hangTime(ctx context.Context) {
	if err := k.clock.Sleep(ctx, POLL_INTERVAL); err != nil {
		return
	}
	k.hang.Clock(1)

	k.mu.Lock()
	pressed := k.dot || k.dash
	if pressed {
		k.state = CHECK
		k.mu.Unlock()
		k.hang.Stop()
		return
	}
	expired := k.hang.HasExpired()
	if expired {
		k.state = CHECK
	}
	k.mu.Unlock()

	if expired {
		k.moxOff()
	}
}

func (k *Keyer) sleepUntil(ctx context.Context, deadline time.Time) {
	if err := k.clock.SleepUntil(ctx, deadline); err != nil {
		return
	}
	k.recordLateness(k.clock.Now().Sub(deadline))
}

func (k *Keyer) emitKey(down bool) {
	now := k.clock.Now()
	if down {
		if !k.transmitting {
			k.transmitting = true
			k.emit(Event{Type: EVENT_MOX_ON, At: now})
		}
		k.keyDown = true
		k.emit(Event{Type: EVENT_KEY_DOWN, At: now})
		return
	}
	k.keyDown = false
	k.emit(Event{Type: EVENT_KEY_UP, At: now})
}

func (k *Keyer) moxOff() {
	if !k.transmitting {
		return
	}
	k.transmitting = false
	k.emit(Event{Type: EVENT_MOX_OFF, At: k.clock.Now()})
}

func (k *Keyer) emit(e Event) {
	select {
	case k.events <- e:
	default:
		k.dropped.Add(1)
		log.Printf("[WARN] Keyer: event channel full, dropping %s", e.Type)
	}
}
