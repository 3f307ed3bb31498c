package control

import (
	"encoding/binary"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

// Round-robin states, one per outgoing half-frame
const (
	STATE_CONFIG      = 0
	STATE_TX_FREQ     = 1
	STATE_RX_FREQ     = 2
	STATE_DRIVE       = 3
	STATE_ADC_ROUTING = 4
	STATE_CW_ENABLE   = 5
	STATE_CW_TIMING   = 6
	STATE_KEYER       = 7
	NUM_STATES        = 8
)

// RoundRobin produces the outgoing C&C bytes, spreading the full hardware
// configuration over one cycle of eight half-frames. It is owned by the
// frame processor goroutine.
type RoundRobin struct {
	state int

	// startup countdown forcing every receiver frequency out once
	forceAll  int
	forceNext int

	// last frequency versions put on the wire
	txSent   uint64
	rxSent   []uint64
	rxCursor int

	routing        [4]byte
	routingValid   bool
	pendingRouting [4]byte
	routingChanged bool

	visits [NUM_STATES]uint64
}

// NewRoundRobin creates a state machine for n receivers, starting at state 0
func NewRoundRobin(n int) *RoundRobin {
	r := &RoundRobin{rxSent: make([]uint64, n)}
	r.Reset()
	return r
}

// Reset returns to state 0 and re-arms the startup countdown
func (r *RoundRobin) Reset() {
	r.state = STATE_CONFIG
	r.forceAll = len(r.rxSent)
	r.forceNext = 0
	r.txSent = 0
	for i := range r.rxSent {
		r.rxSent[i] = 0
	}
	r.rxCursor = 0
	r.routingValid = false
	r.routingChanged = false
	r.visits = [NUM_STATES]uint64{}
}

// State returns the state the next call to Next will run
func (r *RoundRobin) State() int {
	return r.state
}

// Visits returns how often each state has run
func (r *RoundRobin) Visits() [NUM_STATES]uint64 {
	return r.visits
}

// Next computes the control bytes for the current state from p and
// advances the state
func (r *RoundRobin) Next(p *radio.Snapshot) codec.ControlBytes {
	var c codec.ControlBytes

	current := r.state
	r.visits[current]++
	next := current + 1

	switch current {
	case STATE_CONFIG:
		c = ConfigBytes(p)

	case STATE_TX_FREQ:
		c[0] = protocol.C0_TX_FREQ
		binary.BigEndian.PutUint32(c[1:], p.TxFrequency)
		r.txSent = p.TxVersion

	case STATE_RX_FREQ:
		c = r.rxFrequency(p)

	case STATE_DRIVE:
		c = driveBytes(p)
		r.pendingRouting = Routing(p.Receivers)
		r.routingChanged = !r.routingValid || r.pendingRouting != r.routing
		if !r.routingChanged {
			next = STATE_CW_ENABLE
		}

	case STATE_ADC_ROUTING:
		c[0] = protocol.C0_ADC_ROUTING
		copy(c[1:], r.pendingRouting[:])
		r.routing = r.pendingRouting
		r.routingValid = true
		r.routingChanged = false

	case STATE_CW_ENABLE:
		c[0] = protocol.C0_CW_ENABLE
		if p.CWMode && p.InternalCW && !transmitting(p) {
			c[1] = 0x01
		}
		c[2] = p.SidetoneVolume
		c[3] = p.PTTDelay

	case STATE_CW_TIMING:
		c[0] = protocol.C0_CW_TIMING
		c[1] = byte(p.HangTime >> 2)
		c[2] = byte(p.HangTime & 0x03)
		c[3] = byte(p.SidetoneFreq >> 4)
		c[4] = byte(p.SidetoneFreq & 0x0F)

	case STATE_KEYER:
		c[0] = protocol.C0_KEYER
		if p.Reversed {
			c[2] = 0x40
		}
		c[3] = p.KeyerSpeed&0x3F | byte(p.KeyerMode&0x03)<<6
		c[4] = p.KeyerWeight & 0x7F
		if p.KeyerSpacing {
			c[4] |= 0x80
		}
		next = STATE_CONFIG
	}

	r.state = next % NUM_STATES
	return withMox(c, p)
}

// rxFrequency picks the receiver whose frequency goes out this visit
func (r *RoundRobin) rxFrequency(p *radio.Snapshot) codec.ControlBytes {
	n := min(len(p.Receivers), len(r.rxSent))
	if n == 0 {
		return codec.ControlBytes{protocol.C0_RX1_FREQ}
	}

	rx := -1
	if r.forceAll > 0 {
		rx = r.forceNext % n
		r.forceNext++
		r.forceAll--
	} else {
		for i := 0; i < n; i++ {
			cand := (r.rxCursor + i) % n
			if p.Receivers[cand].Version != r.rxSent[cand] {
				rx = cand
				break
			}
		}
		if rx < 0 {
			// nothing changed: refresh receivers in turn
			rx = r.rxCursor % n
		}
		r.rxCursor = (rx + 1) % n
	}

	r.rxSent[rx] = p.Receivers[rx].Version
	return RxFrequencyBytes(p, rx)
}

// ConfigBytes builds the general configuration frame, state 0
func ConfigBytes(p *radio.Snapshot) codec.ControlBytes {
	var c codec.ControlBytes
	c[0] = protocol.C0_CONFIG
	c[1] = protocol.SAMPLE_RATE_BITS[p.SampleRate] | (p.ClockSource&0x07)<<2 | (p.MicSource&0x07)<<5

	if p.ClassE {
		c[2] = 0x01
	}
	c[2] |= (p.OCBits & 0x7F) << 1

	c[3] = p.Attenuator & 0x03
	if p.Preamp {
		c[3] |= 0x04
	}
	if p.Dither {
		c[3] |= 0x08
	}
	if p.Random {
		c[3] |= 0x10
	}
	if !transmitting(p) {
		c[3] |= (p.RxAntenna & 0x03) << 5
	}

	c[4] = p.TxAntenna & 0x03
	if p.Duplex {
		c[4] |= 0x04
	}
	if n := len(p.Receivers); n > 0 {
		c[4] |= byte(n-1) << 3
	}
	return withMox(c, p)
}

// RxFrequencyBytes builds the frequency frame for receiver rx
func RxFrequencyBytes(p *radio.Snapshot, rx int) codec.ControlBytes {
	var c codec.ControlBytes
	c[0] = protocol.RxFrequencyAddress(rx)
	if rx >= 0 && rx < len(p.Receivers) {
		binary.BigEndian.PutUint32(c[1:], p.Receivers[rx].Frequency)
	}
	return withMox(c, p)
}

func driveBytes(p *radio.Snapshot) codec.ControlBytes {
	var c codec.ControlBytes
	c[0] = protocol.C0_DRIVE
	c[1] = p.Drive
	if p.AlexEnabled {
		if len(p.Receivers) > 0 {
			c[3] = HighPassFilter(p.Receivers[0].Frequency)
		}
		if transmitting(p) {
			c[4] = LowPassFilter(p.TxFrequency)
		}
	}
	return c
}

// Routing packs the ADC selection of receivers 1..16, two bits each
func Routing(receivers []radio.Receiver) [4]byte {
	var r [4]byte
	for i, rx := range receivers {
		if i >= protocol.MAX_ROUTED_RECEIVERS {
			break
		}
		r[i/4] |= byte(rx.ADC&0x03) << (2 * (i % 4))
	}
	return r
}

func transmitting(p *radio.Snapshot) bool {
	return p.Mox || p.PTT
}

// withMox applies the final MOX adjustment to C0
func withMox(c codec.ControlBytes, p *radio.Snapshot) codec.ControlBytes {
	c[0] &^= protocol.C0_MOX_BIT
	if transmitting(p) && !p.CWMode {
		c[0] |= protocol.C0_MOX_BIT
	}
	return c
}
