package radio

import (
	"fmt"
	"sync"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// KeyerMode selects how paddle input becomes CW elements
type KeyerMode byte

const (
	KEYER_STRAIGHT KeyerMode = 0
	KEYER_MODE_A   KeyerMode = 1
	KEYER_MODE_B   KeyerMode = 2
)

func (m KeyerMode) String() string {
	switch m {
	case KEYER_STRAIGHT:
		return "straight"
	case KEYER_MODE_A:
		return "A"
	case KEYER_MODE_B:
		return "B"
	default:
		return fmt.Sprintf("KeyerMode(%d)", byte(m))
	}
}

// ParseKeyerMode accepts straight, a or b in any case
func ParseKeyerMode(s string) (KeyerMode, error) {
	switch s {
	case "straight", "Straight", "STRAIGHT":
		return KEYER_STRAIGHT, nil
	case "a", "A":
		return KEYER_MODE_A, nil
	case "b", "B":
		return KEYER_MODE_B, nil
	}
	return KEYER_MODE_B, fmt.Errorf("unknown keyer mode %q", s)
}

// Receiver is one entry of the receiver arena. Everything else refers to a
// receiver by its index.
type Receiver struct {
	Index     int
	Frequency uint32
	ADC       int // 0..3

	// Version increases on every frequency change
	Version uint64
}

// Snapshot is a consistent copy of the parameter block
type Snapshot struct {
	SampleRate  int
	ClockSource byte // C1 bits 4..2
	MicSource   byte // C1 bits 7..5
	ClassE      bool
	OCBits      byte // open collector outputs, 7 bits

	Attenuator byte // 0..3
	Preamp     bool
	Dither     bool
	Random     bool
	RxAntenna  byte // 0..3
	TxAntenna  byte // 0..2
	Duplex     bool

	TxFrequency uint32
	TxVersion   uint64
	Receivers   []Receiver

	Drive       byte
	AlexEnabled bool
	Mox         bool
	PTT         bool
	CWMode      bool // DSP demodulator is CW

	InternalCW     bool
	SidetoneVolume byte
	PTTDelay       byte   // ms
	HangTime       uint16 // ms, 10 bits on the wire
	SidetoneFreq   uint16 // Hz, 12 bits on the wire
	KeyerSpeed     byte   // wpm
	KeyerMode      KeyerMode
	KeyerWeight    byte
	KeyerSpacing   bool
	Reversed       bool

	MicGain float64
}

// Params is the shared runtime parameter block. The frame processor reads
// it through Snapshot; the operator side changes it through the setters.
type Params struct {
	mu sync.Mutex
	s  Snapshot
}

// NewParams creates a parameter block for n receivers
func NewParams(n int, sampleRate int) (*Params, error) {
	if n < protocol.MIN_RECEIVERS || n > protocol.MAX_RECEIVERS {
		return nil, fmt.Errorf("receiver count %d out of range %d..%d",
			n, protocol.MIN_RECEIVERS, protocol.MAX_RECEIVERS)
	}
	if _, ok := protocol.SAMPLE_RATE_BITS[sampleRate]; !ok {
		return nil, fmt.Errorf("unsupported sample rate %d", sampleRate)
	}

	p := &Params{}
	p.s.SampleRate = sampleRate
	p.s.Receivers = make([]Receiver, n)
	for i := range p.s.Receivers {
		p.s.Receivers[i].Index = i
	}
	p.s.KeyerSpeed = 20
	p.s.KeyerWeight = 50
	p.s.KeyerMode = KEYER_MODE_B
	p.s.KeyerSpacing = true
	p.s.HangTime = 300
	p.s.SidetoneFreq = 600
	p.s.MicGain = 0.26

	return p, nil
}

// Snapshot returns a copy that is safe to use without the lock
func (p *Params) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.s
	s.Receivers = make([]Receiver, len(p.s.Receivers))
	copy(s.Receivers, p.s.Receivers)
	return s
}

// ReceiverCount returns the size of the receiver arena
func (p *Params) ReceiverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.s.Receivers)
}

// SetTxFrequency sets the transmit frequency in Hz
func (p *Params) SetTxFrequency(hz uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.s.TxFrequency != hz {
		p.s.TxFrequency = hz
		p.s.TxVersion++
	}
}

// SetRxFrequency sets the frequency of receiver rx in Hz
func (p *Params) SetRxFrequency(rx int, hz uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rx < 0 || rx >= len(p.s.Receivers) {
		return fmt.Errorf("receiver %d out of range", rx)
	}
	r := &p.s.Receivers[rx]
	if r.Frequency != hz {
		r.Frequency = hz
		r.Version++
	}
	return nil
}

// SetADC routes receiver rx to ADC adc (0..3)
func (p *Params) SetADC(rx, adc int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rx < 0 || rx >= len(p.s.Receivers) {
		return fmt.Errorf("receiver %d out of range", rx)
	}
	if adc < 0 || adc > 3 {
		return fmt.Errorf("ADC %d out of range 0..3", adc)
	}
	p.s.Receivers[rx].ADC = adc
	return nil
}

// SetDrive sets the TX drive level
func (p *Params) SetDrive(drive byte) {
	p.mu.Lock()
	p.s.Drive = drive
	p.mu.Unlock()
}

// SetMox sets the manual transmit flag
func (p *Params) SetMox(on bool) {
	p.mu.Lock()
	p.s.Mox = on
	p.mu.Unlock()
}

// SetPTT records the PTT state reported by the radio
func (p *Params) SetPTT(on bool) {
	p.mu.Lock()
	p.s.PTT = on
	p.mu.Unlock()
}

// SetCWMode records whether the DSP demodulator is in CW
func (p *Params) SetCWMode(on bool) {
	p.mu.Lock()
	p.s.CWMode = on
	p.mu.Unlock()
}

// SetMicGain sets the mic scale factor
func (p *Params) SetMicGain(gain float64) {
	p.mu.Lock()
	p.s.MicGain = gain
	p.mu.Unlock()
}

// Frontend groups the receive front end settings written by the config state
type Frontend struct {
	ClockSource byte
	MicSource   byte
	ClassE      bool
	OCBits      byte
	Attenuator  byte
	Preamp      bool
	Dither      bool
	Random      bool
	RxAntenna   byte
	TxAntenna   byte
	Duplex      bool
	AlexEnabled bool
}

// SetFrontend replaces the front end settings
func (p *Params) SetFrontend(f Frontend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.ClockSource = f.ClockSource & 0x07
	p.s.MicSource = f.MicSource & 0x07
	p.s.ClassE = f.ClassE
	p.s.OCBits = f.OCBits & 0x7F
	p.s.Attenuator = f.Attenuator & 0x03
	p.s.Preamp = f.Preamp
	p.s.Dither = f.Dither
	p.s.Random = f.Random
	p.s.RxAntenna = f.RxAntenna & 0x03
	p.s.TxAntenna = f.TxAntenna & 0x03
	p.s.Duplex = f.Duplex
	p.s.AlexEnabled = f.AlexEnabled
}

// CW groups the keyer and sidetone settings sent to the radio
type CW struct {
	Internal       bool
	SidetoneVolume byte
	PTTDelay       byte
	HangTime       uint16
	SidetoneFreq   uint16
	Speed          byte
	Mode           KeyerMode
	Weight         byte
	Spacing        bool
	Reversed       bool
}

// SetCW replaces the CW settings. Out of range values are clamped to what
// the wire fields can carry.
func (p *Params) SetCW(c CW) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.InternalCW = c.Internal
	p.s.SidetoneVolume = c.SidetoneVolume
	p.s.PTTDelay = c.PTTDelay
	p.s.HangTime = min(c.HangTime, 0x3FF)
	p.s.SidetoneFreq = min(c.SidetoneFreq, 0xFFF)
	p.s.KeyerSpeed = min(c.Speed, 60)
	p.s.KeyerMode = c.Mode
	p.s.KeyerWeight = min(c.Weight, 100)
	p.s.KeyerSpacing = c.Spacing
	p.s.Reversed = c.Reversed
}
