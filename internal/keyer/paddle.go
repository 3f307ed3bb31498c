package keyer

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// PaddleSink receives paddle contact changes
type PaddleSink interface {
	SetPaddles(dot, dash bool)
}

// ControlBits forwards the dot and dash bits of inbound C0 bytes to a sink,
// only when they change
type ControlBits struct {
	sink  PaddleSink
	last  byte
	valid bool
}

// NewControlBits creates a paddle source fed from decoded control bytes
func NewControlBits(sink PaddleSink) *ControlBits {
	return &ControlBits{sink: sink}
}

// Update takes the C0 byte of an inbound half-frame
func (c *ControlBits) Update(c0 byte) {
	bits := c0 & (protocol.STATUS_DOT_BIT | protocol.STATUS_DASH_BIT)
	if c.valid && bits == c.last {
		return
	}
	c.valid = true
	c.last = bits
	c.sink.SetPaddles(bits&protocol.STATUS_DOT_BIT != 0, bits&protocol.STATUS_DASH_BIT != 0)
}

// modemPort is the part of serial.Port the paddle reader needs
type modemPort interface {
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	Close() error
}

// SerialPaddle reads a paddle wired to a serial port's modem lines:
// CTS is the dot contact, DSR the dash contact
type SerialPaddle struct {
	name     string
	port     modemPort
	sink     PaddleSink
	interval time.Duration
}

// OpenSerialPaddle opens the named port and raises DTR/RTS to supply the
// paddle contacts
func OpenSerialPaddle(name string, sink PaddleSink) (*SerialPaddle, error) {
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open paddle port %s: %w", name, err)
	}

	if err := port.SetDTR(true); err != nil {
		log.Printf("[WARN] Keyer: %s: failed to raise DTR: %v", name, err)
	}
	if err := port.SetRTS(true); err != nil {
		log.Printf("[WARN] Keyer: %s: failed to raise RTS: %v", name, err)
	}

	return newSerialPaddle(name, port, sink), nil
}

func newSerialPaddle(name string, port modemPort, sink PaddleSink) *SerialPaddle {
	return &SerialPaddle{
		name:     name,
		port:     port,
		sink:     sink,
		interval: POLL_INTERVAL,
	}
}

// Run polls the modem lines until ctx is cancelled or the port fails
func (s *SerialPaddle) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastDot, lastDash, valid bool

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			bits, err := s.port.GetModemStatusBits()
			if err != nil {
				return fmt.Errorf("paddle port %s: %w", s.name, err)
			}
			if valid && bits.CTS == lastDot && bits.DSR == lastDash {
				continue
			}
			valid = true
			lastDot, lastDash = bits.CTS, bits.DSR
			s.sink.SetPaddles(lastDot, lastDash)
		}
	}
}

// Close releases the port
func (s *SerialPaddle) Close() error {
	return s.port.Close()
}
