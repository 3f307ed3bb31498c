package network

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

// ErrNotImplemented is returned by the stub transports
var ErrNotImplemented = errors.New("transport not implemented")

// HardwareIO is the contract every radio transport implements. The frame
// processor is the only caller of the decode, encode and send methods.
type HardwareIO interface {
	InitIO(ctx context.Context) error
	Stop() error

	DecodeInputFrame(frame []byte) codec.DecodeResult
	EncodeControlBytes(p *radio.Snapshot) codec.ControlBytes

	// SendAudio buffers one encoded half-frame; WriteData sends the
	// datagram once it is complete
	SendAudio(frame codec.HalfFrame) error
	WriteData() error

	SendInitFrames(rx int) error
	SendCommand(cmd protocol.HardwareCommand) error

	Inbound() *FrameQueue
	Events() <-chan Event
	Stats() IOStats
}

// EventType classifies transport events
type EventType int

const (
	EVENT_WRITE_ERROR EventType = iota
	EVENT_READ_ERROR
	EVENT_SEQUENCE_GAP
	EVENT_QUEUE_OVERFLOW
)

func (t EventType) String() string {
	switch t {
	case EVENT_WRITE_ERROR:
		return "WRITE_ERROR"
	case EVENT_READ_ERROR:
		return "READ_ERROR"
	case EVENT_SEQUENCE_GAP:
		return "SEQUENCE_GAP"
	case EVENT_QUEUE_OVERFLOW:
		return "QUEUE_OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// Event reports a non-fatal transport problem
type Event struct {
	Type EventType
	Err  error
}

// IOStats are running transport counters
type IOStats struct {
	DatagramsIn    uint64
	DatagramsOut   uint64
	FramesIn       uint64
	BadDatagrams   uint64
	SequenceGaps   uint64
	QueueOverflows uint64
	WriteErrors    uint64
}

// Kind selects a transport implementation
type Kind string

const (
	KIND_PROTOCOL1 Kind = "1"
	KIND_PROTOCOL2 Kind = "2"
	KIND_SOAPY     Kind = "soapy"
)

// Options configure a transport
type Options struct {
	Address    *net.UDPAddr // radio data endpoint
	LocalPort  int
	Wideband   bool
	TOS        int
	QueueSize  int
	Receivers  int
	BufferSize int
	SampleRate int
	MicGain    float64
	Params     *radio.Params
}

// NewHardwareIO returns the transport for kind
func NewHardwareIO(kind Kind, opts Options) (HardwareIO, error) {
	switch kind {
	case KIND_PROTOCOL1, "":
		return NewProtocol1(opts)
	case KIND_PROTOCOL2:
		return &stubIO{name: "Protocol 2"}, nil
	case KIND_SOAPY:
		return &stubIO{name: "SoapySDR"}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// stubIO satisfies HardwareIO for transports that are not built yet; it
// refuses to start
type stubIO struct {
	name   string
	events chan Event
}

func (s *stubIO) InitIO(context.Context) error {
	return fmt.Errorf("%s: %w", s.name, ErrNotImplemented)
}

func (s *stubIO) Stop() error { return nil }

func (s *stubIO) DecodeInputFrame([]byte) codec.DecodeResult {
	return codec.DecodeResult{SyncLost: true}
}

func (s *stubIO) EncodeControlBytes(*radio.Snapshot) codec.ControlBytes {
	return codec.ControlBytes{}
}

func (s *stubIO) SendAudio(codec.HalfFrame) error { return ErrNotImplemented }
func (s *stubIO) WriteData() error { return ErrNotImplemented }
func (s *stubIO) SendInitFrames(int) error { return ErrNotImplemented }

func (s *stubIO) SendCommand(protocol.HardwareCommand) error { return ErrNotImplemented }

func (s *stubIO) Inbound() *FrameQueue { return nil }
func (s *stubIO) Events() <-chan Event { return s.events }
func (s *stubIO) Stats() IOStats { return IOStats{} }
