package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/control"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

const (
	READ_TIMEOUT       = 100 * time.Millisecond
	REPORT_INTERVAL    = time.Second
	OUTBOUND_QUEUE     = 16
	DEFAULT_QUEUE_SIZE = 64
)

// Protocol1 is the HPSDR Protocol 1 transport over UDP. A reader goroutine
// splits inbound datagrams into half-frames on the inbound queue; a writer
// goroutine sends completed outbound datagrams.
type Protocol1 struct {
	opts Options

	sock    *UDPSocket
	decoder *codec.Decoder
	rr      *control.RoundRobin
	params  *radio.Params

	inbound  *FrameQueue
	outbound chan []byte
	events   chan Event
	shutdown chan struct{}
	wg       sync.WaitGroup

	// outbound datagram under assembly, owned by the processor goroutine
	pending     [protocol.METIS_DATAGRAM_LENGTH]byte
	pendingHalf int

	txSeq *protocol.SequenceCounter
	rxSeq *protocol.SequenceCounter

	mu      sync.Mutex
	running bool
	quit    atomic.Bool

	datagramsIn  atomic.Uint64
	datagramsOut atomic.Uint64
	framesIn     atomic.Uint64
	badDatagrams atomic.Uint64
	writeErrors  atomic.Uint64

	lastGapReport      time.Time
	lastOverflowReport time.Time
}

// NewProtocol1 creates a transport for the radio at opts.Address
func NewProtocol1(opts Options) (*Protocol1, error) {
	if opts.Address == nil {
		return nil, fmt.Errorf("no radio address")
	}
	if opts.Params == nil {
		return nil, fmt.Errorf("no parameter block")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DEFAULT_QUEUE_SIZE
	}

	decoder, err := codec.NewDecoder(opts.Receivers, opts.BufferSize, opts.SampleRate, opts.MicGain)
	if err != nil {
		return nil, err
	}

	p := &Protocol1{
		opts:     opts,
		decoder:  decoder,
		rr:       control.NewRoundRobin(opts.Receivers),
		params:   opts.Params,
		inbound:  NewFrameQueue(opts.QueueSize),
		outbound: make(chan []byte, OUTBOUND_QUEUE),
		events:   make(chan Event, 16),
		txSeq:    protocol.NewSequenceCounter(),
		rxSeq:    protocol.NewSequenceCounter(),
	}
	p.pending = datagramHeader()

	log.Printf("[DEBUG] Protocol1: created for %s, %d receivers, %d Hz, batch %d",
		opts.Address, opts.Receivers, opts.SampleRate, opts.BufferSize)

	return p, nil
}

func datagramHeader() [protocol.METIS_DATAGRAM_LENGTH]byte {
	var d [protocol.METIS_DATAGRAM_LENGTH]byte
	d[0] = protocol.METIS_MAGIC1
	d[1] = protocol.METIS_MAGIC2
	d[2] = protocol.METIS_TYPE_DATA
	d[3] = protocol.METIS_EP2
	return d
}

// InitIO binds the socket and starts the reader and writer goroutines
func (p *Protocol1) InitIO(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("Protocol1 already running")
	}

	p.sock = NewUDPSocket("", p.opts.LocalPort)
	p.sock.SetTOS(p.opts.TOS)
	if err := p.sock.Open(ctx); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}

	p.shutdown = make(chan struct{})
	p.quit.Store(false)
	p.inbound.Reopen()
	p.txSeq.Reset()
	p.rxSeq.Reset()
	p.decoder.Reset()
	p.rr.Reset()
	p.pendingHalf = 0
	p.running = true

	p.wg.Add(2)
	go p.networkReader()
	go p.networkWriter()

	log.Printf("[INFO] Protocol1: bound to %s, radio at %s", p.sock.LocalAddr(), p.opts.Address)
	return nil
}

// Stop ends both goroutines, closes the socket and drains the inbound queue
func (p *Protocol1) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.quit.Store(true)
	close(p.shutdown)
	p.mu.Unlock()

	p.wg.Wait()
	p.inbound.Close()
	dropped := p.inbound.Drain()
	p.sock.Close()

	log.Printf("[INFO] Protocol1: stopped, %d queued frames discarded", dropped)
	return nil
}

// networkReader reads datagrams and queues their two half-frames
func (p *Protocol1) networkReader() {
	defer p.wg.Done()

	buffer := make([]byte, 2048)

	for !p.quit.Load() {
		n, from, err := p.sock.Read(buffer, READ_TIMEOUT)
		if err != nil {
			if p.quit.Load() {
				return
			}
			log.Printf("[WARN] Protocol1: read error: %v", err)
			p.emit(Event{Type: EVENT_READ_ERROR, Err: fmt.Errorf("%w: %v", protocol.ErrTransport, err)})
			continue
		}
		if n == 0 {
			continue
		}

		if !from.IP.Equal(p.opts.Address.IP) {
			log.Printf("[DEBUG] Protocol1: ignoring packet from %s", from)
			continue
		}

		p.handleDatagram(buffer[:n])
	}
}

func (p *Protocol1) handleDatagram(buf []byte) {
	if len(buf) != protocol.METIS_DATAGRAM_LENGTH ||
		buf[0] != protocol.METIS_MAGIC1 || buf[1] != protocol.METIS_MAGIC2 ||
		buf[2] != protocol.METIS_TYPE_DATA || buf[3] != protocol.METIS_EP6 {
		p.badDatagrams.Add(1)
		log.Printf("[DEBUG] Protocol1: ignoring %d byte datagram", len(buf))
		return
	}
	p.datagramsIn.Add(1)

	seq := binary.BigEndian.Uint32(buf[4:8])
	if err := p.rxSeq.Check(seq); err != nil {
		now := time.Now()
		if now.Sub(p.lastGapReport) > REPORT_INTERVAL {
			p.lastGapReport = now
			log.Printf("[WARN] Protocol1: %v (%d gaps total)", err, p.rxSeq.Gaps())
		}
		p.emit(Event{Type: EVENT_SEQUENCE_GAP, Err: err})
	}

	for half := 0; half < 2; half++ {
		start := protocol.METIS_HEADER_LENGTH + half*protocol.HALF_FRAME_LENGTH
		frame := make([]byte, protocol.HALF_FRAME_LENGTH)
		copy(frame, buf[start:start+protocol.HALF_FRAME_LENGTH])

		p.framesIn.Add(1)
		if dropped := p.inbound.Push(frame); dropped {
			now := time.Now()
			if now.Sub(p.lastOverflowReport) > REPORT_INTERVAL {
				p.lastOverflowReport = now
				_, overflows := p.inbound.Stats()
				log.Printf("[WARN] Protocol1: inbound queue full, dropped oldest frame (%d total)", overflows)
			}
			p.emit(Event{Type: EVENT_QUEUE_OVERFLOW, Err: protocol.ErrQueueOverflow})
		}
	}
}

// networkWriter sends completed datagrams
func (p *Protocol1) networkWriter() {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdown:
			return
		case datagram := <-p.outbound:
			if err := p.sock.Write(datagram, p.opts.Address); err != nil {
				p.writeErrors.Add(1)
				log.Printf("[WARN] Protocol1: write error: %v", err)
				p.emit(Event{Type: EVENT_WRITE_ERROR, Err: fmt.Errorf("%w: %v", protocol.ErrTransport, err)})
				continue
			}
			p.datagramsOut.Add(1)
		}
	}
}

func (p *Protocol1) emit(e Event) {
	select {
	case p.events <- e:
	default:
		// nobody is listening fast enough; counters still record it
	}
}

// DecodeInputFrame decodes one inbound half-frame
func (p *Protocol1) DecodeInputFrame(frame []byte) codec.DecodeResult {
	return p.decoder.Decode(frame)
}

// SetMicGain changes the mic scale factor of the decoder
func (p *Protocol1) SetMicGain(gain float64) {
	p.decoder.SetMicGain(gain)
}

// EncodeControlBytes runs one round-robin step
func (p *Protocol1) EncodeControlBytes(s *radio.Snapshot) codec.ControlBytes {
	return p.rr.Next(s)
}

// SendAudio places an encoded half-frame into the datagram under assembly
func (p *Protocol1) SendAudio(frame codec.HalfFrame) error {
	if p.pendingHalf >= 2 {
		return fmt.Errorf("datagram already complete, call WriteData")
	}
	start := protocol.METIS_HEADER_LENGTH + p.pendingHalf*protocol.HALF_FRAME_LENGTH
	copy(p.pending[start:], frame[:])
	p.pendingHalf++
	return nil
}

// WriteData hands the datagram to the writer once both halves are present.
// With one half buffered it does nothing.
func (p *Protocol1) WriteData() error {
	if p.pendingHalf < 2 {
		return nil
	}
	p.pendingHalf = 0

	binary.BigEndian.PutUint32(p.pending[4:8], p.txSeq.Next())
	datagram := make([]byte, protocol.METIS_DATAGRAM_LENGTH)
	copy(datagram, p.pending[:])

	return p.queueDatagram(datagram)
}

func (p *Protocol1) queueDatagram(datagram []byte) error {
	if p.quit.Load() {
		return fmt.Errorf("%w: transport stopped", protocol.ErrTransport)
	}
	select {
	case p.outbound <- datagram:
		return nil
	default:
		p.writeErrors.Add(1)
		return fmt.Errorf("%w: outbound channel full, dropping datagram", protocol.ErrTransport)
	}
}

// SendInitFrames sends one datagram carrying the general configuration and
// the frequency of receiver rx, so the radio knows the receiver count
// before it starts streaming
func (p *Protocol1) SendInitFrames(rx int) error {
	s := p.params.Snapshot()

	first, err := codec.EncodeHalfFrame(control.ConfigBytes(&s), nil)
	if err != nil {
		return err
	}
	second, err := codec.EncodeHalfFrame(control.RxFrequencyBytes(&s, rx), nil)
	if err != nil {
		return err
	}

	datagram := datagramHeader()
	binary.BigEndian.PutUint32(datagram[4:8], p.txSeq.Next())
	copy(datagram[protocol.METIS_HEADER_LENGTH:], first[:])
	copy(datagram[protocol.METIS_HEADER_LENGTH+protocol.HALF_FRAME_LENGTH:], second[:])

	return p.writeDirect(datagram[:])
}

// SendCommand sends a start or stop command packet
func (p *Protocol1) SendCommand(cmd protocol.HardwareCommand) error {
	if cmd == protocol.CMD_START && p.opts.Wideband {
		cmd = protocol.CMD_START_WITH_WIDEBAND
	}
	log.Printf("[INFO] Protocol1: sending %s to %s", cmd, p.opts.Address)
	return p.writeDirect(CommandPacket(cmd))
}

// writeDirect bypasses the writer goroutine for control traffic
func (p *Protocol1) writeDirect(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sock == nil || !p.running {
		return fmt.Errorf("%w: transport not running", protocol.ErrTransport)
	}
	if err := p.sock.Write(buf, p.opts.Address); err != nil {
		p.writeErrors.Add(1)
		return fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	return nil
}

// CommandPacket builds the 64-byte command packet for cmd
func CommandPacket(cmd protocol.HardwareCommand) []byte {
	buf := make([]byte, protocol.METIS_COMMAND_LENGTH)
	buf[0] = protocol.METIS_MAGIC1
	buf[1] = protocol.METIS_MAGIC2
	buf[2] = protocol.METIS_TYPE_COMMAND
	buf[3] = byte(cmd)
	return buf
}

// Inbound returns the queue of received half-frames
func (p *Protocol1) Inbound() *FrameQueue {
	return p.inbound
}

// Events returns non-fatal transport events
func (p *Protocol1) Events() <-chan Event {
	return p.events
}

// Decoder exposes the decoder for telemetry
func (p *Protocol1) Decoder() *codec.Decoder {
	return p.decoder
}

// LocalAddr returns the bound socket address, nil before InitIO
func (p *Protocol1) LocalAddr() *net.UDPAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sock == nil {
		return nil
	}
	return p.sock.LocalAddr()
}

// Stats returns the transport counters
func (p *Protocol1) Stats() IOStats {
	_, overflows := p.inbound.Stats()
	return IOStats{
		DatagramsIn:    p.datagramsIn.Load(),
		DatagramsOut:   p.datagramsOut.Load(),
		FramesIn:       p.framesIn.Load(),
		BadDatagrams:   p.badDatagrams.Load(),
		SequenceGaps:   p.rxSeq.Gaps(),
		QueueOverflows: overflows,
		WriteErrors:    p.writeErrors.Load(),
	}
}

// IsTransportError reports whether err came from the socket layer
func IsTransportError(err error) bool {
	return errors.Is(err, protocol.ErrTransport)
}
