package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zl2brg/cudasdr/internal/dsp"
	"github.com/zl2brg/cudasdr/internal/keyer"
	"github.com/zl2brg/cudasdr/internal/metrics"
	"github.com/zl2brg/cudasdr/internal/network"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
	"github.com/zl2brg/cudasdr/internal/status"
)

const (
	DEFAULT_STOP_TIMEOUT      = 2 * time.Second
	DEFAULT_DISCOVERY_TIMEOUT = 2 * time.Second
	STATS_INTERVAL            = 30 * time.Second
)

// State is the engine lifecycle state
type State int

const (
	STATE_DOWN State = iota
	STATE_STARTING
	STATE_UP
)

func (s State) String() string {
	switch s {
	case STATE_DOWN:
		return "down"
	case STATE_STARTING:
		return "starting"
	case STATE_UP:
		return "up"
	default:
		return "unknown"
	}
}

// FirmwareChecker validates a discovered radio before it is started
type FirmwareChecker interface {
	Check(board protocol.BoardID, version string) error
}

// Recorder persists discovered radios and engine sessions
type Recorder interface {
	RecordRadio(dev network.Device) error
	StartSession(id uuid.UUID, dev network.Device, at time.Time) error
	EndSession(id uuid.UUID, at time.Time, io network.IOStats, syncLost, framesOut uint64) error
}

// Publisher is told about every state transition
type Publisher interface {
	Publish(t status.Transition) error
}

// Settings is the immutable part of the engine configuration
type Settings struct {
	Protocol         network.Kind
	Address          string // empty broadcasts a discovery request
	Port             int
	LocalPort        int
	DiscoveryTimeout time.Duration
	Wideband         bool
	TOS              int

	Receivers     int
	SampleRate    int
	BufferSize    int
	AudioReceiver int
	MicGain       float64

	DSP         dsp.Kind
	QueueSize   int
	StopTimeout time.Duration
}

// Options carry the collaborators of an engine. Only Params is required.
type Options struct {
	Settings  Settings
	Params    *radio.Params
	Firmware  FirmwareChecker
	Recorder  Recorder
	Publisher Publisher
	Metrics   *metrics.Metrics
	Keyer     *keyer.Keyer
	TxChain   dsp.TxChain

	// test seams
	discover func(ctx context.Context, s Settings) ([]network.Device, error)
	newIO    func(kind network.Kind, opts network.Options) (network.HardwareIO, error)
	newDSP   func(kind dsp.Kind, receivers, sampleRate int, observer dsp.BatchObserver) (dsp.Engine, error)
}

// Engine owns the receiver set and every pipeline goroutine. Start runs
// discover, firmware check, DSP, transport, processor, start command; Stop
// undoes it in reverse.
type Engine struct {
	settings Settings
	opts     Options
	params   *radio.Params

	mu      sync.Mutex
	state   State
	device  network.Device
	session uuid.UUID

	io        network.HardwareIO
	dsp       dsp.Engine
	processor *Processor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine in the Down state
func New(opts Options) (*Engine, error) {
	if opts.Params == nil {
		return nil, fmt.Errorf("engine needs a parameter block")
	}

	s := opts.Settings
	if s.Receivers == 0 {
		s.Receivers = opts.Params.ReceiverCount()
	}
	if s.Receivers != opts.Params.ReceiverCount() {
		return nil, fmt.Errorf("settings list %d receivers, parameter block has %d",
			s.Receivers, opts.Params.ReceiverCount())
	}
	if s.Port == 0 {
		s.Port = protocol.DEFAULT_PORT
	}
	if s.DiscoveryTimeout <= 0 {
		s.DiscoveryTimeout = DEFAULT_DISCOVERY_TIMEOUT
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DEFAULT_STOP_TIMEOUT
	}
	opts.Settings = s

	if opts.discover == nil {
		opts.discover = discoverDevices
	}
	if opts.newIO == nil {
		opts.newIO = network.NewHardwareIO
	}
	if opts.newDSP == nil {
		opts.newDSP = dsp.New
	}

	return &Engine{
		settings: s,
		opts:     opts,
		params:   opts.Params,
		state:    STATE_DOWN,
	}, nil
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Device returns the radio in use, valid while Up
func (e *Engine) Device() network.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Session returns the id of the current or last session
func (e *Engine) Session() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Start runs the start sequence. Any failure unwinds what was started and
// returns the engine to Down with the reason in the error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != STATE_DOWN {
		return fmt.Errorf("engine is %s", e.state)
	}
	e.setState(STATE_STARTING, "")

	if err := e.startSequence(ctx); err != nil {
		log.Printf("[ERROR] Engine: start failed: %v", err)
		e.opts.Metrics.RecordStartFailure(failureReason(err))
		e.teardown()
		e.setState(STATE_DOWN, err.Error())
		return err
	}

	e.setState(STATE_UP, "")
	return nil
}

func (e *Engine) startSequence(ctx context.Context) error {
	s := e.settings

	devices, err := e.opts.discover(ctx, s)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	dev, err := selectDevice(devices)
	if err != nil {
		return err
	}
	e.device = dev
	log.Printf("[INFO] Engine: using %s", dev)

	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.RecordRadio(dev); err != nil {
			log.Printf("[WARN] Engine: failed to record radio: %v", err)
		}
	}

	if e.opts.Firmware != nil {
		if err := e.opts.Firmware.Check(dev.Board, dev.Firmware()); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.dsp, err = e.opts.newDSP(s.DSP, s.Receivers, s.SampleRate, nil)
	if err != nil {
		return fmt.Errorf("failed to create DSP engine: %w", err)
	}
	if err := e.dsp.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start DSP engine: %w", err)
	}

	e.io, err = e.opts.newIO(s.Protocol, network.Options{
		Address:    dev.Address,
		LocalPort:  s.LocalPort,
		Wideband:   s.Wideband,
		TOS:        s.TOS,
		QueueSize:  s.QueueSize,
		Receivers:  s.Receivers,
		BufferSize: s.BufferSize,
		SampleRate: s.SampleRate,
		MicGain:    s.MicGain,
		Params:     e.params,
	})
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	if err := e.io.InitIO(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	for rx := 0; rx < s.Receivers; rx++ {
		if err := e.io.SendInitFrames(rx); err != nil {
			return fmt.Errorf("failed to send init frames: %w", err)
		}
	}

	var paddles keyer.PaddleSink
	if e.opts.Keyer != nil {
		paddles = e.opts.Keyer
	}
	e.processor, err = NewProcessor(ProcessorOptions{
		IO:            e.io,
		DSP:           e.dsp,
		TxChain:       e.opts.TxChain,
		Params:        e.params,
		Paddles:       paddles,
		Metrics:       e.opts.Metrics,
		AudioReceiver: s.AudioReceiver,
	})
	if err != nil {
		return err
	}
	if err := e.processor.Start(runCtx); err != nil {
		return err
	}

	if err := e.io.SendCommand(protocol.CMD_START); err != nil {
		return fmt.Errorf("failed to send start command: %w", err)
	}

	e.session = uuid.New()
	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.StartSession(e.session, dev, time.Now()); err != nil {
			log.Printf("[WARN] Engine: failed to record session start: %v", err)
		}
	}

	e.wg.Add(1)
	go e.watchTransport(runCtx)

	if e.opts.Keyer != nil {
		e.wg.Add(1)
		go e.runKeyer(runCtx)
	}

	log.Printf("[INFO] Engine: up, session %s", e.session)
	return nil
}

// Stop sends the hardware stop command, then stops the processor, the
// transport and the DSP engine, in that order
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != STATE_UP {
		return nil
	}

	stats := e.teardown()
	if e.opts.Recorder != nil {
		err := e.opts.Recorder.EndSession(e.session, time.Now(), stats.io, stats.processor.SyncLost, stats.processor.FramesOut)
		if err != nil {
			log.Printf("[WARN] Engine: failed to record session end: %v", err)
		}
	}
	e.setState(STATE_DOWN, "")
	return nil
}

type teardownStats struct {
	io        network.IOStats
	processor ProcessorStats
}

// teardown releases whatever the start sequence created. It is called
// with mu held, both from Stop and from a failed Start.
func (e *Engine) teardown() teardownStats {
	var stats teardownStats
	timeout := e.settings.StopTimeout

	if e.io != nil {
		if err := e.io.SendCommand(protocol.CMD_STOP); err != nil {
			log.Printf("[WARN] Engine: stop command failed: %v", err)
		}
	}

	if e.processor != nil {
		e.processor.Stop(timeout)
		stats.processor = e.processor.Stats()
		e.processor = nil
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	if e.io != nil {
		joinWithTimeout("transport", timeout, func() {
			if err := e.io.Stop(); err != nil {
				log.Printf("[WARN] Engine: transport stop: %v", err)
			}
		})
		stats.io = e.io.Stats()
		e.io = nil
	}

	if e.dsp != nil {
		joinWithTimeout("DSP engine", timeout, e.dsp.Stop)
		e.dsp = nil
	}

	joinWithTimeout("engine goroutines", timeout, e.wg.Wait)
	return stats
}

// joinWithTimeout runs fn and gives up waiting after timeout. A goroutine
// that does not finish is logged as a fault and teardown continues.
func joinWithTimeout(name string, timeout time.Duration, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("[ERROR] Engine: %s did not stop within %v", name, timeout)
	}
}

// watchTransport logs transport events and prints periodic statistics
func (e *Engine) watchTransport(ctx context.Context) {
	defer e.wg.Done()

	events := e.io.Events()
	processor := e.processor
	io := e.io
	ticker := time.NewTicker(STATS_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case network.EVENT_SEQUENCE_GAP:
				e.opts.Metrics.RecordSequenceGap()
			case network.EVENT_QUEUE_OVERFLOW:
				e.opts.Metrics.RecordQueueOverflow()
			case network.EVENT_READ_ERROR:
				e.opts.Metrics.RecordTransportError("read")
			case network.EVENT_WRITE_ERROR:
				e.opts.Metrics.RecordTransportError("write")
			}
		case <-ticker.C:
			ps := processor.Stats()
			is := io.Stats()
			log.Printf("[INFO] Engine: frames in %d out %d, batches %d, sync lost %d, gaps %d, overflows %d, write errors %d",
				ps.FramesIn, ps.FramesOut, ps.Batches, ps.SyncLost, is.SequenceGaps, is.QueueOverflows, ps.WriteErrors+is.WriteErrors)
		}
	}
}

// runKeyer runs the keyer loop and counts its events
func (e *Engine) runKeyer(ctx context.Context) {
	defer e.wg.Done()

	k := e.opts.Keyer
	k.SetLatenessObserver(e.opts.Metrics.ObserveKeyerLateness)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] Engine: keyer stopped: %v", err)
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-k.Events():
			e.opts.Metrics.RecordKeyerEvent(ev.Type.String())
			log.Printf("[DEBUG] Engine: keyer %s", ev.Type)
		}
	}
}

// setState records a transition and publishes it; called with mu held
func (e *Engine) setState(next State, reason string) {
	prev := e.state
	e.state = next
	e.opts.Metrics.SetEngineState(int(next))

	log.Printf("[INFO] Engine: %s -> %s", prev, next)

	if e.opts.Publisher == nil {
		return
	}
	t := status.Transition{
		From:   prev.String(),
		To:     next.String(),
		Reason: reason,
		At:     time.Now(),
	}
	if e.device.MAC != nil {
		t.Device = e.device.MAC.String()
		t.Board = e.device.Board.String()
	}
	if e.session != uuid.Nil {
		t.Session = e.session.String()
	}
	if err := e.opts.Publisher.Publish(t); err != nil {
		log.Printf("[WARN] Engine: failed to publish state: %v", err)
	}
}

// selectDevice picks the first idle radio, else the first one found
func selectDevice(devices []network.Device) (network.Device, error) {
	if len(devices) == 0 {
		return network.Device{}, protocol.ErrNoDevice
	}
	for _, d := range devices {
		if !d.Running {
			return d, nil
		}
	}
	log.Printf("[WARN] Engine: every radio found is busy, using %s", devices[0])
	return devices[0], nil
}

func discoverDevices(ctx context.Context, s Settings) ([]network.Device, error) {
	if s.Address == "" {
		return network.Discover(ctx, s.Port, s.DiscoveryTimeout)
	}
	addr, err := network.ParseUDPAddr(s.Address, s.Port)
	if err != nil {
		return nil, err
	}
	return network.DiscoverAt(ctx, addr, s.DiscoveryTimeout)
}

// failureReason classifies a start failure for metrics
func failureReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, protocol.ErrFirmwareIncompatible):
		return "firmware"
	case errors.Is(err, protocol.ErrNoDevice):
		return "no_device"
	case errors.Is(err, protocol.ErrTransport), errors.As(err, &netErr):
		return "transport"
	case errors.Is(err, network.ErrNotImplemented):
		return "not_implemented"
	default:
		return "other"
	}
}
