package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/dsp"
	"github.com/zl2brg/cudasdr/internal/keyer"
	"github.com/zl2brg/cudasdr/internal/metrics"
	"github.com/zl2brg/cudasdr/internal/network"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

const (
	POLL_INTERVAL       = 100 * time.Millisecond
	WRITE_REPORT_PERIOD = time.Second

	// TX IQ ring: about 16 output frames of IQ bytes
	TX_IQ_BUFFER_SIZE = 16 * protocol.OUTPUT_SAMPLES_PER_HALF * 4
)

// ProcessorStats are running frame processor counters
type ProcessorStats struct {
	FramesIn     uint64
	SyncLost     uint64
	FramesOut    uint64
	WriteErrors  uint64
	Batches      uint64
	AudioSamples uint64
}

// Processor is the frame pipeline. One goroutine takes inbound half-frames
// off the transport queue, decodes them, feeds full IQ batches to the DSP
// engine and assembles outbound half-frames from the returned audio and the
// TX IQ stream. It is the only user of the transport encode and send path.
type Processor struct {
	io      network.HardwareIO
	dsp     dsp.Engine
	tx      dsp.TxChain
	params  *radio.Params
	paddles *keyer.ControlBits
	metrics *metrics.Metrics

	audioReceiver int

	txIQ    *codec.RingBuffer
	payload [protocol.PAYLOAD_LENGTH]byte
	cursor  int
	iqBytes [4]byte

	lastPTT         bool
	lastWriteReport time.Time

	cancel context.CancelFunc
	done   chan struct{}
	quit   atomic.Bool

	mu      sync.Mutex
	running bool

	framesIn     atomic.Uint64
	syncLost     atomic.Uint64
	framesOut    atomic.Uint64
	writeErrors  atomic.Uint64
	batches      atomic.Uint64
	audioSamples atomic.Uint64
}

// ProcessorOptions wire a processor to its collaborators
type ProcessorOptions struct {
	IO            network.HardwareIO
	DSP           dsp.Engine
	TxChain       dsp.TxChain
	Params        *radio.Params
	Paddles       keyer.PaddleSink // optional, fed from inbound dot/dash bits
	Metrics       *metrics.Metrics
	AudioReceiver int
}

// NewProcessor creates a processor; Start launches it
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.IO == nil || opts.DSP == nil || opts.Params == nil {
		return nil, fmt.Errorf("processor needs a transport, a DSP engine and a parameter block")
	}
	if opts.AudioReceiver < 0 || opts.AudioReceiver >= opts.Params.ReceiverCount() {
		return nil, fmt.Errorf("audio receiver %d out of range", opts.AudioReceiver)
	}
	if opts.TxChain == nil {
		opts.TxChain = dsp.MicPassthrough{}
	}

	p := &Processor{
		io:            opts.IO,
		dsp:           opts.DSP,
		tx:            opts.TxChain,
		params:        opts.Params,
		metrics:       opts.Metrics,
		audioReceiver: opts.AudioReceiver,
		txIQ:          codec.NewRingBuffer(TX_IQ_BUFFER_SIZE, "TX IQ"),
	}
	if opts.Paddles != nil {
		p.paddles = keyer.NewControlBits(opts.Paddles)
	}
	return p, nil
}

// Start launches the processing goroutine
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("processor already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.quit.Store(false)
	p.cursor = 0
	p.txIQ.Clear()
	p.running = true

	go p.run(ctx)

	log.Printf("[INFO] Processor: started, audio from receiver %d", p.audioReceiver)
	return nil
}

// Stop sets the quit flag and waits up to timeout for the goroutine. A
// goroutine that does not exit in time is reported and abandoned.
func (p *Processor) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.quit.Store(true)
	p.cancel()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		log.Printf("[INFO] Processor: stopped")
		return nil
	case <-time.After(timeout):
		log.Printf("[ERROR] Processor: did not stop within %v", timeout)
		return fmt.Errorf("processor did not stop within %v", timeout)
	}
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	inbound := p.io.Inbound()
	for !p.quit.Load() {
		frame, ok := inbound.PopTimeout(POLL_INTERVAL)
		if ok {
			p.handleFrame(ctx, frame)
		}
		p.drainCompletions()
		p.metrics.SetQueueDepth(inbound.Len())
	}
}

// handleFrame decodes one inbound half-frame and dispatches its contents
func (p *Processor) handleFrame(ctx context.Context, frame []byte) {
	res := p.io.DecodeInputFrame(frame)
	if res.SyncLost {
		p.syncLost.Add(1)
		p.metrics.RecordSyncLost()
		if res.ReportSyncLost {
			log.Printf("[WARN] Processor: sync lost, dropping frame (%d total)", p.syncLost.Load())
		}
		return
	}

	p.framesIn.Add(1)
	p.metrics.RecordFrameIn()

	if p.paddles != nil {
		p.paddles.Update(res.Control[0])
	}
	if res.Status.PTT != p.lastPTT {
		p.lastPTT = res.Status.PTT
		p.params.SetPTT(res.Status.PTT)
		log.Printf("[DEBUG] Processor: radio PTT %v", res.Status.PTT)
	}
	p.metrics.SetRadioStatus(res.Status.ADCOverload, res.Status.SupplyVoltage,
		res.Status.ForwardPower, res.Status.ReversePower)

	for _, b := range res.Ready {
		if err := p.dsp.Enqueue(ctx, b.Receiver, b.IQ); err != nil {
			if !p.quit.Load() {
				log.Printf("[WARN] Processor: receiver %d batch not delivered: %v", b.Receiver, err)
			}
			continue
		}
		p.batches.Add(1)
		p.metrics.RecordDSPBatch(b.Receiver)
	}

	for _, mic := range res.Mic {
		p.bufferTxIQ(mic)
	}
}

// bufferTxIQ runs mic samples through the TX chain and appends the result
// to the TX IQ ring as 16-bit I/Q pairs
func (p *Processor) bufferTxIQ(mic []float64) {
	iq := p.tx.Process(mic)
	buf := make([]byte, 4*len(iq))
	for i, s := range iq {
		binary.BigEndian.PutUint16(buf[4*i:], uint16(scale16(real(s))))
		binary.BigEndian.PutUint16(buf[4*i+2:], uint16(scale16(imag(s))))
	}
	p.txIQ.AddData(buf)
}

func (p *Processor) drainCompletions() {
	for {
		select {
		case audio := <-p.dsp.Completions():
			if audio.Receiver == p.audioReceiver {
				p.writeAudio(audio)
			}
		default:
			return
		}
	}
}

// writeAudio interleaves audio with TX IQ into the outbound payload,
// sending a half-frame each time the payload fills
func (p *Processor) writeAudio(audio dsp.Audio) {
	n := min(len(audio.Left), len(audio.Right))
	for i := 0; i < n; i++ {
		binary.BigEndian.PutUint16(p.payload[p.cursor:], uint16(scale16(audio.Left[i])))
		binary.BigEndian.PutUint16(p.payload[p.cursor+2:], uint16(scale16(audio.Right[i])))

		p.txIQ.Read(p.iqBytes[:])
		copy(p.payload[p.cursor+4:], p.iqBytes[:])

		p.cursor += protocol.OUTPUT_SAMPLE_BYTES
		if p.cursor == protocol.OUTPUT_SAMPLES_PER_HALF*protocol.OUTPUT_SAMPLE_BYTES {
			p.sendFrame()
			p.cursor = 0
		}
	}
	p.audioSamples.Add(uint64(n))
}

// sendFrame encodes the payload with the next control bytes and writes it
// through. Failures are reported and the stream carries on.
func (p *Processor) sendFrame() {
	snapshot := p.params.Snapshot()
	control := p.io.EncodeControlBytes(&snapshot)

	frame, err := codec.EncodeHalfFrame(control, p.payload[:p.cursor])
	if err != nil {
		p.reportWriteError(err)
		return
	}

	if err := p.io.SendAudio(frame); err != nil {
		p.reportWriteError(err)
		return
	}
	p.framesOut.Add(1)
	p.metrics.RecordFrameOut()

	if err := p.io.WriteData(); err != nil {
		p.reportWriteError(err)
	}
}

func (p *Processor) reportWriteError(err error) {
	p.writeErrors.Add(1)
	p.metrics.RecordTransportError("write")

	now := time.Now()
	if now.Sub(p.lastWriteReport) > WRITE_REPORT_PERIOD {
		p.lastWriteReport = now
		log.Printf("[WARN] Processor: frame write failed: %v (%d total)", err, p.writeErrors.Load())
	}
}

// Stats returns the processor counters
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		FramesIn:     p.framesIn.Load(),
		SyncLost:     p.syncLost.Load(),
		FramesOut:    p.framesOut.Load(),
		WriteErrors:  p.writeErrors.Load(),
		Batches:      p.batches.Load(),
		AudioSamples: p.audioSamples.Load(),
	}
}

// scale16 converts a sample in [-1, 1] to a clamped 16-bit value
func scale16(v float64) int16 {
	s := math.Round(v * 32767)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < -32767 {
		return -32767
	}
	return int16(s)
}
