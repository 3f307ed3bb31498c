package dsp

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// COMPLETION_QUEUE_SIZE is the completion channel depth per receiver
const COMPLETION_QUEUE_SIZE = 4

// BatchObserver is told about every batch a worker finishes
type BatchObserver func(rx int)

type batch struct {
	rx int
	iq []complex128
}

// Passthrough is a DSP engine without signal processing. Each receiver has
// its own worker goroutine that decimates IQ to the 48 kHz audio rate and
// returns I on the left channel and Q on the right.
type Passthrough struct {
	receivers int
	decimate  int
	observer  BatchObserver

	inputs      []chan batch
	completions chan Audio
	shutdown    chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	running bool
	dropped uint64
}

// NewPassthrough creates an engine for receivers receivers at sampleRate
func NewPassthrough(receivers, sampleRate int, observer BatchObserver) (*Passthrough, error) {
	if receivers < protocol.MIN_RECEIVERS || receivers > protocol.MAX_RECEIVERS {
		return nil, fmt.Errorf("receiver count %d out of range", receivers)
	}
	if _, ok := protocol.SAMPLE_RATE_BITS[sampleRate]; !ok {
		return nil, fmt.Errorf("unsupported sample rate %d", sampleRate)
	}

	return &Passthrough{
		receivers:   receivers,
		decimate:    sampleRate / protocol.MIC_RATE,
		observer:    observer,
		completions: make(chan Audio, receivers*COMPLETION_QUEUE_SIZE),
	}, nil
}

// Start launches one worker per receiver
func (p *Passthrough) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("DSP engine already running")
	}

	p.shutdown = make(chan struct{})
	p.inputs = make([]chan batch, p.receivers)
	for rx := range p.inputs {
		// unbuffered: Enqueue waits until the worker is free
		p.inputs[rx] = make(chan batch)
		p.wg.Add(1)
		go p.worker(ctx, rx)
	}
	p.running = true

	log.Printf("[INFO] DSP: passthrough engine started, %d receivers, decimation %d", p.receivers, p.decimate)
	return nil
}

// Stop ends the workers after their current batch
func (p *Passthrough) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.shutdown)
	p.mu.Unlock()

	p.wg.Wait()

	// drain completions nobody will read
	for {
		select {
		case <-p.completions:
		default:
			log.Printf("[INFO] DSP: passthrough engine stopped")
			return
		}
	}
}

// Enqueue hands a full batch to the worker of rx. It blocks while the
// worker is still processing the previous batch of that receiver.
func (p *Passthrough) Enqueue(ctx context.Context, rx int, iq []complex128) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("DSP engine not running")
	}
	if rx < 0 || rx >= p.receivers {
		p.mu.Unlock()
		return fmt.Errorf("receiver %d out of range", rx)
	}
	input := p.inputs[rx]
	shutdown := p.shutdown
	p.mu.Unlock()

	select {
	case input <- batch{rx: rx, iq: iq}:
		return nil
	case <-shutdown:
		return fmt.Errorf("DSP engine stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completions delivers processed audio
func (p *Passthrough) Completions() <-chan Audio {
	return p.completions
}

// Dropped returns completions discarded because nobody was reading
func (p *Passthrough) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Passthrough) worker(ctx context.Context, rx int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case b := <-p.inputs[rx]:
			audio := p.process(b)
			if p.observer != nil {
				p.observer(rx)
			}

			select {
			case p.completions <- audio:
			default:
				p.mu.Lock()
				p.dropped++
				p.mu.Unlock()
				log.Printf("[WARN] DSP: completion channel full, dropping receiver %d batch", rx)
			}
		}
	}
}

func (p *Passthrough) process(b batch) Audio {
	n := (len(b.iq) + p.decimate - 1) / p.decimate
	audio := Audio{
		Receiver: b.rx,
		Left:     make([]float64, 0, n),
		Right:    make([]float64, 0, n),
	}
	for i := 0; i < len(b.iq); i += p.decimate {
		audio.Left = append(audio.Left, real(b.iq[i]))
		audio.Right = append(audio.Right, imag(b.iq[i]))
	}
	return audio
}

// MicPassthrough is a TxChain that transmits the mic signal on I
type MicPassthrough struct {
	Gain float64
}

// Process implements TxChain
func (m MicPassthrough) Process(mic []float64) []complex128 {
	gain := m.Gain
	if gain == 0 {
		gain = 1
	}
	iq := make([]complex128, len(mic))
	for i, s := range mic {
		iq[i] = complex(s*gain, 0)
	}
	return iq
}
