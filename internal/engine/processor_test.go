package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/dsp"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

const fullScale = 8388607

type paddleRecorder struct {
	mu     sync.Mutex
	events [][2]bool
}

func (r *paddleRecorder) SetPaddles(dot, dash bool) {
	r.mu.Lock()
	r.events = append(r.events, [2]bool{dot, dash})
	r.mu.Unlock()
}

func (r *paddleRecorder) get() [][2]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]bool(nil), r.events...)
}

// newTestProcessor wires one receiver at 48 kHz with a batch of 63 samples,
// so every inbound half-frame yields exactly one outbound half-frame
func newTestProcessor(t *testing.T, paddles *paddleRecorder) (*Processor, *fakeIO, *radio.Params) {
	t.Helper()

	params, err := radio.NewParams(1, 48000)
	if err != nil {
		t.Fatalf("NewParams() error: %v", err)
	}
	io := newFakeIO(t, 1, protocol.OUTPUT_SAMPLES_PER_HALF)

	engine, err := dsp.NewPassthrough(1, 48000, nil)
	if err != nil {
		t.Fatalf("NewPassthrough() error: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("DSP Start() error: %v", err)
	}
	t.Cleanup(engine.Stop)

	opts := ProcessorOptions{IO: io, DSP: engine, Params: params}
	if paddles != nil {
		opts.Paddles = paddles
	}
	p, err := NewProcessor(opts)
	if err != nil {
		t.Fatalf("NewProcessor() error: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { p.Stop(time.Second) })

	return p, io, params
}

func TestNewProcessorValidation(t *testing.T) {
	params, _ := radio.NewParams(2, 48000)
	io := newFakeIO(t, 2, 64)
	engine, _ := dsp.NewPassthrough(2, 48000, nil)

	tests := []struct {
		name string
		opts ProcessorOptions
	}{
		{name: "no transport", opts: ProcessorOptions{DSP: engine, Params: params}},
		{name: "no dsp", opts: ProcessorOptions{IO: io, Params: params}},
		{name: "no params", opts: ProcessorOptions{IO: io, DSP: engine}},
		{name: "audio receiver out of range", opts: ProcessorOptions{IO: io, DSP: engine, Params: params, AudioReceiver: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProcessor(tt.opts); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestProcessorAssemblesOutputFrames(t *testing.T) {
	p, io, _ := newTestProcessor(t, nil)

	io.queue.Push(inboundFrame(0, fullScale, -fullScale, 32767))
	io.queue.Push(inboundFrame(0, fullScale, -fullScale, 32767))

	waitUntil(t, "two output frames", func() bool { return len(io.sentFrames()) == 2 })

	frames := io.sentFrames()
	if !codec.HasSync(frames[0][:]) {
		t.Fatal("output frame has no sync")
	}
	if c := codec.ControlOf(frames[0][:]); c[0] != protocol.C0_CONFIG {
		t.Errorf("first output C0 = %#x, want config", c[0])
	}
	if c := codec.ControlOf(frames[1][:]); c[0] != protocol.C0_TX_FREQ {
		t.Errorf("second output C0 = %#x, want TX frequency", c[0])
	}

	// mic 32767 -> 1.0 * 0.26 -> I = round(0.26 * 32767)
	wantI := uint16(8519)
	for n, frame := range frames {
		payload := codec.PayloadOf(frame[:])
		for s := 0; s < protocol.OUTPUT_SAMPLES_PER_HALF; s++ {
			b := payload[s*8:]
			left := int16(binary.BigEndian.Uint16(b[0:]))
			right := int16(binary.BigEndian.Uint16(b[2:]))
			i := binary.BigEndian.Uint16(b[4:])
			q := binary.BigEndian.Uint16(b[6:])
			if left != 32767 || right != -32767 {
				t.Fatalf("frame %d sample %d audio = (%d, %d), want (32767, -32767)", n, s, left, right)
			}
			if i != wantI || q != 0 {
				t.Fatalf("frame %d sample %d TX IQ = (%d, %d), want (%d, 0)", n, s, i, q, wantI)
			}
		}
	}

	waitUntil(t, "stats", func() bool {
		st := p.Stats()
		return st.FramesIn == 2 && st.Batches == 2 && st.FramesOut == 2
	})
	if got := p.Stats().AudioSamples; got != 2*protocol.OUTPUT_SAMPLES_PER_HALF {
		t.Errorf("AudioSamples = %d, want %d", got, 2*protocol.OUTPUT_SAMPLES_PER_HALF)
	}
}

func TestProcessorSilentInputSendsSilence(t *testing.T) {
	_, io, _ := newTestProcessor(t, nil)

	io.queue.Push(inboundFrame(0, 0, 0, 0))
	waitUntil(t, "output frame", func() bool { return len(io.sentFrames()) == 1 })

	payload := codec.PayloadOf(io.sentFrames()[0][:])
	for i, b := range payload {
		if b != 0 {
			t.Fatalf("payload byte %d = %#x, want silence", i, b)
		}
	}
}

func TestProcessorDropsSyncLost(t *testing.T) {
	p, io, _ := newTestProcessor(t, nil)

	io.queue.Push(make([]byte, protocol.HALF_FRAME_LENGTH))
	io.queue.Push(inboundFrame(0, 0, 0, 0))

	waitUntil(t, "frames processed", func() bool {
		st := p.Stats()
		return st.SyncLost == 1 && st.FramesIn == 1
	})
	if got := p.Stats().Batches; got != 1 {
		t.Errorf("Batches = %d, want 1", got)
	}
}

func TestProcessorForwardsPaddlesAndPTT(t *testing.T) {
	paddles := &paddleRecorder{}
	p, io, params := newTestProcessor(t, paddles)

	io.queue.Push(inboundFrame(protocol.STATUS_PTT_BIT|protocol.STATUS_DOT_BIT, 0, 0, 0))
	io.queue.Push(inboundFrame(protocol.STATUS_PTT_BIT|protocol.STATUS_DOT_BIT, 0, 0, 0))
	io.queue.Push(inboundFrame(protocol.STATUS_DASH_BIT, 0, 0, 0))

	waitUntil(t, "frames", func() bool { return p.Stats().FramesIn == 3 })

	got := paddles.get()
	want := [][2]bool{{true, false}, {false, true}}
	if len(got) != len(want) {
		t.Fatalf("paddle events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paddle event %d = %v, want %v", i, got[i], want[i])
		}
	}

	if params.Snapshot().PTT {
		t.Error("PTT should follow the last frame and be released")
	}
}

func TestProcessorPTTSetsParams(t *testing.T) {
	p, io, params := newTestProcessor(t, nil)

	io.queue.Push(inboundFrame(protocol.STATUS_PTT_BIT, 0, 0, 0))
	waitUntil(t, "frame", func() bool { return p.Stats().FramesIn == 1 })

	if !params.Snapshot().PTT {
		t.Error("PTT from the radio was not applied to the parameter block")
	}
}

func TestProcessorWriteErrorsAreNonFatal(t *testing.T) {
	p, io, _ := newTestProcessor(t, nil)
	io.mu.Lock()
	io.sendErr = errors.New("network unreachable")
	io.mu.Unlock()

	io.queue.Push(inboundFrame(0, 0, 0, 0))
	io.queue.Push(inboundFrame(0, 0, 0, 0))

	waitUntil(t, "write errors", func() bool { return p.Stats().WriteErrors == 2 })

	st := p.Stats()
	if st.FramesIn != 2 || st.FramesOut != 0 {
		t.Errorf("Stats() = %+v, want 2 in and 0 out", st)
	}

	io.mu.Lock()
	io.sendErr = nil
	io.mu.Unlock()
	io.queue.Push(inboundFrame(0, 0, 0, 0))
	waitUntil(t, "recovery", func() bool { return p.Stats().FramesOut == 1 })
}

func TestProcessorStop(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil)

	start := time.Now()
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop() took %v", elapsed)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestScale16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},
		{-2, -32767},
		{0.5, 16384},
	}

	for _, tt := range tests {
		if got := scale16(tt.in); got != tt.want {
			t.Errorf("scale16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
