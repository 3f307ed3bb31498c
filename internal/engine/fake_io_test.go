package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zl2brg/cudasdr/internal/codec"
	"github.com/zl2brg/cudasdr/internal/control"
	"github.com/zl2brg/cudasdr/internal/network"
	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

// fakeIO is an in-memory transport using the real decoder and round robin
type fakeIO struct {
	queue   *network.FrameQueue
	decoder *codec.Decoder
	rr      *control.RoundRobin
	events  chan network.Event

	mu      sync.Mutex
	calls   []string
	sent    []codec.HalfFrame
	writes  int
	sendErr error
	initErr error
}

func newFakeIO(t *testing.T, receivers, batch int) *fakeIO {
	t.Helper()
	d, err := codec.NewDecoder(receivers, batch, 48000, codec.DEFAULT_MIC_GAIN)
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}
	return &fakeIO{
		queue:   network.NewFrameQueue(64),
		decoder: d,
		rr:      control.NewRoundRobin(receivers),
		events:  make(chan network.Event, 4),
	}
}

func (f *fakeIO) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeIO) InitIO(context.Context) error {
	f.record("init")
	return f.initErr
}

func (f *fakeIO) Stop() error {
	f.record("stop")
	f.queue.Close()
	f.queue.Drain()
	return nil
}

func (f *fakeIO) DecodeInputFrame(frame []byte) codec.DecodeResult {
	return f.decoder.Decode(frame)
}

func (f *fakeIO) EncodeControlBytes(s *radio.Snapshot) codec.ControlBytes {
	return f.rr.Next(s)
}

func (f *fakeIO) SendAudio(frame codec.HalfFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeIO) WriteData() error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return nil
}

func (f *fakeIO) SendInitFrames(rx int) error {
	f.record(fmt.Sprintf("initframes %d", rx))
	return nil
}

func (f *fakeIO) SendCommand(cmd protocol.HardwareCommand) error {
	f.record("command " + cmd.String())
	return nil
}

func (f *fakeIO) Inbound() *network.FrameQueue { return f.queue }
func (f *fakeIO) Events() <-chan network.Event { return f.events }
func (f *fakeIO) Stats() network.IOStats { return network.IOStats{} }

func (f *fakeIO) sentFrames() []codec.HalfFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]codec.HalfFrame(nil), f.sent...)
}

func (f *fakeIO) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// inboundFrame builds a half-frame for one receiver where every period
// carries the same I, Q and mic values
func inboundFrame(c0 byte, i, q int32, mic int16) []byte {
	payload := make([]byte, protocol.PAYLOAD_LENGTH)
	pos := 0
	for p := 0; p < protocol.OUTPUT_SAMPLES_PER_HALF; p++ {
		put24(payload[pos:], i)
		put24(payload[pos+3:], q)
		binary.BigEndian.PutUint16(payload[pos+6:], uint16(mic))
		pos += 8
	}
	frame, _ := codec.EncodeHalfFrame(codec.ControlBytes{c0}, payload)
	return frame[:]
}

func put24(b []byte, v int32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
