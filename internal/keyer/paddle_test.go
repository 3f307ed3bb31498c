package keyer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

type recordingSink struct {
	mu    sync.Mutex
	calls [][2]bool
}

func (r *recordingSink) SetPaddles(dot, dash bool) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]bool{dot, dash})
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() [][2]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]bool(nil), r.calls...)
}

func TestControlBitsForwardsChangesOnly(t *testing.T) {
	sink := &recordingSink{}
	c := NewControlBits(sink)

	inputs := []byte{
		0x00,
		0x00,
		protocol.STATUS_DOT_BIT,
		protocol.STATUS_DOT_BIT | protocol.STATUS_PTT_BIT, // PTT is not a paddle
		protocol.STATUS_DOT_BIT | protocol.STATUS_DASH_BIT | 0x08,
		0x00,
	}
	for _, c0 := range inputs {
		c.Update(c0)
	}

	want := [][2]bool{{false, false}, {true, false}, {true, true}, {false, false}}
	got := sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, got[i], want[i])
		}
	}
}

type fakeModemPort struct {
	mu     sync.Mutex
	bits   []serial.ModemStatusBits
	pos    int
	failAt int
	closed bool
}

func (f *fakeModemPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && f.pos >= f.failAt {
		return nil, errors.New("device removed")
	}
	b := f.bits[min(f.pos, len(f.bits)-1)]
	f.pos++
	return &b, nil
}

func (f *fakeModemPort) Close() error {
	f.closed = true
	return nil
}

func TestSerialPaddleMapsModemLines(t *testing.T) {
	port := &fakeModemPort{
		bits: []serial.ModemStatusBits{
			{},
			{CTS: true},
			{CTS: true},
			{CTS: true, DSR: true},
			{DSR: true},
		},
		failAt: 8,
	}
	sink := &recordingSink{}
	p := newSerialPaddle("test", port, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Run(ctx)
	if err == nil {
		t.Fatal("Run() error = nil, want port failure")
	}

	want := [][2]bool{{false, false}, {true, false}, {true, true}, {false, true}}
	got := sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, got[i], want[i])
		}
	}

	if err := p.Close(); err != nil || !port.closed {
		t.Errorf("Close() = %v, closed = %v", err, port.closed)
	}
}

func TestHangTimer(t *testing.T) {
	h := NewHangTimer(5 * time.Millisecond)
	if h.IsRunning() {
		t.Fatal("new timer should be stopped")
	}

	h.Start()
	for i := 0; i < 4; i++ {
		h.Clock(1)
		if h.HasExpired() {
			t.Fatalf("expired after %d ticks", i+1)
		}
	}
	if h.Remaining() != time.Millisecond {
		t.Errorf("Remaining() = %v, want 1ms", h.Remaining())
	}
	h.Clock(1)
	if !h.HasExpired() || h.IsRunning() {
		t.Error("timer should have expired and stopped after 5 ticks")
	}

	h.SetTimeout(0)
	h.Start()
	if h.IsRunning() || !h.HasExpired() {
		t.Error("zero timeout should expire immediately")
	}
}
