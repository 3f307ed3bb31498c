package codec

import (
	"bytes"
	"testing"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

func TestEncodeHalfFrame(t *testing.T) {
	control := ControlBytes{0x13, 0x20, 0x00, 0x07, 0xF8}
	payload := make([]byte, protocol.PAYLOAD_LENGTH)
	for i := range payload {
		payload[i] = byte(i)
	}

	frame, err := EncodeHalfFrame(control, payload)
	if err != nil {
		t.Fatalf("EncodeHalfFrame() error = %v", err)
	}

	if !HasSync(frame[:]) {
		t.Error("frame does not start with SYNC")
	}
	if got := ControlOf(frame[:]); got != control {
		t.Errorf("ControlOf() = %x, want %x", got, control)
	}
	if !bytes.Equal(PayloadOf(frame[:]), payload) {
		t.Error("PayloadOf() does not match the input payload")
	}
}

func TestEncodeHalfFramePadding(t *testing.T) {
	frame, err := EncodeHalfFrame(ControlBytes{1, 2, 3, 4, 5}, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("EncodeHalfFrame() error = %v", err)
	}
	if frame[8] != 0xAA || frame[9] != 0xBB {
		t.Errorf("payload start = %x %x, want aa bb", frame[8], frame[9])
	}
	for i := 10; i < len(frame); i++ {
		if frame[i] != 0 {
			t.Fatalf("frame[%d] = %x, want 0", i, frame[i])
		}
	}

	if _, err := EncodeHalfFrame(ControlBytes{}, make([]byte, protocol.PAYLOAD_LENGTH+1)); err == nil {
		t.Error("oversized payload: error = nil, want error")
	}
}

// Control bytes written by the encoder come back unchanged through the
// decode side.
func TestControlBytesRoundTrip(t *testing.T) {
	tests := []ControlBytes{
		{0x00, 0x00, 0x00, 0x00, 0x00},
		{0x01, 0x03, 0x01, 0x1F, 0x0C},
		{0x04, 0x00, 0x6B, 0xF2, 0x30},
		{0x16, 0x00, 0x40, 0x94, 0xB2},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}

	d, err := NewDecoder(1, 1024, 48000, DEFAULT_MIC_GAIN)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	for _, control := range tests {
		frame, err := EncodeHalfFrame(control, nil)
		if err != nil {
			t.Fatalf("EncodeHalfFrame() error = %v", err)
		}
		res := d.Decode(frame[:])
		if res.Control != control {
			t.Errorf("decoded control = %x, want %x", res.Control, control)
		}
	}
}
