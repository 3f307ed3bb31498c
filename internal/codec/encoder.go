package codec

import (
	"bytes"
	"fmt"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// HalfFrame is one 512-byte unit of the wire protocol
type HalfFrame [protocol.HALF_FRAME_LENGTH]byte

// ControlBytes is the 5-byte C&C register C0..C4
type ControlBytes [protocol.CONTROL_LENGTH]byte

// EncodeHalfFrame builds an outbound half-frame: SYNC, the control bytes and
// the already interleaved payload. A short payload is zero padded.
func EncodeHalfFrame(control ControlBytes, payload []byte) (HalfFrame, error) {
	var frame HalfFrame

	if len(payload) > protocol.PAYLOAD_LENGTH {
		return frame, fmt.Errorf("payload too long: %d bytes, max %d", len(payload), protocol.PAYLOAD_LENGTH)
	}

	copy(frame[0:protocol.SYNC_LENGTH], protocol.SYNC_BYTES[:])
	copy(frame[protocol.SYNC_LENGTH:protocol.HEADER_LENGTH], control[:])
	copy(frame[protocol.HEADER_LENGTH:], payload)

	return frame, nil
}

// HasSync reports whether frame starts with the SYNC sentinel
func HasSync(frame []byte) bool {
	if len(frame) < protocol.SYNC_LENGTH {
		return false
	}
	return bytes.Equal(frame[:protocol.SYNC_LENGTH], protocol.SYNC_BYTES[:])
}

// ControlOf returns the C&C bytes of a half-frame
func ControlOf(frame []byte) ControlBytes {
	var c ControlBytes
	if len(frame) >= protocol.HEADER_LENGTH {
		copy(c[:], frame[protocol.SYNC_LENGTH:protocol.HEADER_LENGTH])
	}
	return c
}

// PayloadOf returns the payload slice of a half-frame
func PayloadOf(frame []byte) []byte {
	if len(frame) < protocol.HEADER_LENGTH {
		return nil
	}
	return frame[protocol.HEADER_LENGTH:]
}
