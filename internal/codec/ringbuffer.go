package codec

import (
	"fmt"
	"log"
)

// RingBuffer is the rolling TX-IQ byte buffer sitting between the TX chain
// and output frame assembly. It is not safe for concurrent use; the frame
// processor goroutine owns it.
type RingBuffer struct {
	name   string
	buffer []uint8
	length uint32
	iPtr   uint32 // Input pointer (where new data is written)
	oPtr   uint32 // Output pointer (where data is read from)

	overflows  uint64
	underflows uint64
}

// NewRingBuffer creates a ring buffer holding up to length-1 bytes
func NewRingBuffer(length uint32, name string) *RingBuffer {
	if length == 0 {
		panic("RingBuffer length must be > 0")
	}

	return &RingBuffer{
		name:   name,
		buffer: make([]uint8, length),
		length: length,
	}
}

// AddData appends data. On overflow the buffer is cleared and false is
// returned; stale TX audio is worth less than fresh audio.
func (rb *RingBuffer) AddData(data []uint8) bool {
	nSamples := uint32(len(data))

	if nSamples >= rb.FreeSpace() {
		rb.overflows++
		log.Printf("[WARN] %s buffer overflow, clearing the buffer. (%d >= %d)",
			rb.name, nSamples, rb.FreeSpace())
		rb.Clear()
		return false
	}

	for i := uint32(0); i < nSamples; i++ {
		rb.buffer[rb.iPtr] = data[i]
		rb.iPtr++

		if rb.iPtr == rb.length {
			rb.iPtr = 0
		}
	}

	return true
}

// Read fills dst from the buffer. When fewer than len(dst) bytes are
// available dst is zero-filled, nothing is consumed and false is returned.
func (rb *RingBuffer) Read(dst []uint8) bool {
	n := uint32(len(dst))
	if rb.DataSize() < n {
		rb.underflows++
		for i := range dst {
			dst[i] = 0
		}
		return false
	}

	for i := uint32(0); i < n; i++ {
		dst[i] = rb.buffer[rb.oPtr]
		rb.oPtr++

		if rb.oPtr == rb.length {
			rb.oPtr = 0
		}
	}

	return true
}

// Peek copies up to len(dst) bytes without consuming them
func (rb *RingBuffer) Peek(dst []uint8) bool {
	n := uint32(len(dst))
	if rb.DataSize() < n {
		return false
	}

	ptr := rb.oPtr
	for i := uint32(0); i < n; i++ {
		dst[i] = rb.buffer[ptr]
		ptr++

		if ptr == rb.length {
			ptr = 0
		}
	}

	return true
}

// Clear drops all buffered data
func (rb *RingBuffer) Clear() {
	rb.iPtr = 0
	rb.oPtr = 0
}

// FreeSpace returns the amount of free space in the buffer
func (rb *RingBuffer) FreeSpace() uint32 {
	length := rb.length

	if rb.oPtr > rb.iPtr {
		length = rb.oPtr - rb.iPtr
	} else if rb.iPtr > rb.oPtr {
		length = rb.length - (rb.iPtr - rb.oPtr)
	}

	if length > rb.length {
		length = 0
	}

	return length
}

// DataSize returns the amount of data currently in the buffer
func (rb *RingBuffer) DataSize() uint32 {
	return rb.length - rb.FreeSpace()
}

// IsEmpty checks if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.oPtr == rb.iPtr
}

// Stats returns overflow and underflow counts
func (rb *RingBuffer) Stats() (overflows, underflows uint64) {
	return rb.overflows, rb.underflows
}

func (rb *RingBuffer) String() string {
	return fmt.Sprintf("RingBuffer[%s]: size=%d, capacity=%d", rb.name, rb.DataSize(), rb.length-1)
}
