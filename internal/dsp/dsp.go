package dsp

import (
	"context"
	"fmt"
)

// Audio is one processed batch returned by the engine for a receiver.
// Samples are at the 48 kHz output rate, in [-1, 1].
type Audio struct {
	Receiver int
	Left     []float64
	Right    []float64
}

// Engine is the DSP collaborator consumed by the frame processor. Enqueue
// hands over one full IQ batch and blocks while that receiver is still busy
// with the previous one; Completions yields the processed audio.
type Engine interface {
	Start(ctx context.Context) error
	Enqueue(ctx context.Context, rx int, iq []complex128) error
	Completions() <-chan Audio
	Stop()
}

// TxChain turns decoded mic samples into transmit IQ
type TxChain interface {
	Process(mic []float64) []complex128
}

// Kind selects an engine implementation
type Kind string

const (
	KIND_NULL Kind = "null"
)

// New returns the engine named by kind
func New(kind Kind, receivers, sampleRate int, observer BatchObserver) (Engine, error) {
	switch kind {
	case KIND_NULL, "":
		return NewPassthrough(receivers, sampleRate, observer)
	default:
		return nil, fmt.Errorf("unknown DSP engine %q", kind)
	}
}
