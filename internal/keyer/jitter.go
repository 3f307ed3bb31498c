package keyer

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// recordLateness stores how late an element deadline was met
func (k *Keyer) recordLateness(late time.Duration) {
	k.jmu.Lock()
	if len(k.lateness) < MAX_JITTER_SAMPLES {
		k.lateness = append(k.lateness, float64(late))
	} else {
		k.lateness[k.latePos] = float64(late)
		k.latePos = (k.latePos + 1) % MAX_JITTER_SAMPLES
	}
	fn := k.onLateness
	k.jmu.Unlock()

	if fn != nil {
		fn(late)
	}
}

// Jitter returns the mean and standard deviation of deadline lateness over
// the most recent MAX_JITTER_SAMPLES elements
func (k *Keyer) Jitter() (mean, stddev time.Duration, n int) {
	k.jmu.Lock()
	samples := make([]float64, len(k.lateness))
	copy(samples, k.lateness)
	k.jmu.Unlock()

	n = len(samples)
	switch n {
	case 0:
		return 0, 0, 0
	case 1:
		return time.Duration(samples[0]), 0, 1
	}

	m, s := stat.MeanStdDev(samples, nil)
	return time.Duration(m), time.Duration(s), n
}

// ResetJitter discards the recorded lateness samples
func (k *Keyer) ResetJitter() {
	k.jmu.Lock()
	k.lateness = k.lateness[:0]
	k.latePos = 0
	k.jmu.Unlock()
}
