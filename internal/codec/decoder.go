package codec

import (
	"fmt"
	"time"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

// SYNC_REPORT_INTERVAL is the minimum gap between two SyncLost reports
const SYNC_REPORT_INTERVAL = 10 * time.Millisecond

// DEFAULT_MIC_GAIN scales raw mic samples after normalisation
const DEFAULT_MIC_GAIN = 0.26

// Batch is one full accumulation buffer handed to the DSP engine
type Batch struct {
	Receiver int
	IQ       []complex128
}

// DecodeResult is what one inbound half-frame produced
type DecodeResult struct {
	Control ControlBytes

	// SyncLost is set when the frame was rejected. ReportSyncLost is set
	// only when enough time has passed since the previous report.
	SyncLost       bool
	ReportSyncLost bool

	StatusAddress int
	Status        Status

	Periods  int // sample periods decoded
	Consumed int // payload bytes consumed

	// Ready holds the receivers whose batch filled while decoding this
	// frame, in receiver order. Ownership of each IQ slice passes to the caller.
	Ready []Batch

	// Mic holds each full batch of scaled mic samples completed
	Mic [][]float64
}

// Decoder turns inbound half-frames into per-receiver IQ batches and a mic
// sample stream. It is owned by a single goroutine.
type Decoder struct {
	budget    Budget
	batchSize int
	micGain   float64

	// all receivers share one sample index since they are interleaved
	// in lock-step
	iq     [][]complex128
	offset int

	mic         []float64
	micOffset   int
	micDecimate int
	micPhase    int

	status         Status
	lastSyncReport time.Time
	syncLost       uint64
	frames         uint64

	now func() time.Time
}

// NewDecoder creates a decoder for receivers interleaved receivers at
// sampleRate, handing off batches of batchSize samples
func NewDecoder(receivers, batchSize, sampleRate int, micGain float64) (*Decoder, error) {
	budget, err := BudgetFor(receivers)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}
	if _, ok := protocol.SAMPLE_RATE_BITS[sampleRate]; !ok {
		return nil, fmt.Errorf("unsupported sample rate %d", sampleRate)
	}

	d := &Decoder{
		budget:      budget,
		batchSize:   batchSize,
		micGain:     micGain,
		iq:          make([][]complex128, receivers),
		mic:         make([]float64, batchSize),
		micDecimate: sampleRate / protocol.MIC_RATE,
		now:         time.Now,
	}
	for i := range d.iq {
		d.iq[i] = make([]complex128, batchSize)
	}

	return d, nil
}

// SetMicGain changes the mic scale factor applied to subsequent samples
func (d *Decoder) SetMicGain(gain float64) {
	d.micGain = gain
}

// Budget returns the byte budget in use
func (d *Decoder) Budget() Budget {
	return d.budget
}

// Status returns the latest telemetry
func (d *Decoder) Status() Status {
	return d.status
}

// Stats returns frames decoded and frames rejected for bad sync
func (d *Decoder) Stats() (frames, syncLost uint64) {
	return d.frames, d.syncLost
}

// Reset drops partially filled accumulators
func (d *Decoder) Reset() {
	d.offset = 0
	d.micOffset = 0
	d.micPhase = 0
	d.status = Status{}
}

// Decode parses one inbound half-frame
func (d *Decoder) Decode(frame []byte) DecodeResult {
	var res DecodeResult

	if len(frame) != protocol.HALF_FRAME_LENGTH || !HasSync(frame) {
		d.syncLost++
		res.SyncLost = true
		now := d.now()
		if now.Sub(d.lastSyncReport) > SYNC_REPORT_INTERVAL {
			d.lastSyncReport = now
			res.ReportSyncLost = true
		}
		return res
	}

	d.frames++
	res.Control = ControlOf(frame)
	res.StatusAddress = d.status.Apply(res.Control)
	res.Status = d.status

	payload := PayloadOf(frame)
	pos := 0
	receivers := d.budget.Receivers

	for p := 0; p < d.budget.Periods; p++ {
		for rx := 0; rx < receivers; rx++ {
			i := int24(payload[pos:])
			q := int24(payload[pos+protocol.IQ_SAMPLE_BYTES:])
			pos += 2 * protocol.IQ_SAMPLE_BYTES
			d.iq[rx][d.offset] = complex(float64(i)/protocol.IQ_FULL_SCALE, float64(q)/protocol.IQ_FULL_SCALE)
		}

		raw := int16(uint16(payload[pos])<<8 | uint16(payload[pos+1]))
		pos += protocol.MIC_SAMPLE_BYTES
		if d.micPhase == 0 {
			d.mic[d.micOffset] = float64(raw) / protocol.MIC_FULL_SCALE * d.micGain
			d.micOffset++
			if d.micOffset == d.batchSize {
				res.Mic = append(res.Mic, d.mic)
				d.mic = make([]float64, d.batchSize)
				d.micOffset = 0
			}
		}
		d.micPhase++
		if d.micPhase >= d.micDecimate {
			d.micPhase = 0
		}

		d.offset++
		if d.offset == d.batchSize {
			for rx := 0; rx < receivers; rx++ {
				res.Ready = append(res.Ready, Batch{Receiver: rx, IQ: d.iq[rx]})
				d.iq[rx] = make([]complex128, d.batchSize)
			}
			d.offset = 0
		}
	}

	res.Periods = d.budget.Periods
	res.Consumed = pos
	return res
}

// int24 reads a 24-bit big-endian two's complement value
func int24(b []byte) int32 {
	return int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 8
}
