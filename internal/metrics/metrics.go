package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "cudasdr"

// Metrics holds the collectors for the radio pipeline. Every method is safe
// on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Transport
	framesIn        prometheus.Counter
	framesOut       prometheus.Counter
	syncLost        prometheus.Counter
	sequenceGaps    prometheus.Counter
	queueOverflows  prometheus.Counter
	transportErrors *prometheus.CounterVec // by kind: read, write
	queueDepth      prometheus.Gauge

	// DSP
	dspBatches *prometheus.CounterVec // by receiver

	// Keyer
	keyerEvents   *prometheus.CounterVec // by event type
	keyerLateness prometheus.Histogram

	// Engine
	engineState  prometheus.Gauge
	startFailure *prometheus.CounterVec // by reason class

	// Radio telemetry
	adcOverload   prometheus.Gauge
	supplyVoltage prometheus.Gauge
	forwardPower  prometheus.Gauge
	reversePower  prometheus.Gauge
}

// New registers all collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		framesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "frames_in_total",
			Help:      "Inbound half-frames decoded",
		}),
		framesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "frames_out_total",
			Help:      "Outbound half-frames encoded",
		}),
		syncLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "sync_lost_total",
			Help:      "Inbound half-frames rejected for a bad sync marker",
		}),
		sequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "sequence_gaps_total",
			Help:      "Inbound datagram sequence discontinuities",
		}),
		queueOverflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "queue_overflows_total",
			Help:      "Inbound frames dropped because the frame queue was full",
		}),
		transportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "transport_errors_total",
			Help:      "Socket errors by direction",
		}, []string{"kind"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "frame_queue_depth",
			Help:      "Half-frames waiting for the frame processor",
		}),

		dspBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "dsp_batches_total",
			Help:      "IQ batches handed to the DSP engine",
		}, []string{"receiver"}),

		keyerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "keyer_events_total",
			Help:      "Key and MOX transitions produced by the keyer",
		}, []string{"event"}),
		keyerLateness: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "keyer_deadline_lateness_seconds",
			Help:      "How late the keyer woke after each element deadline",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}),

		engineState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "engine_state",
			Help:      "Engine state (0=down, 1=starting, 2=up)",
		}),
		startFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "start_failures_total",
			Help:      "Aborted start sequences by reason",
		}, []string{"reason"}),

		adcOverload: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "adc_overload",
			Help:      "ADC overload flag from the last status frame",
		}),
		supplyVoltage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "supply_voltage_raw",
			Help:      "Raw supply voltage reading (AIN6)",
		}),
		forwardPower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "forward_power_raw",
			Help:      "Raw forward power reading",
		}),
		reversePower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "reverse_power_raw",
			Help:      "Raw reverse power reading",
		}),
	}

	return m
}

// Registry returns the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordFrameIn() {
	if m == nil {
		return
	}
	m.framesIn.Inc()
}

func (m *Metrics) RecordFrameOut() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}

func (m *Metrics) RecordSyncLost() {
	if m == nil {
		return
	}
	m.syncLost.Inc()
}

func (m *Metrics) RecordSequenceGap() {
	if m == nil {
		return
	}
	m.sequenceGaps.Inc()
}

func (m *Metrics) RecordQueueOverflow() {
	if m == nil {
		return
	}
	m.queueOverflows.Inc()
}

// RecordTransportError counts a socket error; kind is "read" or "write"
func (m *Metrics) RecordTransportError(kind string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordDSPBatch(rx int) {
	if m == nil {
		return
	}
	m.dspBatches.WithLabelValues(strconv.Itoa(rx)).Inc()
}

func (m *Metrics) RecordKeyerEvent(event string) {
	if m == nil {
		return
	}
	m.keyerEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveKeyerLateness(d time.Duration) {
	if m == nil {
		return
	}
	m.keyerLateness.Observe(d.Seconds())
}

func (m *Metrics) SetEngineState(state int) {
	if m == nil {
		return
	}
	m.engineState.Set(float64(state))
}

func (m *Metrics) RecordStartFailure(reason string) {
	if m == nil {
		return
	}
	m.startFailure.WithLabelValues(reason).Inc()
}

// SetRadioStatus updates the telemetry gauges
func (m *Metrics) SetRadioStatus(overload bool, supply, forward, reverse uint16) {
	if m == nil {
		return
	}
	if overload {
		m.adcOverload.Set(1)
	} else {
		m.adcOverload.Set(0)
	}
	m.supplyVoltage.Set(float64(supply))
	m.forwardPower.Set(float64(forward))
	m.reversePower.Set(float64(reverse))
}

// Handler returns the HTTP exposition handler for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("[INFO] Metrics: listening on %s", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
