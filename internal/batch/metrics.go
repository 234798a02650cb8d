package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every writer. Streams are
// told apart by the "stream" label. A nil *Metrics records nothing.
type Metrics struct {
	flushes  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	buffered *prometheus.GaugeVec
}

// NewMetrics creates the writer collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Batch writes by stream and outcome.",
		}, []string{"stream", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "batch",
			Name:      "events_dropped_total",
			Help:      "Records dropped after a batch exhausted its write attempts.",
		}, []string{"stream"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Subsystem: "batch",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing a batch, retries included.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stream"}),
		buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ingest",
			Subsystem: "batch",
			Name:      "buffered_events",
			Help:      "Records waiting in the writer buffer.",
		}, []string{"stream"}),
	}

	var err error
	if m.flushes, err = register(reg, m.flushes); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.buffered, err = register(reg, m.buffered); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

func (m *Metrics) observeFlush(stream string, took time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.flushes.WithLabelValues(stream, outcome).Inc()
	m.duration.WithLabelValues(stream).Observe(took.Seconds())
}

func (m *Metrics) addDropped(stream string, n int) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) setBuffered(stream string, n int) {
	if m == nil {
		return
	}
	m.buffered.WithLabelValues(stream).Set(float64(n))
}
