package overset

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/notargets/OversetGrid/buffer"
)

// Metrics tracks buffer pins, engine calls and failures for a process
type Metrics struct {
	HandlesAcquired   prometheus.Counter
	HandlesReleased   prometheus.Counter
	HandlesPinned     prometheus.Gauge
	CollectiveCalls   *prometheus.CounterVec
	CollectiveSeconds *prometheus.HistogramVec
	Failures          *prometheus.CounterVec
}

// NewMetrics creates the metric set and registers it on reg when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HandlesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overset",
			Name:      "handles_acquired_total",
			Help:      "Buffer handles pinned over caller arrays.",
		}),
		HandlesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overset",
			Name:      "handles_released_total",
			Help:      "Buffer handles released.",
		}),
		HandlesPinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overset",
			Name:      "handles_pinned",
			Help:      "Buffer handles currently pinned.",
		}),
		CollectiveCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overset",
			Name:      "collective_calls_total",
			Help:      "Engine calls issued, by operation.",
		}, []string{"op"}),
		CollectiveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "overset",
			Name:      "collective_seconds",
			Help:      "Wall time spent in engine calls, by operation.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"op"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overset",
			Name:      "failures_total",
			Help:      "Fatal failures, by error kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.HandlesAcquired, m.HandlesReleased, m.HandlesPinned,
			m.CollectiveCalls, m.CollectiveSeconds, m.Failures)
	}
	return m
}

func (m *Metrics) acquired() {
	m.HandlesAcquired.Inc()
	m.HandlesPinned.Inc()
}

func (m *Metrics) released() {
	m.HandlesReleased.Inc()
	m.HandlesPinned.Dec()
}

// release releases h and counts it once h reports released. A provider
// failure still leaves the handle released, so the gauge follows the handle
// rather than the provider.
func (m *Metrics) release(h *buffer.Handle) error {
	was := h.Released()
	err := h.Release()
	if !was && h.Released() {
		m.released()
	}
	return err
}
