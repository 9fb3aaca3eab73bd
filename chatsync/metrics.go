package chatsync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics raccoglie i contatori dei tick di polling.
// Un *Metrics nil è valido e non registra nulla.
type Metrics struct {
	Ticks        prometheus.Counter
	FailedTicks  *prometheus.CounterVec
	SkippedTicks prometheus.Counter
	Merged       prometheus.Counter
	PollLatency  prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_ticks_total",
			Help: "Poll ticks executed",
		}),
		FailedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_failed_ticks_total",
			Help: "Poll ticks that failed, by reason",
		}, []string{"reason"}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_skipped_ticks_total",
			Help: "Poll ticks dropped because the previous one was still in flight",
		}),
		Merged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_merged_messages_total",
			Help: "Messages appended to conversation stores",
		}),
		PollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatsync_poll_duration_seconds",
			Help:    "Duration of poll requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registra tutte le metriche sul registry indicato
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Ticks, m.FailedTicks, m.SkippedTicks, m.Merged, m.PollLatency} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) tick(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.PollLatency.Observe(d.Seconds())
}

func (m *Metrics) failed(reason string) {
	if m == nil {
		return
	}
	m.FailedTicks.WithLabelValues(reason).Inc()
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.SkippedTicks.Inc()
}

func (m *Metrics) merged(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Merged.Add(float64(n))
}
