package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics holds the engine collectors. A nil *EngineMetrics records
// nothing.
type EngineMetrics struct {
	attachments   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	commissions   *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
	pointsLatency prometheus.Histogram
}

// NewEngineMetrics builds the collectors and registers them with reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonus",
			Subsystem: "attribution",
			Name:      "attach_total",
			Help:      "Attachment attempts segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonus",
			Subsystem: "counter",
			Name:      "transitions_total",
			Help:      "Threshold crossings of child counters segmented by tier and direction.",
		}, []string{"tier", "direction"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonus",
			Subsystem: "blocks",
			Name:      "changes_total",
			Help:      "Milestone blocks awarded or reversed, by tier.",
		}, []string{"tier", "change"}),
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonus",
			Subsystem: "commission",
			Name:      "changes_total",
			Help:      "Commission records created or refunded.",
		}, []string{"change"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonus",
			Subsystem: "payout",
			Name:      "dispatch_total",
			Help:      "Dispatch outcomes segmented by record kind and channel.",
		}, []string{"kind", "channel"}),
		pointsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bonus",
			Subsystem: "payout",
			Name:      "points_api_duration_seconds",
			Help:      "Latency of loyalty points API calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attachments, m.transitions, m.blocks, m.commissions, m.dispatches, m.pointsLatency)
	}
	return m
}

func (m *EngineMetrics) Attachment(method, outcome string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(method, outcome).Inc()
}

func (m *EngineMetrics) Transition(tier, direction string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(tier, direction).Inc()
}

func (m *EngineMetrics) Blocks(tier, change string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blocks.WithLabelValues(tier, change).Add(float64(n))
}

func (m *EngineMetrics) Commission(change string) {
	if m == nil {
		return
	}
	m.commissions.WithLabelValues(change).Inc()
}

func (m *EngineMetrics) Dispatch(kind, channel string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind, channel).Inc()
}

func (m *EngineMetrics) PointsCall(d time.Duration) {
	if m == nil {
		return
	}
	m.pointsLatency.Observe(d.Seconds())
}
