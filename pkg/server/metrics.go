package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a custom prometheus.Collector over the serializer's counters,
// grounded on drpcorg-chotki's PebbleCollector: descriptors declared up
// front, values read from atomics on each scrape rather than pushed
// incrementally into prometheus's own counter types.
type Metrics struct {
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	broadcast atomic.Uint64
	sessions  atomic.Int64

	acceptedDesc  *prometheus.Desc
	rejectedDesc  *prometheus.Desc
	broadcastDesc *prometheus.Desc
	sessionsDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*Metrics)(nil)

// NewMetrics returns a ready-to-register Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		acceptedDesc: prometheus.NewDesc(
			"cloudmodel_proposals_accepted_total",
			"Total number of proposals the serializer accepted.",
			nil, nil,
		),
		rejectedDesc: prometheus.NewDesc(
			"cloudmodel_proposals_rejected_total",
			"Total number of proposals the serializer rejected as stale.",
			nil, nil,
		),
		broadcastDesc: prometheus.NewDesc(
			"cloudmodel_events_broadcast_total",
			"Total number of accepted events fanned out to other sessions.",
			nil, nil,
		),
		sessionsDesc: prometheus.NewDesc(
			"cloudmodel_sessions_connected",
			"Number of sessions currently connected to the serializer.",
			nil, nil,
		),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.acceptedDesc
	ch <- m.rejectedDesc
	ch <- m.broadcastDesc
	ch <- m.sessionsDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(m.acceptedDesc, prometheus.CounterValue, float64(m.accepted.Load()))
	ch <- prometheus.MustNewConstMetric(m.rejectedDesc, prometheus.CounterValue, float64(m.rejected.Load()))
	ch <- prometheus.MustNewConstMetric(m.broadcastDesc, prometheus.CounterValue, float64(m.broadcast.Load()))
	ch <- prometheus.MustNewConstMetric(m.sessionsDesc, prometheus.GaugeValue, float64(m.sessions.Load()))
}
