package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry *prometheus.Registry

	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
}

func newMetrics(sta *State) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Sessions accepted since start.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of ended sessions in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.sessionsTotal,
		m.sessionDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "Live sessions.",
		}, func() float64 { return float64(sta.NumSessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "streams_active",
			Help:      "Live streams across all sessions.",
		}, func() float64 {
			var n int
			for _, ls := range sta.snapshotSessions() {
				n += ls.NumStreams()
			}
			return float64(n)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "received_bytes_total",
			Help:      "Bytes received from clients, framing included.",
		}, func() float64 {
			rx, _ := sta.TotalBytes()
			return float64(rx)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tangle",
			Subsystem: "server",
			Name:      "sent_bytes_total",
			Help:      "Bytes sent to clients, framing included.",
		}, func() float64 {
			_, tx := sta.TotalBytes()
			return float64(tx)
		}),
	)
	return m
}
