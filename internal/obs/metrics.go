package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivePipes         = promauto.NewGauge(prometheus.GaugeOpts{Name: "knockmux_active_pipes", Help: "Currently connected client/backend pairs"})
	RoutesTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "knockmux_routes_total", Help: "Routing decisions by backend"}, []string{"backend"})
	DialErrorsTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "knockmux_dial_errors_total", Help: "Backend connections that could not be established"})
	AcceptRejectsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "knockmux_accept_rejects_total", Help: "Connections closed at accept by reason"}, []string{"reason"})
	ErrorsTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "knockmux_errors_total", Help: "Errors by type"}, []string{"type"})
	BytesForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "knockmux_bytes_forwarded_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	PipeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "knockmux_pipe_duration_seconds", Help: "Pipe lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
