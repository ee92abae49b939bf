package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts transfer activity for one service instance. Instances get
// their own collectors distinguished by the instance const label, so several
// of them can share the default registry.
type Metrics struct {
	TransfersStarted   *prometheus.CounterVec
	TransfersCompleted *prometheus.CounterVec
	TransferErrors     *prometheus.CounterVec
	BytesMoved         *prometheus.CounterVec
	ActiveConnections  prometheus.Gauge
}

// NewMetrics registers the transfer collectors on reg.
func NewMetrics(reg prometheus.Registerer, instance string) *Metrics {
	labels := prometheus.Labels{"instance": instance}
	factory := promauto.With(reg)
	return &Metrics{
		TransfersStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "speedster_transfers_started_total",
			Help:        "Transfers started, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		TransfersCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "speedster_transfers_completed_total",
			Help:        "Transfers completed normally, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		TransferErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "speedster_transfer_errors_total",
			Help:        "Transfers ended by a transport error, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		BytesMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "speedster_transfer_bytes_total",
			Help:        "Payload bytes moved, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "speedster_active_connections",
			Help:        "Currently registered transfer connections.",
			ConstLabels: labels,
		}),
	}
}
