package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process level Prometheus metrics.
type Metrics struct {
	BuildInfo *prometheus.GaugeVec
	StartTime prometheus.Gauge
}

// New creates and registers process metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "objectmap_build_info",
			Help: "Constant 1, labelled with the running version and environment",
		}, []string{"version", "environment"}),
		StartTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectmap_start_time_seconds",
			Help: "Unix time the process started",
		}),
	}
}

// RecordStartup publishes build labels and the start time.
func (m *Metrics) RecordStartup(version, environment string, now time.Time) {
	m.BuildInfo.WithLabelValues(version, environment).Set(1)
	m.StartTime.Set(float64(now.Unix()))
}
