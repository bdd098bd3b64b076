package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox relay.
type Metrics struct {
	Published        prometheus.Counter
	PublishFailures  prometheus.Counter
	CircuitOpenSkips prometheus.Counter
	CircuitState     prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "objectmap_outbox_published_total",
			Help: "Total number of outbox events published to Kafka",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "objectmap_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish batches",
		}),
		CircuitOpenSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "objectmap_outbox_circuit_open_skips_total",
			Help: "Total number of relay polls skipped while the circuit was open",
		}),
		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "objectmap_outbox_circuit_state",
			Help: "Relay circuit breaker state (0=closed, 1=open)",
		}),
	}
}
