package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry module.
type Metrics struct {
	EntriesAdded      prometheus.Counter
	Rejections        *prometheus.CounterVec
	LookupsTotal      *prometheus.CounterVec
	Freezes           prometheus.Counter
	Entries           prometheus.Gauge
	Phase             *prometheus.GaugeVec
	OperationDuration *prometheus.HistogramVec
}

// New creates registry metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates registry metrics on reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntriesAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "objectmap_entries_added_total",
			Help: "Total number of entries bound to an object id",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "objectmap_rejections_total",
			Help: "Rejected registry operations by operation and error kind",
		}, []string{"operation", "kind"}),
		LookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "objectmap_lookups_total",
			Help: "Successful lookups by source (cache or store)",
		}, []string{"source"}),
		Freezes: f.NewCounter(prometheus.CounterOpts{
			Name: "objectmap_freezes_total",
			Help: "Total number of successful freezes (at most one per registry)",
		}),
		Entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "objectmap_entries",
			Help: "Number of entries currently stored",
		}),
		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "objectmap_phase",
			Help: "1 for the current lifecycle phase, 0 otherwise",
		}, []string{"phase"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectmap_operation_duration_seconds",
			Help:    "Duration of registry operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementEntriesAdded() {
	m.EntriesAdded.Inc()
}

func (m *Metrics) IncrementRejection(operation, kind string) {
	m.Rejections.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) IncrementLookup(source string) {
	m.LookupsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementFreezes() {
	m.Freezes.Inc()
}

// SetState publishes the entry count and marks phase as the current one.
func (m *Metrics) SetState(count int, phase string, phases []string) {
	m.Entries.Set(float64(count))
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
}

// ObserveOperation records the duration of operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
