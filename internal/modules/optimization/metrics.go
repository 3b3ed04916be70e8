package optimization

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records optimization run outcomes.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the optimization collectors and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundfolio_optimization_runs_total",
				Help: "Total number of optimization runs by objective and result",
			},
			[]string{"objective", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundfolio_optimization_duration_seconds",
				Help:    "Duration of optimization runs in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"objective"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Duration)
	}
	return m
}

func (m *Metrics) observe(objective Objective, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := string(objective)
	if !objective.Valid() {
		label = "unknown"
	}
	m.Runs.WithLabelValues(label, ErrorKind(err)).Inc()
	m.Duration.WithLabelValues(label).Observe(elapsed.Seconds())
}
