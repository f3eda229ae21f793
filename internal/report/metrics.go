package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics exports the report in the Prometheus text format to path,
// suitable for the node_exporter textfile collector.
func (r *Report) WriteMetrics(path string) error {
	registry := prometheus.NewRegistry()

	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmctl",
			Name:      "step_total",
			Help:      "Step outcomes of the last run by step and status",
		},
		[]string{"command", "step", "status"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmctl",
			Name:      "step_failures_total",
			Help:      "Failed steps of the last run by failure kind",
		},
		[]string{"command", "kind"},
	)
	duration := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swarmctl",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run",
		},
		[]string{"command"},
	)
	lastRun := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swarmctl",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run started",
		},
		[]string{"command"},
	)
	registry.MustRegister(steps, failures, duration, lastRun)

	for _, res := range r.Results() {
		steps.WithLabelValues(r.Command, res.Step, string(res.Status)).Inc()
		if res.Status == StatusFailed {
			failures.WithLabelValues(r.Command, string(res.Kind)).Inc()
		}
	}
	duration.WithLabelValues(r.Command).Set(r.Elapsed.Seconds())
	lastRun.WithLabelValues(r.Command).Set(float64(r.Started.Unix()))

	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
