package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mysql_s3_backup"

// Run is the summary of one backup run as exported to the node exporter
// textfile collector.
type Run struct {
	Mode      string
	Start     time.Time
	End       time.Time
	Succeeded int
	Failed    int
	Pruned    int
}

// WriteTextfile writes the run metrics to path in the Prometheus text format.
// The file is replaced atomically so a scrape never sees a partial file.
func WriteTextfile(path string, run Run) error {
	reg := prometheus.NewRegistry()

	last := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last backup run finished.",
	}, []string{"mode"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the last backup run.",
	})
	units := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_databases",
		Help:      "Databases processed by the last backup run, by result.",
	}, []string{"result"})
	pruned := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_pruned_files",
		Help:      "Staged files removed by retention in the last backup run.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_success",
		Help:      "1 if every database in the last run was backed up, 0 otherwise.",
	})
	reg.MustRegister(last, duration, units, pruned, success)

	last.WithLabelValues(run.Mode).Set(float64(run.End.Unix()))
	duration.Set(run.End.Sub(run.Start).Seconds())
	units.WithLabelValues("succeeded").Set(float64(run.Succeeded))
	units.WithLabelValues("failed").Set(float64(run.Failed))
	pruned.Set(float64(run.Pruned))
	if run.Failed == 0 {
		success.Set(1)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
