package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "activity_sync"

// runMetrics lives for one run on its own registry and is dumped to a
// node-exporter textfile at the end.
type runMetrics struct {
	registry *prometheus.Registry

	files        *prometheus.CounterVec
	records      *prometheus.CounterVec
	rawSelected  prometheus.Counter
	recordErrors prometheus.Counter
	deactivated  prometheus.Counter
	published    prometheus.Counter
	duration     prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "files_total",
			Help:      "Import files handled, by result.",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "canonical_records_total",
			Help:      "Canonical records handled by the sync writer, by outcome.",
		}, []string{"outcome"}),
		rawSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "raw_selected_total",
			Help:      "Raw records selected for processing.",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "record_errors_total",
			Help:      "Raw records skipped as malformed.",
		}),
		deactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "deactivated_total",
			Help:      "Canonical records deactivated after their raw entity was deleted.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "published_total",
			Help:      "Change events published.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
	}
	m.registry.MustRegister(m.files, m.records, m.rawSelected, m.recordErrors,
		m.deactivated, m.published, m.duration, m.lastSuccess)
	return m
}

func (m *runMetrics) observeSync(res SyncResult) {
	m.records.WithLabelValues("inserted").Add(float64(res.Inserted))
	m.records.WithLabelValues("modified").Add(float64(res.Modified))
	m.records.WithLabelValues("unchanged").Add(float64(res.Unchanged))
	m.records.WithLabelValues("retired").Add(float64(res.Retired))
	m.records.WithLabelValues("failed").Add(float64(len(res.Failed)))
}

func (m *runMetrics) finish(start time.Time, runErr error) {
	end := time.Now()
	m.duration.Set(end.Sub(start).Seconds())
	if runErr == nil {
		m.lastSuccess.Set(float64(end.Unix()))
	}
}

// writeTextfile is a no-op for an empty path.
func (m *runMetrics) writeTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
