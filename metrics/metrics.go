// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

const namespace = "gtfs_ingest"

// Metrics holds the collectors shared by every pipeline run.
type Metrics struct {
	registry *prometheus.Registry

	StageEvents *prometheus.CounterVec
	StageGauges *prometheus.GaugeVec
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StageEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_events_total",
				Help:      "Counters reported by pipeline stages",
			},
			[]string{"pipeline", "stage", "event"},
		),
		StageGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_gauge",
				Help:      "Gauges reported by pipeline stages",
			},
			[]string{"pipeline", "stage", "gauge"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"pipeline", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"pipeline"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records the outcome of one pipeline run.
func (m *Metrics) ObserveRun(name string, d time.Duration, err error) {
	m.Runs.WithLabelValues(name, runStatus(err)).Inc()
	m.RunDuration.WithLabelValues(name).Observe(d.Seconds())
}

func runStatus(err error) string {
	var se *pipeline.StageError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return "failed"
	case errors.Is(err, pipeline.ErrAborted):
		return "aborted"
	default:
		return "error"
	}
}

// Telemetry returns a pipeline.Telemetry labelling every metric with name.
// Counter names are "<stage>.<event>"; stage names may contain dots, the
// event is the part after the last one.
func (m *Metrics) Telemetry(name string) pipeline.Telemetry {
	return &telemetry{m: m, pipeline: name}
}

type telemetry struct {
	m        *Metrics
	pipeline string
}

func (t *telemetry) Incr(name string, delta int64) {
	if delta < 0 {
		return
	}
	stage, event := split(name)
	t.m.StageEvents.WithLabelValues(t.pipeline, stage, event).Add(float64(delta))
}

func (t *telemetry) SetGauge(name string, value float64) {
	stage, gauge := split(name)
	t.m.StageGauges.WithLabelValues(t.pipeline, stage, gauge).Set(value)
}

func split(name string) (stage, suffix string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
