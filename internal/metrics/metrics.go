// Package metrics provides Prometheus metrics for the txt2img host.
//
// All recording methods are safe on a nil *Metrics so components can be
// built without a registry in tests and in the CLI.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Soft failure stages.
const (
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageExists   = "exists"
	StageUpload   = "upload"
	StageHistory  = "history"
	StageResult   = "result"
)

// Upload results.
const (
	UploadStored       = "stored"
	UploadDeduplicated = "deduplicated"
)

type Metrics struct {
	registry *prometheus.Registry

	InvocationsTotal     *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
	DisambiguationsTotal *prometheus.CounterVec
	SoftFailuresTotal    *prometheus.CounterVec
	UploadsTotal         *prometheus.CounterVec
	UpstreamDuration     *prometheus.HistogramVec
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.InvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txt2img_invocations_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	m.RetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txt2img_turn_retries_total",
			Help: "Invocations classified as a retry of a stored turn",
		},
		[]string{"tool"},
	)

	m.DisambiguationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txt2img_disambiguations_total",
			Help: "Auxiliary model calls resolving references to earlier turns",
		},
		[]string{"outcome"},
	)

	m.SoftFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txt2img_soft_failures_total",
			Help: "Recoverable failures that were logged and substituted",
		},
		[]string{"stage"},
	)

	m.UploadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txt2img_object_uploads_total",
			Help: "Content addressed uploads by result",
		},
		[]string{"result"},
	)

	m.UpstreamDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txt2img_upstream_request_duration_seconds",
			Help:    "Duration of calls to the model endpoint",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation"},
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Invocation(tool, outcome string) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Retry(tool string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) Disambiguation(outcome string) {
	if m == nil {
		return
	}
	m.DisambiguationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SoftFailure(stage string) {
	if m == nil {
		return
	}
	m.SoftFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

// ObserveUpstream records the time since start for operation.
func (m *Metrics) ObserveUpstream(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
