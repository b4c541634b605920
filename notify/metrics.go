// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package notify

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for one GitSvnSync daemon instance, on a standalone
// registry (grounded on the retrieved pack's own standalone-registry metrics, e.g. the agent
// sidecar's AgentMetrics).
type Metrics struct {
	registry *prometheus.Registry

	CycleDuration    *prometheus.HistogramVec
	CycleTotal       *prometheus.CounterVec
	RevisionsApplied *prometheus.CounterVec
	ConflictsQueued  prometheus.Counter
	EchoSkipsTotal   *prometheus.CounterVec
	LastCycleSuccess prometheus.Gauge
	WatermarkSvnRev  prometheus.Gauge
}

// NewMetrics creates and registers all GitSvnSync metrics on a standalone registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gitsvnsync",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a full sync cycle in seconds.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),
		CycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gitsvnsync",
				Name:      "cycle_total",
				Help:      "Total number of sync cycles run.",
			},
			[]string{"result"},
		),
		RevisionsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gitsvnsync",
				Name:      "revisions_applied_total",
				Help:      "Total number of revisions/commits replayed across the bridge.",
			},
			[]string{"direction"},
		),
		ConflictsQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gitsvnsync",
				Name:      "conflicts_queued_total",
				Help:      "Total number of conflicts enqueued for operator resolution.",
			},
		),
		EchoSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gitsvnsync",
				Name:      "echo_skips_total",
				Help:      "Total number of revisions/commits skipped because they carried the sync marker.",
			},
			[]string{"direction"},
		),
		LastCycleSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gitsvnsync",
				Name:      "last_cycle_success",
				Help:      "Whether the last sync cycle completed without an unrecoverable error (1=success, 0=error).",
			},
		),
		WatermarkSvnRev: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gitsvnsync",
				Name:      "watermark_svn_last_rev",
				Help:      "Current value of the svn_last_rev watermark.",
			},
		),
	}

	reg.MustRegister(
		m.CycleDuration,
		m.CycleTotal,
		m.RevisionsApplied,
		m.ConflictsQueued,
		m.EchoSkipsTotal,
		m.LastCycleSuccess,
		m.WatermarkSvnRev,
	)

	return m
}

// Handler returns an http.Handler that serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
