// Package telemetry holds the Prometheus collectors of the pipeline.
package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the draft pipeline and HTTP API.
type Metrics struct {
	DraftsCreated   *prometheus.CounterVec
	DraftsDiscarded *prometheus.CounterVec
	PublishTotal    *prometheus.CounterVec
	HuntDuration    prometheus.Histogram
	SyncUpdated     *prometheus.CounterVec
	SyncErrors      *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors once per process.
//
// Metrics:
//   - autopilot_drafts_created_total{campaign}
//   - autopilot_drafts_discarded_total{reason} - below_threshold, duplicate, error, quota
//   - autopilot_publish_total{platform,outcome} - success, error
//   - autopilot_hunt_duration_seconds
//   - autopilot_metrics_sync_updated_total{platform}
//   - autopilot_metrics_sync_errors_total{platform}
//   - autopilot_http_requests_total{method,route,status}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DraftsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_drafts_created_total",
					Help: "Total number of drafts created",
				},
				[]string{"campaign"},
			),
			DraftsDiscarded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_drafts_discarded_total",
					Help: "Total number of candidates not turned into drafts",
				},
				[]string{"reason"},
			),
			PublishTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_publish_total",
					Help: "Total number of publish attempts by outcome",
				},
				[]string{"platform", "outcome"},
			),
			HuntDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "autopilot_hunt_duration_seconds",
					Help:    "Duration of hunt passes",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
			SyncUpdated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_metrics_sync_updated_total",
					Help: "Total number of records updated by metrics sync",
				},
				[]string{"platform"},
			),
			SyncErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_metrics_sync_errors_total",
					Help: "Total number of failed metrics sync batches",
				},
				[]string{"platform"},
			),
			HTTPRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
		}
	})
	return globalMetrics
}

// DraftCreated counts a new draft.
func (m *Metrics) DraftCreated(campaign string) {
	if m == nil {
		return
	}
	m.DraftsCreated.WithLabelValues(campaign).Inc()
}

// Discarded counts a candidate that did not become a draft.
func (m *Metrics) Discarded(reason string) {
	if m == nil {
		return
	}
	m.DraftsDiscarded.WithLabelValues(reason).Inc()
}

// Published counts a publish attempt outcome.
func (m *Metrics) Published(platform, outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveHunt records the duration of a hunt pass in seconds.
func (m *Metrics) ObserveHunt(seconds float64) {
	if m == nil {
		return
	}
	m.HuntDuration.Observe(seconds)
}

// Synced counts records updated by metrics sync.
func (m *Metrics) Synced(platform string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SyncUpdated.WithLabelValues(platform).Add(float64(n))
}

// SyncFailed counts a failed metrics sync batch.
func (m *Metrics) SyncFailed(platform string) {
	if m == nil {
		return
	}
	m.SyncErrors.WithLabelValues(platform).Inc()
}

// HTTPRequest counts one served request by route pattern.
func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
