// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Webhook deliveries by normalized event kind and outcome
	// (processed, ignored, duplicate, rejected, failed).
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulhome_webhook_events_total",
			Help: "Billing webhook deliveries by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Reconciler anomalies: inverted_period, missing_period, millisecond_epoch,
	// missing_mapping, superseded.
	ReconcileAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulhome_reconcile_anomalies_total",
			Help: "Data-quality anomalies observed while reconciling subscriptions",
		},
		[]string{"kind"},
	)

	DownloadRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulhome_download_requests_total",
			Help: "Download gate decisions by outcome",
		},
		[]string{"outcome"}, // granted, cached, denied, quota_exceeded, grant_failed, record_failed, invalid_resource
	)

	FilePermissionOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulhome_file_permission_ops_total",
			Help: "File-sharing permission operations by kind and result",
		},
		[]string{"op", "result"}, // op: grant, revoke; result: ok, error
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulhome_rate_limited_total",
			Help: "Requests rejected by the per-member rate limiter",
		},
		[]string{"scope"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulhome_provider_call_duration_seconds",
			Help:    "Latency of payment and file-sharing provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "op"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
