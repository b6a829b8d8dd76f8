// Package metrics holds the Prometheus instruments of the credit engine.
// Everything registers with the default registry via promauto and is
// served by promhttp on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redemption engine

	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnly_redemptions_total",
			Help: "Redeem calls by outcome (ok or the failure reason)",
		},
		[]string{"outcome"},
	)

	RedeemDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "earnly_redeem_duration_seconds",
			Help:    "Duration of redeem transactions including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	CreditsRedeemed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "earnly_credits_redeemed_total",
			Help: "Credits debited by successful redemptions",
		},
	)

	// Store

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnly_tx_retries_total",
			Help: "Transactions re-run after a store conflict",
		},
		[]string{"operation"},
	)

	// Webhook ingestion

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnly_webhook_requests_total",
			Help: "Webhook deliveries by method and result (applied, duplicate, bad_payload, bad_signature, method, error)",
		},
		[]string{"method", "result"},
	)

	CreditsEarned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "earnly_credits_earned_total",
			Help: "Credits granted by applied webhook deliveries",
		},
	)

	// Reclaimer

	ReclaimedCodes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "earnly_reclaimed_codes_total",
			Help: "Expired reservations returned to the free pool",
		},
	)

	ReclaimSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnly_reclaim_sweeps_total",
			Help: "Reclaimer sweeps by status (ok, partial)",
		},
		[]string{"status"},
	)

	ReclaimLastSweep = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "earnly_reclaim_last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		},
	)

	// HTTP API

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnly_api_requests_total",
			Help: "API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "earnly_api_request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordRedemption records the outcome of one Redeem call.
func RecordRedemption(outcome string, d time.Duration) {
	Redemptions.WithLabelValues(outcome).Inc()
	RedeemDuration.Observe(d.Seconds())
}

// RecordWebhook records one webhook delivery.
func RecordWebhook(method, result string) {
	WebhookRequests.WithLabelValues(method, result).Inc()
}

// RecordAPIRequest records one HTTP API request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}
