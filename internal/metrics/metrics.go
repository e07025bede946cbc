package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RenderConsumeTotal counts render consumption attempts by outcome
	// (monthly, extra, no_quota, conflict, error).
	RenderConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "quota",
		Name:      "render_consume_total",
		Help:      "Render consumption attempts by outcome.",
	}, []string{"outcome"})

	// LedgerCASRetries counts optimistic-concurrency retries on ledger writes.
	LedgerCASRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "quota",
		Name:      "ledger_cas_retries_total",
		Help:      "Ledger write retries caused by version conflicts.",
	}, []string{"operation"})

	// RolloversTotal counts monthly period rollovers by trigger (gate, sweep).
	RolloversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "quota",
		Name:      "rollovers_total",
		Help:      "Billing period rollovers by trigger.",
	}, []string{"trigger"})

	// BillingEventsTotal counts ingested billing events by kind and outcome.
	BillingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "billing",
		Name:      "events_total",
		Help:      "Ingested billing events by kind and outcome.",
	}, []string{"kind", "outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arqrender",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	QuotaAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "notify",
		Name:      "quota_alerts_total",
		Help:      "Quota alert notifications by result.",
	}, []string{"result"})

	SettingsCacheLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arqrender",
		Subsystem: "settings",
		Name:      "cache_loads_total",
		Help:      "Settings reads that missed the cache and hit the database.",
	})
)
