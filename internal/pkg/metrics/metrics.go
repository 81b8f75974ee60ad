package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_checkout_sessions_total",
			Help: "Checkout session requests by selected provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderSubstitutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_provider_substitutions_total",
			Help: "Requested providers replaced by the recommended provider",
		},
		[]string{"requested", "selected"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payfox_provider_request_duration_seconds",
			Help:    "Latency of calls into payment provider APIs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "outcome"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_confirmations_total",
			Help: "Confirmation attempts by trigger source and resulting state",
		},
		[]string{"provider", "source", "outcome"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_webhooks_total",
			Help: "Inbound provider webhooks by outcome",
		},
		[]string{"provider", "outcome"},
	)

	VaultOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_vault_operations_total",
			Help: "Credential vault operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payfox_jobs_total",
			Help: "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)
