package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome (processed/skipped/retryable/invalid).",
		},
		[]string{"type", "outcome"},
	)

	ledgerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger entries booked, by type (purchase/renewal/refund).",
		},
		[]string{"type"},
	)

	reviewsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_submitted_total",
			Help: "Review submissions, split by created vs updated.",
		},
		[]string{"kind"},
	)
)

func IncWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func IncLedgerTransaction(transactionType string) {
	ledgerTransactionsTotal.WithLabelValues(transactionType).Inc()
}

func IncReviewSubmitted(created bool) {
	kind := "updated"
	if created {
		kind = "created"
	}
	reviewsSubmittedTotal.WithLabelValues(kind).Inc()
}
