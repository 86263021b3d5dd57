package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verificationsTotal counts verdicts by candidate kind and outcome.
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vguard_verifications_total",
		Help: "Total verifications by kind and result",
	}, []string{"kind", "result"})

	// guardFailuresTotal counts failed guard results.
	guardFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vguard_guard_failures_total",
		Help: "Total failed guard results by guard and severity",
	}, []string{"guard", "severity"})

	// verificationDuration tracks time spent running guards.
	verificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vguard_verification_duration_seconds",
		Help:    "Verification duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
	}, []string{"kind"})

	// ledgerSpendTotal sums the cost recorded in the spend ledger.
	ledgerSpendTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vguard_ledger_spend_total",
		Help: "Total model spend recorded in the ledger",
	})
)

func resultLabel(verified bool) string {
	if verified {
		return "verified"
	}
	return "blocked"
}
