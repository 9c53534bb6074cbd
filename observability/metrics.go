package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FaucetMetrics exposes Prometheus collectors for the faucet issuance
// pipeline.
type FaucetMetrics struct {
	claims            *prometheus.CounterVec
	issuedTokens      prometheus.Counter
	rateLimited       prometheus.Counter
	storeRetries      prometheus.Counter
	sequenceConflicts prometheus.Counter
	submitSeconds     prometheus.Histogram
	confirmSeconds    prometheus.Histogram
	reconcilerSweeps  *prometheus.CounterVec
}

var (
	faucetMetricsOnce sync.Once
	faucetRegistry    *FaucetMetrics
)

// Faucet returns the lazily-initialised faucet metrics registry.
func Faucet() *FaucetMetrics {
	faucetMetricsOnce.Do(func() {
		faucetRegistry = &FaucetMetrics{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "claims_total",
				Help:      "Claim intakes segmented by outcome.",
			}, []string{"outcome"}),
			issuedTokens: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "issued_tokens_total",
				Help:      "Token amount confirmed as issued.",
			}),
			rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "rate_limited_total",
				Help:      "Claims rejected by the per-recipient window limit.",
			}),
			storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "store_retries_total",
				Help:      "Backing store operations retried after transient failures.",
			}),
			sequenceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "sequence_conflicts_total",
				Help:      "Wallet sequence reservations retried after CAS contention.",
			}),
			submitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "faucet",
				Name:      "submit_seconds",
				Help:      "Latency of chain submission calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			confirmSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "faucet",
				Name:      "confirm_seconds",
				Help:      "Time spent polling for transaction confirmation.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}),
			reconcilerSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "faucet",
				Name:      "reconciler_requests_total",
				Help:      "Requests re-polled by the reconciler segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			faucetRegistry.claims,
			faucetRegistry.issuedTokens,
			faucetRegistry.rateLimited,
			faucetRegistry.storeRetries,
			faucetRegistry.sequenceConflicts,
			faucetRegistry.submitSeconds,
			faucetRegistry.confirmSeconds,
			faucetRegistry.reconcilerSweeps,
		)
	})
	return faucetRegistry
}

// RecordClaim counts a claim intake outcome (issued, duplicate, rejected,
// failed).
func (m *FaucetMetrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// RecordIssued adds the confirmed issuance amount in whole tokens.
func (m *FaucetMetrics) RecordIssued(tokens float64) {
	if m == nil {
		return
	}
	m.issuedTokens.Add(tokens)
}

// RecordRateLimited counts a window-limit rejection.
func (m *FaucetMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordStoreRetry counts a retried store operation.
func (m *FaucetMetrics) RecordStoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// RecordSequenceConflict counts a contended sequence reservation attempt.
func (m *FaucetMetrics) RecordSequenceConflict() {
	if m == nil {
		return
	}
	m.sequenceConflicts.Inc()
}

// ObserveSubmit records the latency of a chain submission.
func (m *FaucetMetrics) ObserveSubmit(seconds float64) {
	if m == nil {
		return
	}
	m.submitSeconds.Observe(seconds)
}

// ObserveConfirm records time spent waiting on confirmation.
func (m *FaucetMetrics) ObserveConfirm(seconds float64) {
	if m == nil {
		return
	}
	m.confirmSeconds.Observe(seconds)
}

// RecordReconciled counts a reconciler re-poll outcome (confirmed, failed,
// pending, error).
func (m *FaucetMetrics) RecordReconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconcilerSweeps.WithLabelValues(outcome).Inc()
}
