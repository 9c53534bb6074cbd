package faucet

import "tonfaucet/observability"

// Metrics exposes the Prometheus collectors for the issuance pipeline.
type Metrics = observability.FaucetMetrics

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Faucet() }
