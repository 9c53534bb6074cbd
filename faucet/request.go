// Package faucet implements the token issuance core: a persisted state
// machine that turns a claim into an exactly-once, rate-limited on-chain
// transfer backed by a managed hot wallet.
package faucet

import (
	"math/big"
	"time"
)

// Status is the lifecycle state of a faucet request. Transitions only move
// forward: Pending -> Submitted -> Confirmed | Failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusConfirmed: 2,
	StatusFailed:    2,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransition reports whether moving to next preserves monotonic order.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return !s.Terminal() && to > from
}

// Request is the durable record of one faucet claim. The id is the
// idempotency boundary: a given id maps to exactly one Request for all time.
type Request struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Amount    *big.Int  `json:"amount"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// ledger's view.
func (r Request) Clone() Request {
	clone := r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return clone
}
