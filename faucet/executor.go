package faucet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tonfaucet/chain"
)

// Confirmation is the executor's verdict after polling for a transaction.
type Confirmation int

const (
	// ConfirmationPending means the poll budget ran out before the chain
	// finalised the transaction. Not proof of failure; the caller must
	// re-poll later.
	ConfirmationPending Confirmation = iota
	// ConfirmationConfirmed means the transaction is final.
	ConfirmationConfirmed
	// ConfirmationRejected means the chain refused the transaction.
	ConfirmationRejected
)

// Executor submits signed transactions and polls the chain for their
// confirmation. Submission is fire-and-forget: it returns once the network
// accepts the bytes for inclusion, not when they are final.
type Executor struct {
	client  chain.Client
	metrics *Metrics

	pollInitial    time.Duration
	pollMax        time.Duration
	confirmTimeout time.Duration
}

// ExecutorConfig tunes the confirmation polling schedule.
type ExecutorConfig struct {
	PollInitial    time.Duration
	PollMax        time.Duration
	ConfirmTimeout time.Duration
}

// NewExecutor builds an executor over the chain-access client.
func NewExecutor(client chain.Client, cfg ExecutorConfig) *Executor {
	exec := &Executor{
		client:         client,
		metrics:        NewMetrics(),
		pollInitial:    time.Second,
		pollMax:        8 * time.Second,
		confirmTimeout: 30 * time.Second,
	}
	if cfg.PollInitial > 0 {
		exec.pollInitial = cfg.PollInitial
	}
	if cfg.PollMax > 0 {
		exec.pollMax = cfg.PollMax
	}
	if cfg.ConfirmTimeout > 0 {
		exec.confirmTimeout = cfg.ConfirmTimeout
	}
	return exec
}

// Submit broadcasts the signed transaction and returns its hash.
func (e *Executor) Submit(ctx context.Context, raw []byte) (string, error) {
	started := time.Now()
	hash, err := e.client.SubmitTransaction(ctx, raw)
	e.metrics.ObserveSubmit(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return "", fmt.Errorf("%w: %v", ErrChainRejected, err)
		}
		return "", fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return hash, nil
}

// CheckConfirmation performs a single status poll. Transport trouble maps
// to ConfirmationPending with the error attached so callers can keep the
// request in its non-terminal state.
func (e *Executor) CheckConfirmation(ctx context.Context, txHash string) (Confirmation, error) {
	status, err := e.client.TransactionStatus(ctx, txHash)
	if err != nil {
		return ConfirmationPending, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	switch status {
	case chain.TxConfirmed:
		return ConfirmationConfirmed, nil
	case chain.TxRejected:
		return ConfirmationRejected, nil
	default:
		return ConfirmationPending, nil
	}
}

// AwaitConfirmation polls the transaction status with exponential backoff
// until the chain settles it or the configured timeout elapses. Transport
// errors during a poll are absorbed and retried within the budget; a timeout
// yields ConfirmationPending, never a failure verdict.
func (e *Executor) AwaitConfirmation(ctx context.Context, txHash string) (Confirmation, error) {
	started := time.Now()
	defer func() { e.metrics.ObserveConfirm(time.Since(started).Seconds()) }()

	deadline := started.Add(e.confirmTimeout)
	backoff := e.pollInitial
	for {
		status, err := e.client.TransactionStatus(ctx, txHash)
		if err == nil {
			switch status {
			case chain.TxConfirmed:
				return ConfirmationConfirmed, nil
			case chain.TxRejected:
				return ConfirmationRejected, nil
			}
		}

		wait := backoff
		if remaining := time.Until(deadline); remaining <= 0 {
			return ConfirmationPending, nil
		} else if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ConfirmationPending, ctx.Err()
		case <-time.After(wait):
		}
		if backoff *= 2; backoff > e.pollMax {
			backoff = e.pollMax
		}
	}
}
