package faucet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonfaucet/chain"
)

// claimComment travels in the transfer payload so explorers can attribute
// faucet issuances.
const claimComment = "Claim"

// claimNamespace scopes derived request ids. Claims without a client-supplied
// id hash to the same id within a rate window, so anonymous retries stay
// idempotent.
var claimNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tonfaucet/claims"))

// ClaimInput is a claim as received from the API layer.
type ClaimInput struct {
	// ID is the optional client-supplied request identifier.
	ID string
	// Recipient is the address to fund.
	Recipient string
	// Amount is the requested token amount; nil or zero selects the
	// configured default.
	Amount *big.Int
}

// Orchestrator coordinates the issuance state machine: rate limit, ledger
// idempotency, sequence reservation, signing, submission, confirmation.
type Orchestrator struct {
	ledger   *Ledger
	limiter  *RateLimiter
	wallet   *Wallet
	executor *Executor
	metrics  *Metrics
	logger   *slog.Logger

	defaultAmount *big.Int
	maxAmount     *big.Int
	now           func() time.Time

	mu     sync.Mutex
	paused bool
}

// OrchestratorOption customises the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger supplies the orchestrator logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithAmounts configures the default and maximum token amount per claim.
func WithAmounts(def, max *big.Int) OrchestratorOption {
	return func(o *Orchestrator) {
		if def != nil && def.Sign() > 0 {
			o.defaultAmount = new(big.Int).Set(def)
		}
		if max != nil && max.Sign() > 0 {
			o.maxAmount = new(big.Int).Set(max)
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = clock }
}

// WithPaused starts the orchestrator in the paused state.
func WithPaused() OrchestratorOption {
	return func(o *Orchestrator) { o.paused = true }
}

// NewOrchestrator wires the issuance pipeline.
func NewOrchestrator(ledger *Ledger, limiter *RateLimiter, wallet *Wallet, executor *Executor, opts ...OrchestratorOption) *Orchestrator {
	orch := &Orchestrator{
		ledger:        ledger,
		limiter:       limiter,
		wallet:        wallet,
		executor:      executor,
		metrics:       NewMetrics(),
		logger:        slog.Default(),
		defaultAmount: big.NewInt(1),
		maxAmount:     big.NewInt(100),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(orch)
	}
	return orch
}

// Pause stops new claim intake. In-flight claims finish.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
}

// Resume re-enables claim intake.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
}

// Paused reports whether intake is paused.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Claim runs the issuance state machine for one claim. The returned Request
// reflects the record's current status whenever one exists, including on
// error paths.
func (o *Orchestrator) Claim(ctx context.Context, in ClaimInput) (Request, error) {
	if o.Paused() {
		return Request{}, ErrPaused
	}

	addr, err := chain.ParseAddress(in.Recipient)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	recipient := addr.String()

	amount := in.Amount
	if amount == nil || amount.Sign() == 0 {
		amount = o.defaultAmount
	}
	if amount.Sign() < 0 {
		return Request{}, fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	if amount.Cmp(o.maxAmount) > 0 {
		return Request{}, fmt.Errorf("%w: %s exceeds per-claim maximum %s", ErrInvalidAmount, amount, o.maxAmount)
	}

	allowed, err := o.limiter.CheckAndConsume(ctx, recipient)
	if err != nil {
		return Request{}, err
	}
	if !allowed {
		return Request{}, ErrRateLimited
	}

	id := in.ID
	if id == "" {
		id = o.deriveID(recipient)
	}
	req, isNew, err := o.ledger.CreateIfAbsent(ctx, Request{
		ID:        id,
		Recipient: recipient,
		Amount:    amount,
	})
	if err != nil {
		return Request{}, err
	}
	if !isNew {
		// Idempotent retry: report the existing record, never submit a
		// second transaction for this id.
		o.metrics.RecordClaim("duplicate")
		return req, nil
	}
	return o.issue(ctx, req)
}

// deriveID produces a deterministic id for claims that arrive without one:
// the same recipient retrying inside the same window reuses the record.
func (o *Orchestrator) deriveID(recipient string) string {
	window := o.limiter.WindowStart(o.now())
	return uuid.NewSHA1(claimNamespace, []byte(fmt.Sprintf("%s:%d", recipient, window.Unix()))).String()
}

// issue drives a freshly created Pending record through submission.
func (o *Orchestrator) issue(ctx context.Context, req Request) (Request, error) {
	sequence, err := o.wallet.ReserveSequence(ctx)
	if err != nil {
		// Nothing was broadcast; close the record out so a later claim
		// starts clean instead of finding an orphaned Pending.
		o.fail(ctx, req.ID, StatusPending, "sequence reservation failed")
		o.metrics.RecordClaim("failed")
		return o.snapshot(ctx, req), err
	}

	signed, err := o.wallet.Sign(TransferDraft{
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Comment:   claimComment,
	}, sequence)
	if err != nil {
		o.fail(ctx, req.ID, StatusPending, "signing failed")
		o.metrics.RecordClaim("failed")
		return o.snapshot(ctx, req), err
	}

	txHash, err := o.executor.Submit(ctx, signed)
	if err != nil {
		// The reserved sequence is burned either way; reusing it after an
		// ambiguous broadcast could double-spend the nonce.
		o.fail(ctx, req.ID, StatusPending, fmt.Sprintf("submission failed: %v", err))
		o.metrics.RecordClaim("failed")
		return o.snapshot(ctx, req), err
	}

	moved, err := o.ledger.Transition(ctx, req.ID, StatusPending, StatusSubmitted, func(r *Request) {
		r.TxHash = txHash
		r.Sequence = sequence
	})
	if err != nil {
		o.logger.Error("record submitted transition failed",
			slog.String("request_id", req.ID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()))
		return o.snapshot(ctx, req), err
	}
	if !moved {
		return o.snapshot(ctx, req), nil
	}

	o.logger.Info("transfer submitted",
		slog.String("request_id", req.ID),
		slog.String("recipient", req.Recipient),
		slog.String("tx_hash", txHash),
		slog.Uint64("sequence", sequence))

	current, err := o.ledger.Get(ctx, req.ID)
	if err != nil {
		return o.snapshot(ctx, req), err
	}
	return o.settle(ctx, current, true)
}

// Status returns the current record for id. A record still in Submitted gets
// one opportunistic poll so clients watching the status endpoint see
// finality without waiting for the next reconciler sweep.
func (o *Orchestrator) Status(ctx context.Context, id string) (Request, error) {
	req, err := o.ledger.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusSubmitted {
		return req, nil
	}
	return o.settle(ctx, req, false)
}

// Settle re-polls a Submitted request once and applies the terminal
// transition if the chain has decided. The reconciler drives this.
func (o *Orchestrator) Settle(ctx context.Context, req Request) (Request, error) {
	return o.settle(ctx, req, false)
}

func (o *Orchestrator) settle(ctx context.Context, req Request, await bool) (Request, error) {
	if req.Status != StatusSubmitted {
		return req, nil
	}

	var verdict Confirmation
	var err error
	if await {
		verdict, err = o.executor.AwaitConfirmation(ctx, req.TxHash)
	} else {
		verdict, err = o.executor.CheckConfirmation(ctx, req.TxHash)
	}
	if err != nil {
		// Cancelled or gateway trouble: the request stays Submitted and
		// reconciliation picks it up later.
		return req, nil
	}

	switch verdict {
	case ConfirmationConfirmed:
		moved, err := o.ledger.Transition(ctx, req.ID, StatusSubmitted, StatusConfirmed, nil)
		if err != nil {
			return req, err
		}
		if moved {
			o.metrics.RecordClaim("issued")
			if req.Amount != nil {
				tokens, _ := new(big.Float).SetInt(req.Amount).Float64()
				o.metrics.RecordIssued(tokens)
			}
			o.logger.Info("transfer confirmed",
				slog.String("request_id", req.ID),
				slog.String("tx_hash", req.TxHash))
		}
	case ConfirmationRejected:
		if _, err := o.ledger.Transition(ctx, req.ID, StatusSubmitted, StatusFailed, func(r *Request) {
			r.Reason = "rejected by chain"
		}); err != nil {
			return req, err
		}
		o.metrics.RecordClaim("failed")
		o.logger.Warn("transfer rejected by chain",
			slog.String("request_id", req.ID),
			slog.String("tx_hash", req.TxHash))
	default:
		return req, nil
	}
	return o.ledger.Get(ctx, req.ID)
}

// fail best-effort transitions a record to Failed with the given reason.
func (o *Orchestrator) fail(ctx context.Context, id string, from Status, reason string) {
	if _, err := o.ledger.Transition(ctx, id, from, StatusFailed, func(r *Request) {
		r.Reason = reason
	}); err != nil {
		o.logger.Error("record failure transition failed",
			slog.String("request_id", id),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
}

// snapshot returns the freshest view of the record, falling back to the
// caller's copy when the store is unreadable.
func (o *Orchestrator) snapshot(ctx context.Context, req Request) Request {
	current, err := o.ledger.Get(ctx, req.ID)
	if err != nil {
		return req
	}
	return current
}
