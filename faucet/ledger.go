package faucet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tonfaucet/storage"
)

const (
	requestKeyPrefix  = "faucet:req:"
	submittedIndexKey = "faucet:req:submitted"

	// casAttempts bounds conditional-update loops. Contention on a single
	// request id is rare; a loser re-reads and usually finds the status
	// already moved on.
	casAttempts = 8
)

// Ledger is the durable, crash-recoverable record of faucet requests. It is
// the idempotency boundary: CreateIfAbsent never creates a second record for
// an id, and Transition never lets a status move backwards.
type Ledger struct {
	kv      storage.KV
	logger  *slog.Logger
	metrics *Metrics

	retryAttempts int
	retryBase     time.Duration
	now           func() time.Time
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger used for non-fatal bookkeeping failures.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithLedgerRetry overrides the bounded backoff applied to transient store
// failures.
func WithLedgerRetry(attempts int, base time.Duration) LedgerOption {
	return func(l *Ledger) {
		if attempts > 0 {
			l.retryAttempts = attempts
		}
		if base > 0 {
			l.retryBase = base
		}
	}
}

// WithLedgerClock sets the timestamp source.
func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = clock }
}

// NewLedger constructs a ledger over the supplied KV backend.
func NewLedger(kv storage.KV, opts ...LedgerOption) *Ledger {
	ledger := &Ledger{
		kv:            kv,
		logger:        slog.Default(),
		metrics:       NewMetrics(),
		retryAttempts: 3,
		retryBase:     50 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

func requestKey(id string) string { return requestKeyPrefix + id }

// withStore runs op, retrying transient backend failures with exponential
// backoff. Exhaustion surfaces as ErrStoreUnavailable: the faucet must never
// act without its record.
func (l *Ledger) withStore(ctx context.Context, op func() error) error {
	backoff := l.retryBase
	var err error
	for attempt := 0; attempt < l.retryAttempts; attempt++ {
		if attempt > 0 {
			l.metrics.RecordStoreRetry()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = op()
		if err == nil || !errors.Is(err, storage.ErrUnavailable) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// CreateIfAbsent inserts a new Pending record unless the id already exists,
// in which case the stored record is returned untouched with isNew=false.
func (l *Ledger) CreateIfAbsent(ctx context.Context, req Request) (Request, bool, error) {
	req = req.Clone()
	req.Status = StatusPending
	created := l.now().UTC()
	req.CreatedAt = created
	req.UpdatedAt = created

	encoded, err := json.Marshal(req)
	if err != nil {
		return Request{}, false, fmt.Errorf("faucet: encode request: %w", err)
	}

	var inserted bool
	err = l.withStore(ctx, func() error {
		var serr error
		inserted, serr = l.kv.SetNX(ctx, requestKey(req.ID), encoded, 0)
		return serr
	})
	if err != nil {
		return Request{}, false, err
	}
	if inserted {
		return req, true, nil
	}
	existing, err := l.Get(ctx, req.ID)
	if err != nil {
		return Request{}, false, err
	}
	return existing, false, nil
}

// Get returns the record stored under id, or ErrRequestNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (Request, error) {
	var raw []byte
	err := l.withStore(ctx, func() error {
		var serr error
		raw, serr = l.kv.Get(ctx, requestKey(id))
		return serr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("faucet: decode request %s: %w", id, err)
	}
	return req, nil
}

// Transition conditionally moves the record from one status to another. It
// reports false without modifying anything when the stored status no longer
// equals from, which keeps transitions totally ordered per id even with a
// retry path and the reconciler racing on the same record. The optional
// apply hook mutates additional fields on the updated record.
func (l *Ledger) Transition(ctx context.Context, id string, from, to Status, apply func(*Request)) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("faucet: illegal transition %s -> %s", from, to)
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		var raw []byte
		err := l.withStore(ctx, func() error {
			var serr error
			raw, serr = l.kv.Get(ctx, requestKey(id))
			return serr
		})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, ErrRequestNotFound
			}
			return false, err
		}
		var current Request
		if err := json.Unmarshal(raw, &current); err != nil {
			return false, fmt.Errorf("faucet: decode request %s: %w", id, err)
		}
		if current.Status != from {
			return false, nil
		}

		next := current.Clone()
		next.Status = to
		next.UpdatedAt = l.now().UTC()
		if apply != nil {
			apply(&next)
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return false, fmt.Errorf("faucet: encode request %s: %w", id, err)
		}

		var swapped bool
		err = l.withStore(ctx, func() error {
			var serr error
			swapped, serr = l.kv.CompareAndSwap(ctx, requestKey(id), raw, encoded, 0)
			return serr
		})
		if err != nil {
			return false, err
		}
		if swapped {
			l.maintainIndex(ctx, id, to)
			return true, nil
		}
		// Lost the CAS race; re-read and re-check the status.
	}
	return false, fmt.Errorf("faucet: transition contention on %s", id)
}

// SubmittedBefore lists requests stuck in Submitted whose last update is
// older than cutoff. The reconciler uses this to recover requests left
// behind by a crash or a confirmation timeout.
func (l *Ledger) SubmittedBefore(ctx context.Context, cutoff time.Time) ([]Request, error) {
	ids, err := l.indexSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	var stale []Request
	for _, id := range ids {
		req, err := l.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				continue
			}
			return nil, err
		}
		if req.Status == StatusSubmitted && req.UpdatedAt.Before(cutoff) {
			stale = append(stale, req)
		}
	}
	return stale, nil
}

// maintainIndex keeps the submitted-id set in step with transitions. Index
// drift is tolerable (the reconciler re-checks statuses), so failures are
// logged rather than unwinding a committed transition.
func (l *Ledger) maintainIndex(ctx context.Context, id string, to Status) {
	var err error
	switch {
	case to == StatusSubmitted:
		err = l.updateIndex(ctx, id, true)
	case to.Terminal():
		err = l.updateIndex(ctx, id, false)
	}
	if err != nil {
		l.logger.Warn("submitted index update failed",
			slog.String("request_id", id),
			slog.String("error", err.Error()))
	}
}

func (l *Ledger) indexSnapshot(ctx context.Context) ([]string, error) {
	var raw []byte
	err := l.withStore(ctx, func() error {
		var serr error
		raw, serr = l.kv.Get(ctx, submittedIndexKey)
		return serr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("faucet: decode submitted index: %w", err)
	}
	return ids, nil
}

func (l *Ledger) updateIndex(ctx context.Context, id string, add bool) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		raw, err := l.kv.Get(ctx, submittedIndexKey)
		if errors.Is(err, storage.ErrNotFound) {
			if !add {
				return nil
			}
			encoded, merr := json.Marshal([]string{id})
			if merr != nil {
				return merr
			}
			inserted, serr := l.kv.SetNX(ctx, submittedIndexKey, encoded, 0)
			if serr != nil {
				return serr
			}
			if inserted {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}

		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return fmt.Errorf("faucet: decode submitted index: %w", err)
		}
		next := make([]string, 0, len(ids)+1)
		present := false
		for _, existing := range ids {
			if existing == id {
				present = true
				if !add {
					continue
				}
			}
			next = append(next, existing)
		}
		if add && !present {
			next = append(next, id)
		} else if add == present {
			return nil
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		swapped, err := l.kv.CompareAndSwap(ctx, submittedIndexKey, raw, encoded, 0)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("faucet: submitted index contention")
}
