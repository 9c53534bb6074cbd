package faucet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"tonfaucet/storage"
)

func TestCreateIfAbsentIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := fastLedger(storage.NewMemKV())

	first, isNew, err := ledger.CreateIfAbsent(ctx, Request{ID: "r1", Recipient: "addr1", Amount: big.NewInt(100)})
	if err != nil || !isNew {
		t.Fatalf("first create: isNew=%v err=%v", isNew, err)
	}
	if first.Status != StatusPending {
		t.Fatalf("new record status: %s", first.Status)
	}

	second, isNew, err := ledger.CreateIfAbsent(ctx, Request{ID: "r1", Recipient: "other", Amount: big.NewInt(999)})
	if err != nil || isNew {
		t.Fatalf("second create: isNew=%v err=%v", isNew, err)
	}
	if second.Recipient != "addr1" || second.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("existing record was modified: %+v", second)
	}
}

func TestCreateIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	ledger := fastLedger(storage.NewMemKV())

	const workers = 12
	var created int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := ledger.CreateIfAbsent(ctx, Request{ID: "race", Recipient: "addr1", Amount: big.NewInt(1)})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if isNew {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
}

func TestTransitionConditional(t *testing.T) {
	ctx := context.Background()
	ledger := fastLedger(storage.NewMemKV())

	if _, _, err := ledger.CreateIfAbsent(ctx, Request{ID: "r1", Recipient: "addr1", Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	moved, err := ledger.Transition(ctx, "r1", StatusPending, StatusSubmitted, func(r *Request) {
		r.TxHash = "tx-1"
	})
	if err != nil || !moved {
		t.Fatalf("pending->submitted: moved=%v err=%v", moved, err)
	}

	// A second writer still holding the Pending view must no-op.
	moved, err = ledger.Transition(ctx, "r1", StatusPending, StatusFailed, nil)
	if err != nil || moved {
		t.Fatalf("stale transition applied: moved=%v err=%v", moved, err)
	}

	moved, err = ledger.Transition(ctx, "r1", StatusSubmitted, StatusConfirmed, nil)
	if err != nil || !moved {
		t.Fatalf("submitted->confirmed: moved=%v err=%v", moved, err)
	}

	// Terminal states never regress.
	moved, err = ledger.Transition(ctx, "r1", StatusSubmitted, StatusFailed, nil)
	if err != nil || moved {
		t.Fatalf("terminal state overwritten: moved=%v err=%v", moved, err)
	}

	req, err := ledger.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != StatusConfirmed || req.TxHash != "tx-1" {
		t.Fatalf("unexpected final record: %+v", req)
	}
}

func TestTransitionRejectsBackwardOrder(t *testing.T) {
	ctx := context.Background()
	ledger := fastLedger(storage.NewMemKV())

	if _, err := ledger.Transition(ctx, "r1", StatusSubmitted, StatusPending, nil); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if _, err := ledger.Transition(ctx, "r1", StatusConfirmed, StatusFailed, nil); err == nil {
		t.Fatal("expected illegal transition error from terminal state")
	}
}

func TestGetUnknownRequest(t *testing.T) {
	ledger := fastLedger(storage.NewMemKV())
	if _, err := ledger.Get(context.Background(), "nope"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestSubmittedBefore(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(1700000000, 0)
	ledger := NewLedger(storage.NewMemKV(),
		WithLedgerRetry(2, time.Millisecond),
		WithLedgerClock(func() time.Time { return current }))

	for _, id := range []string{"a", "b"} {
		if _, _, err := ledger.CreateIfAbsent(ctx, Request{ID: id, Recipient: "addr", Amount: big.NewInt(1)}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if _, err := ledger.Transition(ctx, id, StatusPending, StatusSubmitted, nil); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	stale, err := ledger.SubmittedBefore(ctx, current.Add(time.Second))
	if err != nil {
		t.Fatalf("submitted before: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale requests, got %d", len(stale))
	}

	// Terminal transitions drop the request from the index.
	if _, err := ledger.Transition(ctx, "a", StatusSubmitted, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm a: %v", err)
	}
	stale, err = ledger.SubmittedBefore(ctx, current.Add(time.Second))
	if err != nil {
		t.Fatalf("submitted before: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "b" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}

	// Requests updated after the cutoff are left alone.
	stale, err = ledger.SubmittedBefore(ctx, current.Add(-time.Hour))
	if err != nil {
		t.Fatalf("submitted before: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale requests, got %d", len(stale))
	}
}

func TestLedgerStoreUnavailable(t *testing.T) {
	ledger := fastLedger(downKV{})
	_, _, err := ledger.CreateIfAbsent(context.Background(), Request{ID: "r1", Recipient: "addr", Amount: big.NewInt(1)})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
