package faucet

import (
	"context"
	"errors"
	"testing"

	"tonfaucet/chain"
)

func TestSubmitMapsErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeChain()
	exec := fastExecutor(client)

	hash, err := exec.Submit(ctx, []byte("signed"))
	if err != nil || hash == "" {
		t.Fatalf("submit: hash=%q err=%v", hash, err)
	}

	client.submitErr = chain.ErrRejected
	if _, err := exec.Submit(ctx, []byte("signed")); !errors.Is(err, ErrChainRejected) {
		t.Fatalf("expected ErrChainRejected, got %v", err)
	}

	client.submitErr = chain.ErrUnavailable
	if _, err := exec.Submit(ctx, []byte("signed")); !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("expected ErrChainUnavailable, got %v", err)
	}
}

func TestAwaitConfirmationEventuallyConfirms(t *testing.T) {
	ctx := context.Background()
	client := newFakeChain()
	exec := fastExecutor(client)

	hash, err := exec.Submit(ctx, []byte("signed"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan Confirmation, 1)
	go func() {
		verdict, _ := exec.AwaitConfirmation(ctx, hash)
		done <- verdict
	}()
	client.setStatus(hash, chain.TxConfirmed)

	if verdict := <-done; verdict != ConfirmationConfirmed {
		t.Fatalf("expected confirmed, got %v", verdict)
	}
}

func TestAwaitConfirmationTimeoutStaysPending(t *testing.T) {
	client := newFakeChain()
	exec := fastExecutor(client)

	hash, err := exec.Submit(context.Background(), []byte("signed"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	verdict, err := exec.AwaitConfirmation(context.Background(), hash)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if verdict != ConfirmationPending {
		t.Fatalf("timeout must yield pending, got %v", verdict)
	}
}

func TestAwaitConfirmationRejected(t *testing.T) {
	ctx := context.Background()
	client := newFakeChain()
	exec := fastExecutor(client)

	hash, err := exec.Submit(ctx, []byte("signed"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	client.setStatus(hash, chain.TxRejected)

	verdict, err := exec.AwaitConfirmation(ctx, hash)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if verdict != ConfirmationRejected {
		t.Fatalf("expected rejected, got %v", verdict)
	}
}

func TestCheckConfirmationTransportError(t *testing.T) {
	client := newFakeChain()
	client.statusErr = chain.ErrUnavailable
	exec := fastExecutor(client)

	verdict, err := exec.CheckConfirmation(context.Background(), "tx-1")
	if verdict != ConfirmationPending {
		t.Fatalf("transport failure must yield pending, got %v", verdict)
	}
	if !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("expected ErrChainUnavailable, got %v", err)
	}
}
