package faucet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tonfaucet/chain"
	"tonfaucet/storage"
)

// testMnemonic is the standard bip39 test vector; it controls no real funds.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testRecipient(seed byte) string {
	var account [32]byte
	for i := range account {
		account[i] = seed + byte(i)
	}
	return chain.NewAddress(account).String()
}

// fakeChain is an in-memory chain.Client. Tests drive confirmation by
// mutating the status map.
type fakeChain struct {
	mu        sync.Mutex
	submits   [][]byte
	submitErr error
	statusErr error
	statuses  map[string]chain.TxStatus
	seqno     uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{statuses: make(map[string]chain.TxStatus)}
}

func (f *fakeChain) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, append([]byte(nil), raw...))
	hash := fmt.Sprintf("tx-%d", len(f.submits))
	if _, ok := f.statuses[hash]; !ok {
		f.statuses[hash] = chain.TxPending
	}
	return hash, nil
}

func (f *fakeChain) TransactionStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	status, ok := f.statuses[hash]
	if !ok {
		return chain.TxPending, nil
	}
	return status, nil
}

func (f *fakeChain) AccountSequence(ctx context.Context, account string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seqno, nil
}

func (f *fakeChain) setStatus(hash string, status chain.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[hash] = status
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeChain) lastSubmit() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submits) == 0 {
		return nil
	}
	return f.submits[len(f.submits)-1]
}

// downKV simulates an unreachable backing store.
type downKV struct{}

func (downKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (downKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (downKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (downKV) CompareAndSwap(ctx context.Context, key string, expect, update []byte, ttl time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (downKV) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (downKV) Close() error { return nil }

func fastLedger(kv storage.KV) *Ledger {
	return NewLedger(kv, WithLedgerRetry(2, time.Millisecond))
}

func fastExecutor(client chain.Client) *Executor {
	return NewExecutor(client, ExecutorConfig{
		PollInitial:    time.Millisecond,
		PollMax:        2 * time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond,
	})
}
