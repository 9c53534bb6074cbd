package storage

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// KV is the capability the faucet core requires from its backing store. All
// faucet state (requests, wallet sequence, rate windows) lives behind this
// interface so the concrete backend is a deployment decision.
//
// CompareAndSwap and Increment must be atomic with respect to concurrent
// callers, including callers in other processes when the backend is shared.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the stored value with update only if the
	// current value equals expect. It reports false without modifying the
	// store when the values differ or the key is absent.
	CompareAndSwap(ctx context.Context, key string, expect, update []byte, ttl time.Duration) (bool, error)
	// Increment atomically increments the integer stored under key,
	// creating it at 1 with the supplied ttl, and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Close releases backend resources.
	Close() error
}

var (
	// ErrNotFound is returned when the requested key is absent.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable indicates the backend could not be reached or timed
	// out. Callers must treat the outcome of the attempted operation as
	// unknown.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// --- In-memory backend (tests and dev mode) ---

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemKV is a process-local KV implementation. It honours the same atomicity
// contract via a single mutex.
type MemKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemKV() *MemKV {
	return &MemKV{entries: make(map[string]memEntry), now: time.Now}
}

// SetClock overrides the time source. Tests use this to exercise expiry
// without sleeping.
func (m *MemKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemKV) lookup(key string) (memEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return entry, true
}

func (m *MemKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *MemKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemKV) CompareAndSwap(ctx context.Context, key string, expect, update []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok || !bytes.Equal(entry.value, expect) {
		return false, nil
	}
	m.entries[key] = memEntry{value: append([]byte(nil), update...), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemKV) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok {
		m.entries[key] = memEntry{value: []byte("1"), expiresAt: m.expiry(ttl)}
		return 1, nil
	}
	current, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, errors.New("storage: value is not an integer")
	}
	current++
	entry.value = []byte(strconv.FormatInt(current, 10))
	m.entries[key] = entry
	return current, nil
}

func (m *MemKV) Close() error { return nil }
