package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelKV is a persistent single-process backend. A process mutex provides
// the conditional-update atomicity the shared backends get from the server;
// it is only safe when exactly one faucetd instance owns the database.
//
// Expiry is tracked by prefixing each value with its deadline and discarding
// stale entries on read.
type LevelKV struct {
	mu  sync.Mutex
	db  *leveldb.DB
	now func() time.Time
}

// NewLevelKV creates or opens a LevelDB database at the given path.
func NewLevelKV(path string) (*LevelKV, error) {
	if path == "" {
		return nil, errors.New("storage: leveldb path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	return &LevelKV{db: db, now: time.Now}, nil
}

func encodeValue(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func (l *LevelKV) decodeValue(raw []byte) ([]byte, bool) {
	if len(raw) < 8 {
		return nil, false
	}
	deadline := binary.BigEndian.Uint64(raw[:8])
	if deadline != 0 && !l.now().Before(time.Unix(0, int64(deadline))) {
		return nil, false
	}
	return raw[8:], true
}

func (l *LevelKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return l.now().Add(ttl)
}

// get must be called with the mutex held.
func (l *LevelKV) get(key string) ([]byte, error) {
	raw, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, lerrors.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	value, live := l.decodeValue(raw)
	if !live {
		_ = l.db.Delete([]byte(key), nil)
		return nil, ErrNotFound
	}
	return value, nil
}

func (l *LevelKV) put(key string, value []byte, ttl time.Duration) error {
	if err := l.db.Put([]byte(key), encodeValue(value, l.expiry(ttl)), nil); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (l *LevelKV) Get(ctx context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key)
}

func (l *LevelKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.put(key, value, ttl)
}

func (l *LevelKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.get(key)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotFound):
	default:
		return false, err
	}
	if err := l.put(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LevelKV) CompareAndSwap(ctx context.Context, key string, expect, update []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(current, expect) {
		return false, nil
	}
	if err := l.put(key, update, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LevelKV) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := l.put(key, []byte("1"), ttl); err != nil {
			return 0, err
		}
		return 1, nil
	case err != nil:
		return 0, err
	}
	parsed, err := strconv.ParseInt(string(current), 10, 64)
	if err != nil {
		return 0, errors.New("storage: value is not an integer")
	}
	parsed++
	// Preserve the window deadline set when the counter was created.
	raw, rerr := l.db.Get([]byte(key), nil)
	if rerr != nil {
		return 0, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, rerr)
	}
	deadline := binary.BigEndian.Uint64(raw[:8])
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, deadline)
	next = append(next, []byte(strconv.FormatInt(parsed, 10))...)
	if err := l.db.Put([]byte(key), next, nil); err != nil {
		return 0, fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return parsed, nil
}

func (l *LevelKV) Close() error {
	return l.db.Close()
}
