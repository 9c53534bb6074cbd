package faucet

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/tyler-smith/go-bip39"

	"tonfaucet/chain"
	"tonfaucet/storage"
)

const (
	sequenceKey = "faucet:wallet:seq"

	// nanosPerToken converts whole tokens into the chain's base units.
	nanosPerToken = 1_000_000_000
)

// Wallet owns the faucet's signing key and its transaction sequence number.
// The key lives only in memory; the sequence counter lives in the backing
// store so that restarts and concurrent replicas never reuse a broadcast
// nonce.
type Wallet struct {
	kv      storage.KV
	chain   chain.Client
	priv    ed25519.PrivateKey
	address chain.Address
	metrics *Metrics

	maxReserveRetries int
	draftValidity     time.Duration
	now               func() time.Time
}

// WalletOption customises wallet construction.
type WalletOption func(*Wallet)

// WithReserveRetries bounds the CAS retry budget for sequence reservation.
func WithReserveRetries(n int) WalletOption {
	return func(w *Wallet) {
		if n > 0 {
			w.maxReserveRetries = n
		}
	}
}

// WithDraftValidity sets how long signed transfers stay valid.
func WithDraftValidity(d time.Duration) WalletOption {
	return func(w *Wallet) {
		if d > 0 {
			w.draftValidity = d
		}
	}
}

// WithWalletClock sets the time source.
func WithWalletClock(clock func() time.Time) WalletOption {
	return func(w *Wallet) { w.now = clock }
}

// NewWallet derives the signing key from the supplied mnemonic. The mnemonic
// itself is discarded after derivation and must never be logged.
func NewWallet(mnemonic string, kv storage.KV, chainClient chain.Client, opts ...WalletOption) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("faucet: invalid wallet mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	account := sha256.Sum256(priv.Public().(ed25519.PublicKey))

	wallet := &Wallet{
		kv:                kv,
		chain:             chainClient,
		priv:              priv,
		address:           chain.NewAddress(account),
		metrics:           NewMetrics(),
		maxReserveRetries: 10,
		draftValidity:     time.Minute,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(wallet)
	}
	return wallet, nil
}

// Address returns the wallet's on-chain address.
func (w *Wallet) Address() string { return w.address.String() }

// ReserveSequence atomically claims the next transaction sequence number.
// The counter is owned by the backing store and mutated only through
// compare-and-set, so reservation is a single-writer critical section even
// across process instances. A reserved number that never reaches the chain
// is burned, which is the accepted cost of crash safety.
func (w *Wallet) ReserveSequence(ctx context.Context) (uint64, error) {
	for attempt := 0; attempt < w.maxReserveRetries; attempt++ {
		raw, err := w.kv.Get(ctx, sequenceKey)
		if errors.Is(err, storage.ErrNotFound) {
			if err := w.seedSequence(ctx); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		current, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("faucet: corrupt sequence counter: %w", err)
		}
		next := []byte(strconv.FormatUint(current+1, 10))
		swapped, err := w.kv.CompareAndSwap(ctx, sequenceKey, raw, next, 0)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if swapped {
			return current, nil
		}
		w.metrics.RecordSequenceConflict()
	}
	return 0, ErrSequenceConflict
}

// seedSequence initialises the counter from the chain's view of the account
// the first time the wallet runs against an empty store. The chain is never
// consulted again afterwards; the store is the durability boundary.
func (w *Wallet) seedSequence(ctx context.Context) error {
	seq, err := w.chain.AccountSequence(ctx, w.Address())
	if err != nil {
		return fmt.Errorf("%w: seed sequence: %v", ErrChainUnavailable, err)
	}
	initial := []byte(strconv.FormatUint(seq, 10))
	if _, err := w.kv.SetNX(ctx, sequenceKey, initial, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// Whether we or a racing replica seeded it, the next Get sees a value.
	return nil
}

// TransferDraft describes the transfer to sign.
type TransferDraft struct {
	Recipient string
	Amount    *big.Int
	Comment   string
}

type transferBody struct {
	Sequence   uint64
	ValidUntil uint64
	Recipient  string
	Nanos      *big.Int
	Comment    string
}

type signedEnvelope struct {
	Body      transferBody
	PublicKey []byte
	Signature []byte
}

// Sign deterministically produces the signed transfer bytes for the given
// draft and reserved sequence number.
func (w *Wallet) Sign(draft TransferDraft, sequence uint64) ([]byte, error) {
	if draft.Amount == nil || draft.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	body := transferBody{
		Sequence:   sequence,
		ValidUntil: uint64(w.now().Add(w.draftValidity).Unix()),
		Recipient:  draft.Recipient,
		Nanos:      new(big.Int).Mul(draft.Amount, big.NewInt(nanosPerToken)),
		Comment:    draft.Comment,
	}
	payload, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, fmt.Errorf("faucet: encode transfer: %w", err)
	}
	envelope := signedEnvelope{
		Body:      body,
		PublicKey: w.priv.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(w.priv, payload),
	}
	signed, err := rlp.EncodeToBytes(envelope)
	if err != nil {
		return nil, fmt.Errorf("faucet: encode envelope: %w", err)
	}
	return signed, nil
}
