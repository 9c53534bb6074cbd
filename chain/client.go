// Package chain provides access to the blockchain gateway the faucet
// submits transfers through. The faucet core treats the gateway as slow and
// unreliable; every call takes a context and returns typed errors so callers
// can tell chain-level rejection apart from transport trouble.
package chain

import (
	"context"
	"errors"
)

// TxStatus is the gateway's view of a submitted transaction.
type TxStatus string

const (
	// TxPending means the transaction is known but not yet final.
	TxPending TxStatus = "pending"
	// TxConfirmed means the transaction is final on chain.
	TxConfirmed TxStatus = "confirmed"
	// TxRejected means the chain refused the transaction. Terminal.
	TxRejected TxStatus = "rejected"
)

var (
	// ErrRejected indicates the chain itself refused the transaction
	// (validation failure, insufficient funds). Terminal for the request.
	ErrRejected = errors.New("chain: transaction rejected")

	// ErrUnavailable indicates the gateway could not be reached or
	// answered with a transport-level failure. The outcome of the
	// attempted call is unknown.
	ErrUnavailable = errors.New("chain: gateway unavailable")
)

// Client is the chain-access capability consumed by the faucet core.
type Client interface {
	// SubmitTransaction broadcasts raw signed bytes and returns the
	// transaction hash once the network accepts it for inclusion. It does
	// not wait for finality.
	SubmitTransaction(ctx context.Context, raw []byte) (string, error)
	// TransactionStatus reports the current status of a submitted
	// transaction.
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
	// AccountSequence returns the next unused sequence number for the
	// given account.
	AccountSequence(ctx context.Context, account string) (uint64, error)
}
