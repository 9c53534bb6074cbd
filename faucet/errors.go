package faucet

import "errors"

var (
	// ErrInvalidRecipient is returned when the recipient address fails
	// validation. No state is created.
	ErrInvalidRecipient = errors.New("faucet: invalid recipient address")

	// ErrInvalidAmount is returned for negative amounts or amounts above
	// the configured per-claim maximum. No state is created.
	ErrInvalidAmount = errors.New("faucet: invalid claim amount")

	// ErrRateLimited is returned when the recipient exhausted the claim
	// window. Recoverable once the window rolls over.
	ErrRateLimited = errors.New("faucet: rate limit exceeded")

	// ErrPaused is returned while the orchestrator is administratively
	// paused.
	ErrPaused = errors.New("faucet: claims paused")

	// ErrStoreUnavailable is returned when the backing store stayed
	// unreachable through the bounded retry budget. The faucet rejects
	// work rather than proceed without its idempotency record.
	ErrStoreUnavailable = errors.New("faucet: backing store unavailable")

	// ErrSequenceConflict is returned when the wallet sequence reservation
	// lost the CAS race more times than the retry bound allows.
	ErrSequenceConflict = errors.New("faucet: sequence reservation conflict")

	// ErrChainRejected is returned when the chain refused the transfer.
	// Terminal for the request.
	ErrChainRejected = errors.New("faucet: chain rejected transaction")

	// ErrChainUnavailable is returned when the chain gateway could not be
	// reached during submission.
	ErrChainUnavailable = errors.New("faucet: chain gateway unavailable")

	// ErrRequestNotFound is returned by status lookups for unknown ids.
	ErrRequestNotFound = errors.New("faucet: request not found")
)
