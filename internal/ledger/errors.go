package ledger

import "errors"

// Engine error taxonomy. Callers match with errors.Is; every engine error
// wraps exactly one of these sentinels.
var (
	// ErrInvalidArgument rejects a call before any store access: amount below
	// the minimum, non-positive amount, malformed asset identifier.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientFunds means the balance check failed at open or withdraw
	// time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPriceUnavailable means the oracle could not produce a usable positive
	// price. Retryable by the caller; the engine never retries it.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrPositionNotFound means the position does not exist, is owned by
	// another account, or was already closed.
	ErrPositionNotFound = errors.New("position not found")

	// ErrLedgerInconsistency means a transaction step failed after validation
	// passed. The whole transaction is rolled back.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
