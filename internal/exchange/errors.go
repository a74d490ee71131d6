package exchange

import (
	"errors"
	"fmt"
)

// Recoverable trade-request errors. These are returned to the caller
// and never reach the ledger: an invalid trade is refused, not logged.
var (
	ErrUnknownMarket       = errors.New("exchange: unknown market")
	ErrUnknownUser         = errors.New("exchange: unknown user")
	ErrMarketNotOpen       = errors.New("exchange: market not open for trading")
	ErrZeroQuantity        = errors.New("exchange: quantity must be non-zero")
	ErrOversell            = errors.New("exchange: cannot sell more shares than owned")
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrAlreadyResolved     = errors.New("exchange: market already resolved")

	// ErrStaleQuote is returned by CommitTrade when the ledger grew
	// between quote and commit and the exchange is configured to
	// reject rather than re-validate.
	ErrStaleQuote = errors.New("exchange: quote is stale, ledger advanced since it was computed")
)

// InvariantViolationError reports a ledger whose replay would drive a
// balance or share count negative, or that references entities it never
// introduced. It is fatal: the derived state cannot be trusted, so the
// error must surface to the operator rather than be retried or clamped.
type InvariantViolationError struct {
	Seq    int64
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("exchange: ledger invariant violated at seq %d: %s", e.Seq, e.Detail)
}
