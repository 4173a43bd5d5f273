// Package wallet defines the coin-balance interface the engine consumes.
// The production implementation is the external account service; this
// package carries the contract and an in-memory implementation for
// development and tests.
package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")

	// ErrUnknownUser is returned when the user has no account.
	ErrUnknownUser = errors.New("wallet: unknown user")
)

// Wallet is the account-service contract. Both operations are atomic and
// strongly consistent: AdjustBalance either applies the full delta or
// returns an error with no change. A negative delta is a debit, a positive
// delta a credit. The engine pairs every debit with a compensating credit
// when its own commit fails.
type Wallet interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error
}
