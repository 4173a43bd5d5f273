package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryWallet implements Wallet with an in-memory balance map. Used for
// testing and development; the real balance ledger lives in the account
// service.
type MemoryWallet struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewMemoryWallet creates an empty in-memory wallet.
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{balances: make(map[string]decimal.Decimal)}
}

// Seed sets a user's balance directly. Test/dev helper.
func (w *MemoryWallet) Seed(userID string, balance decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = balance
}

func (w *MemoryWallet) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	bal, ok := w.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return bal, nil
}

func (w *MemoryWallet) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	bal, ok := w.balances[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	next := bal.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, delta.Neg())
	}
	w.balances[userID] = next
	return nil
}
