// Package ledger is the account ledger: the only component permitted to
// mutate PMP/PMC balances. Every mutation is atomic with its audit record
// and balances can never go negative.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned for negative (or, on debit, non-positive)
	// amounts before any state is touched.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency is returned for a currency other than PMP/PMC.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInsufficientFunds is re-exported so callers don't import store.
	ErrInsufficientFunds = store.ErrInsufficientFunds
)

// Ledger exposes balance mutation over a Store.
type Ledger struct {
	store store.Store
}

// New creates a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Debit atomically subtracts amount from the user's balance. Fails with
// ErrInsufficientFunds when amount exceeds the current balance; the balance
// is untouched on any failure.
func (l *Ledger) Debit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	if !cur.Valid() {
		return decimal.Zero, ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return l.store.Debit(ctx, userID, cur, amount, reason, refID)
}

// Credit unconditionally adds amount (≥ 0) to the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	if !cur.Valid() {
		return decimal.Zero, ErrInvalidCurrency
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return l.store.Credit(ctx, userID, cur, amount, reason, refID)
}

// GetBalance returns the user's account, creating it with zero balances on
// first sight (accounts exist from signup onward and are never deleted).
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*model.Account, error) {
	return l.store.GetOrCreateAccount(ctx, userID)
}

// BulkCredit applies every debit and credit of a wave plus its execution
// record as one all-or-nothing batch. On failure nothing is applied and no
// record exists, so the wave can be recomputed and retried as a whole.
func (l *Ledger) BulkCredit(ctx context.Context, wave *model.WaveExecution, debits, credits []model.BalanceEntry) error {
	for _, e := range debits {
		if !e.Currency.Valid() {
			return ErrInvalidCurrency
		}
		if e.Amount.IsNegative() {
			return ErrInvalidAmount
		}
	}
	for _, e := range credits {
		if !e.Currency.Valid() {
			return ErrInvalidCurrency
		}
		if e.Amount.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return l.store.ApplyWave(ctx, wave, debits, credits)
}

// History returns the user's audit log, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return l.store.ListTransactions(ctx, userID, limit)
}
