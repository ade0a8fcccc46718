// Package store defines the persistence interface for the staking engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Compound mutations (stake placement, withdrawal, cancellation, wave
// application) are atomic: a single database transaction with row locking in
// PostgreSQL, a single mutex section in memory. Partial application is
// structurally impossible — there is no code path that commits a debit
// without its stake or a stake flip without its refund.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
)

// newID generates row ids for audit records created inside the store.
func newID() string { return uuid.New().String() }

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrGameNotFound      = errors.New("game not found")
	ErrStakeNotFound     = errors.New("stake not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStakeInactive     = errors.New("stake already withdrawn")
	ErrNotOwner          = errors.New("stake belongs to another user")
	ErrDuplicate         = errors.New("already exists")
)

// Contribution is one user's total staked amount over a ranking window.
type Contribution struct {
	UserID string          `json:"user_id"`
	Total  decimal.Decimal `json:"total"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// GetOrCreateAccount returns the account, creating it with zero
	// balances on first sight of the user.
	GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetAccount retrieves an account by user id.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// Credit unconditionally adds amount (≥ 0) to one balance and writes
	// the audit transaction in the same database transaction.
	Credit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error)

	// Debit atomically subtracts amount from one balance, failing with
	// ErrInsufficientFunds if the balance would go negative.
	Debit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error)

	// ListTransactions returns a user's audit log, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// --- Games ---

	// CreateGame persists a new game.
	CreateGame(ctx context.Context, g *model.PredictionGame) error

	// GetGame retrieves a game by id.
	GetGame(ctx context.Context, id string) (*model.PredictionGame, error)

	// ListGames returns all games, newest first.
	ListGames(ctx context.Context) ([]model.PredictionGame, error)

	// UpdateGameStatus moves a game to a new status, enforcing the status
	// machine under exclusive access. Cancellation goes through CancelGame.
	UpdateGameStatus(ctx context.Context, id, status string) (*model.PredictionGame, error)

	// CancelGame flips the game to CANCELLED and refunds every active
	// stake in one atomic unit. Returns the number of stakes refunded and
	// the total amount returned.
	CancelGame(ctx context.Context, id string) (int, decimal.Decimal, error)

	// --- Stakes ---

	// PlaceStake debits the user's PMP balance, inserts the stake and
	// updates the game's pool counters as one atomic unit. The game's
	// ACTIVE status is re-checked under lock.
	PlaceStake(ctx context.Context, s *model.Stake) (decimal.Decimal, error)

	// WithdrawStake marks the stake withdrawn, credits the refund and
	// decrements the pool counters as one atomic unit. Returns the
	// withdrawn stake and the user's new PMP balance.
	WithdrawStake(ctx context.Context, stakeID, userID string) (*model.Stake, decimal.Decimal, error)

	// GetStake retrieves a stake by id.
	GetStake(ctx context.Context, id string) (*model.Stake, error)

	// ListUserStakes returns all of a user's stakes, newest first.
	ListUserStakes(ctx context.Context, userID string) ([]model.Stake, error)

	// --- Waves ---

	// ApplyWave applies all debits and credits and writes the wave
	// execution record in one atomic unit. Debits never exceed the balances
	// they were computed from, but implementations re-check under lock.
	ApplyWave(ctx context.Context, wave *model.WaveExecution, debits, credits []model.BalanceEntry) error

	// ListWaveExecutions returns recent wave executions, newest first.
	ListWaveExecutions(ctx context.Context, limit int) ([]model.WaveExecution, error)

	// UserWaveRewards returns the total PMC a user has received from waves.
	UserWaveRewards(ctx context.Context, userID string) (decimal.Decimal, error)

	// --- Wave inputs ---

	// ActiveUsers returns users with any ledger activity since the cutoff.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	// ActivityScores returns per-user counts of stakes placed since the
	// cutoff, used as wave 2 redistribution weights.
	ActivityScores(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error)

	// DormantPMC returns positive PMC balances with no PMC movement since
	// the cutoff.
	DormantPMC(ctx context.Context, inactiveSince time.Time) (map[string]decimal.Decimal, error)

	// TopContributors ranks users by total amount staked since the cutoff.
	TopContributors(ctx context.Context, since time.Time, limit int) ([]Contribution, error)
}
