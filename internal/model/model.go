// Package model defines the core domain types shared across the staking engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the two point currencies.
type Currency string

const (
	// PMP is the risk-free point currency used to place stakes.
	PMP Currency = "PMP"
	// PMC is the risk-bearing point currency earned through rewards and waves.
	PMC Currency = "PMC"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool { return c == PMP || c == PMC }

// Game statuses.
const (
	GamePending   = "PENDING"
	GameActive    = "ACTIVE"
	GameEnded     = "ENDED"
	GameSettled   = "SETTLED"
	GameCancelled = "CANCELLED"
)

// Transaction reasons. Every balance mutation carries one of these so the
// transaction log explains where each point came from or went.
const (
	ReasonStakeDebit   = "stake_debit"
	ReasonStakeRefund  = "stake_refund"
	ReasonCancelRefund = "cancel_refund"
	ReasonWaveCredit   = "wave_credit"
	ReasonWaveReclaim  = "wave_reclaim"
	ReasonDeposit      = "deposit"
	ReasonPayout       = "settlement_payout"
)

// Wave types.
const (
	Wave1Equal          = "WAVE1_EQUAL"
	Wave2Redistribution = "WAVE2_REDISTRIBUTION"
	Wave3Contribution   = "WAVE3_CONTRIBUTION"
)

// Account holds one user's PMP and PMC balances.
// Balances are never negative; only the ledger mutates them.
type Account struct {
	UserID     string          `json:"user_id" db:"user_id"`
	PMPBalance decimal.Decimal `json:"pmp_balance" db:"pmp_balance"`
	PMCBalance decimal.Decimal `json:"pmc_balance" db:"pmc_balance"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// GameOption is one selectable outcome of a prediction game.
// Options are validated at game creation; malformed option data is rejected
// at the boundary rather than tolerated on every read.
type GameOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PredictionGame is one prediction game with its status machine and
// aggregate pool counters.
type PredictionGame struct {
	ID                  string          `json:"id" db:"id"`
	Title               string          `json:"title" db:"title"`
	Status              string          `json:"status" db:"status"`
	Options             []GameOption    `json:"options" db:"options"`
	MinimumStake        decimal.Decimal `json:"minimum_stake" db:"minimum_stake"`
	MaximumStake        decimal.Decimal `json:"maximum_stake" db:"maximum_stake"`
	CurrentParticipants int             `json:"current_participants" db:"current_participants"`
	TotalPool           decimal.Decimal `json:"total_pool" db:"total_pool"`
	EndTime             time.Time       `json:"end_time" db:"end_time"`
	SettlementTime      *time.Time      `json:"settlement_time,omitempty" db:"settlement_time"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// Option returns the game option with the given id, if present.
func (g *PredictionGame) Option(optionID string) (GameOption, bool) {
	for _, o := range g.Options {
		if o.ID == optionID {
			return o, true
		}
	}
	return GameOption{}, false
}

// Stake is one user's staked amount on one option of one prediction game.
// Once IsActive flips to false the stake is immutable; stakes are kept for
// audit and never physically deleted.
type Stake struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	GameID           string          `json:"game_id" db:"game_id"`
	SelectedOptionID string          `json:"selected_option_id" db:"selected_option_id"`
	BetAmount        decimal.Decimal `json:"bet_amount" db:"bet_amount"`
	ConfidenceLevel  int             `json:"confidence_level" db:"confidence_level"` // 0–100, advisory only
	IsActive         bool            `json:"is_active" db:"is_active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable audit record of one balance mutation.
// Amount is signed: credits positive, debits negative.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Currency  Currency        `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Reason    string          `json:"reason" db:"reason"`
	RefID     string          `json:"ref_id,omitempty" db:"ref_id"` // stake id, game id or wave id
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// WaveExecution records one completed MoneyWave run. It is written in the
// same transaction as its credits: the record never exists without the
// credits having been applied, and vice versa.
type WaveExecution struct {
	ID            string          `json:"id" db:"id"`
	WaveType      string          `json:"wave_type" db:"wave_type"`
	ExecutionDate time.Time       `json:"execution_date" db:"execution_date"`
	PMCIssued     decimal.Decimal `json:"pmc_issued" db:"pmc_issued"`
	AffectedUsers int             `json:"affected_users" db:"affected_users"`
	Status        string          `json:"status" db:"status"`
}

// BalanceEntry is one (user, currency, amount) line of a bulk wave apply.
type BalanceEntry struct {
	UserID   string          `json:"user_id"`
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}
