// Package game holds the prediction-game status machine and the guard rules
// that gate stake placement and withdrawal, plus the pool-counter arithmetic.
//
// Everything here is pure: the store applies these rules inside its
// transactions, and the HTTP layer uses them for early rejection.
package game

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
)

var (
	// ErrNotActive is returned when an operation requires an ACTIVE game.
	ErrNotActive = errors.New("game is not active")

	// ErrStakeOutOfRange is returned when an amount falls outside the
	// game's minimum/maximum stake bounds.
	ErrStakeOutOfRange = errors.New("stake amount out of range")

	// ErrUnknownOption is returned when the selected option is not one of
	// the game's options.
	ErrUnknownOption = errors.New("unknown game option")

	// ErrInvalidTransition is returned for a status change the machine
	// does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidOptions is returned when a game is created with a
	// malformed option list.
	ErrInvalidOptions = errors.New("invalid game options")

	// ErrInvalidStakeBounds is returned when minimum/maximum stake bounds
	// are non-positive or inverted.
	ErrInvalidStakeBounds = errors.New("invalid stake bounds")
)

// transitions is the game status machine:
// PENDING → ACTIVE → ENDED → SETTLED, with PENDING|ACTIVE → CANCELLED.
var transitions = map[string][]string{
	model.GamePending: {model.GameActive, model.GameCancelled},
	model.GameActive:  {model.GameEnded, model.GameCancelled},
	model.GameEnded:   {model.GameSettled},
}

// CanTransition reports whether the status machine permits from → to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known game status.
func ValidStatus(s string) bool {
	switch s {
	case model.GamePending, model.GameActive, model.GameEnded,
		model.GameSettled, model.GameCancelled:
		return true
	}
	return false
}

// CheckStake validates a stake placement against the game: the game must be
// ACTIVE, the option must exist, and the amount must lie within
// [minimum_stake, maximum_stake].
func CheckStake(g *model.PredictionGame, optionID string, amount decimal.Decimal) error {
	if g.Status != model.GameActive {
		return ErrNotActive
	}
	if _, ok := g.Option(optionID); !ok {
		return ErrUnknownOption
	}
	if amount.LessThan(g.MinimumStake) || amount.GreaterThan(g.MaximumStake) {
		return ErrStakeOutOfRange
	}
	return nil
}

// CheckWithdraw validates a stake withdrawal against the game. A stake can
// only be withdrawn while the game is still ACTIVE; once the game has ended
// the position is locked in, even before settlement.
func CheckWithdraw(g *model.PredictionGame) error {
	if g.Status != model.GameActive {
		return ErrNotActive
	}
	return nil
}

// ValidateOptions rejects malformed option lists at creation time: at least
// two options, unique non-blank ids, non-blank labels.
func ValidateOptions(options []model.GameOption) error {
	if len(options) < 2 {
		return ErrInvalidOptions
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		id := strings.TrimSpace(o.ID)
		if id == "" || strings.TrimSpace(o.Label) == "" || seen[id] {
			return ErrInvalidOptions
		}
		seen[id] = true
	}
	return nil
}

// ValidateStakeBounds checks the min/max stake configuration of a new game.
func ValidateStakeBounds(minStake, maxStake decimal.Decimal) error {
	if minStake.LessThanOrEqual(decimal.Zero) || maxStake.LessThan(minStake) {
		return ErrInvalidStakeBounds
	}
	return nil
}

// ApplyStake returns the pool counters after a successful stake placement.
// The participant count only grows on the user's first active stake in the
// game, which the caller reports via firstActive.
func ApplyStake(participants int, pool decimal.Decimal, amount decimal.Decimal, firstActive bool) (int, decimal.Decimal) {
	if firstActive {
		participants++
	}
	return participants, pool.Add(amount)
}

// ApplyWithdrawal returns the pool counters after a successful withdrawal.
// The participant count only shrinks when the user's last active stake in
// the game goes away. Both counters clamp at zero.
func ApplyWithdrawal(participants int, pool decimal.Decimal, refunded decimal.Decimal, lastActive bool) (int, decimal.Decimal) {
	if lastActive {
		participants--
	}
	if participants < 0 {
		participants = 0
	}
	pool = pool.Sub(refunded)
	if pool.IsNegative() {
		pool = decimal.Zero
	}
	return participants, pool
}
