package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedActiveGame(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	g := &model.PredictionGame{
		ID:     id,
		Title:  "Match " + id,
		Status: model.GameActive,
		Options: []model.GameOption{
			{ID: "home", Label: "Home"},
			{ID: "away", Label: "Away"},
		},
		MinimumStake: d(1),
		MaximumStake: d(100000),
		TotalPool:    decimal.Zero,
		EndTime:      time.Now().Add(time.Hour),
		CreatedAt:    time.Now().UTC(),
	}
	if err := ms.CreateGame(context.Background(), g); err != nil {
		t.Fatalf("failed to seed game: %v", err)
	}
}

func newStake(userID, gameID string, amount decimal.Decimal) *model.Stake {
	return &model.Stake{
		ID:               uuid.New().String(),
		UserID:           userID,
		GameID:           gameID,
		SelectedOptionID: "home",
		BetAmount:        amount,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}
}

// Concurrent placements followed by racing withdrawals: value is conserved,
// every refund happens exactly once, and no balance ever goes negative.
func TestMemoryStore_ConcurrentStakesAndWithdrawals(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedActiveGame(t, ms, "g1")

	const users = 8
	const stakesPerUser = 20
	deposit := d(200)

	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("u%d", i)
		if _, err := ms.Credit(ctx, userIDs[i], model.PMP, deposit, model.ReasonDeposit, ""); err != nil {
			t.Fatalf("failed to fund %s: %v", userIDs[i], err)
		}
	}

	stakeIDs := make([]string, users*stakesPerUser)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		for j := 0; j < stakesPerUser; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				st := newStake(userIDs[i], "g1", d(10))
				if _, err := ms.PlaceStake(ctx, st); err != nil {
					t.Errorf("place stake for %s: %v", userIDs[i], err)
					return
				}
				stakeIDs[i*stakesPerUser+j] = st.ID
			}(i, j)
		}
	}
	wg.Wait()

	g, _ := ms.GetGame(ctx, "g1")
	if !g.TotalPool.Equal(d(users * stakesPerUser * 10)) {
		t.Errorf("pool should be %d, got %s", users*stakesPerUser*10, g.TotalPool)
	}
	if g.CurrentParticipants != users {
		t.Errorf("participants should be %d, got %d", users, g.CurrentParticipants)
	}

	total := g.TotalPool
	for _, u := range userIDs {
		a, err := ms.GetAccount(ctx, u)
		if err != nil {
			t.Fatalf("account %s: %v", u, err)
		}
		if a.PMPBalance.IsNegative() {
			t.Errorf("%s balance went negative: %s", u, a.PMPBalance)
		}
		total = total.Add(a.PMPBalance)
	}
	if !total.Equal(deposit.Mul(d(users))) {
		t.Errorf("balances + pool should equal deposits (%s), got %s", deposit.Mul(d(users)), total)
	}

	// Two racers per stake: exactly one wins the refund, the loser sees the
	// stake already withdrawn.
	var refunds int64
	for idx, id := range stakeIDs {
		owner := userIDs[idx/stakesPerUser]
		for r := 0; r < 2; r++ {
			wg.Add(1)
			go func(id, owner string) {
				defer wg.Done()
				_, _, err := ms.WithdrawStake(ctx, id, owner)
				switch {
				case err == nil:
					atomic.AddInt64(&refunds, 1)
				case errors.Is(err, store.ErrStakeInactive):
				default:
					t.Errorf("unexpected withdraw error: %v", err)
				}
			}(id, owner)
		}
	}
	wg.Wait()

	if refunds != int64(len(stakeIDs)) {
		t.Errorf("expected exactly %d refunds, got %d", len(stakeIDs), refunds)
	}
	for _, u := range userIDs {
		a, _ := ms.GetAccount(ctx, u)
		if !a.PMPBalance.Equal(deposit) {
			t.Errorf("%s should be made whole exactly once, got %s", u, a.PMPBalance)
		}
	}
	g, _ = ms.GetGame(ctx, "g1")
	if !g.TotalPool.IsZero() || g.CurrentParticipants != 0 {
		t.Errorf("pool should be empty after all withdrawals: %s/%d", g.TotalPool, g.CurrentParticipants)
	}
}

// Concurrent placements racing one balance: only as many succeed as the
// balance covers, and the balance never goes negative.
func TestMemoryStore_ConcurrentStakesNeverOverdraw(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedActiveGame(t, ms, "g1")

	if _, err := ms.Credit(ctx, "u1", model.PMP, d(100), model.ReasonDeposit, ""); err != nil {
		t.Fatalf("failed to fund u1: %v", err)
	}

	const attempts = 20
	var placed int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ms.PlaceStake(ctx, newStake("u1", "g1", d(10)))
			switch {
			case err == nil:
				atomic.AddInt64(&placed, 1)
			case errors.Is(err, store.ErrInsufficientFunds):
			default:
				t.Errorf("unexpected place error: %v", err)
			}
		}()
	}
	wg.Wait()

	if placed != 10 {
		t.Errorf("a 100 balance covers exactly 10 stakes of 10, got %d", placed)
	}

	a, _ := ms.GetAccount(ctx, "u1")
	if a.PMPBalance.IsNegative() {
		t.Errorf("balance went negative: %s", a.PMPBalance)
	}
	if !a.PMPBalance.IsZero() {
		t.Errorf("balance should be fully staked, got %s", a.PMPBalance)
	}
	g, _ := ms.GetGame(ctx, "g1")
	if !g.TotalPool.Equal(d(100)) {
		t.Errorf("pool should hold the staked 100, got %s", g.TotalPool)
	}
}

// Several debit entries against one balance must be validated cumulatively:
// each alone is coverable, together they overdraw, and nothing may apply.
func TestApplyWave_RepeatedDebitsCannotOverdraw(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.Credit(ctx, "sleeper", model.PMC, d(100), model.ReasonWaveCredit, "w0")

	wave := &model.WaveExecution{
		ID:            uuid.New().String(),
		WaveType:      model.Wave2Redistribution,
		ExecutionDate: time.Now().UTC(),
		PMCIssued:     d(120),
		AffectedUsers: 1,
		Status:        "COMPLETED",
	}
	err := ms.ApplyWave(ctx, wave,
		[]model.BalanceEntry{
			{UserID: "sleeper", Currency: model.PMC, Amount: d(60)},
			{UserID: "sleeper", Currency: model.PMC, Amount: d(60)},
		},
		[]model.BalanceEntry{{UserID: "active", Currency: model.PMC, Amount: d(120)}},
	)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	a, _ := ms.GetAccount(ctx, "sleeper")
	if !a.PMCBalance.Equal(d(100)) {
		t.Errorf("sleeper balance must be untouched, got %s", a.PMCBalance)
	}
	waves, _ := ms.ListWaveExecutions(ctx, 10)
	if len(waves) != 0 {
		t.Errorf("failed wave must leave no execution record, got %d", len(waves))
	}

	// The same split applies when the entries jointly fit the balance.
	wave2 := &model.WaveExecution{
		ID:            uuid.New().String(),
		WaveType:      model.Wave2Redistribution,
		ExecutionDate: time.Now().UTC(),
		PMCIssued:     d(100),
		AffectedUsers: 1,
		Status:        "COMPLETED",
	}
	err = ms.ApplyWave(ctx, wave2,
		[]model.BalanceEntry{
			{UserID: "sleeper", Currency: model.PMC, Amount: d(40)},
			{UserID: "sleeper", Currency: model.PMC, Amount: d(60)},
		},
		[]model.BalanceEntry{{UserID: "active", Currency: model.PMC, Amount: d(100)}},
	)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	a, _ = ms.GetAccount(ctx, "sleeper")
	if !a.PMCBalance.IsZero() {
		t.Errorf("sleeper should be fully reclaimed, got %s", a.PMCBalance)
	}
}
