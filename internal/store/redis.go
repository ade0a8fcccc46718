package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: game rows and account balances. Writes go to
// the primary store and invalidate the affected keys; reads check Redis first
// then fall back to the primary. Mutations the cache cannot enumerate (mass
// refunds) rely on the short TTL.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func gameKey(id string) string     { return fmt.Sprintf("game:%s", id) }
func accountKey(uid string) string { return fmt.Sprintf("account:%s", uid) }

func (s *CachedStore) cacheGame(ctx context.Context, g *model.PredictionGame) {
	if data, err := json.Marshal(g); err == nil {
		s.rdb.Set(ctx, gameKey(g.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

// --- Accounts ---

func (s *CachedStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := s.primary.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) Credit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	bal, err := s.primary.Credit(ctx, userID, cur, amount, reason, refID)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return bal, nil
}

func (s *CachedStore) Debit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	bal, err := s.primary.Debit(ctx, userID, cur, amount, reason, refID)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return bal, nil
}

// --- Games ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.PredictionGame) error {
	if err := s.primary.CreateGame(ctx, g); err != nil {
		return err
	}
	s.cacheGame(ctx, g)
	return nil
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.PredictionGame, error) {
	data, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == nil {
		var g model.PredictionGame
		if json.Unmarshal(data, &g) == nil {
			return &g, nil
		}
	}

	g, err := s.primary.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheGame(ctx, g)
	return g, nil
}

func (s *CachedStore) UpdateGameStatus(ctx context.Context, id, status string) (*model.PredictionGame, error) {
	g, err := s.primary.UpdateGameStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, gameKey(id))
	return g, nil
}

func (s *CachedStore) CancelGame(ctx context.Context, id string) (int, decimal.Decimal, error) {
	refunded, total, err := s.primary.CancelGame(ctx, id)
	if err != nil {
		return 0, decimal.Zero, err
	}
	// Refunded account keys cannot be enumerated here; they expire by TTL.
	s.rdb.Del(ctx, gameKey(id))
	return refunded, total, nil
}

// --- Stakes ---

func (s *CachedStore) PlaceStake(ctx context.Context, st *model.Stake) (decimal.Decimal, error) {
	bal, err := s.primary.PlaceStake(ctx, st)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Del(ctx, gameKey(st.GameID), accountKey(st.UserID))
	return bal, nil
}

func (s *CachedStore) WithdrawStake(ctx context.Context, stakeID, userID string) (*model.Stake, decimal.Decimal, error) {
	st, bal, err := s.primary.WithdrawStake(ctx, stakeID, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	s.rdb.Del(ctx, gameKey(st.GameID), accountKey(userID))
	return st, bal, nil
}

// --- Waves ---

func (s *CachedStore) ApplyWave(ctx context.Context, wave *model.WaveExecution, debits, credits []model.BalanceEntry) error {
	if err := s.primary.ApplyWave(ctx, wave, debits, credits); err != nil {
		return err
	}
	keys := make([]string, 0, len(debits)+len(credits))
	for _, e := range debits {
		keys = append(keys, accountKey(e.UserID))
	}
	for _, e := range credits {
		keys = append(keys, accountKey(e.UserID))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, limit)
}

func (s *CachedStore) ListGames(ctx context.Context) ([]model.PredictionGame, error) {
	return s.primary.ListGames(ctx)
}

func (s *CachedStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	return s.primary.GetStake(ctx, id)
}

func (s *CachedStore) ListUserStakes(ctx context.Context, userID string) ([]model.Stake, error) {
	return s.primary.ListUserStakes(ctx, userID)
}

func (s *CachedStore) ListWaveExecutions(ctx context.Context, limit int) ([]model.WaveExecution, error) {
	return s.primary.ListWaveExecutions(ctx, limit)
}

func (s *CachedStore) UserWaveRewards(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.UserWaveRewards(ctx, userID)
}

func (s *CachedStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	return s.primary.ActiveUsers(ctx, since)
}

func (s *CachedStore) ActivityScores(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	return s.primary.ActivityScores(ctx, since)
}

func (s *CachedStore) DormantPMC(ctx context.Context, inactiveSince time.Time) (map[string]decimal.Decimal, error) {
	return s.primary.DormantPMC(ctx, inactiveSince)
}

func (s *CachedStore) TopContributors(ctx context.Context, since time.Time, limit int) ([]Contribution, error) {
	return s.primary.TopContributors(ctx, since, limit)
}
