package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/game"
	"github.com/positivemultiplier/posmul-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single mutex
// plays the role the database transaction plays in PostgresStore: every
// compound mutation runs start-to-finish under it.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	games    map[string]*model.PredictionGame
	stakes   map[string]*model.Stake
	txlog    []model.Transaction
	waves    []model.WaveExecution
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		games:    make(map[string]*model.PredictionGame),
		stakes:   make(map[string]*model.Stake),
	}
}

// --- Accounts ---

// getOrCreate must be called with the write lock held.
func (s *MemoryStore) getOrCreate(userID string) *model.Account {
	a, ok := s.accounts[userID]
	if !ok {
		a = &model.Account{
			UserID:     userID,
			PMPBalance: decimal.Zero,
			PMCBalance: decimal.Zero,
			CreatedAt:  time.Now().UTC(),
		}
		s.accounts[userID] = a
	}
	return a
}

// balanceOf must be called with the lock held.
func balanceOf(a *model.Account, cur model.Currency) *decimal.Decimal {
	if cur == model.PMC {
		return &a.PMCBalance
	}
	return &a.PMPBalance
}

// appendTx must be called with the write lock held.
func (s *MemoryStore) appendTx(userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) {
	s.txlog = append(s.txlog, model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Currency:  cur,
		Amount:    amount,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *MemoryStore) GetOrCreateAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.getOrCreate(userID)
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.getOrCreate(userID)
	bal := balanceOf(a, cur)
	*bal = bal.Add(amount)
	s.appendTx(userID, cur, amount, reason, refID)
	return *bal, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.getOrCreate(userID)
	bal := balanceOf(a, cur)
	if bal.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	*bal = bal.Sub(amount)
	s.appendTx(userID, cur, amount.Neg(), reason, refID)
	return *bal, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.txlog) - 1; i >= 0; i-- {
		if s.txlog[i].UserID != userID {
			continue
		}
		result = append(result, s.txlog[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// --- Games ---

func (s *MemoryStore) CreateGame(_ context.Context, g *model.PredictionGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return ErrDuplicate
	}
	copy := *g
	copy.Options = append([]model.GameOption(nil), g.Options...)
	s.games[g.ID] = &copy
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.PredictionGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	copy := *g
	copy.Options = append([]model.GameOption(nil), g.Options...)
	return &copy, nil
}

func (s *MemoryStore) ListGames(_ context.Context) ([]model.PredictionGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]model.PredictionGame, 0, len(s.games))
	for _, g := range s.games {
		copy := *g
		copy.Options = append([]model.GameOption(nil), g.Options...)
		games = append(games, copy)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].CreatedAt.After(games[j].CreatedAt) })
	return games, nil
}

func (s *MemoryStore) UpdateGameStatus(_ context.Context, id, status string) (*model.PredictionGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	if !game.CanTransition(g.Status, status) {
		return nil, game.ErrInvalidTransition
	}
	g.Status = status
	if status == model.GameSettled {
		now := time.Now().UTC()
		g.SettlementTime = &now
	}
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) CancelGame(_ context.Context, id string) (int, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return 0, decimal.Zero, ErrGameNotFound
	}
	if !game.CanTransition(g.Status, model.GameCancelled) {
		return 0, decimal.Zero, game.ErrInvalidTransition
	}

	refunded := 0
	total := decimal.Zero
	for _, st := range s.stakes {
		if st.GameID != id || !st.IsActive {
			continue
		}
		a := s.getOrCreate(st.UserID)
		a.PMPBalance = a.PMPBalance.Add(st.BetAmount)
		st.IsActive = false
		s.appendTx(st.UserID, model.PMP, st.BetAmount, model.ReasonCancelRefund, st.ID)
		refunded++
		total = total.Add(st.BetAmount)
	}

	g.Status = model.GameCancelled
	g.CurrentParticipants = 0
	g.TotalPool = decimal.Zero
	return refunded, total, nil
}

// --- Stakes ---

func (s *MemoryStore) PlaceStake(_ context.Context, st *model.Stake) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[st.GameID]
	if !ok {
		return decimal.Zero, ErrGameNotFound
	}
	// Re-check under the lock: the game may have left ACTIVE since the
	// caller's validation read.
	if g.Status != model.GameActive {
		return decimal.Zero, game.ErrNotActive
	}

	a := s.getOrCreate(st.UserID)
	if a.PMPBalance.LessThan(st.BetAmount) {
		return decimal.Zero, ErrInsufficientFunds
	}

	firstActive := true
	for _, other := range s.stakes {
		if other.UserID == st.UserID && other.GameID == st.GameID && other.IsActive {
			firstActive = false
			break
		}
	}

	a.PMPBalance = a.PMPBalance.Sub(st.BetAmount)
	copy := *st
	s.stakes[st.ID] = &copy
	s.appendTx(st.UserID, model.PMP, st.BetAmount.Neg(), model.ReasonStakeDebit, st.ID)
	g.CurrentParticipants, g.TotalPool = game.ApplyStake(g.CurrentParticipants, g.TotalPool, st.BetAmount, firstActive)
	return a.PMPBalance, nil
}

func (s *MemoryStore) WithdrawStake(_ context.Context, stakeID, userID string) (*model.Stake, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stakes[stakeID]
	if !ok {
		return nil, decimal.Zero, ErrStakeNotFound
	}
	if st.UserID != userID {
		return nil, decimal.Zero, ErrNotOwner
	}
	if !st.IsActive {
		return nil, decimal.Zero, ErrStakeInactive
	}
	g, ok := s.games[st.GameID]
	if !ok {
		return nil, decimal.Zero, ErrGameNotFound
	}
	if err := game.CheckWithdraw(g); err != nil {
		return nil, decimal.Zero, err
	}

	st.IsActive = false
	a := s.getOrCreate(userID)
	a.PMPBalance = a.PMPBalance.Add(st.BetAmount)
	s.appendTx(userID, model.PMP, st.BetAmount, model.ReasonStakeRefund, st.ID)

	lastActive := true
	for _, other := range s.stakes {
		if other.ID != st.ID && other.UserID == userID && other.GameID == st.GameID && other.IsActive {
			lastActive = false
			break
		}
	}
	g.CurrentParticipants, g.TotalPool = game.ApplyWithdrawal(g.CurrentParticipants, g.TotalPool, st.BetAmount, lastActive)

	copy := *st
	return &copy, a.PMPBalance, nil
}

func (s *MemoryStore) GetStake(_ context.Context, id string) (*model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stakes[id]
	if !ok {
		return nil, ErrStakeNotFound
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListUserStakes(_ context.Context, userID string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Stake
	for _, st := range s.stakes {
		if st.UserID == userID {
			result = append(result, *st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// --- Waves ---

// ApplyWave validates the whole batch before touching any balance, so a
// failing entry leaves nothing applied and no wave record written.
func (s *MemoryStore) ApplyWave(_ context.Context, wave *model.WaveExecution, debits, credits []model.BalanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Phase 1: validate, accumulating per balance so several debit entries
	// against one account cannot jointly overdraw it.
	type balKey struct {
		user string
		cur  model.Currency
	}
	left := make(map[balKey]decimal.Decimal)
	for _, e := range debits {
		a, ok := s.accounts[e.UserID]
		if !ok {
			return ErrAccountNotFound
		}
		k := balKey{e.UserID, e.Currency}
		bal, seen := left[k]
		if !seen {
			bal = *balanceOf(a, e.Currency)
		}
		bal = bal.Sub(e.Amount)
		if bal.IsNegative() {
			return ErrInsufficientFunds
		}
		left[k] = bal
	}

	// Phase 2: apply.
	for _, e := range debits {
		a := s.accounts[e.UserID]
		bal := balanceOf(a, e.Currency)
		*bal = bal.Sub(e.Amount)
		s.appendTx(e.UserID, e.Currency, e.Amount.Neg(), model.ReasonWaveReclaim, wave.ID)
	}
	for _, e := range credits {
		a := s.getOrCreate(e.UserID)
		bal := balanceOf(a, e.Currency)
		*bal = bal.Add(e.Amount)
		s.appendTx(e.UserID, e.Currency, e.Amount, model.ReasonWaveCredit, wave.ID)
	}

	s.waves = append(s.waves, *wave)
	return nil
}

func (s *MemoryStore) ListWaveExecutions(_ context.Context, limit int) ([]model.WaveExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WaveExecution
	for i := len(s.waves) - 1; i >= 0; i-- {
		result = append(result, s.waves[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) UserWaveRewards(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, tx := range s.txlog {
		if tx.UserID == userID && tx.Reason == model.ReasonWaveCredit {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

// --- Wave inputs ---

func (s *MemoryStore) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, tx := range s.txlog {
		if !tx.CreatedAt.Before(since) {
			seen[tx.UserID] = true
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) ActivityScores(_ context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make(map[string]decimal.Decimal)
	for _, st := range s.stakes {
		if st.CreatedAt.Before(since) {
			continue
		}
		scores[st.UserID] = scores[st.UserID].Add(decimal.NewFromInt(1))
	}
	return scores, nil
}

func (s *MemoryStore) DormantPMC(_ context.Context, inactiveSince time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastMove := make(map[string]time.Time)
	for _, tx := range s.txlog {
		if tx.Currency != model.PMC {
			continue
		}
		if tx.CreatedAt.After(lastMove[tx.UserID]) {
			lastMove[tx.UserID] = tx.CreatedAt
		}
	}

	dormant := make(map[string]decimal.Decimal)
	for _, a := range s.accounts {
		if !a.PMCBalance.IsPositive() {
			continue
		}
		if last, ok := lastMove[a.UserID]; ok && !last.Before(inactiveSince) {
			continue
		}
		dormant[a.UserID] = a.PMCBalance
	}
	return dormant, nil
}

func (s *MemoryStore) TopContributors(_ context.Context, since time.Time, limit int) ([]Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, st := range s.stakes {
		if st.CreatedAt.Before(since) {
			continue
		}
		totals[st.UserID] = totals[st.UserID].Add(st.BetAmount)
	}

	contributions := make([]Contribution, 0, len(totals))
	for u, t := range totals {
		contributions = append(contributions, Contribution{UserID: u, Total: t})
	}
	sort.Slice(contributions, func(i, j int) bool {
		if !contributions[i].Total.Equal(contributions[j].Total) {
			return contributions[i].Total.GreaterThan(contributions[j].Total)
		}
		return contributions[i].UserID < contributions[j].UserID
	})
	if limit > 0 && len(contributions) > limit {
		contributions = contributions[:limit]
	}
	return contributions, nil
}
