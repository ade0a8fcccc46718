package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/game"
	"github.com/positivemultiplier/posmul-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Every compound mutation runs in one transaction with SELECT ... FOR UPDATE
// row locking on the account and game rows it touches, so concurrent stakes
// and withdrawals serialize instead of racing read-then-write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// balanceColumn maps a currency to its accounts column. Callers validate the
// currency first; this never receives arbitrary input.
func balanceColumn(cur model.Currency) string {
	if cur == model.PMC {
		return "pmc_balance"
	}
	return "pmp_balance"
}

// ensureAccount inserts a zero-balance account row if the user has none.
// Must run inside the caller's transaction.
func ensureAccount(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, pmp_balance, pmc_balance, created_at)
		 VALUES ($1, 0, 0, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC())
	return err
}

// lockBalance locks the account row and returns the requested balance.
// Must run inside the caller's transaction.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string, cur model.Currency) (decimal.Decimal, error) {
	var balS string
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`, balanceColumn(cur)),
		userID).Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	bal, _ := decimal.NewFromString(balS)
	return bal, nil
}

// insertTx appends one immutable audit row. Must run inside the caller's
// transaction so the audit log can never disagree with the balance.
func insertTx(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, currency, amount, reason, ref_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		t.ID, t.UserID, string(t.Currency), t.Amount.String(), t.Reason, t.RefID, t.CreatedAt)
	return err
}

func newTx(userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) *model.Transaction {
	return &model.Transaction{
		ID:        newID(),
		UserID:    userID,
		Currency:  cur,
		Amount:    amount,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
}

// --- Accounts ---

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := ensureAccount(ctx, tx, userID); err != nil {
		return nil, err
	}

	a, err := scanAccount(tx.QueryRow(ctx,
		`SELECT user_id, pmp_balance::TEXT, pmc_balance::TEXT, created_at
		 FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT user_id, pmp_balance::TEXT, pmc_balance::TEXT, created_at
		 FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	if err := ensureAccount(ctx, tx, userID); err != nil {
		return decimal.Zero, err
	}
	bal, err := lockBalance(ctx, tx, userID, cur)
	if err != nil {
		return decimal.Zero, err
	}

	newBal := bal.Add(amount)
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = $2::NUMERIC WHERE user_id = $1`, balanceColumn(cur)),
		userID, newBal.String()); err != nil {
		return decimal.Zero, err
	}
	if err := insertTx(ctx, tx, newTx(userID, cur, amount, reason, refID)); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, cur model.Currency, amount decimal.Decimal, reason, refID string) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	bal, err := lockBalance(ctx, tx, userID, cur)
	if errors.Is(err, ErrAccountNotFound) {
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, err
	}
	if bal.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}

	newBal := bal.Sub(amount)
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = $2::NUMERIC WHERE user_id = $1`, balanceColumn(cur)),
		userID, newBal.String()); err != nil {
		return decimal.Zero, err
	}
	if err := insertTx(ctx, tx, newTx(userID, cur, amount.Neg(), reason, refID)); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	q := `SELECT id, user_id, currency, amount::TEXT, reason, ref_id, created_at
	      FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var cur, amountS string
		if err := rows.Scan(&t.ID, &t.UserID, &cur, &amountS, &t.Reason, &t.RefID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Currency = model.Currency(cur)
		t.Amount, _ = decimal.NewFromString(amountS)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Games ---

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.PredictionGame) error {
	options, err := json.Marshal(g.Options)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO prediction_games
		   (id, title, status, options, minimum_stake, maximum_stake,
		    current_participants, total_pool, end_time, settlement_time, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10, $11)`,
		g.ID, g.Title, g.Status, options,
		g.MinimumStake.String(), g.MaximumStake.String(),
		g.CurrentParticipants, g.TotalPool.String(),
		g.EndTime, g.SettlementTime, g.CreatedAt)
	return err
}

const gameColumns = `id, title, status, options, minimum_stake::TEXT, maximum_stake::TEXT,
	current_participants, total_pool::TEXT, end_time, settlement_time, created_at`

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.PredictionGame, error) {
	g, err := scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM prediction_games WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	return g, err
}

func (s *PostgresStore) ListGames(ctx context.Context) ([]model.PredictionGame, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM prediction_games ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []model.PredictionGame
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

func (s *PostgresStore) UpdateGameStatus(ctx context.Context, id, status string) (*model.PredictionGame, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM prediction_games WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	if !game.CanTransition(current, status) {
		return nil, game.ErrInvalidTransition
	}

	if status == model.GameSettled {
		_, err = tx.Exec(ctx,
			`UPDATE prediction_games SET status = $2, settlement_time = $3 WHERE id = $1`,
			id, status, time.Now().UTC())
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE prediction_games SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return nil, err
	}

	g, err := scanGame(tx.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM prediction_games WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// CancelGame refunds every active stake of the game and flips it to
// CANCELLED in one transaction. If anything fails, nothing is applied.
func (s *PostgresStore) CancelGame(ctx context.Context, id string) (int, decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM prediction_games WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, decimal.Zero, ErrGameNotFound
	}
	if err != nil {
		return 0, decimal.Zero, err
	}
	if !game.CanTransition(current, model.GameCancelled) {
		return 0, decimal.Zero, game.ErrInvalidTransition
	}

	rows, err := tx.Query(ctx,
		`SELECT id, user_id, bet_amount::TEXT FROM predictions
		 WHERE game_id = $1 AND is_active ORDER BY user_id FOR UPDATE`, id)
	if err != nil {
		return 0, decimal.Zero, err
	}
	type refund struct {
		stakeID, userID string
		amount          decimal.Decimal
	}
	var refunds []refund
	for rows.Next() {
		var r refund
		var amountS string
		if err := rows.Scan(&r.stakeID, &r.userID, &amountS); err != nil {
			rows.Close()
			return 0, decimal.Zero, err
		}
		r.amount, _ = decimal.NewFromString(amountS)
		refunds = append(refunds, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, decimal.Zero, err
	}

	total := decimal.Zero
	for _, r := range refunds {
		if _, err := tx.Exec(ctx,
			`UPDATE predictions SET is_active = FALSE WHERE id = $1`, r.stakeID); err != nil {
			return 0, decimal.Zero, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET pmp_balance = pmp_balance + $2::NUMERIC WHERE user_id = $1`,
			r.userID, r.amount.String()); err != nil {
			return 0, decimal.Zero, err
		}
		if err := insertTx(ctx, tx, newTx(r.userID, model.PMP, r.amount, model.ReasonCancelRefund, r.stakeID)); err != nil {
			return 0, decimal.Zero, err
		}
		total = total.Add(r.amount)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prediction_games
		 SET status = $2, current_participants = 0, total_pool = 0
		 WHERE id = $1`, id, model.GameCancelled); err != nil {
		return 0, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, decimal.Zero, err
	}
	return len(refunds), total, nil
}

// --- Stakes ---

// PlaceStake locks the game row first, then the account row, so concurrent
// placements on the same game serialize and the ACTIVE check cannot go stale.
func (s *PostgresStore) PlaceStake(ctx context.Context, st *model.Stake) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM prediction_games WHERE id = $1 FOR UPDATE`, st.GameID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrGameNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	if status != model.GameActive {
		return decimal.Zero, game.ErrNotActive
	}

	if err := ensureAccount(ctx, tx, st.UserID); err != nil {
		return decimal.Zero, err
	}
	bal, err := lockBalance(ctx, tx, st.UserID, model.PMP)
	if err != nil {
		return decimal.Zero, err
	}
	if bal.LessThan(st.BetAmount) {
		return decimal.Zero, ErrInsufficientFunds
	}

	var hasActive bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM predictions
		 WHERE user_id = $1 AND game_id = $2 AND is_active)`,
		st.UserID, st.GameID).Scan(&hasActive); err != nil {
		return decimal.Zero, err
	}

	newBal := bal.Sub(st.BetAmount)
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET pmp_balance = $2::NUMERIC WHERE user_id = $1`,
		st.UserID, newBal.String()); err != nil {
		return decimal.Zero, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO predictions
		   (id, user_id, game_id, selected_option_id, bet_amount, confidence_level, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, TRUE, $7)`,
		st.ID, st.UserID, st.GameID, st.SelectedOptionID,
		st.BetAmount.String(), st.ConfidenceLevel, st.CreatedAt); err != nil {
		return decimal.Zero, err
	}

	if err := insertTx(ctx, tx, newTx(st.UserID, model.PMP, st.BetAmount.Neg(), model.ReasonStakeDebit, st.ID)); err != nil {
		return decimal.Zero, err
	}

	bump := 0
	if !hasActive {
		bump = 1
	}
	if _, err := tx.Exec(ctx,
		`UPDATE prediction_games
		 SET current_participants = current_participants + $2,
		     total_pool = total_pool + $3::NUMERIC
		 WHERE id = $1`,
		st.GameID, bump, st.BetAmount.String()); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

func (s *PostgresStore) WithdrawStake(ctx context.Context, stakeID, userID string) (*model.Stake, decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	st, err := scanStake(tx.QueryRow(ctx,
		`SELECT `+stakeColumns+` FROM predictions WHERE id = $1 FOR UPDATE`, stakeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, decimal.Zero, ErrStakeNotFound
	}
	if err != nil {
		return nil, decimal.Zero, err
	}
	if st.UserID != userID {
		return nil, decimal.Zero, ErrNotOwner
	}
	if !st.IsActive {
		return nil, decimal.Zero, ErrStakeInactive
	}

	var status string
	if err := tx.QueryRow(ctx,
		`SELECT status FROM prediction_games WHERE id = $1 FOR UPDATE`, st.GameID).Scan(&status); err != nil {
		return nil, decimal.Zero, err
	}
	if status != model.GameActive {
		return nil, decimal.Zero, game.ErrNotActive
	}

	if _, err := tx.Exec(ctx,
		`UPDATE predictions SET is_active = FALSE WHERE id = $1`, stakeID); err != nil {
		return nil, decimal.Zero, err
	}
	st.IsActive = false

	bal, err := lockBalance(ctx, tx, userID, model.PMP)
	if err != nil {
		return nil, decimal.Zero, err
	}
	newBal := bal.Add(st.BetAmount)
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET pmp_balance = $2::NUMERIC WHERE user_id = $1`,
		userID, newBal.String()); err != nil {
		return nil, decimal.Zero, err
	}
	if err := insertTx(ctx, tx, newTx(userID, model.PMP, st.BetAmount, model.ReasonStakeRefund, st.ID)); err != nil {
		return nil, decimal.Zero, err
	}

	var hasOther bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM predictions
		 WHERE user_id = $1 AND game_id = $2 AND is_active AND id <> $3)`,
		userID, st.GameID, stakeID).Scan(&hasOther); err != nil {
		return nil, decimal.Zero, err
	}

	drop := 0
	if !hasOther {
		drop = 1
	}
	if _, err := tx.Exec(ctx,
		`UPDATE prediction_games
		 SET current_participants = GREATEST(current_participants - $2, 0),
		     total_pool = GREATEST(total_pool - $3::NUMERIC, 0)
		 WHERE id = $1`,
		st.GameID, drop, st.BetAmount.String()); err != nil {
		return nil, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, err
	}
	return st, newBal, nil
}

const stakeColumns = `id, user_id, game_id, selected_option_id, bet_amount::TEXT,
	confidence_level, is_active, created_at`

func (s *PostgresStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	st, err := scanStake(s.pool.QueryRow(ctx,
		`SELECT `+stakeColumns+` FROM predictions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStakeNotFound
	}
	return st, err
}

func (s *PostgresStore) ListUserStakes(ctx context.Context, userID string) ([]model.Stake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stakeColumns+` FROM predictions
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []model.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, *st)
	}
	return stakes, rows.Err()
}

// --- Waves ---

// ApplyWave applies the whole batch and the execution record in one
// transaction: a partial failure rolls everything back, so re-running the
// wave later cannot double-credit anyone. Accounts are locked in sorted
// order by the distributor to keep lock acquisition deterministic.
func (s *PostgresStore) ApplyWave(ctx context.Context, wave *model.WaveExecution, debits, credits []model.BalanceEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range debits {
		bal, err := lockBalance(ctx, tx, e.UserID, e.Currency)
		if err != nil {
			return err
		}
		if bal.LessThan(e.Amount) {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE accounts SET %s = $2::NUMERIC WHERE user_id = $1`, balanceColumn(e.Currency)),
			e.UserID, bal.Sub(e.Amount).String()); err != nil {
			return err
		}
		if err := insertTx(ctx, tx, newTx(e.UserID, e.Currency, e.Amount.Neg(), model.ReasonWaveReclaim, wave.ID)); err != nil {
			return err
		}
	}

	for _, e := range credits {
		if err := ensureAccount(ctx, tx, e.UserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE accounts SET %s = %s + $2::NUMERIC WHERE user_id = $1`,
				balanceColumn(e.Currency), balanceColumn(e.Currency)),
			e.UserID, e.Amount.String()); err != nil {
			return err
		}
		if err := insertTx(ctx, tx, newTx(e.UserID, e.Currency, e.Amount, model.ReasonWaveCredit, wave.ID)); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wave_executions (id, wave_type, execution_date, pmc_issued, affected_users, status)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		wave.ID, wave.WaveType, wave.ExecutionDate,
		wave.PMCIssued.String(), wave.AffectedUsers, wave.Status); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListWaveExecutions(ctx context.Context, limit int) ([]model.WaveExecution, error) {
	q := `SELECT id, wave_type, execution_date, pmc_issued::TEXT, affected_users, status
	      FROM wave_executions ORDER BY execution_date DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waves []model.WaveExecution
	for rows.Next() {
		var w model.WaveExecution
		var issuedS string
		if err := rows.Scan(&w.ID, &w.WaveType, &w.ExecutionDate, &issuedS, &w.AffectedUsers, &w.Status); err != nil {
			return nil, err
		}
		w.PMCIssued, _ = decimal.NewFromString(issuedS)
		waves = append(waves, w)
	}
	return waves, rows.Err()
}

func (s *PostgresStore) UserWaveRewards(ctx context.Context, userID string) (decimal.Decimal, error) {
	var totalS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM transactions
		 WHERE user_id = $1 AND reason = $2`, userID, model.ReasonWaveCredit).Scan(&totalS)
	if err != nil {
		return decimal.Zero, err
	}
	total, _ := decimal.NewFromString(totalS)
	return total, nil
}

// --- Wave inputs ---

func (s *PostgresStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM transactions
		 WHERE created_at >= $1 ORDER BY user_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) ActivityScores(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COUNT(*)::TEXT FROM predictions
		 WHERE created_at >= $1 GROUP BY user_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]decimal.Decimal)
	for rows.Next() {
		var u, countS string
		if err := rows.Scan(&u, &countS); err != nil {
			return nil, err
		}
		scores[u], _ = decimal.NewFromString(countS)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) DormantPMC(ctx context.Context, inactiveSince time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.user_id, a.pmc_balance::TEXT FROM accounts a
		 WHERE a.pmc_balance > 0
		   AND NOT EXISTS (
		     SELECT 1 FROM transactions t
		     WHERE t.user_id = a.user_id AND t.currency = $1 AND t.created_at >= $2
		   )`, string(model.PMC), inactiveSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dormant := make(map[string]decimal.Decimal)
	for rows.Next() {
		var u, balS string
		if err := rows.Scan(&u, &balS); err != nil {
			return nil, err
		}
		dormant[u], _ = decimal.NewFromString(balS)
	}
	return dormant, rows.Err()
}

func (s *PostgresStore) TopContributors(ctx context.Context, since time.Time, limit int) ([]Contribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COALESCE(SUM(bet_amount), 0)::TEXT AS total
		 FROM predictions WHERE created_at >= $1
		 GROUP BY user_id ORDER BY SUM(bet_amount) DESC, user_id LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributions []Contribution
	for rows.Next() {
		var c Contribution
		var totalS string
		if err := rows.Scan(&c.UserID, &totalS); err != nil {
			return nil, err
		}
		c.Total, _ = decimal.NewFromString(totalS)
		contributions = append(contributions, c)
	}
	return contributions, rows.Err()
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanAccount(row pgxRow) (*model.Account, error) {
	var a model.Account
	var pmpS, pmcS string
	if err := row.Scan(&a.UserID, &pmpS, &pmcS, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.PMPBalance, _ = decimal.NewFromString(pmpS)
	a.PMCBalance, _ = decimal.NewFromString(pmcS)
	return &a, nil
}

func scanGame(row pgxRow) (*model.PredictionGame, error) {
	var g model.PredictionGame
	var options []byte
	var minS, maxS, poolS string
	if err := row.Scan(&g.ID, &g.Title, &g.Status, &options, &minS, &maxS,
		&g.CurrentParticipants, &poolS, &g.EndTime, &g.SettlementTime, &g.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &g.Options); err != nil {
		return nil, fmt.Errorf("game %s has malformed options: %w", g.ID, err)
	}
	g.MinimumStake, _ = decimal.NewFromString(minS)
	g.MaximumStake, _ = decimal.NewFromString(maxS)
	g.TotalPool, _ = decimal.NewFromString(poolS)
	return &g, nil
}

func scanStake(row pgxRow) (*model.Stake, error) {
	var st model.Stake
	var amountS string
	if err := row.Scan(&st.ID, &st.UserID, &st.GameID, &st.SelectedOptionID,
		&amountS, &st.ConfidenceLevel, &st.IsActive, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.BetAmount, _ = decimal.NewFromString(amountS)
	return &st, nil
}
