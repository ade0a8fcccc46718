// Package wave implements the three MoneyWave distribution strategies.
//
// Every run is two-phase: the full credit (and, for wave 2, clawback) list
// is computed first, then applied together with the WaveExecution record as
// one all-or-nothing batch. A failed apply leaves no record and no partial
// credits, so re-running the wave recomputes from current state and cannot
// double-credit anyone.
package wave

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/events"
	"github.com/positivemultiplier/posmul-engine/internal/ledger"
	"github.com/positivemultiplier/posmul-engine/internal/metrics"
	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
	"github.com/positivemultiplier/posmul-engine/internal/ws"
)

var (
	// ErrUnknownWaveType is returned for a wave type outside the three.
	ErrUnknownWaveType = errors.New("unknown wave type")

	// ErrNoEligibleUsers is returned when a strategy finds nobody to
	// credit; nothing is recorded.
	ErrNoEligibleUsers = errors.New("no eligible users for wave")
)

// amountScale is the decimal scale credits are truncated to, so a pool is
// never over-issued by rounding.
const amountScale = 4

// Config holds the issuance parameters of the three waves.
type Config struct {
	Wave1Pool      decimal.Decimal // PMC issued per wave 1 run
	Wave3Pool      decimal.Decimal // PMC issued per wave 3 run
	ClawbackRate   decimal.Decimal // fraction of dormant PMC reclaimed in wave 2
	ActivityWindow time.Duration   // lookback for "active" users and scores
	DormancyWindow time.Duration   // PMC untouched this long counts as dormant
	TopN           int             // contributors rewarded by wave 3
}

// DefaultConfig returns the standard issuance parameters.
func DefaultConfig() Config {
	return Config{
		Wave1Pool:      decimal.NewFromInt(10000),
		Wave3Pool:      decimal.NewFromInt(5000),
		ClawbackRate:   decimal.NewFromFloat(0.10),
		ActivityWindow: 7 * 24 * time.Hour,
		DormancyWindow: 30 * 24 * time.Hour,
		TopN:           10,
	}
}

// Distributor runs MoneyWave distributions against the ledger.
type Distributor struct {
	store     store.Store
	ledger    *ledger.Ledger
	cfg       Config
	publisher *events.Publisher
	hub       *ws.Hub
}

// NewDistributor creates a wave distributor.
// Pass nil for publisher/hub if those side channels are not needed.
func NewDistributor(st store.Store, l *ledger.Ledger, cfg Config, pub *events.Publisher, hub *ws.Hub) *Distributor {
	return &Distributor{store: st, ledger: l, cfg: cfg, publisher: pub, hub: hub}
}

// RunWave executes one wave of the given type as of the given instant and
// returns the recorded execution.
func (d *Distributor) RunWave(ctx context.Context, waveType string, asOf time.Time) (*model.WaveExecution, error) {
	var (
		debits  []model.BalanceEntry
		credits []model.BalanceEntry
		err     error
	)

	// Phase 1: compute the full entry list before touching any balance.
	switch waveType {
	case model.Wave1Equal:
		credits, err = d.computeEqual(ctx, asOf)
	case model.Wave2Redistribution:
		debits, credits, err = d.computeRedistribution(ctx, asOf)
	case model.Wave3Contribution:
		credits, err = d.computeContribution(ctx, asOf)
	default:
		return nil, ErrUnknownWaveType
	}
	if err != nil {
		return nil, err
	}
	if len(credits) == 0 {
		return nil, ErrNoEligibleUsers
	}

	issued := decimal.Zero
	for _, e := range credits {
		issued = issued.Add(e.Amount)
	}

	wave := &model.WaveExecution{
		ID:            uuid.New().String(),
		WaveType:      waveType,
		ExecutionDate: asOf.UTC(),
		PMCIssued:     issued,
		AffectedUsers: len(credits),
		Status:        "COMPLETED",
	}

	// Phase 2: apply everything, or nothing, together with the record.
	if err := d.ledger.BulkCredit(ctx, wave, debits, credits); err != nil {
		return nil, err
	}

	metrics.WaveRunsTotal.WithLabelValues(waveType).Inc()
	issuedF, _ := issued.Float64()
	metrics.WavePMCIssuedTotal.WithLabelValues(waveType).Add(issuedF)

	slog.Info("wave executed",
		"wave_id", wave.ID,
		"wave_type", waveType,
		"pmc_issued", issued.String(),
		"affected_users", wave.AffectedUsers,
	)

	if d.publisher != nil {
		d.publisher.WaveExecuted(ctx, events.WaveExecuted{
			WaveID:        wave.ID,
			WaveType:      waveType,
			PMCIssued:     issued.String(),
			AffectedUsers: wave.AffectedUsers,
		})
	}
	if d.hub != nil {
		d.hub.Broadcast(ws.Message{
			Type:          "wave_executed",
			WaveID:        wave.ID,
			WaveType:      waveType,
			PMCIssued:     issued.String(),
			AffectedUsers: wave.AffectedUsers,
		})
	}

	return wave, nil
}

// computeEqual splits the wave 1 pool equally across every user active
// within the activity window.
func (d *Distributor) computeEqual(ctx context.Context, asOf time.Time) ([]model.BalanceEntry, error) {
	users, err := d.store.ActiveUsers(ctx, asOf.Add(-d.cfg.ActivityWindow))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	share := d.cfg.Wave1Pool.Div(decimal.NewFromInt(int64(len(users)))).Truncate(amountScale)
	if !share.IsPositive() {
		return nil, nil
	}

	credits := make([]model.BalanceEntry, 0, len(users))
	for _, u := range users {
		credits = append(credits, model.BalanceEntry{UserID: u, Currency: model.PMC, Amount: share})
	}
	return credits, nil
}

// computeRedistribution reclaims a fraction of each dormant PMC balance and
// redistributes the pooled total proportionally to recent activity scores.
// Rounding dust goes to the highest-scoring user so the reclaimed pool is
// conserved exactly.
func (d *Distributor) computeRedistribution(ctx context.Context, asOf time.Time) ([]model.BalanceEntry, []model.BalanceEntry, error) {
	dormant, err := d.store.DormantPMC(ctx, asOf.Add(-d.cfg.DormancyWindow))
	if err != nil {
		return nil, nil, err
	}
	scores, err := d.store.ActivityScores(ctx, asOf.Add(-d.cfg.ActivityWindow))
	if err != nil {
		return nil, nil, err
	}
	if len(dormant) == 0 || len(scores) == 0 {
		return nil, nil, nil
	}

	pool := decimal.Zero
	debits := make([]model.BalanceEntry, 0, len(dormant))
	for _, u := range sortedKeys(dormant) {
		reclaim := dormant[u].Mul(d.cfg.ClawbackRate).Truncate(amountScale)
		if !reclaim.IsPositive() {
			continue
		}
		debits = append(debits, model.BalanceEntry{UserID: u, Currency: model.PMC, Amount: reclaim})
		pool = pool.Add(reclaim)
	}
	if !pool.IsPositive() {
		return nil, nil, nil
	}

	totalScore := decimal.Zero
	for _, s := range scores {
		totalScore = totalScore.Add(s)
	}

	var (
		credits  []model.BalanceEntry
		paid     = decimal.Zero
		topScore decimal.Decimal
		topIdx   = -1
	)
	for _, u := range sortedKeys(scores) {
		amount := pool.Mul(scores[u]).Div(totalScore).Truncate(amountScale)
		credits = append(credits, model.BalanceEntry{UserID: u, Currency: model.PMC, Amount: amount})
		paid = paid.Add(amount)
		if topIdx < 0 || scores[u].GreaterThan(topScore) {
			topScore, topIdx = scores[u], len(credits)-1
		}
	}
	if dust := pool.Sub(paid); dust.IsPositive() && topIdx >= 0 {
		credits[topIdx].Amount = credits[topIdx].Amount.Add(dust)
	}

	// Zero-score entries would be no-ops; drop them.
	filtered := credits[:0]
	for _, c := range credits {
		if c.Amount.IsPositive() {
			filtered = append(filtered, c)
		}
	}
	return debits, filtered, nil
}

// computeContribution splits the wave 3 pool across the top contributors,
// weighted by their total staked amount in the activity window.
func (d *Distributor) computeContribution(ctx context.Context, asOf time.Time) ([]model.BalanceEntry, error) {
	contributors, err := d.store.TopContributors(ctx, asOf.Add(-d.cfg.ActivityWindow), d.cfg.TopN)
	if err != nil {
		return nil, err
	}
	if len(contributors) == 0 {
		return nil, nil
	}

	total := decimal.Zero
	for _, c := range contributors {
		total = total.Add(c.Total)
	}
	if !total.IsPositive() {
		return nil, nil
	}

	credits := make([]model.BalanceEntry, 0, len(contributors))
	paid := decimal.Zero
	for _, c := range contributors {
		amount := d.cfg.Wave3Pool.Mul(c.Total).Div(total).Truncate(amountScale)
		credits = append(credits, model.BalanceEntry{UserID: c.UserID, Currency: model.PMC, Amount: amount})
		paid = paid.Add(amount)
	}
	// Contributors arrive ranked; dust goes to the top one.
	if dust := d.cfg.Wave3Pool.Sub(paid); dust.IsPositive() {
		credits[0].Amount = credits[0].Amount.Add(dust)
	}

	filtered := credits[:0]
	for _, c := range credits {
		if c.Amount.IsPositive() {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
