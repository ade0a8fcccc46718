// Package staking provides the HTTP handlers and business logic for placing
// and withdrawing stakes and for reading balances and stake history.
//
// Placement and withdrawal orchestrate validation here and delegate the
// multi-row mutation to the store, which applies it atomically — a failed
// debit leaves no stake behind and a failed refund leaves the stake active.
package staking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/events"
	"github.com/positivemultiplier/posmul-engine/internal/game"
	"github.com/positivemultiplier/posmul-engine/internal/ledger"
	"github.com/positivemultiplier/posmul-engine/internal/metrics"
	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
	"github.com/positivemultiplier/posmul-engine/internal/ws"
)

// Service handles stake lifecycle operations.
type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	publisher *events.Publisher // optional Kafka publisher
	hub       *ws.Hub           // optional WebSocket hub for pool broadcasts
}

// NewService creates a staking service.
// Pass nil for publisher/hub if those side channels are not needed.
func NewService(st store.Store, l *ledger.Ledger, pub *events.Publisher, hub *ws.Hub) *Service {
	return &Service{store: st, ledger: l, publisher: pub, hub: hub}
}

// --- Request/Response types ---

// PlaceStakeRequest is the JSON body for POST /stakes.
type PlaceStakeRequest struct {
	UserID     string          `json:"user_id"`
	GameID     string          `json:"game_id"`
	OptionID   string          `json:"option_id"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence int             `json:"confidence"` // 0–100, advisory only
}

// PlaceStakeResponse is the JSON body returned from POST /stakes.
type PlaceStakeResponse struct {
	StakeID       string          `json:"stake_id"`
	UserID        string          `json:"user_id"`
	GameID        string          `json:"game_id"`
	OptionID      string          `json:"option_id"`
	Amount        decimal.Decimal `json:"amount"`
	NewPMPBalance decimal.Decimal `json:"new_pmp_balance"`
}

// WithdrawRequest is the JSON body for POST /stakes/{stakeID}/withdraw.
// The user id comes from the upstream auth layer; the engine trusts it.
type WithdrawRequest struct {
	UserID string `json:"user_id"`
}

// WithdrawResponse is the JSON body returned from a withdrawal.
type WithdrawResponse struct {
	StakeID        string          `json:"stake_id"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	NewPMPBalance  decimal.Decimal `json:"new_pmp_balance"`
}

// DepositRequest is the JSON body for POST /users/{userID}/deposit.
type DepositRequest struct {
	Currency model.Currency  `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// PlaceStake handles POST /api/v1/stakes
func (s *Service) PlaceStake(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PlaceStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.GameID == "" || req.OptionID == "" {
		writeError(w, "game_id and option_id are required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if req.Confidence < 0 || req.Confidence > 100 {
		writeError(w, "confidence must be between 0 and 100", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	g, err := s.store.GetGame(ctx, req.GameID)
	if err != nil {
		metrics.StakeRejectionsTotal.WithLabelValues("game_not_found").Inc()
		writeError(w, "game not found: "+req.GameID, http.StatusNotFound)
		return
	}

	if err := game.CheckStake(g, req.OptionID, req.Amount); err != nil {
		switch {
		case errors.Is(err, game.ErrNotActive):
			metrics.StakeRejectionsTotal.WithLabelValues("game_not_active").Inc()
			writeError(w, "game is not open for staking", http.StatusConflict)
		case errors.Is(err, game.ErrUnknownOption):
			metrics.StakeRejectionsTotal.WithLabelValues("unknown_option").Inc()
			writeError(w, "unknown option: "+req.OptionID, http.StatusBadRequest)
		default:
			metrics.StakeRejectionsTotal.WithLabelValues("out_of_range").Inc()
			writeError(w, "stake must be between "+g.MinimumStake.String()+
				" and "+g.MaximumStake.String(), http.StatusBadRequest)
		}
		return
	}

	st := &model.Stake{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		GameID:           req.GameID,
		SelectedOptionID: req.OptionID,
		BetAmount:        req.Amount,
		ConfidenceLevel:  req.Confidence,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}

	// The store debits, inserts the stake and bumps the pool counters in
	// one atomic unit, re-checking the ACTIVE status under lock.
	newBal, err := s.store.PlaceStake(ctx, st)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			metrics.StakeRejectionsTotal.WithLabelValues("insufficient_balance").Inc()
			writeError(w, "insufficient PMP balance", http.StatusConflict)
		case errors.Is(err, game.ErrNotActive):
			metrics.StakeRejectionsTotal.WithLabelValues("game_not_active").Inc()
			writeError(w, "game is not open for staking", http.StatusConflict)
		case errors.Is(err, store.ErrGameNotFound):
			metrics.StakeRejectionsTotal.WithLabelValues("game_not_found").Inc()
			writeError(w, "game not found: "+req.GameID, http.StatusNotFound)
		default:
			writeError(w, "failed to place stake", http.StatusInternalServerError)
		}
		return
	}

	metrics.StakesPlacedTotal.Inc()
	metrics.StakeLatency.Observe(time.Since(start).Seconds())

	slog.Info("stake placed",
		"stake_id", st.ID,
		"user", req.UserID,
		"game", req.GameID,
		"option", req.OptionID,
		"amount", req.Amount.String(),
		"new_balance", newBal.String(),
	)

	if s.publisher != nil {
		s.publisher.StakePlaced(ctx, events.StakePlaced{
			StakeID:    st.ID,
			UserID:     req.UserID,
			GameID:     req.GameID,
			OptionID:   req.OptionID,
			Amount:     req.Amount.String(),
			Confidence: req.Confidence,
		})
	}
	s.broadcastPool(ctx, req.GameID)

	writeJSON(w, http.StatusCreated, PlaceStakeResponse{
		StakeID:       st.ID,
		UserID:        req.UserID,
		GameID:        req.GameID,
		OptionID:      req.OptionID,
		Amount:        req.Amount,
		NewPMPBalance: newBal,
	})
}

// WithdrawStake handles POST /api/v1/stakes/{stakeID}/withdraw
func (s *Service) WithdrawStake(w http.ResponseWriter, r *http.Request) {
	stakeID := chi.URLParam(r, "stakeID")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Validation and the refund run inside one store transaction: the
	// stake flip and the credit commit together or not at all.
	st, newBal, err := s.store.WithdrawStake(ctx, stakeID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStakeNotFound):
			writeError(w, "stake not found: "+stakeID, http.StatusNotFound)
		case errors.Is(err, store.ErrNotOwner):
			writeError(w, "stake belongs to another user", http.StatusForbidden)
		case errors.Is(err, store.ErrStakeInactive):
			writeError(w, "stake already withdrawn", http.StatusConflict)
		case errors.Is(err, game.ErrNotActive):
			writeError(w, "game is no longer open; the stake is locked in", http.StatusConflict)
		default:
			writeError(w, "failed to withdraw stake", http.StatusInternalServerError)
		}
		return
	}

	metrics.WithdrawalsTotal.Inc()

	slog.Info("stake withdrawn",
		"stake_id", st.ID,
		"user", req.UserID,
		"game", st.GameID,
		"refunded", st.BetAmount.String(),
		"new_balance", newBal.String(),
	)

	if s.publisher != nil {
		s.publisher.StakeWithdrawn(ctx, events.StakeWithdrawn{
			StakeID:  st.ID,
			UserID:   req.UserID,
			GameID:   st.GameID,
			Refunded: st.BetAmount.String(),
		})
	}
	s.broadcastPool(ctx, st.GameID)

	writeJSON(w, http.StatusOK, WithdrawResponse{
		StakeID:        st.ID,
		RefundedAmount: st.BetAmount,
		NewPMPBalance:  newBal,
	})
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListUserStakes handles GET /api/v1/users/{userID}/stakes
func (s *Service) ListUserStakes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stakes, err := s.store.ListUserStakes(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list stakes", http.StatusInternalServerError)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// ListTransactions handles GET /api/v1/users/{userID}/transactions?limit=N
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	txs, err := s.ledger.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Deposit handles POST /api/v1/users/{userID}/deposit
// Adds points to a balance; used by operators and onboarding flows.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	cur := req.Currency
	if cur == "" {
		cur = model.PMP
	}
	if !cur.Valid() {
		writeError(w, "currency must be PMP or PMC", http.StatusBadRequest)
		return
	}

	newBal, err := s.ledger.Credit(r.Context(), userID, cur, req.Amount, model.ReasonDeposit, "")
	if err != nil {
		writeError(w, "failed to deposit", http.StatusInternalServerError)
		return
	}

	slog.Info("deposit", "user", userID, "currency", cur, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"currency":    cur,
		"new_balance": newBal,
	})
}

// broadcastPool pushes the game's updated pool counters to ws clients.
func (s *Service) broadcastPool(ctx context.Context, gameID string) {
	if s.hub == nil {
		return
	}
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return
	}
	s.hub.Broadcast(ws.Message{
		Type:         "pool_update",
		GameID:       g.ID,
		TotalPool:    g.TotalPool.String(),
		Participants: g.CurrentParticipants,
	})
}

// writeJSON serializes and sends a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
