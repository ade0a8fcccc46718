package staking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/events"
	"github.com/positivemultiplier/posmul-engine/internal/game"
	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
	"github.com/positivemultiplier/posmul-engine/internal/ws"
)

// GameService handles game administration: creation, listing, and status
// transitions. Cancellation is the one transition with ledger side effects —
// it refunds every active stake atomically.
type GameService struct {
	store     store.Store
	publisher *events.Publisher
	hub       *ws.Hub
}

// NewGameService creates a game administration service.
func NewGameService(st store.Store, pub *events.Publisher, hub *ws.Hub) *GameService {
	return &GameService{store: st, publisher: pub, hub: hub}
}

// CreateGameRequest is the JSON body for POST /games.
type CreateGameRequest struct {
	Title        string             `json:"title"`
	Options      []model.GameOption `json:"options"`
	MinimumStake decimal.Decimal    `json:"minimum_stake"`
	MaximumStake decimal.Decimal    `json:"maximum_stake"`
	EndTime      time.Time          `json:"end_time"`
}

// StatusRequest is the JSON body for PUT /games/{gameID}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// CreateGame handles POST /api/v1/games
// Option lists are validated here, at the boundary: a game with malformed
// options never exists.
func (s *GameService) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}
	if err := game.ValidateOptions(req.Options); err != nil {
		writeError(w, "options must be at least two entries with unique ids and labels", http.StatusBadRequest)
		return
	}
	if err := game.ValidateStakeBounds(req.MinimumStake, req.MaximumStake); err != nil {
		writeError(w, "minimum_stake must be positive and not exceed maximum_stake", http.StatusBadRequest)
		return
	}
	if !req.EndTime.After(time.Now()) {
		writeError(w, "end_time must be in the future", http.StatusBadRequest)
		return
	}

	g := &model.PredictionGame{
		ID:                  uuid.New().String(),
		Title:               req.Title,
		Status:              model.GamePending,
		Options:             req.Options,
		MinimumStake:        req.MinimumStake,
		MaximumStake:        req.MaximumStake,
		CurrentParticipants: 0,
		TotalPool:           decimal.Zero,
		EndTime:             req.EndTime.UTC(),
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.store.CreateGame(r.Context(), g); err != nil {
		writeError(w, "failed to create game", http.StatusConflict)
		return
	}

	slog.Info("game created", "id", g.ID, "title", g.Title, "options", len(g.Options))

	writeJSON(w, http.StatusCreated, g)
}

// GetGame handles GET /api/v1/games/{gameID}
func (s *GameService) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	g, err := s.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ListGames handles GET /api/v1/games
// Returns all games, optionally filtered by ?status=ACTIVE.
func (s *GameService) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.store.ListGames(r.Context())
	if err != nil {
		writeError(w, "failed to list games", http.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []model.PredictionGame{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		var filtered []model.PredictionGame
		for _, g := range games {
			if g.Status == status {
				filtered = append(filtered, g)
			}
		}
		if filtered == nil {
			filtered = []model.PredictionGame{}
		}
		games = filtered
	}

	writeJSON(w, http.StatusOK, games)
}

// UpdateStatus handles PUT /api/v1/games/{gameID}/status
// Moving to CANCELLED refunds all active stakes as part of the transition.
func (s *GameService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !game.ValidStatus(req.Status) {
		writeError(w, "unknown status: "+req.Status, http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if req.Status == model.GameCancelled {
		refunded, total, err := s.store.CancelGame(ctx, gameID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrGameNotFound):
				writeError(w, "game not found", http.StatusNotFound)
			case errors.Is(err, game.ErrInvalidTransition):
				writeError(w, "game cannot be cancelled from its current status", http.StatusConflict)
			default:
				writeError(w, "failed to cancel game", http.StatusInternalServerError)
			}
			return
		}

		slog.Info("game cancelled",
			"id", gameID,
			"stakes_refunded", refunded,
			"total_refunded", total.String(),
		)

		if s.publisher != nil {
			s.publisher.GameCancelled(ctx, events.GameCancelled{
				GameID:         gameID,
				StakesRefunded: refunded,
				TotalRefunded:  total.String(),
			})
		}
		if s.hub != nil {
			s.hub.Broadcast(ws.Message{
				Type:         "pool_update",
				GameID:       gameID,
				TotalPool:    "0",
				Participants: 0,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"game_id":         gameID,
			"status":          model.GameCancelled,
			"stakes_refunded": refunded,
			"total_refunded":  total,
		})
		return
	}

	g, err := s.store.UpdateGameStatus(ctx, gameID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrGameNotFound):
			writeError(w, "game not found", http.StatusNotFound)
		case errors.Is(err, game.ErrInvalidTransition):
			writeError(w, "invalid status transition", http.StatusConflict)
		default:
			writeError(w, "failed to update game status", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("game status changed", "id", gameID, "status", req.Status)
	writeJSON(w, http.StatusOK, g)
}
