package staking_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/ledger"
	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/staking"
	"github.com/positivemultiplier/posmul-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates staking and game services over an in-memory store and a
// chi router wired like the production one.
func newTestEnv(t *testing.T) (*store.MemoryStore, *ledger.Ledger, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	led := ledger.New(ms)
	stakingSvc := staking.NewService(ms, led, nil, nil)
	gameSvc := staking.NewGameService(ms, nil, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/stakes", stakingSvc.PlaceStake)
	r.Post("/api/v1/stakes/{stakeID}/withdraw", stakingSvc.WithdrawStake)
	r.Get("/api/v1/users/{userID}/balance", stakingSvc.GetBalance)
	r.Get("/api/v1/users/{userID}/stakes", stakingSvc.ListUserStakes)
	r.Get("/api/v1/users/{userID}/transactions", stakingSvc.ListTransactions)
	r.Post("/api/v1/users/{userID}/deposit", stakingSvc.Deposit)
	r.Put("/api/v1/games/{gameID}/status", gameSvc.UpdateStatus)

	return ms, led, r
}

// seedGame creates a game directly in the store.
func seedGame(t *testing.T, ms *store.MemoryStore, id, status string) *model.PredictionGame {
	t.Helper()
	g := &model.PredictionGame{
		ID:     id,
		Title:  "Match " + id,
		Status: status,
		Options: []model.GameOption{
			{ID: "home", Label: "Home wins"},
			{ID: "away", Label: "Away wins"},
		},
		MinimumStake: d(10),
		MaximumStake: d(500),
		TotalPool:    decimal.Zero,
		EndTime:      time.Now().Add(time.Hour),
		CreatedAt:    time.Now().UTC(),
	}
	if err := ms.CreateGame(context.Background(), g); err != nil {
		t.Fatalf("failed to seed game: %v", err)
	}
	return g
}

// fund deposits PMP directly through the ledger.
func fund(t *testing.T, led *ledger.Ledger, userID string, amount float64) {
	t.Helper()
	if _, err := led.Credit(context.Background(), userID, model.PMP, d(amount), model.ReasonDeposit, ""); err != nil {
		t.Fatalf("failed to fund %s: %v", userID, err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func placeStake(t *testing.T, router chi.Router, userID, gameID string, amount float64) staking.PlaceStakeResponse {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/stakes", staking.PlaceStakeRequest{
		UserID: userID, GameID: gameID, OptionID: "home", Amount: d(amount),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("place stake: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp staking.PlaceStakeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// --- Placement ---

func TestPlaceStake_DebitsAndGrowsPool(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	resp := placeStake(t, router, "u1", "g1", 100)

	if resp.StakeID == "" {
		t.Error("expected non-empty stake_id")
	}
	if !resp.NewPMPBalance.Equal(d(900)) {
		t.Errorf("balance should be 900, got %s", resp.NewPMPBalance)
	}

	g, _ := ms.GetGame(context.Background(), "g1")
	if !g.TotalPool.Equal(d(100)) {
		t.Errorf("pool should be 100, got %s", g.TotalPool)
	}
	if g.CurrentParticipants != 1 {
		t.Errorf("participants should be 1, got %d", g.CurrentParticipants)
	}
}

func TestPlaceStake_PointsAreConserved(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)
	fund(t, led, "u2", 1000)

	placeStake(t, router, "u1", "g1", 250)
	placeStake(t, router, "u2", "g1", 75)

	ctx := context.Background()
	a1, _ := led.GetBalance(ctx, "u1")
	a2, _ := led.GetBalance(ctx, "u2")
	g, _ := ms.GetGame(ctx, "g1")

	total := a1.PMPBalance.Add(a2.PMPBalance).Add(g.TotalPool)
	if !total.Equal(d(2000)) {
		t.Errorf("balances + pool should equal deposits (2000), got %s", total)
	}
}

func TestPlaceStake_SecondStakeKeepsParticipantCount(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	placeStake(t, router, "u1", "g1", 100)
	placeStake(t, router, "u1", "g1", 50)

	g, _ := ms.GetGame(context.Background(), "g1")
	if g.CurrentParticipants != 1 {
		t.Errorf("one user with two stakes should count once, got %d", g.CurrentParticipants)
	}
	if !g.TotalPool.Equal(d(150)) {
		t.Errorf("pool should be 150, got %s", g.TotalPool)
	}
}

func TestPlaceStake_Rejections(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	seedGame(t, ms, "g-pending", model.GamePending)
	fund(t, led, "u1", 1000)
	fund(t, led, "poor", 5)

	cases := []struct {
		name string
		req  staking.PlaceStakeRequest
		code int
	}{
		{"below minimum", staking.PlaceStakeRequest{UserID: "u1", GameID: "g1", OptionID: "home", Amount: d(9.99)}, http.StatusBadRequest},
		{"above maximum", staking.PlaceStakeRequest{UserID: "u1", GameID: "g1", OptionID: "home", Amount: d(501)}, http.StatusBadRequest},
		{"unknown option", staking.PlaceStakeRequest{UserID: "u1", GameID: "g1", OptionID: "draw", Amount: d(100)}, http.StatusBadRequest},
		{"zero amount", staking.PlaceStakeRequest{UserID: "u1", GameID: "g1", OptionID: "home", Amount: d(0)}, http.StatusBadRequest},
		{"missing user", staking.PlaceStakeRequest{GameID: "g1", OptionID: "home", Amount: d(100)}, http.StatusBadRequest},
		{"game not active", staking.PlaceStakeRequest{UserID: "u1", GameID: "g-pending", OptionID: "home", Amount: d(100)}, http.StatusConflict},
		{"game not found", staking.PlaceStakeRequest{UserID: "u1", GameID: "nope", OptionID: "home", Amount: d(100)}, http.StatusNotFound},
		{"insufficient balance", staking.PlaceStakeRequest{UserID: "poor", GameID: "g1", OptionID: "home", Amount: d(100)}, http.StatusConflict},
	}

	for _, tc := range cases {
		w := doJSON(t, router, "POST", "/api/v1/stakes", tc.req)
		if w.Code != tc.code {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.code, w.Code, w.Body.String())
		}
	}

	// None of the rejections may have touched the pool.
	g, _ := ms.GetGame(context.Background(), "g1")
	if !g.TotalPool.IsZero() || g.CurrentParticipants != 0 {
		t.Errorf("rejected stakes must not touch the pool: %s/%d", g.TotalPool, g.CurrentParticipants)
	}
	a, _ := led.GetBalance(context.Background(), "poor")
	if !a.PMPBalance.Equal(d(5)) {
		t.Errorf("rejected stake must not debit, got %s", a.PMPBalance)
	}
}

// --- Withdrawal ---

func TestWithdrawStake_RefundsInFull(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	resp := placeStake(t, router, "u1", "g1", 100)

	w := doJSON(t, router, "POST", "/api/v1/stakes/"+resp.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var wr staking.WithdrawResponse
	json.Unmarshal(w.Body.Bytes(), &wr)
	if !wr.RefundedAmount.Equal(d(100)) {
		t.Errorf("refund should be 100, got %s", wr.RefundedAmount)
	}
	if !wr.NewPMPBalance.Equal(d(1000)) {
		t.Errorf("balance should be back to 1000, got %s", wr.NewPMPBalance)
	}

	g, _ := ms.GetGame(context.Background(), "g1")
	if !g.TotalPool.IsZero() || g.CurrentParticipants != 0 {
		t.Errorf("pool should be empty after withdrawal: %s/%d", g.TotalPool, g.CurrentParticipants)
	}
}

func TestWithdrawStake_SecondAttemptConflicts(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	resp := placeStake(t, router, "u1", "g1", 100)

	first := doJSON(t, router, "POST", "/api/v1/stakes/"+resp.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "u1"})
	if first.Code != http.StatusOK {
		t.Fatalf("first withdrawal: expected 200, got %d", first.Code)
	}
	second := doJSON(t, router, "POST", "/api/v1/stakes/"+resp.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "u1"})
	if second.Code != http.StatusConflict {
		t.Fatalf("second withdrawal: expected 409, got %d: %s", second.Code, second.Body.String())
	}

	// Only one refund happened.
	a, _ := led.GetBalance(context.Background(), "u1")
	if !a.PMPBalance.Equal(d(1000)) {
		t.Errorf("balance should be exactly 1000, got %s", a.PMPBalance)
	}
}

func TestWithdrawStake_WrongOwnerForbidden(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	resp := placeStake(t, router, "u1", "g1", 100)

	w := doJSON(t, router, "POST", "/api/v1/stakes/"+resp.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "intruder"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	st, _ := ms.GetStake(context.Background(), resp.StakeID)
	if !st.IsActive {
		t.Error("stake must stay active after a forbidden withdrawal")
	}
}

func TestWithdrawStake_LockedOnceGameEnds(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)

	resp := placeStake(t, router, "u1", "g1", 100)

	if _, err := ms.UpdateGameStatus(context.Background(), "g1", model.GameEnded); err != nil {
		t.Fatalf("failed to end game: %v", err)
	}

	w := doJSON(t, router, "POST", "/api/v1/stakes/"+resp.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "u1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 after game end, got %d: %s", w.Code, w.Body.String())
	}

	a, _ := led.GetBalance(context.Background(), "u1")
	if !a.PMPBalance.Equal(d(900)) {
		t.Errorf("locked stake must not refund, balance got %s", a.PMPBalance)
	}
}

// --- Cancellation ---

func TestCancelGame_RefundsEveryActiveStake(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)
	fund(t, led, "u2", 1000)

	placeStake(t, router, "u1", "g1", 200)
	placeStake(t, router, "u1", "g1", 100)
	withdrawn := placeStake(t, router, "u2", "g1", 50)

	// One stake is withdrawn before cancellation; it must not refund twice.
	w := doJSON(t, router, "POST", "/api/v1/stakes/"+withdrawn.StakeID+"/withdraw", staking.WithdrawRequest{UserID: "u2"})
	if w.Code != http.StatusOK {
		t.Fatalf("withdrawal failed: %d", w.Code)
	}

	w = doJSON(t, router, "PUT", "/api/v1/games/g1/status", map[string]string{"status": model.GameCancelled})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	a1, _ := led.GetBalance(ctx, "u1")
	a2, _ := led.GetBalance(ctx, "u2")
	if !a1.PMPBalance.Equal(d(1000)) {
		t.Errorf("u1 should be made whole, got %s", a1.PMPBalance)
	}
	if !a2.PMPBalance.Equal(d(1000)) {
		t.Errorf("u2 should be made whole exactly once, got %s", a2.PMPBalance)
	}

	g, _ := ms.GetGame(ctx, "g1")
	if g.Status != model.GameCancelled {
		t.Errorf("game should be CANCELLED, got %s", g.Status)
	}
	if !g.TotalPool.IsZero() || g.CurrentParticipants != 0 {
		t.Errorf("cancelled game should have an empty pool: %s/%d", g.TotalPool, g.CurrentParticipants)
	}

	stakes, _ := ms.ListUserStakes(ctx, "u1")
	for _, st := range stakes {
		if st.IsActive {
			t.Errorf("stake %s should be inactive after cancellation", st.ID)
		}
	}
}

// --- User endpoints ---

func TestDepositAndBalance(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users/u1/deposit", staking.DepositRequest{Amount: d(500)})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/users/u1/deposit", staking.DepositRequest{Currency: model.PMC, Amount: d(25)})
	if w.Code != http.StatusOK {
		t.Fatalf("PMC deposit: expected 200, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/users/u1/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", w.Code)
	}
	var a model.Account
	json.Unmarshal(w.Body.Bytes(), &a)
	if !a.PMPBalance.Equal(d(500)) || !a.PMCBalance.Equal(d(25)) {
		t.Errorf("balances should be 500/25, got %s/%s", a.PMPBalance, a.PMCBalance)
	}

	w = doJSON(t, router, "POST", "/api/v1/users/u1/deposit", staking.DepositRequest{Amount: d(-1)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative deposit: expected 400, got %d", w.Code)
	}
}

func TestTransactionHistoryEndpoint(t *testing.T) {
	ms, led, router := newTestEnv(t)
	seedGame(t, ms, "g1", model.GameActive)
	fund(t, led, "u1", 1000)
	placeStake(t, router, "u1", "g1", 100)

	w := doJSON(t, router, "GET", "/api/v1/users/u1/transactions?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var txs []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txs)
	if len(txs) != 2 {
		t.Fatalf("expected deposit + stake debit, got %d entries", len(txs))
	}
	if txs[0].Reason != model.ReasonStakeDebit || !txs[0].Amount.Equal(d(-100)) {
		t.Errorf("newest entry should be the -100 stake debit, got %s %s", txs[0].Reason, txs[0].Amount)
	}

	w = doJSON(t, router, "GET", "/api/v1/users/u1/transactions?limit=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}
