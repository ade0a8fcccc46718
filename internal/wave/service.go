package wave

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/positivemultiplier/posmul-engine/internal/model"
)

// RunRequest is the JSON body for POST /waves/run. AsOf defaults to now;
// the trigger (operator or external scheduler) may pin it for reproducible
// runs.
type RunRequest struct {
	WaveType string     `json:"wave_type"`
	AsOf     *time.Time `json:"as_of,omitempty"`
}

// TierInfo describes one wave tier's issuance parameters in the summary.
type TierInfo struct {
	WaveType     string `json:"wave_type"`
	Pool         string `json:"pool,omitempty"`
	ClawbackRate string `json:"clawback_rate,omitempty"`
	DormancyDays int    `json:"dormancy_days,omitempty"`
	TopN         int    `json:"top_n,omitempty"`
}

// SummaryResponse is the JSON body returned from GET /waves/summary.
type SummaryResponse struct {
	Wave1       TierInfo              `json:"wave1"`
	Wave2       TierInfo              `json:"wave2"`
	Wave3       TierInfo              `json:"wave3"`
	RecentWaves []model.WaveExecution `json:"recent_waves"`
	MyRewards   *decimal.Decimal      `json:"my_rewards,omitempty"`
}

// RunWaveHandler handles POST /api/v1/waves/run
func (d *Distributor) RunWaveHandler(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	wave, err := d.RunWave(r.Context(), req.WaveType, asOf)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownWaveType):
			writeError(w, "wave_type must be one of WAVE1_EQUAL, WAVE2_REDISTRIBUTION, WAVE3_CONTRIBUTION", http.StatusBadRequest)
		case errors.Is(err, ErrNoEligibleUsers):
			writeError(w, "no eligible users; nothing distributed", http.StatusConflict)
		default:
			// The batch is all-or-nothing: nothing was recorded and the
			// run can be retried as a whole.
			writeError(w, "wave settlement failed; safe to retry", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, wave)
}

// SummaryHandler handles GET /api/v1/waves/summary?user_id=U
func (d *Distributor) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recent, err := d.store.ListWaveExecutions(ctx, 10)
	if err != nil {
		writeError(w, "failed to load wave history", http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []model.WaveExecution{}
	}

	resp := SummaryResponse{
		Wave1: TierInfo{WaveType: model.Wave1Equal, Pool: d.cfg.Wave1Pool.String()},
		Wave2: TierInfo{
			WaveType:     model.Wave2Redistribution,
			ClawbackRate: d.cfg.ClawbackRate.String(),
			DormancyDays: int(d.cfg.DormancyWindow.Hours() / 24),
		},
		Wave3: TierInfo{
			WaveType: model.Wave3Contribution,
			Pool:     d.cfg.Wave3Pool.String(),
			TopN:     d.cfg.TopN,
		},
		RecentWaves: recent,
	}

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		rewards, err := d.store.UserWaveRewards(ctx, userID)
		if err != nil {
			writeError(w, "failed to load rewards", http.StatusInternalServerError)
			return
		}
		resp.MyRewards = &rewards
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
