// wave-runner triggers one MoneyWave distribution and exits. It is meant to
// be invoked from cron or a scheduler:
//
//	WAVE_TYPE=WAVE1_EQUAL DATABASE_URL=... wave-runner
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/positivemultiplier/posmul-engine/internal/config"
	"github.com/positivemultiplier/posmul-engine/internal/events"
	"github.com/positivemultiplier/posmul-engine/internal/ledger"
	"github.com/positivemultiplier/posmul-engine/internal/model"
	"github.com/positivemultiplier/posmul-engine/internal/store"
	"github.com/positivemultiplier/posmul-engine/internal/wave"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	waveType := os.Getenv("WAVE_TYPE")
	if waveType == "" {
		waveType = model.Wave1Equal
	}

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required for wave-runner")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)

	var pub *events.Publisher
	if cfg.KafkaBrokers != "" {
		pub = events.NewPublisher(cfg.KafkaBrokers)
		defer pub.Close()
	}

	distributor := wave.NewDistributor(st, ledger.New(st), wave.Config{
		Wave1Pool:      cfg.Wave1Pool,
		Wave3Pool:      cfg.Wave3Pool,
		ClawbackRate:   cfg.ClawbackRate,
		ActivityWindow: cfg.ActivityWindow,
		DormancyWindow: cfg.DormancyWindow,
		TopN:           cfg.TopN,
	}, pub, nil)

	w, err := distributor.RunWave(ctx, waveType, time.Now().UTC())
	if err != nil {
		if errors.Is(err, wave.ErrNoEligibleUsers) {
			slog.Info("no eligible users; nothing distributed", "wave_type", waveType)
			return
		}
		slog.Error("wave run failed", "wave_type", waveType, "err", err)
		os.Exit(1)
	}

	slog.Info("wave complete",
		"wave_id", w.ID,
		"wave_type", w.WaveType,
		"pmc_issued", w.PMCIssued.String(),
		"affected_users", w.AffectedUsers,
	)
}
