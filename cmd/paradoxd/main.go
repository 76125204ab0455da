// Command paradoxd runs the Paradox Protocol simulation as a long-lived
// service: it restores the last save, applies offline progress, then ticks
// in real time behind the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/paradox-protocol/internal/api"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/engine"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/persistence"
)

const journalLimit = 10000

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: settings.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(settings); err != nil {
		slog.Error("paradoxd failed", "error", err)
		os.Exit(1)
	}
}

func run(settings config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Paradox Protocol simulation service")

	// ── Balance ───────────────────────────────────────────────────────
	balance, err := settings.Balance()
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	slog.Info("balance loaded",
		"source", balanceSource(settings.BalanceDir),
		"generators", len(balance.Generators),
		"upgrades", len(balance.Upgrades),
		"step", balance.Tick.Step.Std(),
		"catch_up_cap", balance.Tick.CatchUpCap,
	)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(settings.DBPath), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.Open(settings.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", settings.DBPath)

	// ── Simulation ────────────────────────────────────────────────────
	sim := engine.NewSimulation(&balance, nil)
	journal := persistence.NewJournal(journalLimit)
	sim.Events().Subscribe(journal)
	hub := api.NewHub()
	sim.Events().Subscribe(hub)

	// ── Load or Start Fresh ──────────────────────────────────────────
	rec, err := db.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		slog.Info("no saved game, starting fresh", "session", sim.State().SessionID)
		if _, err := db.Checkpoint(ctx, sim, journal, settings.SnapshotRetain); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	case err != nil:
		return fmt.Errorf("load snapshot: %w", err)
	default:
		if err := sim.Restore(rec.Data); err != nil {
			return fmt.Errorf("restore snapshot %s: %w", rec.ID, err)
		}
		slog.Info("saved game loaded", "snapshot", rec.ID, "tick", rec.Tick, "saved", humanize.Time(rec.SavedAt()))
		catchUp(ctx, sim, time.Since(rec.SavedAt()), settings.MaxOffline)
	}

	eng := engine.NewEngine(sim, nil)
	eng.Interval = settings.TickInterval
	eng.SetSpeed(settings.Speed)
	eng.ReportEvery = uint64(10 * time.Minute / balance.Tick.Step.Std())

	// ── HTTP API ──────────────────────────────────────────────────────
	if settings.AdminKey == "" {
		slog.Warn("PARADOX_ADMIN_KEY not set, admin endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:      sim,
		Eng:      eng,
		DB:       db,
		Journal:  journal,
		Hub:      hub,
		Port:     settings.APIPort,
		AdminKey: settings.AdminKey,
		Retain:   settings.SnapshotRetain,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("\nParadox Protocol is running: session %s at tick %d (%s).\n",
		sim.State().SessionID, sim.CurrentTick(), engine.SimTime(sim.State().Timeline.Elapsed))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", settings.APIPort)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	g.Go(func() error {
		autosave(gctx, db, sim, journal, settings)
		return nil
	})
	<-ctx.Done()
	slog.Info("shutting down")
	if err := g.Wait(); err != nil {
		slog.Error("worker failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	if _, err := db.Checkpoint(shutdownCtx, sim, journal, settings.SnapshotRetain); err != nil {
		return fmt.Errorf("final save: %w", err)
	}

	fmt.Println("Simulation stopped. Game state saved.")
	return nil
}

// catchUp simulates the time the service was down, capped at limit. It can
// be interrupted; progress up to the last committed chunk is kept.
func catchUp(ctx context.Context, sim *engine.Simulation, offline, limit time.Duration) {
	if offline <= 0 {
		return
	}
	if limit > 0 && offline > limit {
		slog.Warn("offline time capped", "offline", offline.Round(time.Second), "cap", limit)
		offline = limit
	}

	start := time.Now()
	var reported uint64
	sim.SetProgress(func(done, total uint64) {
		pct := done * 100 / total
		if pct/10 > reported/10 {
			reported = pct
			slog.Info("catching up", "progress", fmt.Sprintf("%d%%", pct), "ticks", humanize.Comma(int64(done)))
		}
	})
	defer sim.SetProgress(nil)

	sum, err := sim.Advance(ctx, offline)
	if apperrors.CodeOf(err) == apperrors.CodeCatchUpCancelled {
		slog.Warn("catch-up interrupted", "simulated", sum.Elapsed.Round(time.Second), "remaining", sum.Remaining.Round(time.Second))
		return
	}
	if err != nil {
		slog.Error("catch-up failed", "error", err)
		return
	}

	attrs := []any{
		"offline", offline.Round(time.Second),
		"ticks", humanize.Comma(int64(sum.Ticks)),
		"bulk", sum.Bulk,
		"paradox_events", sum.ParadoxEvents(),
		"time_accrued", sum.TimeAccrued.Human(),
		"took", time.Since(start).Round(time.Millisecond),
	}
	for id, n := range sum.Produced {
		attrs = append(attrs, "produced_"+id, n.Human())
	}
	slog.Info("offline progress applied", attrs...)
}

func autosave(ctx context.Context, db *persistence.DB, sim *engine.Simulation, journal *persistence.Journal, settings config.Settings) {
	if settings.SaveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(settings.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.Checkpoint(ctx, sim, journal, settings.SnapshotRetain); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		}
	}
}

func balanceSource(dir string) string {
	if dir == "" {
		return "defaults"
	}
	return dir
}
