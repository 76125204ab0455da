// Command catchup projects offline progress: it loads a saved game, applies
// a simulated absence, and prints what the player would come back to. The
// database is only written with -save.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/engine"
	"github.com/talgya/paradox-protocol/internal/persistence"
	"github.com/talgya/paradox-protocol/internal/state"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		offline  time.Duration
		file     string
		save     bool
		progress bool
	)
	flag.StringVar(&settings.DBPath, "db", settings.DBPath, "SQLite database to load the latest snapshot from")
	flag.StringVar(&settings.BalanceDir, "balance", settings.BalanceDir, "balance data directory (default: built-in)")
	flag.StringVar(&file, "snapshot", "", "load this snapshot file instead of the database")
	flag.DurationVar(&offline, "offline", 8*time.Hour, "simulated absence")
	flag.BoolVar(&save, "save", false, "write the projected state back to the database")
	flag.BoolVar(&progress, "progress", false, "print chunk progress")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, file, offline, save, progress); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, file string, offline time.Duration, save, progress bool) error {
	balance, err := settings.Balance()
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	sim := engine.NewSimulation(&balance, nil)

	var db *persistence.DB
	if file == "" || save {
		db, err = persistence.Open(settings.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := sim.Restore(data); err != nil {
			return fmt.Errorf("restore %s: %w", file, err)
		}
	} else {
		rec, err := db.LatestSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("latest snapshot in %s: %w", settings.DBPath, err)
		}
		if err := sim.Restore(rec.Data); err != nil {
			return fmt.Errorf("restore snapshot %s: %w", rec.ID, err)
		}
		fmt.Printf("Loaded snapshot %s (tick %s, saved %s)\n", rec.ID, humanize.Comma(int64(rec.Tick)), humanize.Time(rec.SavedAt()))
	}

	if progress {
		sim.SetProgress(func(done, total uint64) {
			fmt.Printf("  %s / %s ticks\n", humanize.Comma(int64(done)), humanize.Comma(int64(total)))
		})
	}

	before := sim.State()
	start := time.Now()
	sum, err := sim.Advance(ctx, offline)
	took := time.Since(start)
	if err != nil && sum.Ticks == 0 {
		return err
	}
	after := sim.State()

	fmt.Printf("\nProjected %s offline in %s", offline, took.Round(time.Millisecond))
	if sum.Remaining > 0 {
		fmt.Printf(" (interrupted, %s not simulated)", sum.Remaining)
	}
	fmt.Printf("\n%s ticks, bulk=%v, chunks=%d\n\n", humanize.Comma(int64(sum.Ticks)), sum.Bulk, sum.Chunks)

	ids := after.Ledger.IDs()
	for _, id := range before.Ledger.IDs() {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	fmt.Printf("%-16s %14s %14s %14s\n", "resource", "before", "after", "lost")
	for _, id := range ids {
		fmt.Printf("%-16s %14s %14s %14s\n", id,
			before.Ledger.Get(id).Human(), after.Ledger.Get(id).Human(), sum.Lost[id].Human())
	}
	fmt.Printf("%-16s %14s %14s\n", "time bank", before.TimeBank.Balance.Human(), after.TimeBank.Balance.Human())

	fmt.Printf("\nParadox: %s -> %s (risk %.3f -> %.3f), %d events\n",
		before.Paradox.Level, after.Paradox.Level, before.Timeline.Risk, after.Timeline.Risk, sum.ParadoxEvents())
	printPrestige(sim, after)
	if sum.Overflow != nil {
		fmt.Printf("Warning: values saturated at %s\n", bignum.Largest())
	}

	if save {
		rec, err := db.Checkpoint(ctx, sim, nil, settings.SnapshotRetain)
		if err != nil {
			return err
		}
		fmt.Printf("\nSaved snapshot %s at tick %s\n", rec.ID, humanize.Comma(int64(rec.Tick)))
	}
	return nil
}

func printPrestige(sim *engine.Simulation, st *state.GameState) {
	eligible, gain := sim.PrestigePreview()
	if !eligible {
		fmt.Printf("Prestige: not yet eligible (multiplier %s)\n", st.Prestige.Multiplier.Human())
		return
	}
	fmt.Printf("Prestige: eligible, +%s to multiplier %s\n", gain.Human(), st.Prestige.Multiplier.Human())
}
