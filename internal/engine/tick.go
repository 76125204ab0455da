// Package engine runs the simulation: the fixed-step tick system, the
// single-writer Simulation, and the real-time loop that drives it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/state"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

// Now returns the current time using the system clock.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Engine drives a Simulation forward in real time.
type Engine struct {
	Sim         *Simulation
	Clock       Clock
	Interval    time.Duration // wake-up interval (default 1 second)
	ReportEvery uint64        // ticks between status reports, 0 disables

	// OnAdvance is called after every advance with its summary.
	OnAdvance func(Summary)

	mu      sync.Mutex
	speed   float64 // 1.0 = real time, 0 = paused
	last    time.Time
	running bool
	stop    chan struct{}
}

// NewEngine creates a real-time driver with default settings.
func NewEngine(sim *Simulation, clk Clock) *Engine {
	if clk == nil {
		clk = RealClock{}
	}
	return &Engine{
		Sim:      sim,
		Clock:    clk,
		Interval: time.Second,
		speed:    1.0,
	}
}

// Speed returns the time multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the time multiplier. 0 pauses; paused time is never
// simulated later.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = max(speed, 0)
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Pump advances the simulation by the wall-clock time since the previous
// pump, scaled by speed. The first pump only records the time.
func (e *Engine) Pump(ctx context.Context) (Summary, error) {
	now := e.Clock.Now()
	e.mu.Lock()
	last, speed := e.last, e.speed
	e.last = now
	e.mu.Unlock()

	if last.IsZero() || speed <= 0 {
		return Summary{}, nil
	}
	scaled := float64(now.Sub(last)) * speed
	elapsed := time.Duration(math.MaxInt64)
	if scaled < math.MaxInt64 {
		elapsed = time.Duration(scaled)
	}
	if elapsed <= 0 {
		return Summary{}, nil
	}

	sum, err := e.Sim.Advance(ctx, elapsed)
	if e.OnAdvance != nil {
		e.OnAdvance(sum)
	}
	if e.ReportEvery > 0 && sum.Ticks > 0 {
		tick := e.Sim.CurrentTick()
		if tick/e.ReportEvery != (tick-sum.Ticks)/e.ReportEvery {
			e.report()
		}
	}
	return sum, err
}

// Run starts the loop. Blocks until Stop is called or ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stop = make(chan struct{})
	e.last = e.Clock.Now()
	stop, speed := e.stop, e.speed
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", e.Sim.CurrentTick(), "speed", speed, "interval", e.Interval)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "tick", e.Sim.CurrentTick())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := e.Pump(ctx); err != nil && apperrors.CodeOf(err) != apperrors.CodeCatchUpCancelled {
				slog.Error("advance failed", "error", err)
			}
		}
	}
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *Engine) report() {
	rates := e.Sim.Rates()
	e.Sim.Read(func(st *state.GameState) {
		attrs := []any{
			"tick", st.Timeline.Tick,
			"time", SimTime(st.Timeline.Elapsed),
			"paradox", st.Paradox.Level.String(),
			"risk", fmt.Sprintf("%.3f", st.Timeline.Risk),
			"time_bank", st.TimeBank.Balance.Human(),
			"prestige", st.Prestige.Count,
		}
		for _, id := range st.Ledger.IDs() {
			attrs = append(attrs, id, st.Ledger.Get(id).Human(), id+"_per_sec", rates[id].Human())
		}
		slog.Info("status report", attrs...)
	})
}

// SimTime formats a simulated duration as "Day 3, 04:15:09".
func SimTime(d time.Duration) string {
	total := int64(d / time.Second)
	secs := total % 60
	mins := total / 60 % 60
	hours := total / 3600 % 24
	days := total/86400 + 1
	return fmt.Sprintf("Day %d, %02d:%02d:%02d", days, hours, mins, secs)
}
