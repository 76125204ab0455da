package engine

import (
	"context"
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestPumpScalesBySpeed(t *testing.T) {
	sim := newSim(t, testBalance())
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := NewEngine(sim, clk)
	ctx := context.Background()

	if sum, _ := eng.Pump(ctx); sum.Ticks != 0 {
		t.Fatalf("expected first pump to only record time")
	}

	clk.now = clk.now.Add(5 * time.Second)
	if sum, err := eng.Pump(ctx); err != nil || sum.Ticks != 50 {
		t.Fatalf("expected 50 ticks got %d (%v)", sum.Ticks, err)
	}

	eng.SetSpeed(2)
	clk.now = clk.now.Add(time.Second)
	if sum, _ := eng.Pump(ctx); sum.Ticks != 20 {
		t.Fatalf("expected 20 ticks at double speed got %d", sum.Ticks)
	}

	eng.SetSpeed(0)
	clk.now = clk.now.Add(time.Hour)
	if sum, _ := eng.Pump(ctx); sum.Ticks != 0 {
		t.Fatalf("expected paused engine to skip time")
	}
	eng.SetSpeed(1)
	clk.now = clk.now.Add(time.Second)
	if sum, _ := eng.Pump(ctx); sum.Ticks != 10 {
		t.Fatalf("expected paused hour discarded, got %d ticks", sum.Ticks)
	}
}

func TestPumpReportsAndNotifies(t *testing.T) {
	sim := newSim(t, testBalance())
	clk := &fakeClock{now: time.Unix(0, 0)}
	eng := NewEngine(sim, clk)
	eng.ReportEvery = 10
	var seen uint64
	eng.OnAdvance = func(s Summary) { seen += s.Ticks }

	eng.Pump(context.Background())
	clk.now = clk.now.Add(3 * time.Second)
	eng.Pump(context.Background())
	if seen != 30 {
		t.Fatalf("expected OnAdvance to see 30 ticks got %d", seen)
	}
}

func TestRunStops(t *testing.T) {
	sim := newSim(t, testBalance())
	eng := NewEngine(sim, nil)
	eng.Interval = time.Millisecond

	done := make(chan struct{})
	go func() {
		eng.Run(context.Background())
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for !eng.Running() {
		select {
		case <-deadline:
			t.Fatalf("engine never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	eng.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
	}
	if eng.Running() {
		t.Fatalf("expected engine stopped")
	}
}

func TestSimTime(t *testing.T) {
	if got := SimTime(0); got != "Day 1, 00:00:00" {
		t.Fatalf("unexpected %s", got)
	}
	d := 2*24*time.Hour + 4*time.Hour + 15*time.Minute + 9*time.Second
	if got := SimTime(d); got != "Day 3, 04:15:09" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestPumpSaturatesScaledTime(t *testing.T) {
	sim := newSim(t, testBalance())
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := NewEngine(sim, clk)
	ctx := context.Background()
	eng.Pump(ctx)

	eng.SetSpeed(1e12)
	clk.now = clk.now.Add(time.Hour)
	sum, err := eng.Pump(ctx)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if want := uint64(math.MaxInt64 / (100 * time.Millisecond)); sum.Ticks != want {
		t.Fatalf("expected %d ticks got %d", want, sum.Ticks)
	}
}
