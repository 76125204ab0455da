package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/commands"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/economy"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/events"
	"github.com/talgya/paradox-protocol/internal/prestige"
	"github.com/talgya/paradox-protocol/internal/snapshot"
	"github.com/talgya/paradox-protocol/internal/state"
)

func testBalance() config.Balance {
	n := bignum.MustParse
	b := config.DefaultBalance()
	b.StartingResources = map[string]bignum.Number{"credits": n("0")}
	b.Generators = []config.GeneratorDef{
		{ID: "g", Name: "Gen", Resource: "credits", CostResource: "credits", BaseCost: n("10"), Growth: n("1.15"), Rate: n("1")},
	}
	b.Upgrades = nil
	b.Tick = config.TickConfig{Step: config.Duration(100 * time.Millisecond), CatchUpCap: 3000, ChunkTicks: 36000}
	b.TimeBank = config.TimeBankConfig{
		BaseRate:        n("0.1"),
		StartingBalance: n("10"),
		Actions:         map[string]config.ActionDef{"accelerate": {RiskCost: 0.25}},
	}
	return b
}

func newSim(t *testing.T, b config.Balance) *Simulation {
	t.Helper()
	if err := b.Validate(); err != nil {
		t.Fatalf("invalid test balance: %v", err)
	}
	return NewSimulation(&b, nil)
}

func credits(s *Simulation) bignum.Number {
	var n bignum.Number
	s.Read(func(st *state.GameState) { n = st.Ledger.Get("credits") })
	return n
}

func advance(t *testing.T, s *Simulation, d time.Duration) Summary {
	t.Helper()
	sum, err := s.Advance(context.Background(), d)
	if err != nil {
		t.Fatalf("advance %s: %v", d, err)
	}
	return sum
}

func snap(t *testing.T, s *Simulation) []byte {
	t.Helper()
	data, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return data
}

func TestEndToEndScenario(t *testing.T) {
	sim := newSim(t, testBalance())
	var triggered int
	sim.Events().Subscribe(events.SinkFunc(func(e events.Event) {
		if e.Type == events.ParadoxTriggered {
			triggered++
		}
	}))

	advance(t, sim, 100*time.Second)
	if !credits(sim).IsZero() {
		t.Fatalf("expected no production without generators, got %s", credits(sim))
	}
	if _, err := sim.PurchaseGenerator("g", 1); !errors.Is(err, economy.ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources got %v", err)
	}

	sim.Read(func(st *state.GameState) { st.Ledger["credits"] = bignum.FromUint64(10) })
	owned, err := sim.PurchaseGenerator("g", 1)
	if err != nil || owned != 1 {
		t.Fatalf("expected to own 1 got %d (%v)", owned, err)
	}
	if !credits(sim).IsZero() {
		t.Fatalf("expected purchase to spend 10 got %s left", credits(sim))
	}

	advance(t, sim, 10*time.Second)
	if got := credits(sim); got.String() != "1e1" {
		t.Fatalf("expected exactly 10 credits got %s", got)
	}

	want := []state.Level{state.Stable, state.Elevated, state.Elevated, state.Elevated, state.Resolving}
	for i, level := range want {
		if _, err := sim.SpendTime(bignum.One(), "accelerate"); err != nil {
			t.Fatalf("spend %d: %v", i+1, err)
		}
		advance(t, sim, 100*time.Millisecond)
		var got state.Level
		sim.Read(func(st *state.GameState) { got = st.Paradox.Level })
		if got != level {
			t.Fatalf("spend %d: expected %s got %s", i+1, level, got)
		}
	}
	if triggered != 1 {
		t.Fatalf("expected exactly one paradox event got %d", triggered)
	}

	if _, err := sim.RequestPrestige(); !errors.Is(err, prestige.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible got %v", err)
	}
}

func TestSnapshotRestoreContinuesIdentically(t *testing.T) {
	b := testBalance()
	a := newSim(t, b)
	a.Read(func(st *state.GameState) { st.Ledger["credits"] = bignum.FromUint64(500) })
	if _, err := a.PurchaseGenerator("g", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SpendTime(bignum.FromUint64(2), "accelerate"); err != nil {
		t.Fatal(err)
	}
	advance(t, a, 3*time.Second+50*time.Millisecond)

	c := newSim(t, b)
	if err := c.Restore(snap(t, a)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !bytes.Equal(snap(t, a), snap(t, c)) {
		t.Fatalf("expected restored snapshot to re-encode identically")
	}

	for _, s := range []*Simulation{a, c} {
		advance(t, s, 2*time.Hour)
		if _, err := s.PurchaseGenerator("g", 3); err != nil {
			t.Fatal(err)
		}
		advance(t, s, 45*time.Second)
	}
	if !bytes.Equal(snap(t, a), snap(t, c)) {
		t.Fatalf("expected identical state after identical commands")
	}
}

func chunkBalance() config.Balance {
	b := testBalance()
	b.Tick = config.TickConfig{Step: config.Duration(time.Second), CatchUpCap: 10, ChunkTicks: 20}
	return b
}

func primed(t *testing.T, b config.Balance) *state.GameState {
	t.Helper()
	st := state.New(&b)
	st.Generators["g"] = 3
	st.Timeline.Risk = 1.2
	st.Paradox.Level = state.Elevated
	st.Paradox.Acted = true
	return st
}

func TestChunkedAdvanceMatchesChunkSizedCalls(t *testing.T) {
	b := chunkBalance()
	st := primed(t, b)
	whole := NewSimulation(&b, st.Clone())
	parts := NewSimulation(&b, st.Clone())

	sum := advance(t, whole, 60*time.Second)
	if !sum.Bulk || sum.Chunks != 3 || sum.Ticks != 60 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	for i := 0; i < 3; i++ {
		advance(t, parts, 20*time.Second)
	}
	if !bytes.Equal(snap(t, whole), snap(t, parts)) {
		t.Fatalf("expected one long advance to equal three chunk-sized advances")
	}
}

func TestBulkMatchesStepwise(t *testing.T) {
	bulkBal := chunkBalance()
	stepBal := chunkBalance()
	stepBal.Tick.CatchUpCap = 1000

	st := primed(t, bulkBal)
	st.Timeline.Risk = 0.3
	st.Paradox.Level = state.Stable
	bulk := NewSimulation(&bulkBal, st.Clone())
	step := NewSimulation(&stepBal, st.Clone())

	if s := advance(t, bulk, 600*time.Second); !s.Bulk {
		t.Fatalf("expected bulk mode")
	}
	if s := advance(t, step, 600*time.Second); s.Bulk {
		t.Fatalf("expected stepwise mode")
	}

	x, y := bulk.State(), step.State()
	if !x.Ledger.Get("credits").Equal(y.Ledger.Get("credits")) {
		t.Fatalf("credits differ: %s vs %s", x.Ledger.Get("credits"), y.Ledger.Get("credits"))
	}
	if !x.TimeBank.Balance.Equal(y.TimeBank.Balance) {
		t.Fatalf("time bank differs: %s vs %s", x.TimeBank.Balance, y.TimeBank.Balance)
	}
	if x.Timeline.Tick != y.Timeline.Tick || x.Paradox.Level != y.Paradox.Level {
		t.Fatalf("timeline differs: %+v vs %+v", x.Timeline, y.Timeline)
	}
	if d := x.Timeline.Risk - y.Timeline.Risk; d > 1e-9 || d < -1e-9 {
		t.Fatalf("risk differs: %v vs %v", x.Timeline.Risk, y.Timeline.Risk)
	}
	if x.Ledger.Get("credits").String() != "1.8e3" {
		t.Fatalf("expected 1800 credits got %s", x.Ledger.Get("credits"))
	}
}

func TestCancelledCatchUpResumes(t *testing.T) {
	b := chunkBalance()
	st := primed(t, b)
	full := NewSimulation(&b, st.Clone())
	cut := NewSimulation(&b, st.Clone())

	advance(t, full, 60*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cut.SetProgress(func(done, total uint64) {
		if done >= 20 {
			cancel()
		}
	})
	sum, err := cut.Advance(ctx, 60*time.Second)
	if apperrors.CodeOf(err) != apperrors.CodeCatchUpCancelled || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation got %v", err)
	}
	if sum.Chunks != 1 || sum.Remaining != 40*time.Second {
		t.Fatalf("unexpected partial summary %+v", sum)
	}
	if cut.CurrentTick() != 20 {
		t.Fatalf("expected first chunk committed, tick %d", cut.CurrentTick())
	}

	cut.SetProgress(nil)
	advance(t, cut, sum.Remaining)
	if !bytes.Equal(snap(t, full), snap(t, cut)) {
		t.Fatalf("expected resumed catch-up to match uninterrupted run")
	}
}

func TestCancelledBeforeFirstChunk(t *testing.T) {
	b := chunkBalance()
	sim := NewSimulation(&b, primed(t, b))
	before := snap(t, sim)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := sim.Advance(ctx, time.Minute)
	if apperrors.CodeOf(err) != apperrors.CodeCatchUpCancelled || sum.Remaining != time.Minute {
		t.Fatalf("expected nothing simulated, got %+v (%v)", sum, err)
	}
	if !bytes.Equal(before, snap(t, sim)) {
		t.Fatalf("expected state unchanged")
	}
}

func TestAdvanceCarriesRemainder(t *testing.T) {
	sim := newSim(t, testBalance())
	for i := 0; i < 2; i++ {
		advance(t, sim, 150*time.Millisecond)
	}
	if sim.CurrentTick() != 3 {
		t.Fatalf("expected 3 ticks from 300ms got %d", sim.CurrentTick())
	}
	if _, err := sim.Advance(context.Background(), -time.Second); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation error for negative elapsed got %v", err)
	}
}

func TestSteadyChunksMatchChunkCalls(t *testing.T) {
	n := bignum.MustParse
	b := chunkBalance()
	b.Generators = append(b.Generators, config.GeneratorDef{
		ID: "h", Name: "Hum", Resource: "credits", CostResource: "credits", BaseCost: n("50"), Growth: n("1.2"), Rate: n("0.37"),
	})
	b.TimeBank.BaseRate = n("0.013")
	sim := newSim(t, b)

	st := sim.State()
	st.Generators["g"] = 7
	st.Generators["h"] = 3
	st.Ledger["credits"] = n("123.456")

	want := st.Clone()
	wantSum := Summary{Produced: make(map[string]bignum.Number), Lost: make(map[string]bignum.Number)}
	for i := 0; i < 5000; i++ {
		sim.ticks.chunk(want, 20, &wantSum)
	}

	got := st.Clone()
	sum, err := sim.ticks.Advance(context.Background(), got, 5000*20*time.Second)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if sum.Chunks != 5000 || sum.Ticks != 100000 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	x, _ := snapshot.Encode(got)
	y, _ := snapshot.Encode(want)
	if !bytes.Equal(x, y) {
		t.Fatalf("expected closed-form chunks to equal chunk calls: %s vs %s",
			got.Ledger.Get("credits"), want.Ledger.Get("credits"))
	}
	if !sum.Produced["credits"].Equal(wantSum.Produced["credits"]) || !sum.TimeAccrued.Equal(wantSum.TimeAccrued) {
		t.Fatalf("summary differs: %s/%s vs %s/%s", sum.Produced["credits"], sum.TimeAccrued,
			wantSum.Produced["credits"], wantSum.TimeAccrued)
	}
}

func TestLongestAdvanceCompletes(t *testing.T) {
	sim := newSim(t, testBalance())
	sim.Read(func(st *state.GameState) {
		st.Generators["g"] = 2
		st.Timeline.Carry = 50 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, err := sim.Advance(ctx, math.MaxInt64)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	step := 100 * time.Millisecond
	steps := uint64(math.MaxInt64 / step)
	st := sim.State()
	if st.Timeline.Tick != steps || sum.Ticks != steps {
		t.Fatalf("expected %d ticks got %d (summary %d)", steps, st.Timeline.Tick, sum.Ticks)
	}
	if st.Timeline.Elapsed != time.Duration(steps)*step || st.Timeline.Elapsed < 0 {
		t.Fatalf("expected elapsed %s got %s", time.Duration(steps)*step, st.Timeline.Elapsed)
	}
	if st.Timeline.Carry != math.MaxInt64%step || sum.Remaining != 0 {
		t.Fatalf("unexpected carry %s remaining %s", st.Timeline.Carry, sum.Remaining)
	}
	if credits(sim).IsZero() || st.TimeBank.Balance.Less(bignum.FromUint64(10)) {
		t.Fatalf("expected production and accrual got %s and %s", credits(sim), st.TimeBank.Balance)
	}
	if err := newSim(t, testBalance()).Restore(snap(t, sim)); err != nil {
		t.Fatalf("expected snapshot to restore: %v", err)
	}
}

func TestElapsedSaturates(t *testing.T) {
	sim := newSim(t, testBalance())
	sim.Read(func(st *state.GameState) { st.Timeline.Elapsed = math.MaxInt64 - 50*time.Millisecond })

	advance(t, sim, time.Second)
	advance(t, sim, 2*time.Hour)
	st := sim.State()
	if st.Timeline.Elapsed != math.MaxInt64 {
		t.Fatalf("expected elapsed saturated got %s", st.Timeline.Elapsed)
	}
	if st.Timeline.Tick != 10+72000 {
		t.Fatalf("expected ticks to keep counting got %d", st.Timeline.Tick)
	}

	c := newSim(t, testBalance())
	if err := c.Restore(snap(t, sim)); err != nil {
		t.Fatalf("expected saturated snapshot to restore: %v", err)
	}
	if !bytes.Equal(snap(t, sim), snap(t, c)) {
		t.Fatalf("expected restored snapshot to re-encode identically")
	}
}

func TestOverflowSaturates(t *testing.T) {
	b := testBalance()
	b.Generators[0].Rate = bignum.MustParse("9.99e2147483647")
	sim := newSim(t, b)
	sim.Read(func(st *state.GameState) { st.Generators["g"] = 1 })

	sum := advance(t, sim, time.Second)
	if !errors.Is(sum.Overflow, bignum.ErrOverflow) {
		t.Fatalf("expected overflow reported got %v", sum.Overflow)
	}
	if !credits(sim).Equal(bignum.Largest()) {
		t.Fatalf("expected saturated credits got %s", credits(sim))
	}
}

func TestNotificationsCoalescedPerBoundary(t *testing.T) {
	sim := newSim(t, testBalance())
	sim.Read(func(st *state.GameState) { st.Generators["g"] = 1 })

	var changes, batches int
	sim.Events().Subscribe(events.SinkFunc(func(e events.Event) {
		switch e.Type {
		case events.ResourceChanged:
			changes++
		case events.TickProcessed:
			batches++
			if e.Data.(events.TickBatch).Ticks != 100 {
				t.Fatalf("expected a 100 tick batch got %+v", e.Data)
			}
		}
	}))
	advance(t, sim, 10*time.Second)
	if changes != 1 || batches != 1 {
		t.Fatalf("expected one change and one batch, got %d and %d", changes, batches)
	}
}

func TestExecute(t *testing.T) {
	sim := newSim(t, testBalance())
	ctx := context.Background()
	sim.Read(func(st *state.GameState) { st.Ledger["credits"] = bignum.FromUint64(100) })

	res, err := sim.Execute(ctx, commands.PurchaseGenerator{Generator: "g", Count: 2})
	if err != nil || res.(uint64) != 2 {
		t.Fatalf("expected owned 2 got %v (%v)", res, err)
	}
	res, err = sim.Execute(ctx, commands.Advance{Elapsed: time.Second})
	if err != nil || res.(Summary).Ticks != 10 {
		t.Fatalf("expected 10 ticks got %v (%v)", res, err)
	}
	if _, err := sim.Execute(ctx, commands.PurchaseUpgrade{Upgrade: "nope"}); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
	if _, err := sim.Execute(ctx, commands.RequestPrestige{}); !errors.Is(err, prestige.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible got %v", err)
	}
}

func TestPrestigeThroughSimulation(t *testing.T) {
	b := testBalance()
	b.Prestige.Threshold = bignum.MustParse("100")
	b.Prestige.Divisor = bignum.MustParse("100")
	sim := newSim(t, b)
	sim.Read(func(st *state.GameState) {
		st.Generators["g"] = 10
		st.Ledger["credits"] = bignum.FromUint64(50)
	})

	advance(t, sim, 10*time.Second)
	eligible, _ := sim.PrestigePreview()
	if !eligible {
		t.Fatalf("expected eligibility after earning 100")
	}
	res, err := sim.RequestPrestige()
	if err != nil {
		t.Fatalf("prestige: %v", err)
	}
	if res.Count != 1 || !res.Multiplier.GreaterOrEqual(bignum.One()) {
		t.Fatalf("unexpected result %+v", res)
	}
	st := sim.State()
	if st.Generators["g"] != 0 || !st.Ledger.Get("credits").IsZero() || st.Timeline.Tick != 100 {
		t.Fatalf("expected reset run keeping tick, got %+v %+v", st.Generators, st.Timeline)
	}
}

func TestRestoreRejectsCorrupt(t *testing.T) {
	sim := newSim(t, testBalance())
	before := snap(t, sim)
	if err := sim.Restore([]byte("{}")); apperrors.CodeOf(err) != apperrors.CodeCorruptSnapshot {
		t.Fatalf("expected corrupt snapshot error got %v", err)
	}
	if !bytes.Equal(before, snap(t, sim)) {
		t.Fatalf("expected state kept after rejected restore")
	}
}
