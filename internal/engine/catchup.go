package engine

import (
	"context"
	"math"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/economy"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/paradox"
	"github.com/talgya/paradox-protocol/internal/state"
	"github.com/talgya/paradox-protocol/internal/timebank"
)

// Step phases, in order:
//  1. decay paradox risk (skipped after an action)
//  2. accrue production
//  3. accrue time currency
//  4. evaluate paradox thresholds
//  5. decrement debuff and Resolving countdowns

// TickSystem advances a GameState by elapsed durations in fixed steps.
type TickSystem struct {
	step        time.Duration
	stepSeconds bignum.Number
	catchUpCap  uint64
	chunkTicks  uint64

	economy *economy.Manager
	bank    *timebank.Bank
	paradox *paradox.Engine

	// OnProgress is called after each committed bulk chunk.
	OnProgress func(done, total uint64)
}

// TickTransition is a paradox level change and the tick it happened on.
type TickTransition struct {
	Tick uint64
	paradox.Transition
}

// Summary reports what one Advance did.
type Summary struct {
	Ticks       uint64
	Elapsed     time.Duration // simulated
	Remaining   time.Duration // not simulated because the advance was cancelled
	Bulk        bool
	Chunks      int
	Produced    map[string]bignum.Number
	Lost        map[string]bignum.Number
	TimeAccrued bignum.Number
	Transitions []TickTransition
	Overflow    error // first arithmetic overflow; balances saturated
}

// ParadoxEvents counts triggered Paradox Events.
func (s *Summary) ParadoxEvents() int {
	n := 0
	for _, tr := range s.Transitions {
		if tr.Triggered {
			n++
		}
	}
	return n
}

// NewTickSystem wires the per-step systems together.
func NewTickSystem(cfg config.TickConfig, eco *economy.Manager, bank *timebank.Bank, px *paradox.Engine) *TickSystem {
	step := cfg.Step.Std()
	return &TickSystem{
		step:        step,
		stepSeconds: bignum.FromFloat64(step.Seconds()),
		catchUpCap:  cfg.CatchUpCap,
		chunkTicks:  cfg.ChunkTicks,
		economy:     eco,
		bank:        bank,
		paradox:     px,
	}
}

// Step returns the fixed step duration.
func (t *TickSystem) Step() time.Duration { return t.step }

// Advance simulates elapsed time. Whole steps are simulated and the
// remainder is carried to the next call. Up to the catch-up cap, steps run
// one at a time. Beyond it, steps are grouped into chunks; each chunk is
// computed on a copy and committed whole, and ctx is checked between
// chunks. On cancellation the state reflects the last committed chunk and
// Summary.Remaining holds the time still to simulate. Run lengths whose
// paradox state is at rest are applied in closed form. Simulated time
// saturates at the largest Duration.
func (t *TickSystem) Advance(ctx context.Context, st *state.GameState, elapsed time.Duration) (Summary, error) {
	sum := Summary{
		Produced: make(map[string]bignum.Number),
		Lost:     make(map[string]bignum.Number),
	}
	if elapsed < 0 {
		return sum, apperrors.WithMetadata(apperrors.CodeValidation, "elapsed duration must not be negative",
			map[string]string{"elapsed": elapsed.String()})
	}

	total := addElapsed(st.Timeline.Carry, elapsed)
	steps := uint64(total / t.step)
	carry := total % t.step

	if steps <= t.catchUpCap {
		for i := uint64(0); i < steps; i++ {
			t.stepOnce(st, &sum)
		}
		st.Timeline.Carry = carry
		return sum, nil
	}

	sum.Bulk = true
	var done uint64
	for done < steps {
		if err := ctx.Err(); err != nil {
			st.Timeline.Carry = 0
			sum.Remaining = time.Duration(steps-done)*t.step + carry
			return sum, apperrors.Wrap(apperrors.CodeCatchUpCancelled, "catch-up cancelled", err)
		}
		if full := (steps - done) / t.chunkTicks; full > 0 && t.paradox.AtRest(st) {
			t.steady(st, full, &sum)
			done += full * t.chunkTicks
			sum.Chunks += int(full)
			if t.OnProgress != nil {
				t.OnProgress(done, steps)
			}
			continue
		}
		n := min(t.chunkTicks, steps-done)
		next := st.Clone()
		t.chunk(next, n, &sum)
		*st = *next
		done += n
		sum.Chunks++
		if t.OnProgress != nil {
			t.OnProgress(done, steps)
		}
	}
	st.Timeline.Carry = carry
	return sum, nil
}

// stepOnce runs one fixed step.
func (t *TickSystem) stepOnce(st *state.GameState, sum *Summary) {
	st.Timeline.Tick++
	tick := st.Timeline.Tick

	t.paradox.Decay(st)
	t.produce(st, t.stepSeconds, sum)

	for _, tr := range t.paradox.Evaluate(st) {
		sum.record(tick, tr)
	}
	if tr := t.paradox.Countdown(st); tr != nil {
		sum.record(tick, *tr)
	}

	st.Timeline.Elapsed = addElapsed(st.Timeline.Elapsed, t.step)
	sum.Ticks++
	sum.Elapsed += t.step
}

// chunk advances n steps. Steps run individually until the paradox state is
// quiescent; the rest are applied in closed form. Closed-form production
// adds n steps' output at once, so it can exceed the stepwise sum by the
// increments stepwise addition would have absorbed as rounding.
func (t *TickSystem) chunk(st *state.GameState, n uint64, sum *Summary) {
	for ; n > 0 && !t.paradox.Quiescent(st); n-- {
		t.stepOnce(st, sum)
	}
	if n == 0 {
		return
	}

	st.Timeline.Tick += n
	if tr := t.paradox.DecayBulk(st, n); tr != nil {
		sum.record(st.Timeline.Tick, *tr)
	}
	seconds, err := t.stepSeconds.Mul(bignum.FromUint64(n))
	sum.overflow(err)
	t.produce(st, seconds, sum)

	d := time.Duration(n) * t.step
	st.Timeline.Elapsed = addElapsed(st.Timeline.Elapsed, d)
	sum.Ticks += n
	sum.Elapsed += d
}

// steady applies count full chunks to a state at rest. Every such chunk
// credits the same amounts in the same order and leaves the paradox state
// unchanged, so the balances are advanced with AddRepeated and the result
// equals count chunk calls.
func (t *TickSystem) steady(st *state.GameState, count uint64, sum *Summary) {
	seconds, err := t.stepSeconds.Mul(bignum.FromUint64(t.chunkTicks))
	sum.overflow(err)
	outs, err := t.economy.Production(st, seconds)
	sum.overflow(err)

	var order []string
	addends := make(map[string][]bignum.Number)
	perChunk := make(map[string]bignum.Number)
	for _, o := range outs {
		if _, ok := addends[o.Resource]; !ok {
			order = append(order, o.Resource)
		}
		addends[o.Resource] = append(addends[o.Resource], o.Amount)
		v, err := perChunk[o.Resource].Add(o.Amount)
		sum.overflow(err)
		perChunk[o.Resource] = v
	}
	for _, id := range order {
		for _, l := range []state.Ledger{st.Ledger, st.RunEarned, st.LifetimeEarned} {
			v, err := l[id].AddRepeated(addends[id], count)
			sum.overflow(err)
			l[id] = v
		}
		v, err := sum.Produced[id].AddRepeated([]bignum.Number{perChunk[id]}, count)
		sum.overflow(err)
		sum.Produced[id] = v
	}

	rate, accrued, accErr := t.bank.Accrual(st, seconds)
	sum.overflow(accErr)
	st.TimeBank.AccrualRate = rate
	if accErr == nil {
		st.TimeBank.Balance, err = st.TimeBank.Balance.AddRepeated([]bignum.Number{accrued}, count)
		sum.overflow(err)
	}
	sum.TimeAccrued, err = sum.TimeAccrued.AddRepeated([]bignum.Number{accrued}, count)
	sum.overflow(err)

	n := count * t.chunkTicks
	d := time.Duration(n) * t.step
	st.Timeline.Tick += n
	st.Timeline.Elapsed = addElapsed(st.Timeline.Elapsed, d)
	sum.Ticks += n
	sum.Elapsed += d
}

// addElapsed adds two non-negative durations, saturating at the largest
// Duration.
func addElapsed(a, b time.Duration) time.Duration {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

func (t *TickSystem) produce(st *state.GameState, seconds bignum.Number, sum *Summary) {
	produced, err := t.economy.ApplyProduction(st, seconds)
	sum.overflow(err)
	sum.overflow(addInto(sum.Produced, produced))

	accrued, err := t.bank.Accrue(st, seconds)
	sum.overflow(err)
	sum.TimeAccrued, err = sum.TimeAccrued.Add(accrued)
	sum.overflow(err)
}

func (s *Summary) record(tick uint64, tr paradox.Transition) {
	s.Transitions = append(s.Transitions, TickTransition{Tick: tick, Transition: tr})
	s.overflow(addInto(s.Lost, tr.Lost))
}

func (s *Summary) overflow(err error) {
	if err != nil && s.Overflow == nil {
		s.Overflow = err
	}
}

func addInto(dst, src map[string]bignum.Number) error {
	var first error
	for id, v := range src {
		sum, err := dst[id].Add(v)
		if err != nil && first == nil {
			first = err
		}
		dst[id] = sum
	}
	return first
}
