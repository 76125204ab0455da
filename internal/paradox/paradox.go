// Package paradox runs the paradox state machine: risk accumulates from
// time-bank actions, decays while idle, and crossing the critical threshold
// triggers a Paradox Event with a penalty and a Resolving cooldown.
package paradox

import (
	"math"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/state"
	"github.com/talgya/paradox-protocol/internal/timebank"
)

// Risk within this distance of the floor snaps to it.
const snapEpsilon = 1e-9

// Transition is one level change.
type Transition struct {
	From      state.Level
	To        state.Level
	Risk      float64
	Triggered bool                     // Critical reached: penalty applied
	Lost      map[string]bignum.Number // resources removed by the penalty
}

// Engine applies paradox configuration to a GameState.
type Engine struct {
	cfg  config.ParadoxConfig
	keep bignum.Number // fraction of each resource kept by the penalty
}

func New(cfg config.ParadoxConfig) *Engine {
	return &Engine{
		cfg:  cfg,
		keep: bignum.FromFloat64(1 - cfg.Penalty.ResourceLoss),
	}
}

// Register adds a spend's risk cost to the accumulator and returns the cost
// applied. Costs are multiplied while Resolving.
func (e *Engine) Register(st *state.GameState, r timebank.Receipt) float64 {
	cost := r.RiskCost
	if cost <= 0 {
		return 0
	}
	if st.Paradox.Level == state.Resolving {
		cost *= e.cfg.ResolvingRiskMultiplier
		st.Paradox.ResolvingRisk += cost
	}
	st.Timeline.Risk = e.clamp(st.Timeline.Risk + cost)
	st.Paradox.Acted = true
	return cost
}

// Decay lowers risk by one tick's decay unless an action was registered
// since the last evaluation.
func (e *Engine) Decay(st *state.GameState) {
	if st.Paradox.Acted {
		return
	}
	st.Timeline.Risk = e.decayed(st.Timeline.Risk, 1)
}

func (e *Engine) decayed(risk float64, ticks uint64) float64 {
	floor := e.cfg.DecayFloor
	if risk <= floor || e.cfg.DecayPerTick == 0 {
		return risk
	}
	if ticks >= e.Horizon() {
		return floor
	}
	next := risk - e.cfg.DecayPerTick*float64(ticks)
	if next <= floor+snapEpsilon {
		return floor
	}
	return next
}

// Horizon is the number of idle ticks after which risk is at the floor from
// any starting value.
func (e *Engine) Horizon() uint64 {
	if e.cfg.DecayPerTick <= 0 {
		return math.MaxUint64
	}
	return uint64(math.Ceil((e.cfg.RiskMax - e.cfg.DecayFloor) / e.cfg.DecayPerTick))
}

// Evaluate moves the state at most one level toward the level implied by
// the current risk and clears the pending-action flag. Reaching Critical
// triggers the Paradox Event and enters Resolving in the same call.
func (e *Engine) Evaluate(st *state.GameState) []Transition {
	st.Paradox.Acted = false

	from := st.Paradox.Level
	if from == state.Resolving {
		return nil
	}
	target := e.LevelFor(st.Timeline.Risk)
	var to state.Level
	switch {
	case target > from:
		to = from + 1
	case target < from:
		to = from - 1
	default:
		return nil
	}
	st.Paradox.Level = to
	out := []Transition{{From: from, To: to, Risk: st.Timeline.Risk}}
	if to == state.Critical {
		out = append(out, e.trigger(st))
	}
	return out
}

// trigger applies the penalty and enters Resolving.
func (e *Engine) trigger(st *state.GameState) Transition {
	lost := e.applyLoss(st)
	st.Paradox.Level = state.Resolving
	st.Paradox.ResolvingTicks = e.cfg.ResolvingTicks
	st.Paradox.ResolvingRisk = 0
	st.Paradox.Events++
	st.Timeline.DebuffTicks = max(st.Timeline.DebuffTicks, e.cfg.Penalty.DebuffTicks)
	return Transition{
		From:      state.Critical,
		To:        state.Resolving,
		Risk:      st.Timeline.Risk,
		Triggered: true,
		Lost:      lost,
	}
}

func (e *Engine) applyLoss(st *state.GameState) map[string]bignum.Number {
	lost := make(map[string]bignum.Number)
	if e.cfg.Penalty.ResourceLoss <= 0 {
		return lost
	}
	for _, id := range st.Ledger.IDs() {
		before := st.Ledger[id]
		after, _ := before.Mul(e.keep)
		st.Ledger[id] = after
		if d := before.Sub(after); !d.IsZero() {
			lost[id] = d
		}
	}
	return lost
}

// Countdown decrements the debuff and Resolving counters. Leaving Resolving
// returns to Stable with risk at the baseline plus whatever was registered
// during Resolving.
func (e *Engine) Countdown(st *state.GameState) *Transition {
	if st.Timeline.DebuffTicks > 0 {
		st.Timeline.DebuffTicks--
	}
	if st.Paradox.Level != state.Resolving {
		return nil
	}
	if st.Paradox.ResolvingTicks > 0 {
		st.Paradox.ResolvingTicks--
	}
	if st.Paradox.ResolvingTicks > 0 {
		return nil
	}
	st.Paradox.Level = state.Stable
	st.Timeline.Risk = e.clamp(e.cfg.ResolvedBaseline + st.Paradox.ResolvingRisk)
	st.Paradox.ResolvingRisk = 0
	return &Transition{From: state.Resolving, To: state.Stable, Risk: st.Timeline.Risk}
}

// Quiescent reports whether the next ticks can only decay risk: no pending
// action, not Resolving, no debuff, and no upward transition pending.
// Quiescent states may be advanced with DecayBulk.
func (e *Engine) Quiescent(st *state.GameState) bool {
	return !st.Paradox.Acted &&
		st.Paradox.Level != state.Resolving &&
		st.Timeline.DebuffTicks == 0 &&
		e.LevelFor(st.Timeline.Risk) <= st.Paradox.Level
}

// AtRest reports whether idle ticks leave the paradox state unchanged:
// quiescent, risk at the floor or not decaying, and the level settled.
func (e *Engine) AtRest(st *state.GameState) bool {
	return e.Quiescent(st) &&
		e.decayed(st.Timeline.Risk, 1) == st.Timeline.Risk &&
		e.LevelFor(st.Timeline.Risk) == st.Paradox.Level
}

// DecayBulk advances a quiescent state by ticks idle ticks in one step.
func (e *Engine) DecayBulk(st *state.GameState, ticks uint64) *Transition {
	if ticks == 0 {
		return nil
	}
	st.Timeline.Risk = e.decayed(st.Timeline.Risk, ticks)
	from := st.Paradox.Level
	if to := e.LevelFor(st.Timeline.Risk); to < from {
		st.Paradox.Level = to
		return &Transition{From: from, To: to, Risk: st.Timeline.Risk}
	}
	return nil
}

// LevelFor returns the resting level implied by a risk value.
func (e *Engine) LevelFor(risk float64) state.Level {
	switch {
	case risk >= e.cfg.CriticalThreshold:
		return state.Critical
	case risk >= e.cfg.ElevatedThreshold:
		return state.Elevated
	}
	return state.Stable
}

func (e *Engine) clamp(risk float64) float64 {
	return min(max(risk, 0), e.cfg.RiskMax)
}
