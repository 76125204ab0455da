package economy

import (
	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/state"
)

// GeneratorRate returns a generator's total output per second:
// (rate + additive effects) × owned × multiplicative effects in purchase
// order × prestige multiplier × debuff multiplier while the debuff is active.
func (m *Manager) GeneratorRate(st *state.GameState, id string) (bignum.Number, error) {
	g, err := m.Generator(id)
	if err != nil {
		return bignum.Zero(), err
	}
	owned := st.Owned(id)
	if owned == 0 {
		return bignum.Zero(), nil
	}

	base := g.Rate
	for _, e := range m.effects(st, id, config.EffectAdditive) {
		if base, err = base.Add(e.Value); err != nil {
			return base, err
		}
	}
	out, err := base.Mul(bignum.FromUint64(owned))
	if err != nil {
		return out, err
	}
	for _, e := range m.effects(st, id, config.EffectMultiplicative) {
		if out, err = out.Mul(e.Value); err != nil {
			return out, err
		}
	}
	if out, err = out.Mul(st.Prestige.Multiplier); err != nil {
		return out, err
	}
	if st.DebuffActive() {
		return out.Mul(m.debuff)
	}
	return out, nil
}

// effects returns purchased effects of kind that apply to generator id, in
// purchase order.
func (m *Manager) effects(st *state.GameState, id string, kind config.EffectKind) []config.Effect {
	var out []config.Effect
	for _, uid := range st.Upgrades {
		for _, e := range m.upgrades[uid].Effects {
			if e.Kind == kind && (e.Target == "" || e.Target == id) {
				out = append(out, e)
			}
		}
	}
	return out
}

// Rates returns production per second for each produced resource.
func (m *Manager) Rates(st *state.GameState) (map[string]bignum.Number, error) {
	rates := make(map[string]bignum.Number)
	var firstErr error
	for _, g := range m.balance.Generators {
		r, err := m.GeneratorRate(st, g.ID)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if r.IsZero() {
			continue
		}
		sum, err := rates[g.Resource].Add(r)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		rates[g.Resource] = sum
	}
	return rates, firstErr
}

// Output is one generator's production over an interval.
type Output struct {
	Resource string
	Amount   bignum.Number
}

// Production returns the non-zero output of every generator over seconds,
// in definition order. On overflow the amounts saturate and the first error
// is returned.
func (m *Manager) Production(st *state.GameState, seconds bignum.Number) ([]Output, error) {
	var outs []Output
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, g := range m.balance.Generators {
		rate, err := m.GeneratorRate(st, g.ID)
		keep(err)
		if rate.IsZero() {
			continue
		}
		amount, err := rate.Mul(seconds)
		keep(err)
		if amount.IsZero() {
			continue
		}
		outs = append(outs, Output{Resource: g.Resource, Amount: amount})
	}
	return outs, firstErr
}

// ApplyProduction credits every generator's output over seconds to the
// ledger and to the run and lifetime totals. Generators are applied in
// definition order. On overflow the affected balances saturate, production
// continues, and the first error is returned.
func (m *Manager) ApplyProduction(st *state.GameState, seconds bignum.Number) (map[string]bignum.Number, error) {
	outs, firstErr := m.Production(st, seconds)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	produced := make(map[string]bignum.Number)
	for _, o := range outs {
		keep(st.Ledger.Credit(o.Resource, o.Amount))
		keep(st.RunEarned.Credit(o.Resource, o.Amount))
		keep(st.LifetimeEarned.Credit(o.Resource, o.Amount))
		total, err := produced[o.Resource].Add(o.Amount)
		keep(err)
		produced[o.Resource] = total
	}
	return produced, firstErr
}
