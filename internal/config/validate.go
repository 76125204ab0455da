package config

import (
	"fmt"
	"math"

	"github.com/talgya/paradox-protocol/internal/bignum"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
)

func invalid(field, reason string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation, fmt.Sprintf("balance: %s %s", field, reason),
		map[string]string{"field": field})
}

// Validate checks the internal consistency of the balance data.
func (b *Balance) Validate() error {
	one := bignum.One()

	generators := make(map[string]bool, len(b.Generators))
	for i, g := range b.Generators {
		field := fmt.Sprintf("generators[%d]", i)
		switch {
		case g.ID == "":
			return invalid(field+".id", "is empty")
		case generators[g.ID]:
			return invalid(field+".id", "duplicates "+g.ID)
		case g.Resource == "" || g.CostResource == "":
			return invalid(field, "has no resource")
		case g.BaseCost.IsZero():
			return invalid(field+".base_cost", "must be positive")
		case g.Growth.Less(one):
			return invalid(field+".growth", "must be at least 1")
		}
		generators[g.ID] = true
	}

	upgrades := make(map[string]bool, len(b.Upgrades))
	for i, u := range b.Upgrades {
		field := fmt.Sprintf("upgrades[%d]", i)
		switch {
		case u.ID == "":
			return invalid(field+".id", "is empty")
		case upgrades[u.ID]:
			return invalid(field+".id", "duplicates "+u.ID)
		case u.CostResource == "":
			return invalid(field, "has no cost resource")
		}
		for j, e := range u.Effects {
			ef := fmt.Sprintf("%s.effects[%d]", field, j)
			if e.Target != "" && !generators[e.Target] {
				return invalid(ef+".target", "references unknown generator "+e.Target)
			}
			switch e.Kind {
			case EffectAdditive, EffectMultiplicative:
			case EffectUnlock:
				if e.Target == "" {
					return invalid(ef+".target", "is required for unlock")
				}
			default:
				return invalid(ef+".kind", "is unknown: "+string(e.Kind))
			}
		}
		upgrades[u.ID] = true
	}
	if b.Tick.Step <= 0 {
		return invalid("tick.step", "must be positive")
	}
	if b.Tick.CatchUpCap == 0 || b.Tick.ChunkTicks == 0 {
		return invalid("tick", "catch_up_cap and chunk_ticks must be positive")
	}

	for kind, a := range b.TimeBank.Actions {
		if kind == "" || !finiteNonNegative(a.RiskCost) {
			return invalid("time_bank.actions."+kind, "needs a name and a non-negative risk cost")
		}
	}

	p := b.Paradox
	switch {
	case !finiteNonNegative(p.DecayFloor) || !finiteNonNegative(p.DecayPerTick):
		return invalid("paradox.decay", "must be finite and non-negative")
	case !(p.DecayFloor <= p.ElevatedThreshold && p.ElevatedThreshold < p.CriticalThreshold && p.CriticalThreshold <= p.RiskMax):
		return invalid("paradox", "thresholds must satisfy floor <= elevated < critical <= risk_max")
	case p.ResolvingTicks == 0:
		return invalid("paradox.resolving_ticks", "must be positive")
	case !finiteNonNegative(p.ResolvingRiskMultiplier):
		return invalid("paradox.resolving_risk_multiplier", "must be non-negative")
	case p.ResolvedBaseline < 0 || p.ResolvedBaseline >= p.CriticalThreshold:
		return invalid("paradox.resolved_baseline", "must be in [0, critical_threshold)")
	case p.Penalty.ResourceLoss < 0 || p.Penalty.ResourceLoss > 1:
		return invalid("paradox.penalty.resource_loss", "must be in [0, 1]")
	case !finiteNonNegative(p.Penalty.DebuffMultiplier):
		return invalid("paradox.penalty.debuff_multiplier", "must be non-negative")
	}

	pr := b.Prestige
	switch {
	case pr.Resource == "":
		return invalid("prestige.resource", "is empty")
	case pr.Threshold.IsZero():
		return invalid("prestige.threshold", "must be positive")
	case pr.Divisor.IsZero():
		return invalid("prestige.divisor", "must be positive")
	case !finiteNonNegative(pr.Exponent):
		return invalid("prestige.exponent", "must be non-negative")
	}
	return nil
}

func finiteNonNegative(f float64) bool {
	return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}
