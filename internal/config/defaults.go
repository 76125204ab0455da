package config

import (
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
)

// DefaultBalance returns the built-in tuning used when no balance directory
// is configured.
func DefaultBalance() Balance {
	n := bignum.MustParse
	return Balance{
		StartingResources: map[string]bignum.Number{
			DefaultResource: n("10"),
		},
		Generators: []GeneratorDef{
			{ID: "chrono_harvester", Name: "Chrono Harvester", Resource: DefaultResource, CostResource: DefaultResource,
				BaseCost: n("10"), Growth: n("1.15"), Rate: n("1")},
			{ID: "temporal_condenser", Name: "Temporal Condenser", Resource: DefaultResource, CostResource: DefaultResource,
				BaseCost: n("100"), Growth: n("1.15"), Rate: n("8")},
			{ID: "loop_forge", Name: "Loop Forge", Resource: DefaultResource, CostResource: DefaultResource,
				BaseCost: n("1100"), Growth: n("1.14"), Rate: n("47")},
			{ID: "epoch_reactor", Name: "Epoch Reactor", Resource: DefaultResource, CostResource: DefaultResource,
				BaseCost: n("12000"), Growth: n("1.13"), Rate: n("260")},
		},
		Upgrades: []UpgradeDef{
			{ID: "harvester_tuning", Name: "Harvester Tuning", CostResource: DefaultResource, Cost: n("100"),
				Effects: []Effect{{Kind: EffectMultiplicative, Target: "chrono_harvester", Value: n("2")}}},
			{ID: "flux_lattice", Name: "Flux Lattice", CostResource: DefaultResource, Cost: n("500"),
				Effects: []Effect{{Kind: EffectAdditive, Target: "temporal_condenser", Value: n("4")}}},
			{ID: "epoch_blueprints", Name: "Epoch Blueprints", CostResource: DefaultResource, Cost: n("5000"),
				Effects: []Effect{{Kind: EffectUnlock, Target: "epoch_reactor"}}},
			{ID: "causal_lensing", Name: "Causal Lensing", CostResource: DefaultResource, Cost: n("25000"),
				Effects: []Effect{{Kind: EffectMultiplicative, Value: n("1.5")}}},
		},
		Tick: TickConfig{
			Step:       Duration(100 * time.Millisecond),
			CatchUpCap: 3000,  // 5 minutes of steps
			ChunkTicks: 36000, // 1 hour per committed chunk
		},
		TimeBank: TimeBankConfig{
			BaseRate:        n("0.1"),
			StartingBalance: n("0"),
			Actions: map[string]ActionDef{
				"accelerate": {RiskCost: 0.25, WarpSeconds: n("60")},
				"glimpse":    {RiskCost: 0.05, WarpSeconds: n("5")},
			},
		},
		Paradox: ParadoxConfig{
			RiskMax:                 2,
			ElevatedThreshold:       0.5,
			CriticalThreshold:       1.25,
			DecayPerTick:            0.001,
			DecayFloor:              0,
			ResolvingTicks:          600,
			ResolvingRiskMultiplier: 2,
			ResolvedBaseline:        0.25,
			Penalty: PenaltyConfig{
				ResourceLoss:     0.1,
				DebuffMultiplier: 0.5,
				DebuffTicks:      1200,
			},
		},
		Prestige: PrestigeConfig{
			Resource:  DefaultResource,
			Threshold: n("1e6"),
			Divisor:   n("1e6"),
			Exponent:  0.5,
			Scale:     n("0.1"),
		},
	}
}
