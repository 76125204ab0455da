// Package config holds balance data for the simulation and the daemon's
// runtime settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
)

// DefaultResource is the currency generators produce and are priced in
// unless a definition says otherwise.
const DefaultResource = "credits"

// Balance is the full set of tuning data the simulation reads.
type Balance struct {
	StartingResources map[string]bignum.Number `json:"starting_resources"`
	Generators        []GeneratorDef           `json:"generators"`
	Upgrades          []UpgradeDef             `json:"upgrades"`
	Tick              TickConfig               `json:"tick"`
	TimeBank          TimeBankConfig           `json:"time_bank"`
	Paradox           ParadoxConfig            `json:"paradox"`
	Prestige          PrestigeConfig           `json:"prestige"`
}

// GeneratorDef describes a purchasable producer.
type GeneratorDef struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Resource     string        `json:"resource"`
	CostResource string        `json:"cost_resource"`
	BaseCost     bignum.Number `json:"base_cost"`
	Growth       bignum.Number `json:"growth"`
	Rate         bignum.Number `json:"rate"` // per owned unit per second
}

// EffectKind selects how an upgrade effect modifies production.
type EffectKind string

const (
	EffectAdditive       EffectKind = "additive"       // adds to a generator's base rate
	EffectMultiplicative EffectKind = "multiplicative" // scales output
	EffectUnlock         EffectKind = "unlock"         // generator stays locked until purchased
)

// Effect is one modifier granted by an upgrade. An empty Target applies to
// every generator (not allowed for unlocks).
type Effect struct {
	Kind   EffectKind    `json:"kind"`
	Target string        `json:"target,omitempty"`
	Value  bignum.Number `json:"value"`
}

// UpgradeDef describes a one-time purchase.
type UpgradeDef struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	CostResource string        `json:"cost_resource"`
	Cost         bignum.Number `json:"cost"`
	Effects      []Effect      `json:"effects"`
}

// TickConfig controls step size and catch-up chunking.
type TickConfig struct {
	Step       Duration `json:"step"`
	CatchUpCap uint64   `json:"catch_up_cap"` // steps simulated one by one before bulk mode
	ChunkTicks uint64   `json:"chunk_ticks"`  // steps per committed bulk chunk
}

// TimeBankConfig controls time-currency accrual and the actions it buys.
type TimeBankConfig struct {
	BaseRate        bignum.Number        `json:"base_rate"` // per simulated second
	StartingBalance bignum.Number        `json:"starting_balance"`
	Actions         map[string]ActionDef `json:"actions"`
}

// ActionDef is a time-manipulation action purchasable with time currency.
type ActionDef struct {
	RiskCost    float64       `json:"risk_cost"`
	WarpSeconds bignum.Number `json:"warp_seconds"` // production seconds granted per unit spent
}

// ParadoxConfig holds thresholds and penalties for the paradox state machine.
type ParadoxConfig struct {
	RiskMax                 float64       `json:"risk_max"`
	ElevatedThreshold       float64       `json:"elevated_threshold"`
	CriticalThreshold       float64       `json:"critical_threshold"`
	DecayPerTick            float64       `json:"decay_per_tick"`
	DecayFloor              float64       `json:"decay_floor"`
	ResolvingTicks          uint64        `json:"resolving_ticks"`
	ResolvingRiskMultiplier float64       `json:"resolving_risk_multiplier"`
	ResolvedBaseline        float64       `json:"resolved_baseline"`
	Penalty                 PenaltyConfig `json:"penalty"`
}

// PenaltyConfig is what a Paradox Event costs the player.
type PenaltyConfig struct {
	ResourceLoss     float64 `json:"resource_loss"`     // fraction of every resource removed
	DebuffMultiplier float64 `json:"debuff_multiplier"` // production multiplier while active
	DebuffTicks      uint64  `json:"debuff_ticks"`
}

// PrestigeConfig holds the eligibility threshold and multiplier formula:
// increment = Scale × (runEarned / Divisor)^Exponent.
type PrestigeConfig struct {
	Resource  string        `json:"resource"`
	Threshold bignum.Number `json:"threshold"`
	Divisor   bignum.Number `json:"divisor"`
	Exponent  float64       `json:"exponent"`
	Scale     bignum.Number `json:"scale"`
}

// Duration is a time.Duration written as "100ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Generator returns the definition with the given id.
func (b *Balance) Generator(id string) (GeneratorDef, bool) {
	for _, g := range b.Generators {
		if g.ID == id {
			return g, true
		}
	}
	return GeneratorDef{}, false
}

// Upgrade returns the definition with the given id.
func (b *Balance) Upgrade(id string) (UpgradeDef, bool) {
	for _, u := range b.Upgrades {
		if u.ID == id {
			return u, true
		}
	}
	return UpgradeDef{}, false
}

// Balance files read by LoadBalanceDir, overlaid in this order.
var balanceFiles = []string{"generators.json", "upgrades.json", "timelines.json", "prestige.json"}

// balanceFile is one overlay. Each section present replaces the default
// section wholesale.
type balanceFile struct {
	StartingResources map[string]bignum.Number `json:"starting_resources"`
	Generators        *[]GeneratorDef          `json:"generators"`
	Upgrades          *[]UpgradeDef            `json:"upgrades"`
	Tick              *TickConfig              `json:"tick"`
	TimeBank          *TimeBankConfig          `json:"time_bank"`
	Paradox           *ParadoxConfig           `json:"paradox"`
	Prestige          *PrestigeConfig          `json:"prestige"`
}

// LoadBalanceDir overlays the JSON files found in dir onto DefaultBalance.
// Missing files keep the defaults for the sections they would set.
func LoadBalanceDir(dir string) (Balance, error) {
	b := DefaultBalance()
	for _, name := range balanceFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Balance{}, fmt.Errorf("read %s: %w", path, err)
		}
		var f balanceFile
		if err := json.Unmarshal(data, &f); err != nil {
			return Balance{}, fmt.Errorf("decode %s: %w", path, err)
		}
		b.overlay(f)
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (b *Balance) overlay(f balanceFile) {
	if f.StartingResources != nil {
		b.StartingResources = f.StartingResources
	}
	if f.Generators != nil {
		b.Generators = *f.Generators
	}
	if f.Upgrades != nil {
		b.Upgrades = *f.Upgrades
	}
	if f.Tick != nil {
		b.Tick = *f.Tick
	}
	if f.TimeBank != nil {
		b.TimeBank = *f.TimeBank
	}
	if f.Paradox != nil {
		b.Paradox = *f.Paradox
	}
	if f.Prestige != nil {
		b.Prestige = *f.Prestige
	}
}

// applyDefaults fills the resource fields left empty in definitions.
func (b *Balance) applyDefaults() {
	for i := range b.Generators {
		if b.Generators[i].Resource == "" {
			b.Generators[i].Resource = DefaultResource
		}
		if b.Generators[i].CostResource == "" {
			b.Generators[i].CostResource = DefaultResource
		}
	}
	for i := range b.Upgrades {
		if b.Upgrades[i].CostResource == "" {
			b.Upgrades[i].CostResource = DefaultResource
		}
	}
	if b.Prestige.Resource == "" {
		b.Prestige.Resource = DefaultResource
	}
}
