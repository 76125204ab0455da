// Package state defines GameState, the aggregate every simulation system
// reads and mutates.
package state

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
)

// GameState is the complete simulation state. It is owned by a single
// writer; systems receive a pointer and mutate it in place.
type GameState struct {
	SessionID string

	Ledger     Ledger            // resource id → balance
	Generators map[string]uint64 // generator id → owned count
	Upgrades   []string          // purchased upgrade ids in purchase order

	Timeline Timeline
	Paradox  Paradox
	TimeBank TimeBank
	Prestige Prestige

	RunEarned      Ledger // produced since the last prestige
	LifetimeEarned Ledger // produced across all runs
}

// Timeline tracks simulated time and paradox pressure.
type Timeline struct {
	Tick        uint64        // monotonic, survives prestige
	Elapsed     time.Duration // simulated time this run
	Carry       time.Duration // sub-step remainder awaiting the next advance
	Risk        float64       // paradox risk accumulator
	DebuffTicks uint64        // remaining ticks of the production debuff
}

// Paradox is the paradox state machine's position.
type Paradox struct {
	Level          Level
	ResolvingTicks uint64  // remaining ticks in Resolving
	ResolvingRisk  float64 // risk registered during Resolving, kept on exit
	Acted          bool    // an action was registered since the last evaluation
	Events         uint64  // paradox events triggered this run
}

// TimeBank is the time-currency account.
type TimeBank struct {
	Balance     bignum.Number
	AccrualRate bignum.Number // per simulated second, derived from config and prestige
	Spent       bignum.Number // lifetime total spent
}

// Prestige survives resets.
type Prestige struct {
	Count        uint64
	Multiplier   bignum.Number
	LifetimeBest bignum.Number // best single-run earnings of the prestige resource
}

// New returns a fresh state for the given balance.
func New(b *config.Balance) *GameState {
	s := &GameState{
		SessionID:      uuid.NewString(),
		LifetimeEarned: Ledger{},
		Prestige:       Prestige{Multiplier: bignum.One()},
		TimeBank: TimeBank{
			Balance:     b.TimeBank.StartingBalance,
			AccrualRate: b.TimeBank.BaseRate,
		},
	}
	s.ResetRun(b)
	return s
}

// ResetRun restores every per-run field to its initial value. The tick
// index, time bank, lifetime totals and prestige record are kept.
func (s *GameState) ResetRun(b *config.Balance) {
	s.Ledger = Ledger{}
	for id, amount := range b.StartingResources {
		s.Ledger[id] = amount
	}
	s.Generators = make(map[string]uint64, len(b.Generators))
	for _, g := range b.Generators {
		s.Generators[g.ID] = 0
	}
	s.Upgrades = nil
	s.RunEarned = Ledger{}
	s.Timeline = Timeline{Tick: s.Timeline.Tick}
	s.Paradox = Paradox{}
}

// Clone returns a deep copy.
func (s *GameState) Clone() *GameState {
	c := *s
	c.Ledger = maps.Clone(s.Ledger)
	c.Generators = maps.Clone(s.Generators)
	c.Upgrades = slices.Clone(s.Upgrades)
	c.RunEarned = maps.Clone(s.RunEarned)
	c.LifetimeEarned = maps.Clone(s.LifetimeEarned)
	return &c
}

// HasUpgrade reports whether the upgrade has been purchased this run.
func (s *GameState) HasUpgrade(id string) bool {
	return slices.Contains(s.Upgrades, id)
}

// Owned returns the owned count of a generator.
func (s *GameState) Owned(id string) uint64 {
	return s.Generators[id]
}

// DebuffActive reports whether the paradox production debuff applies.
func (s *GameState) DebuffActive() bool {
	return s.Timeline.DebuffTicks > 0
}
