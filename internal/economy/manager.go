// Package economy owns generators, upgrades and production: what things
// cost, what the player owns, and what it yields per second.
package economy

import (
	"strconv"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/state"
)

var (
	ErrInsufficientResources = apperrors.New(apperrors.CodeInsufficientResources, "insufficient resources")
	ErrAlreadyPurchased      = apperrors.New(apperrors.CodeAlreadyPurchased, "upgrade already purchased")
)

// Manager applies the balance data to a GameState.
type Manager struct {
	balance    *config.Balance
	generators map[string]config.GeneratorDef
	upgrades   map[string]config.UpgradeDef
	unlockedBy map[string][]string // generator id → upgrades that unlock it
	debuff     bignum.Number
}

// NewManager indexes the balance definitions.
func NewManager(b *config.Balance) *Manager {
	m := &Manager{
		balance:    b,
		generators: make(map[string]config.GeneratorDef, len(b.Generators)),
		upgrades:   make(map[string]config.UpgradeDef, len(b.Upgrades)),
		unlockedBy: make(map[string][]string),
		debuff:     bignum.FromFloat64(b.Paradox.Penalty.DebuffMultiplier),
	}
	for _, g := range b.Generators {
		m.generators[g.ID] = g
	}
	for _, u := range b.Upgrades {
		m.upgrades[u.ID] = u
		for _, e := range u.Effects {
			if e.Kind == config.EffectUnlock {
				m.unlockedBy[e.Target] = append(m.unlockedBy[e.Target], u.ID)
			}
		}
	}
	return m
}

func unknown(kind, id string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation, "unknown "+kind+" "+strconv.Quote(id),
		map[string]string{kind: id})
}

// Generator returns a generator definition or a validation error.
func (m *Manager) Generator(id string) (config.GeneratorDef, error) {
	g, ok := m.generators[id]
	if !ok {
		return config.GeneratorDef{}, unknown("generator", id)
	}
	return g, nil
}

// Upgrade returns an upgrade definition or a validation error.
func (m *Manager) Upgrade(id string) (config.UpgradeDef, error) {
	u, ok := m.upgrades[id]
	if !ok {
		return config.UpgradeDef{}, unknown("upgrade", id)
	}
	return u, nil
}

// Unlocked reports whether a generator may be purchased. Generators no
// upgrade unlocks are always available.
func (m *Manager) Unlocked(st *state.GameState, id string) bool {
	by := m.unlockedBy[id]
	if len(by) == 0 {
		return true
	}
	for _, u := range by {
		if st.HasUpgrade(u) {
			return true
		}
	}
	return false
}

// UnitCost returns the price of the next unit: baseCost × growth^owned.
func (m *Manager) UnitCost(st *state.GameState, id string) (bignum.Number, error) {
	g, err := m.Generator(id)
	if err != nil {
		return bignum.Zero(), err
	}
	return g.BaseCost.MulPow(g.Growth, st.Owned(id))
}

// Cost returns the total price of the next count units.
func (m *Manager) Cost(st *state.GameState, id string, count uint64) (bignum.Number, error) {
	g, err := m.Generator(id)
	if err != nil {
		return bignum.Zero(), err
	}
	return geometricCost(g, st.Owned(id), count)
}

// geometricCost sums the prices of units owned..owned+count-1. Small
// batches add the per-unit prices one by one so a batch costs exactly what
// buying its units individually would. Large batches use the closed form
// first × (g^count − 1) / (g − 1).
func geometricCost(g config.GeneratorDef, owned, count uint64) (bignum.Number, error) {
	first, err := g.BaseCost.MulPow(g.Growth, owned)
	if err != nil || count == 0 {
		return first, err
	}
	if count <= bignum.SequentialLimit {
		total, price := bignum.Zero(), first
		for i := uint64(0); i < count; i++ {
			if total, err = total.Add(price); err != nil {
				return total, err
			}
			if i+1 < count {
				if price, err = price.Mul(g.Growth); err != nil {
					return price, err
				}
			}
		}
		return total, nil
	}

	one := bignum.One()
	if g.Growth.Equal(one) {
		return first.Mul(bignum.FromUint64(count))
	}
	gk, err := g.Growth.Pow(count)
	if err != nil {
		return gk, err
	}
	ratio, err := gk.Sub(one).Div(g.Growth.Sub(one))
	if err != nil {
		return ratio, err
	}
	return first.Mul(ratio)
}

// PurchaseGenerator buys count units of a generator, returning the new owned
// count and the amount paid. The state is unchanged on error.
func (m *Manager) PurchaseGenerator(st *state.GameState, id string, count int64) (uint64, bignum.Number, error) {
	if count <= 0 {
		return 0, bignum.Zero(), apperrors.WithMetadata(apperrors.CodeValidation, "count must be a positive integer",
			map[string]string{"count": strconv.FormatInt(count, 10)})
	}
	g, err := m.Generator(id)
	if err != nil {
		return 0, bignum.Zero(), err
	}
	if !m.Unlocked(st, id) {
		return 0, bignum.Zero(), apperrors.WithMetadata(apperrors.CodeValidation, "generator is locked",
			map[string]string{"generator": id})
	}
	owned := st.Owned(id)
	if owned+uint64(count) < owned {
		return 0, bignum.Zero(), apperrors.New(apperrors.CodeValidation, "owned count would overflow")
	}
	cost, err := geometricCost(g, owned, uint64(count))
	if err != nil {
		return 0, bignum.Zero(), err
	}
	if err := m.debit(st, g.CostResource, cost); err != nil {
		return 0, bignum.Zero(), err
	}
	st.Generators[id] = owned + uint64(count)
	return st.Generators[id], cost, nil
}

// PurchaseUpgrade buys an upgrade once per run and returns the amount paid.
func (m *Manager) PurchaseUpgrade(st *state.GameState, id string) (bignum.Number, error) {
	u, err := m.Upgrade(id)
	if err != nil {
		return bignum.Zero(), err
	}
	if st.HasUpgrade(id) {
		return bignum.Zero(), apperrors.WithMetadata(ErrAlreadyPurchased.Code, ErrAlreadyPurchased.Message,
			map[string]string{"upgrade": id})
	}
	if err := m.debit(st, u.CostResource, u.Cost); err != nil {
		return bignum.Zero(), err
	}
	st.Upgrades = append(st.Upgrades, id)
	return u.Cost, nil
}

func (m *Manager) debit(st *state.GameState, resource string, cost bignum.Number) error {
	if !st.Ledger.CanAfford(resource, cost) {
		return apperrors.WithMetadata(ErrInsufficientResources.Code, ErrInsufficientResources.Message, map[string]string{
			"resource":  resource,
			"required":  cost.String(),
			"available": st.Ledger.Get(resource).String(),
		})
	}
	st.Ledger.Debit(resource, cost)
	return nil
}
