package economy

import (
	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/state"
)

// GeneratorView is a read-only summary of one generator for display.
type GeneratorView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Resource string        `json:"resource"`
	Owned    uint64        `json:"owned"`
	NextCost bignum.Number `json:"next_cost"`
	Rate     bignum.Number `json:"rate"`
	Locked   bool          `json:"locked"`
}

// UpgradeView is a read-only summary of one upgrade for display.
type UpgradeView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Cost      bignum.Number `json:"cost"`
	Purchased bool          `json:"purchased"`
}

// Catalog lists generators and upgrades in definition order.
func (m *Manager) Catalog(st *state.GameState) ([]GeneratorView, []UpgradeView) {
	gens := make([]GeneratorView, 0, len(m.balance.Generators))
	for _, g := range m.balance.Generators {
		next, _ := m.UnitCost(st, g.ID)
		rate, _ := m.GeneratorRate(st, g.ID)
		gens = append(gens, GeneratorView{
			ID:       g.ID,
			Name:     g.Name,
			Resource: g.Resource,
			Owned:    st.Owned(g.ID),
			NextCost: next,
			Rate:     rate,
			Locked:   !m.Unlocked(st, g.ID),
		})
	}
	ups := make([]UpgradeView, 0, len(m.balance.Upgrades))
	for _, u := range m.balance.Upgrades {
		ups = append(ups, UpgradeView{
			ID:        u.ID,
			Name:      u.Name,
			Cost:      u.Cost,
			Purchased: st.HasUpgrade(u.ID),
		})
	}
	return gens, ups
}
