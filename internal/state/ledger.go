package state

import (
	"maps"
	"slices"

	"github.com/talgya/paradox-protocol/internal/bignum"
)

// Ledger maps resource ids to non-negative balances. Missing ids read as zero.
type Ledger map[string]bignum.Number

// Get returns the balance of id.
func (l Ledger) Get(id string) bignum.Number {
	return l[id]
}

// Credit adds amount to id. On overflow the balance saturates and the error
// is returned.
func (l Ledger) Credit(id string, amount bignum.Number) error {
	if amount.IsZero() {
		return nil
	}
	v, err := l[id].Add(amount)
	l[id] = v
	return err
}

// CanAfford reports whether id holds at least amount.
func (l Ledger) CanAfford(id string, amount bignum.Number) bool {
	return l[id].GreaterOrEqual(amount)
}

// Debit subtracts amount from id, flooring at zero. Callers check
// CanAfford first.
func (l Ledger) Debit(id string, amount bignum.Number) {
	l[id] = l[id].Sub(amount)
}

// IDs returns the resource ids in sorted order.
func (l Ledger) IDs() []string {
	return slices.Sorted(maps.Keys(l))
}
