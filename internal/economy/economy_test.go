package economy

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/snapshot"
	"github.com/talgya/paradox-protocol/internal/state"
)

func testBalance() config.Balance {
	n := bignum.MustParse
	b := config.DefaultBalance()
	b.StartingResources = map[string]bignum.Number{config.DefaultResource: n("0")}
	b.Generators = []config.GeneratorDef{
		{ID: "g", Name: "Gen", Resource: "credits", CostResource: "credits", BaseCost: n("10"), Growth: n("1.15"), Rate: n("1")},
		{ID: "flat", Name: "Flat", Resource: "credits", CostResource: "credits", BaseCost: n("3"), Growth: n("1"), Rate: n("1")},
		{ID: "locked", Name: "Locked", Resource: "credits", CostResource: "credits", BaseCost: n("1"), Growth: n("1.1"), Rate: n("5")},
	}
	b.Upgrades = []config.UpgradeDef{
		{ID: "double", CostResource: "credits", Cost: n("5"),
			Effects: []config.Effect{{Kind: config.EffectMultiplicative, Target: "g", Value: n("2")}}},
		{ID: "plus", CostResource: "credits", Cost: n("5"),
			Effects: []config.Effect{{Kind: config.EffectAdditive, Value: n("1")}}},
		{ID: "key", CostResource: "credits", Cost: n("1"),
			Effects: []config.Effect{{Kind: config.EffectUnlock, Target: "locked"}}},
	}
	b.Tick = config.TickConfig{Step: config.Duration(time.Second), CatchUpCap: 10, ChunkTicks: 20}
	return b
}

func setup(t *testing.T, credits string) (*Manager, *state.GameState) {
	t.Helper()
	b := testBalance()
	if err := b.Validate(); err != nil {
		t.Fatalf("test balance invalid: %v", err)
	}
	st := state.New(&b)
	st.Ledger["credits"] = bignum.MustParse(credits)
	return NewManager(&b), st
}

func encode(t *testing.T, st *state.GameState) []byte {
	t.Helper()
	data, err := snapshot.Encode(st)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestPurchaseGenerator(t *testing.T) {
	m, st := setup(t, "10")

	owned, cost, err := m.PurchaseGenerator(st, "g", 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if owned != 1 || cost.String() != "1e1" {
		t.Fatalf("expected owned 1 cost 1e1 got %d %s", owned, cost)
	}
	if !st.Ledger.Get("credits").IsZero() {
		t.Fatalf("expected ledger drained got %s", st.Ledger.Get("credits"))
	}
	next, _ := m.UnitCost(st, "g")
	if next.String() != "1.15e1" {
		t.Fatalf("expected next cost 1.15e1 got %s", next)
	}
}

func TestPurchaseGeneratorRejects(t *testing.T) {
	m, st := setup(t, "9")
	st.Generators["flat"] = 2
	st.RunEarned["credits"] = bignum.MustParse("40")
	before := encode(t, st)

	tests := []struct {
		id    string
		count int64
		code  apperrors.Code
	}{
		{"g", 1, apperrors.CodeInsufficientResources},
		{"g", 0, apperrors.CodeValidation},
		{"g", -3, apperrors.CodeValidation},
		{"missing", 1, apperrors.CodeValidation},
		{"locked", 1, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		_, _, err := m.PurchaseGenerator(st, tt.id, tt.count)
		if apperrors.CodeOf(err) != tt.code {
			t.Fatalf("%s x%d: expected %s got %v", tt.id, tt.count, tt.code, err)
		}
	}
	if !bytes.Equal(before, encode(t, st)) {
		t.Fatalf("expected rejected purchases to leave the snapshot unchanged")
	}
	_, _, err := m.PurchaseGenerator(st, "g", 1)
	if !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources got %v", err)
	}
	if md := apperrors.MetadataOf(err); md["required"] != "1e1" || md["available"] != "9e0" {
		t.Fatalf("unexpected metadata %v", md)
	}
}

func TestBatchCostMatchesSingles(t *testing.T) {
	m, st := setup(t, "0")
	st.Generators["g"] = 7

	batch, err := m.Cost(st, "g", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := bignum.Zero()
	for i := 0; i < 3; i++ {
		unit, _ := m.UnitCost(st, "g")
		want, _ = want.Add(unit)
		st.Generators["g"]++
	}
	if !batch.Equal(want) {
		t.Fatalf("expected batch %s to equal singles %s", batch, want)
	}
}

func TestClosedFormBatchCost(t *testing.T) {
	m, st := setup(t, "0")

	flat, err := m.Cost(st, "flat", 5000)
	if err != nil || flat.String() != "1.5e4" {
		t.Fatalf("expected 1.5e4 got %s (%v)", flat, err)
	}

	// 10 × (1.15^2000 − 1) / 0.15 ≈ 1.3e123
	big, err := m.Cost(st, "g", 2000)
	if err != nil {
		t.Fatal(err)
	}
	if big.Exponent() != 123 {
		t.Fatalf("expected exponent 123 got %s", big)
	}
}

func TestUnlock(t *testing.T) {
	m, st := setup(t, "100")
	if m.Unlocked(st, "locked") {
		t.Fatalf("expected locked generator")
	}
	if _, err := m.PurchaseUpgrade(st, "key"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.PurchaseGenerator(st, "locked", 2); err != nil {
		t.Fatalf("expected unlocked purchase, got %v", err)
	}
}

func TestPurchaseUpgrade(t *testing.T) {
	m, st := setup(t, "7")

	cost, err := m.PurchaseUpgrade(st, "double")
	if err != nil || cost.String() != "5e0" {
		t.Fatalf("expected cost 5 got %s (%v)", cost, err)
	}
	before := encode(t, st)
	if _, err := m.PurchaseUpgrade(st, "double"); !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased got %v", err)
	}
	if _, err := m.PurchaseUpgrade(st, "plus"); !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources got %v", err)
	}
	if _, err := m.PurchaseUpgrade(st, "missing"); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
	if !bytes.Equal(before, encode(t, st)) {
		t.Fatalf("expected rejected upgrades to leave the snapshot unchanged")
	}
	if len(st.Upgrades) != 1 || st.Ledger.Get("credits").String() != "2e0" {
		t.Fatalf("unexpected state %v %s", st.Upgrades, st.Ledger.Get("credits"))
	}
}

func TestGeneratorRate(t *testing.T) {
	m, st := setup(t, "0")
	st.Generators["g"] = 3

	check := func(want string) {
		t.Helper()
		r, err := m.GeneratorRate(st, "g")
		if err != nil {
			t.Fatal(err)
		}
		if r.String() != want {
			t.Fatalf("expected rate %s got %s", want, r)
		}
	}

	check("3e0")
	st.Upgrades = append(st.Upgrades, "double")
	check("6e0")
	st.Upgrades = append(st.Upgrades, "plus")
	check("1.2e1") // (1+1) × 3 × 2
	st.Prestige.Multiplier = bignum.FromUint64(2)
	check("2.4e1")
	st.Timeline.DebuffTicks = 5
	check("1.2e1") // default debuff multiplier 0.5
}

func TestApplyProduction(t *testing.T) {
	m, st := setup(t, "0")
	st.Generators["g"] = 2
	st.Generators["flat"] = 1

	produced, err := m.ApplyProduction(st, bignum.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}
	if produced["credits"].String() != "3e1" {
		t.Fatalf("expected 30 produced got %s", produced["credits"])
	}
	if st.Ledger.Get("credits").String() != "3e1" || st.RunEarned.Get("credits").String() != "3e1" ||
		st.LifetimeEarned.Get("credits").String() != "3e1" {
		t.Fatalf("expected ledger and totals credited")
	}
	rates, _ := m.Rates(st)
	if rates["credits"].String() != "3e0" {
		t.Fatalf("expected rate 3 got %s", rates["credits"])
	}
}

func TestApplyProductionNoneOwned(t *testing.T) {
	m, st := setup(t, "0")
	produced, err := m.ApplyProduction(st, bignum.FromUint64(100))
	if err != nil || len(produced) != 0 || !st.Ledger.Get("credits").IsZero() {
		t.Fatalf("expected nothing produced, got %v %v", produced, err)
	}
}

func TestCatalog(t *testing.T) {
	m, st := setup(t, "0")
	gens, ups := m.Catalog(st)
	if len(gens) != 3 || len(ups) != 3 {
		t.Fatalf("unexpected catalog sizes %d %d", len(gens), len(ups))
	}
	if !gens[2].Locked || gens[0].Locked {
		t.Fatalf("expected only the third generator locked")
	}
	if gens[0].NextCost.String() != "1e1" {
		t.Fatalf("expected next cost 10 got %s", gens[0].NextCost)
	}
}
