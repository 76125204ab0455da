// Simulation ties the game systems together behind a single writer.
package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/commands"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/economy"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/events"
	"github.com/talgya/paradox-protocol/internal/paradox"
	"github.com/talgya/paradox-protocol/internal/prestige"
	"github.com/talgya/paradox-protocol/internal/snapshot"
	"github.com/talgya/paradox-protocol/internal/state"
	"github.com/talgya/paradox-protocol/internal/timebank"
)

// EventHistory is how many flushed events the simulation remembers.
const EventHistory = 500

// Simulation owns the GameState. Every mutation takes the lock, so
// commands and ticks are serialized and notifications are only released
// between operations.
type Simulation struct {
	mu    sync.Mutex
	state *state.GameState

	balance  *config.Balance
	economy  *economy.Manager
	bank     *timebank.Bank
	paradox  *paradox.Engine
	prestige *prestige.System
	ticks    *TickSystem
	events   *events.Queue
}

// NewSimulation wires the systems for a balance. A nil state starts fresh.
func NewSimulation(b *config.Balance, st *state.GameState) *Simulation {
	if st == nil {
		st = state.New(b)
	}
	eco := economy.NewManager(b)
	bank := timebank.New(b.TimeBank)
	px := paradox.New(b.Paradox)
	return &Simulation{
		state:    st,
		balance:  b,
		economy:  eco,
		bank:     bank,
		paradox:  px,
		prestige: prestige.New(b),
		ticks:    NewTickSystem(b.Tick, eco, bank, px),
		events:   events.NewQueue(EventHistory),
	}
}

// Events returns the outbound notification queue.
func (s *Simulation) Events() *events.Queue { return s.events }

// Balance returns the balance data the simulation runs under.
func (s *Simulation) Balance() *config.Balance { return s.balance }

// SetProgress installs a catch-up progress callback.
func (s *Simulation) SetProgress(fn func(done, total uint64)) {
	s.mu.Lock()
	s.ticks.OnProgress = fn
	s.mu.Unlock()
}

// Read calls fn with the state under the lock. fn must not retain st.
func (s *Simulation) Read(fn func(st *state.GameState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// State returns a deep copy of the current state.
func (s *Simulation) State() *state.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CurrentTick returns the most recently processed tick.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Timeline.Tick
}

// Catalog lists generators and upgrades with current prices.
func (s *Simulation) Catalog() ([]economy.GeneratorView, []economy.UpgradeView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.economy.Catalog(s.state)
}

// Rates returns production per second by resource.
func (s *Simulation) Rates() map[string]bignum.Number {
	s.mu.Lock()
	defer s.mu.Unlock()
	rates, _ := s.economy.Rates(s.state)
	return rates
}

// PrestigePreview reports eligibility and the multiplier gain available now.
func (s *Simulation) PrestigePreview() (bool, bignum.Number) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, _ := s.prestige.Increment(s.state)
	return s.prestige.Eligible(s.state), inc
}

// Execute runs a typed command and returns its result.
func (s *Simulation) Execute(ctx context.Context, cmd commands.Command) (any, error) {
	switch c := cmd.(type) {
	case commands.PurchaseGenerator:
		return s.PurchaseGenerator(c.Generator, c.Count)
	case commands.PurchaseUpgrade:
		return nil, s.PurchaseUpgrade(c.Upgrade)
	case commands.SpendTime:
		return s.SpendTime(c.Amount, c.Action)
	case commands.RequestPrestige:
		return s.RequestPrestige()
	case commands.Advance:
		return s.Advance(ctx, c.Elapsed)
	}
	return nil, apperrors.WithMetadata(apperrors.CodeValidation, "unsupported command",
		map[string]string{"command": cmd.Name()})
}

// PurchaseGenerator buys count units and returns the new owned count.
func (s *Simulation) PurchaseGenerator(id string, count int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := maps.Clone(s.state.Ledger)
	owned, cost, err := s.economy.PurchaseGenerator(s.state, id, count)
	if err != nil {
		return 0, err
	}
	s.events.Emit(s.tick(), events.GeneratorPurchased, events.GeneratorPurchase{
		Generator: id,
		Count:     uint64(count),
		Owned:     owned,
		Cost:      cost,
	})
	s.commit(before)
	return owned, nil
}

// PurchaseUpgrade buys a one-time upgrade.
func (s *Simulation) PurchaseUpgrade(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := maps.Clone(s.state.Ledger)
	cost, err := s.economy.PurchaseUpgrade(s.state, id)
	if err != nil {
		return err
	}
	s.events.Emit(s.tick(), events.UpgradePurchased, events.UpgradePurchase{Upgrade: id, Cost: cost})
	s.commit(before)
	return nil
}

// SpendTime spends time currency on an action, registers its paradox risk
// and applies the action's production warp.
func (s *Simulation) SpendTime(amount bignum.Number, action string) (timebank.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := maps.Clone(s.state.Ledger)
	receipt, err := s.bank.Spend(s.state, amount, action)
	if err != nil {
		return receipt, err
	}
	receipt.RiskCost = s.paradox.Register(s.state, receipt)
	if !receipt.WarpSeconds.IsZero() {
		if _, err := s.economy.ApplyProduction(s.state, receipt.WarpSeconds); err != nil {
			slog.Warn("arithmetic overflow during warp", "action", action, "err", err)
		}
	}
	s.events.Emit(s.tick(), events.TimeSpent, events.TimeSpend{
		Action:   action,
		Amount:   amount,
		RiskCost: receipt.RiskCost,
	})
	s.commit(before)
	return receipt, nil
}

// RequestPrestige performs a prestige reset.
func (s *Simulation) RequestPrestige() (prestige.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := maps.Clone(s.state.Ledger)
	level := s.state.Paradox.Level
	res, err := s.prestige.Request(s.state)
	if err != nil {
		return res, err
	}
	s.events.Emit(s.tick(), events.PrestigeCompleted, events.PrestigeCompletion{
		Count:      res.Count,
		Increment:  res.Increment,
		Multiplier: res.Multiplier,
		RunEarned:  res.RunEarned,
	})
	if level != s.state.Paradox.Level {
		s.events.Emit(s.tick(), events.ParadoxStateChanged, events.ParadoxChange{
			From: level,
			To:   s.state.Paradox.Level,
			Risk: s.state.Timeline.Risk,
		})
	}
	s.commit(before)
	slog.Info("prestige completed", "count", res.Count, "multiplier", res.Multiplier.Human(), "run_earned", res.RunEarned.Human())
	return res, nil
}

// Advance simulates elapsed time. Notifications for the whole call are
// released when it returns, including after cancellation.
func (s *Simulation) Advance(ctx context.Context, elapsed time.Duration) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := maps.Clone(s.state.Ledger)
	sum, err := s.ticks.Advance(ctx, s.state, elapsed)
	if apperrors.CodeOf(err) == apperrors.CodeValidation {
		return sum, err
	}
	if sum.Overflow != nil {
		slog.Warn("arithmetic overflow during advance, values saturated", "tick", s.tick(), "err", sum.Overflow)
	}

	for _, tr := range sum.Transitions {
		s.events.Emit(tr.Tick, events.ParadoxStateChanged, events.ParadoxChange{From: tr.From, To: tr.To, Risk: tr.Risk})
		if tr.Triggered {
			s.events.Emit(tr.Tick, events.ParadoxTriggered, events.ParadoxTrigger{
				Risk:        tr.Risk,
				Lost:        tr.Lost,
				DebuffTicks: s.balance.Paradox.Penalty.DebuffTicks,
			})
		}
	}
	if sum.Ticks > 0 {
		s.events.Emit(s.tick(), events.TickProcessed, events.TickBatch{
			Ticks:         sum.Ticks,
			Elapsed:       sum.Elapsed,
			Bulk:          sum.Bulk,
			Chunks:        sum.Chunks,
			ParadoxEvents: sum.ParadoxEvents(),
			Produced:      sum.Produced,
		})
	}
	s.commit(before)
	return sum, err
}

// Snapshot serializes the current state.
func (s *Simulation) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot.Encode(s.state)
}

// Restore replaces the state with a decoded snapshot. The current state is
// kept when the snapshot is rejected.
func (s *Simulation) Restore(data []byte) error {
	st, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	if err := snapshot.Reconcile(st, s.balance); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.state.Ledger
	s.state = st
	s.events.Emit(s.tick(), events.StateRestored, events.Restore{SessionID: st.SessionID})
	s.commit(before)
	return nil
}

func (s *Simulation) tick() uint64 { return s.state.Timeline.Tick }

// commit emits ResourceChanged for each balance that differs from before
// and releases the buffered notifications.
func (s *Simulation) commit(before state.Ledger) {
	ids := slices.Collect(maps.Keys(s.state.Ledger))
	for id := range before {
		if _, ok := s.state.Ledger[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		now := s.state.Ledger.Get(id)
		if !now.Equal(before.Get(id)) {
			s.events.Emit(s.tick(), events.ResourceChanged, events.ResourceChange{Resource: id, Amount: now})
		}
	}
	s.events.Flush()
}
