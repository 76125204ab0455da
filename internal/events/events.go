// Package events defines the outbound notifications the simulation emits
// at tick and command boundaries.
package events

import (
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/state"
)

// Type names a notification kind.
type Type string

const (
	ResourceChanged     Type = "resource_changed"
	ParadoxStateChanged Type = "paradox_state_changed"
	ParadoxTriggered    Type = "paradox_triggered"
	PrestigeCompleted   Type = "prestige_completed"
	TickProcessed       Type = "tick_processed"
	GeneratorPurchased  Type = "generator_purchased"
	UpgradePurchased    Type = "upgrade_purchased"
	TimeSpent           Type = "time_spent"
	StateRestored       Type = "state_restored"
)

// Event is one notification. Seq is assigned when the event is flushed.
type Event struct {
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick"`
	Type Type   `json:"type"`
	Data any    `json:"data"`
}

type ResourceChange struct {
	Resource string        `json:"resource"`
	Amount   bignum.Number `json:"amount"`
}

type ParadoxChange struct {
	From state.Level `json:"from"`
	To   state.Level `json:"to"`
	Risk float64     `json:"risk"`
}

type ParadoxTrigger struct {
	Risk        float64                  `json:"risk"`
	Lost        map[string]bignum.Number `json:"lost"`
	DebuffTicks uint64                   `json:"debuff_ticks"`
}

type PrestigeCompletion struct {
	Count      uint64        `json:"count"`
	Increment  bignum.Number `json:"increment"`
	Multiplier bignum.Number `json:"multiplier"`
	RunEarned  bignum.Number `json:"run_earned"`
}

// TickBatch summarizes one advance call.
type TickBatch struct {
	Ticks         uint64                   `json:"ticks"`
	Elapsed       time.Duration            `json:"elapsed"`
	Bulk          bool                     `json:"bulk"`
	Chunks        int                      `json:"chunks"`
	ParadoxEvents int                      `json:"paradox_events"`
	Produced      map[string]bignum.Number `json:"produced"`
}

type GeneratorPurchase struct {
	Generator string        `json:"generator"`
	Count     uint64        `json:"count"`
	Owned     uint64        `json:"owned"`
	Cost      bignum.Number `json:"cost"`
}

type UpgradePurchase struct {
	Upgrade string        `json:"upgrade"`
	Cost    bignum.Number `json:"cost"`
}

type TimeSpend struct {
	Action   string        `json:"action"`
	Amount   bignum.Number `json:"amount"`
	RiskCost float64       `json:"risk_cost"`
}

type Restore struct {
	SessionID string `json:"session_id"`
}
