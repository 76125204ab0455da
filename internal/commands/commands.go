// Package commands defines the typed inbound commands the simulation
// executes.
package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/talgya/paradox-protocol/internal/bignum"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
)

// Command represents a typed command for Simulation.Execute.
type Command interface {
	CommandID() string
	Name() string
}

// PurchaseGenerator buys Count units of a generator.
type PurchaseGenerator struct {
	ID        string `json:"id"`
	Generator string `json:"generator"`
	Count     int64  `json:"count"`
}

func (c PurchaseGenerator) CommandID() string { return c.ID }
func (c PurchaseGenerator) Name() string      { return "purchase_generator" }

// PurchaseUpgrade buys a one-time upgrade.
type PurchaseUpgrade struct {
	ID      string `json:"id"`
	Upgrade string `json:"upgrade"`
}

func (c PurchaseUpgrade) CommandID() string { return c.ID }
func (c PurchaseUpgrade) Name() string      { return "purchase_upgrade" }

// SpendTime spends time currency on an action.
type SpendTime struct {
	ID     string        `json:"id"`
	Amount bignum.Number `json:"amount"`
	Action string        `json:"action"`
}

func (c SpendTime) CommandID() string { return c.ID }
func (c SpendTime) Name() string      { return "spend_time" }

// RequestPrestige performs a prestige reset.
type RequestPrestige struct {
	ID string `json:"id"`
}

func (c RequestPrestige) CommandID() string { return c.ID }
func (c RequestPrestige) Name() string      { return "request_prestige" }

// Advance simulates Elapsed of game time.
type Advance struct {
	ID      string        `json:"id"`
	Elapsed time.Duration `json:"elapsed"`
}

func (c Advance) CommandID() string { return c.ID }
func (c Advance) Name() string      { return "advance" }

// advanceJSON accepts elapsed as "90s" or as integer nanoseconds.
type advanceJSON struct {
	ID      string          `json:"id"`
	Elapsed json.RawMessage `json:"elapsed"`
}

// Decode builds the command called name from a JSON body.
func Decode(name string, body []byte) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch name {
	case "purchase_generator":
		var c PurchaseGenerator
		err = json.Unmarshal(body, &c)
		cmd = c
	case "purchase_upgrade":
		var c PurchaseUpgrade
		err = json.Unmarshal(body, &c)
		cmd = c
	case "spend_time":
		var c SpendTime
		err = json.Unmarshal(body, &c)
		cmd = c
	case "request_prestige":
		var c RequestPrestige
		if len(body) > 0 {
			err = json.Unmarshal(body, &c)
		}
		cmd = c
	case "advance":
		cmd, err = decodeAdvance(body)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeValidation, "unknown command", map[string]string{"command": name})
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "decode "+name, err)
	}
	return cmd, nil
}

func decodeAdvance(body []byte) (Command, error) {
	var raw advanceJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	c := Advance{ID: raw.ID}
	if len(raw.Elapsed) == 0 {
		return nil, fmt.Errorf("elapsed is required")
	}
	var s string
	if err := json.Unmarshal(raw.Elapsed, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		c.Elapsed = d
		return c, nil
	}
	var ns int64
	if err := json.Unmarshal(raw.Elapsed, &ns); err != nil {
		return nil, fmt.Errorf("elapsed must be a duration string or nanoseconds: %w", err)
	}
	c.Elapsed = time.Duration(ns)
	return c, nil
}
