// Package snapshot serializes GameState into a versioned, checksummed JSON
// document and restores it. Big numbers are stored as exact
// (mantissa, exponent) pairs.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"lukechampine.com/blake3"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/state"
)

// SchemaVersion is the document version Encode writes and Decode accepts.
const SchemaVersion = 1

var (
	ErrCorrupt            = apperrors.New(apperrors.CodeCorruptSnapshot, "corrupt snapshot")
	ErrVersionUnsupported = apperrors.New(apperrors.CodeVersionUnsupported, "unsupported snapshot version")
)

type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// Pair is the exact stored form of a bignum.Number.
type Pair struct {
	M uint64 `json:"m"`
	E int64  `json:"e"`
}

type document struct {
	SessionID      string            `json:"session_id"`
	Ledger         map[string]Pair   `json:"ledger"`
	Generators     map[string]uint64 `json:"generators"`
	Upgrades       []string          `json:"upgrades"`
	Timeline       timelineDoc       `json:"timeline"`
	Paradox        paradoxDoc        `json:"paradox"`
	TimeBank       timeBankDoc       `json:"time_bank"`
	Prestige       prestigeDoc       `json:"prestige"`
	RunEarned      map[string]Pair   `json:"run_earned"`
	LifetimeEarned map[string]Pair   `json:"lifetime_earned"`
}

type timelineDoc struct {
	Tick        uint64  `json:"tick"`
	ElapsedNS   int64   `json:"elapsed_ns"`
	CarryNS     int64   `json:"carry_ns"`
	Risk        float64 `json:"risk"`
	DebuffTicks uint64  `json:"debuff_ticks"`
}

type paradoxDoc struct {
	Level          state.Level `json:"level"`
	ResolvingTicks uint64      `json:"resolving_ticks"`
	ResolvingRisk  float64     `json:"resolving_risk"`
	Acted          bool        `json:"acted"`
	Events         uint64      `json:"events"`
}

type timeBankDoc struct {
	Balance     Pair `json:"balance"`
	AccrualRate Pair `json:"accrual_rate"`
	Spent       Pair `json:"spent"`
}

type prestigeDoc struct {
	Count        uint64 `json:"count"`
	Multiplier   Pair   `json:"multiplier"`
	LifetimeBest Pair   `json:"lifetime_best"`
}

// Encode serializes st. The output is a deterministic function of st.
func Encode(st *state.GameState) ([]byte, error) {
	doc := document{
		SessionID:  st.SessionID,
		Ledger:     pairs(st.Ledger),
		Generators: st.Generators,
		Upgrades:   st.Upgrades,
		Timeline: timelineDoc{
			Tick:        st.Timeline.Tick,
			ElapsedNS:   int64(st.Timeline.Elapsed),
			CarryNS:     int64(st.Timeline.Carry),
			Risk:        st.Timeline.Risk,
			DebuffTicks: st.Timeline.DebuffTicks,
		},
		Paradox: paradoxDoc{
			Level:          st.Paradox.Level,
			ResolvingTicks: st.Paradox.ResolvingTicks,
			ResolvingRisk:  st.Paradox.ResolvingRisk,
			Acted:          st.Paradox.Acted,
			Events:         st.Paradox.Events,
		},
		TimeBank: timeBankDoc{
			Balance:     pair(st.TimeBank.Balance),
			AccrualRate: pair(st.TimeBank.AccrualRate),
			Spent:       pair(st.TimeBank.Spent),
		},
		Prestige: prestigeDoc{
			Count:        st.Prestige.Count,
			Multiplier:   pair(st.Prestige.Multiplier),
			LifetimeBest: pair(st.Prestige.LifetimeBest),
		},
		RunEarned:      pairs(st.RunEarned),
		LifetimeEarned: pairs(st.LifetimeEarned),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode snapshot", err)
	}
	return json.Marshal(envelope{
		Version:  SchemaVersion,
		Checksum: checksum(body),
		State:    body,
	})
}

// Decode parses a snapshot into a new GameState.
func Decode(data []byte) (*state.GameState, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, corrupt("not a snapshot document", err)
	}
	switch {
	case env.Version == 0:
		return nil, corrupt("missing version", nil)
	case env.Version != SchemaVersion:
		return nil, apperrors.WithMetadata(ErrVersionUnsupported.Code, ErrVersionUnsupported.Message, map[string]string{
			"version":   strconv.Itoa(env.Version),
			"supported": strconv.Itoa(SchemaVersion),
		})
	case env.Checksum != checksum(env.State):
		return nil, corrupt("checksum mismatch", nil)
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(env.State))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, corrupt("malformed state", err)
	}
	return doc.build()
}

// Restore decodes data and replaces *dst with the result. On error dst is
// left untouched.
func Restore(dst *state.GameState, data []byte) error {
	st, err := Decode(data)
	if err != nil {
		return err
	}
	*dst = *st
	return nil
}

// Reconcile checks a decoded state against the balance it will run under.
// Generators added to the balance since the snapshot start at zero.
func Reconcile(st *state.GameState, b *config.Balance) error {
	for id := range st.Generators {
		if _, ok := b.Generator(id); !ok {
			return corrupt("unknown generator "+strconv.Quote(id), nil)
		}
	}
	for _, id := range st.Upgrades {
		if _, ok := b.Upgrade(id); !ok {
			return corrupt("unknown upgrade "+strconv.Quote(id), nil)
		}
	}
	for _, g := range b.Generators {
		if _, ok := st.Generators[g.ID]; !ok {
			st.Generators[g.ID] = 0
		}
	}
	if st.Timeline.Risk > b.Paradox.RiskMax {
		return corrupt("risk above configured maximum", nil)
	}
	return nil
}

func (d *document) build() (*state.GameState, error) {
	if d.SessionID == "" {
		return nil, corrupt("missing session id", nil)
	}
	for _, f := range []float64{d.Timeline.Risk, d.Paradox.ResolvingRisk} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return nil, corrupt("risk out of range", nil)
		}
	}
	if d.Timeline.ElapsedNS < 0 || d.Timeline.CarryNS < 0 {
		return nil, corrupt("negative duration", nil)
	}

	st := &state.GameState{
		SessionID:  d.SessionID,
		Generators: d.Generators,
		Upgrades:   d.Upgrades,
		Timeline: state.Timeline{
			Tick:        d.Timeline.Tick,
			Elapsed:     time.Duration(d.Timeline.ElapsedNS),
			Carry:       time.Duration(d.Timeline.CarryNS),
			Risk:        d.Timeline.Risk,
			DebuffTicks: d.Timeline.DebuffTicks,
		},
		Paradox: state.Paradox{
			Level:          d.Paradox.Level,
			ResolvingTicks: d.Paradox.ResolvingTicks,
			ResolvingRisk:  d.Paradox.ResolvingRisk,
			Acted:          d.Paradox.Acted,
			Events:         d.Paradox.Events,
		},
		Prestige: state.Prestige{Count: d.Prestige.Count},
	}
	if st.Generators == nil {
		st.Generators = map[string]uint64{}
	}

	var err error
	if st.Ledger, err = ledger(d.Ledger); err != nil {
		return nil, err
	}
	if st.RunEarned, err = ledger(d.RunEarned); err != nil {
		return nil, err
	}
	if st.LifetimeEarned, err = ledger(d.LifetimeEarned); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *bignum.Number
		src Pair
	}{
		{&st.TimeBank.Balance, d.TimeBank.Balance},
		{&st.TimeBank.AccrualRate, d.TimeBank.AccrualRate},
		{&st.TimeBank.Spent, d.TimeBank.Spent},
		{&st.Prestige.Multiplier, d.Prestige.Multiplier},
		{&st.Prestige.LifetimeBest, d.Prestige.LifetimeBest},
	} {
		if *f.dst, err = number(f.src); err != nil {
			return nil, err
		}
	}
	if st.Prestige.Multiplier.Less(bignum.One()) {
		return nil, corrupt("prestige multiplier below one", nil)
	}
	return st, nil
}

func corrupt(reason string, cause error) error {
	return &apperrors.Error{
		Code:     ErrCorrupt.Code,
		Message:  ErrCorrupt.Message + ": " + reason,
		Metadata: map[string]string{"reason": reason},
		Cause:    cause,
	}
}

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func pair(n bignum.Number) Pair {
	return Pair{M: n.Mantissa(), E: n.Exponent()}
}

func pairs(l state.Ledger) map[string]Pair {
	out := make(map[string]Pair, len(l))
	for id, n := range l {
		out[id] = pair(n)
	}
	return out
}

func number(p Pair) (bignum.Number, error) {
	n, err := bignum.FromParts(p.M, p.E)
	if err != nil {
		return bignum.Zero(), corrupt("invalid number", err)
	}
	return n, nil
}

func ledger(m map[string]Pair) (state.Ledger, error) {
	out := make(state.Ledger, len(m))
	for id, p := range m {
		n, err := number(p)
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}
