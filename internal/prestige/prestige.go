// Package prestige implements the voluntary reset that trades a run's
// progress for a permanent multiplier.
package prestige

import (
	"errors"
	"log/slog"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/state"
)

var ErrNotEligible = apperrors.New(apperrors.CodeNotEligible, "prestige threshold not reached")

// Result describes a completed prestige.
type Result struct {
	Count      uint64
	Increment  bignum.Number
	Multiplier bignum.Number
	RunEarned  bignum.Number
}

// System evaluates eligibility and performs the reset.
type System struct {
	balance *config.Balance
	cfg     config.PrestigeConfig
}

func New(b *config.Balance) *System {
	return &System{balance: b, cfg: b.Prestige}
}

// RunEarned returns this run's earnings of the prestige resource.
func (s *System) RunEarned(st *state.GameState) bignum.Number {
	return st.RunEarned.Get(s.cfg.Resource)
}

// Eligible reports whether run earnings meet the threshold.
func (s *System) Eligible(st *state.GameState) bool {
	return s.RunEarned(st).GreaterOrEqual(s.cfg.Threshold)
}

// Increment returns the multiplier gain a prestige would grant now:
// Scale × (runEarned / Divisor)^Exponent.
func (s *System) Increment(st *state.GameState) (bignum.Number, error) {
	ratio, err := s.RunEarned(st).Div(s.cfg.Divisor)
	if err != nil || ratio.IsZero() {
		return bignum.Zero(), err
	}
	scaled, err := bignum.Exp10(ratio.Log10() * s.cfg.Exponent)
	if err != nil {
		return scaled, err
	}
	return s.cfg.Scale.Mul(scaled)
}

// Request performs a prestige. On success the run is reset and the prestige
// record updated; on error the state is untouched. A multiplier or rate past
// the representable range saturates and the prestige still completes.
func (s *System) Request(st *state.GameState) (Result, error) {
	earned := s.RunEarned(st)
	if !s.Eligible(st) {
		return Result{}, apperrors.WithMetadata(ErrNotEligible.Code, ErrNotEligible.Message, map[string]string{
			"resource":   s.cfg.Resource,
			"required":   s.cfg.Threshold.String(),
			"run_earned": earned.String(),
		})
	}
	var overflow error
	saturate := func(err error) error {
		if err == nil || !errors.Is(err, bignum.ErrOverflow) {
			return err
		}
		if overflow == nil {
			overflow = err
		}
		return nil
	}
	inc, err := s.Increment(st)
	if err = saturate(err); err != nil {
		return Result{}, err
	}
	mult, err := st.Prestige.Multiplier.Add(inc)
	if err = saturate(err); err != nil {
		return Result{}, err
	}
	rate, err := s.balance.TimeBank.BaseRate.Mul(mult)
	if err = saturate(err); err != nil {
		return Result{}, err
	}
	if overflow != nil {
		slog.Warn("arithmetic overflow during prestige, multiplier saturated",
			"run_earned", earned.String(), "multiplier", mult.String(), "err", overflow)
	}

	st.ResetRun(s.balance)
	st.Prestige.Count++
	st.Prestige.Multiplier = mult
	st.Prestige.LifetimeBest = bignum.Max(st.Prestige.LifetimeBest, earned)
	st.TimeBank.AccrualRate = rate

	return Result{
		Count:      st.Prestige.Count,
		Increment:  inc,
		Multiplier: mult,
		RunEarned:  earned,
	}, nil
}
