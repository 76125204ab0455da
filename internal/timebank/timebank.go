// Package timebank manages the time-currency account: passive accrual and
// spending on time-manipulation actions.
package timebank

import (
	"strconv"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/state"
)

var ErrInsufficientTimeCurrency = apperrors.New(apperrors.CodeInsufficientTimeCurrency, "insufficient time currency")

// Receipt records a completed spend. The paradox engine registers its
// RiskCost.
type Receipt struct {
	Action      string
	Amount      bignum.Number
	RiskCost    float64
	WarpSeconds bignum.Number // production seconds the action grants
	Tick        uint64
}

// Bank applies time-bank configuration to a GameState.
type Bank struct {
	cfg config.TimeBankConfig
}

func New(cfg config.TimeBankConfig) *Bank {
	return &Bank{cfg: cfg}
}

// Rate returns the accrual rate per simulated second: base rate × prestige
// multiplier.
func (b *Bank) Rate(st *state.GameState) (bignum.Number, error) {
	return b.cfg.BaseRate.Mul(st.Prestige.Multiplier)
}

// Accrual returns the current rate and the amount seconds of accrual
// credit at that rate.
func (b *Bank) Accrual(st *state.GameState, seconds bignum.Number) (rate, amount bignum.Number, err error) {
	rate, err = b.Rate(st)
	if err != nil {
		return rate, bignum.Zero(), err
	}
	amount, err = rate.Mul(seconds)
	return rate, amount, err
}

// Accrue credits seconds of accrual and refreshes the stored rate.
func (b *Bank) Accrue(st *state.GameState, seconds bignum.Number) (bignum.Number, error) {
	rate, amount, err := b.Accrual(st, seconds)
	st.TimeBank.AccrualRate = rate
	if err != nil {
		return amount, err
	}
	st.TimeBank.Balance, err = st.TimeBank.Balance.Add(amount)
	return amount, err
}

// Action returns the configuration of an action kind.
func (b *Bank) Action(kind string) (config.ActionDef, bool) {
	a, ok := b.cfg.Actions[kind]
	return a, ok
}

// Spend deducts amount for an action of the given kind. The balance is
// unchanged on error.
func (b *Bank) Spend(st *state.GameState, amount bignum.Number, kind string) (Receipt, error) {
	action, ok := b.cfg.Actions[kind]
	if !ok {
		return Receipt{}, apperrors.WithMetadata(apperrors.CodeValidation, "unknown action "+strconv.Quote(kind),
			map[string]string{"action": kind})
	}
	if amount.IsZero() {
		return Receipt{}, apperrors.New(apperrors.CodeValidation, "spend amount must be positive")
	}
	if st.TimeBank.Balance.Less(amount) {
		return Receipt{}, apperrors.WithMetadata(ErrInsufficientTimeCurrency.Code, ErrInsufficientTimeCurrency.Message,
			map[string]string{
				"required":  amount.String(),
				"available": st.TimeBank.Balance.String(),
			})
	}
	warp, err := action.WarpSeconds.Mul(amount)
	if err != nil {
		return Receipt{}, err
	}
	st.TimeBank.Balance = st.TimeBank.Balance.Sub(amount)
	st.TimeBank.Spent, _ = st.TimeBank.Spent.Add(amount)
	return Receipt{
		Action:      kind,
		Amount:      amount,
		RiskCost:    action.RiskCost,
		WarpSeconds: warp,
		Tick:        st.Timeline.Tick,
	}, nil
}
