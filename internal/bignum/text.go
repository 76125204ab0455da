package bignum

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	apperrors "github.com/talgya/paradox-protocol/internal/errors"
)

// Short-scale suffixes for Human, one per power of 1000.
var suffixes = [...]string{"", "K", "M", "B", "T", "Qa", "Qi", "Sx", "Sp", "Oc", "No", "Dc"}

var thousand = Number{mantissa: mantissaMin, exponent: 3}

// String returns the canonical text form: "0", "1e0", "1.5e3", "2.5e-1".
// Canonical text round-trips through Parse exactly.
func (n Number) String() string {
	if n.IsZero() {
		return "0"
	}
	ds := strings.TrimRight(formatUint(n.mantissa), "0")
	var b strings.Builder
	b.WriteByte(ds[0])
	if len(ds) > 1 {
		b.WriteByte('.')
		b.WriteString(ds[1:])
	}
	b.WriteByte('e')
	b.WriteString(formatInt(n.exponent))
	return b.String()
}

// Parse reads canonical text, plain decimals ("1500", "0.25") and
// scientific notation ("1.5E+3"). Digits past the 15th are rounded half-up.
func Parse(s string) (Number, error) {
	s = strings.TrimSpace(s)
	coef, exp := s, int64(0)
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e, err := strconv.ParseInt(s[i+1:], 10, 64)
		if err != nil {
			return Zero(), parseError(s, err)
		}
		coef, exp = s[:i], e
	}
	d, err := decimal.NewFromString(coef)
	if err != nil {
		return Zero(), parseError(s, err)
	}
	switch d.Sign() {
	case 0:
		return Zero(), nil
	case -1:
		return Zero(), apperrors.WithMetadata(apperrors.CodeValidation, "number must not be negative", map[string]string{"input": s})
	}
	if exp > 2*MaxExponent {
		return Largest(), ErrOverflow
	}
	if exp < 2*MinExponent {
		return Zero(), nil
	}

	// Keep one digit past the retained precision so fromScaled rounds on it.
	ds := d.Coefficient().String()
	unitExp := int64(d.Exponent()) + exp
	if len(ds) > Digits+1 {
		unitExp += int64(len(ds) - (Digits + 1))
		ds = ds[:Digits+1]
	}
	v, err := strconv.ParseUint(ds, 10, 64)
	if err != nil {
		return Zero(), parseError(s, err)
	}
	return fromScaled(v, unitExp)
}

// MustParse is Parse for package-level literals. It panics on bad input.
func MustParse(s string) Number {
	n, err := Parse(s)
	if err != nil {
		panic("bignum: " + err.Error())
	}
	return n
}

func parseError(s string, cause error) error {
	return &apperrors.Error{
		Code:     apperrors.CodeValidation,
		Message:  "invalid number",
		Metadata: map[string]string{"input": s},
		Cause:    cause,
	}
}

// MarshalText implements encoding.TextMarshaler with the canonical form.
func (n Number) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Number) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// MarshalJSON writes the canonical form as a JSON string.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(n.String())), nil
}

// UnmarshalJSON accepts a JSON string or a bare JSON number.
func (n *Number) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	return n.UnmarshalText([]byte(s))
}

// Scientific formats n as "1.234e6" with at most decimals digits after the
// point (truncated). Values below 1000 are written plainly.
func (n Number) Scientific(decimals int) string {
	if n.Less(thousand) {
		return n.plain()
	}
	decimals = min(max(decimals, 0), Digits-1)
	ds := formatUint(n.mantissa)
	s := ds[:1]
	if frac := strings.TrimRight(ds[1:1+decimals], "0"); frac != "" {
		s += "." + frac
	}
	return s + "e" + formatInt(n.exponent)
}

// Human formats n with short-scale suffixes ("1.23K", "45.6B") using three
// truncated significant digits, falling back to Scientific past "Dc".
func (n Number) Human() string {
	if n.Less(thousand) {
		return n.plain()
	}
	group := n.exponent / 3
	if group >= int64(len(suffixes)) {
		return n.Scientific(3)
	}
	whole := n.exponent%3 + 1
	ds := formatUint(n.mantissa)[:3]
	s := ds[:whole]
	if frac := strings.TrimRight(ds[whole:], "0"); frac != "" {
		s += "." + frac
	}
	return s + suffixes[group]
}

// Grouped formats the integer part with thousands separators ("1,234,567")
// below 10^18 and falls back to Scientific above.
func (n Number) Grouped() string {
	switch {
	case n.IsZero() || n.exponent < 0:
		return "0"
	case n.exponent >= 18:
		return n.Scientific(3)
	case n.exponent >= Digits-1:
		return humanize.Comma(int64(n.mantissa * pow10[n.exponent-(Digits-1)]))
	}
	return humanize.Comma(int64(n.mantissa / pow10[Digits-1-n.exponent]))
}

func (n Number) plain() string {
	return humanize.FtoaWithDigits(n.Float64(), 2)
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }
func formatInt(v int64) string   { return strconv.FormatInt(v, 10) }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'e', Digits-1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
