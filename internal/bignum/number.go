// Package bignum implements the arbitrary-magnitude number used for every
// resource, cost and rate in the simulation.
//
// A Number is a non-negative value stored as a 15-digit integer mantissa and
// a base-10 exponent: mantissa/10^14 × 10^exponent. All arithmetic is
// deterministic, rounds half-up at the 15th significant digit, and never
// passes through float64.
package bignum

import (
	"math"
	"math/bits"
	"slices"

	apperrors "github.com/talgya/paradox-protocol/internal/errors"
)

const (
	Digits      = 15            // significant digits retained
	MaxExponent = math.MaxInt32 // largest representable exponent
	MinExponent = -MaxExponent  // values below flush to zero

	// SequentialLimit is the largest exponent Pow and MulPow compute by
	// repeated multiplication. Within it, x.MulPow(g, n+1) equals
	// x.MulPow(g, n).Mul(g) bit for bit.
	SequentialLimit = 1024
)

const (
	mantissaMin   uint64 = 100_000_000_000_000   // 10^14
	mantissaLimit uint64 = 1_000_000_000_000_000 // 10^15

	guardDigits = 3
)

var pow10 = [...]uint64{
	1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9,
	1e10, 1e11, 1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19,
}

// 10^29 as a 128-bit value, the boundary between 29- and 30-digit products.
var p29hi, p29lo = bits.Mul64(1e14, 1e15)

var (
	ErrOverflow       = apperrors.New(apperrors.CodeArithmeticOverflow, "number exceeds representable range")
	ErrDivisionByZero = apperrors.New(apperrors.CodeDivisionByZero, "division by zero")
)

// Number is an immutable non-negative big number. The zero value is zero.
type Number struct {
	mantissa uint64
	exponent int64
}

// Zero returns 0.
func Zero() Number { return Number{} }

// One returns 1.
func One() Number { return Number{mantissa: mantissaMin} }

// Largest returns the saturated maximum value.
func Largest() Number { return Number{mantissa: mantissaLimit - 1, exponent: MaxExponent} }

// FromUint64 converts an integer exactly when it has at most 15 digits,
// rounding half-up otherwise.
func FromUint64(v uint64) Number {
	n, _ := fromScaled(v, 0)
	return n
}

// FromInt64 converts v, treating negative values as zero.
func FromInt64(v int64) Number {
	if v <= 0 {
		return Zero()
	}
	return FromUint64(uint64(v))
}

// FromFloat64 converts f through its shortest 15-digit decimal form.
// NaN and non-positive values become zero, +Inf saturates.
func FromFloat64(f float64) Number {
	switch {
	case math.IsNaN(f) || f <= 0:
		return Zero()
	case math.IsInf(f, 1):
		return Largest()
	}
	n, err := Parse(formatFloat(f))
	if err != nil {
		return Zero()
	}
	return n
}

// FromParts rebuilds a Number from its stored mantissa and exponent. The pair
// must already be normalized.
func FromParts(mantissa uint64, exponent int64) (Number, error) {
	if mantissa == 0 && exponent == 0 {
		return Zero(), nil
	}
	if mantissa < mantissaMin || mantissa >= mantissaLimit || exponent > MaxExponent || exponent < MinExponent {
		return Zero(), apperrors.WithMetadata(apperrors.CodeValidation, "number parts not normalized", map[string]string{
			"mantissa": formatUint(mantissa),
			"exponent": formatInt(exponent),
		})
	}
	return Number{mantissa: mantissa, exponent: exponent}, nil
}

// Mantissa returns the stored 15-digit mantissa (0 for zero).
func (n Number) Mantissa() uint64 { return n.mantissa }

// Exponent returns the scientific exponent (0 for zero).
func (n Number) Exponent() int64 { return n.exponent }

// IsZero reports whether n is zero.
func (n Number) IsZero() bool { return n.mantissa == 0 }

// Cmp returns -1, 0 or 1 as n is less than, equal to, or greater than o.
func (n Number) Cmp(o Number) int {
	switch {
	case n == o:
		return 0
	case n.IsZero():
		return -1
	case o.IsZero():
		return 1
	case n.exponent != o.exponent:
		if n.exponent < o.exponent {
			return -1
		}
		return 1
	case n.mantissa < o.mantissa:
		return -1
	}
	return 1
}

func (n Number) Equal(o Number) bool          { return n == o }
func (n Number) Less(o Number) bool           { return n.Cmp(o) < 0 }
func (n Number) GreaterOrEqual(o Number) bool { return n.Cmp(o) >= 0 }

// Max returns the larger of a and b.
func Max(a, b Number) Number {
	if a.Less(b) {
		return b
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Number) Number {
	if a.Less(b) {
		return a
	}
	return b
}

// Add returns n+o. When exponents differ by more than Digits the smaller
// operand is absorbed.
func (n Number) Add(o Number) (Number, error) {
	if o.IsZero() {
		return n, nil
	}
	if n.IsZero() {
		return o, nil
	}
	if n.Less(o) {
		n, o = o, n
	}
	diff := n.exponent - o.exponent
	if diff > Digits {
		return n, nil
	}
	sum := n.mantissa*pow10[guardDigits] + roundShift(o.mantissa*pow10[guardDigits], int(diff))
	return fromScaled(sum, n.exponent-(Digits-1)-guardDigits)
}

// AddRepeated returns n with addends added in order, k times over. The
// result is identical to k×len(addends) sequential Add calls. While n stays
// within one decade and is at least every addend, each Add moves the
// mantissa by a fixed step, so whole rounds inside the decade are applied at
// once and only decade crossings run Add directly.
func (n Number) AddRepeated(addends []Number, k uint64) (Number, error) {
	if !slices.ContainsFunc(addends, func(a Number) bool { return !a.IsZero() }) {
		return n, nil
	}
	for k > 0 {
		step, ok := n.roundStep(addends)
		if ok && step == 0 {
			return n, nil
		}
		if ok {
			j := min(k, (mantissaLimit-1-n.mantissa)/step)
			n.mantissa += j * step
			k -= j
			if k == 0 {
				return n, nil
			}
		}
		var err error
		for _, a := range addends {
			if n, err = n.Add(a); err != nil {
				return n, err
			}
		}
		k--
	}
	return n, nil
}

// roundStep returns the mantissa increase of adding every addend to n once,
// when n is at least each addend and the result stays in n's decade.
func (n Number) roundStep(addends []Number) (uint64, bool) {
	if n.IsZero() {
		return 0, false
	}
	var step uint64
	for _, a := range addends {
		if a.IsZero() {
			continue
		}
		if n.Less(a) {
			return 0, false
		}
		diff := n.exponent - a.exponent
		if diff > Digits {
			continue
		}
		step += roundShift(roundShift(a.mantissa*pow10[guardDigits], int(diff)), guardDigits)
	}
	return step, true
}

// Sub returns n-o, floored at zero.
func (n Number) Sub(o Number) Number {
	if n.Cmp(o) <= 0 {
		return Zero()
	}
	if o.IsZero() {
		return n
	}
	diff := n.exponent - o.exponent
	if diff > Digits {
		return n
	}
	d := n.mantissa*pow10[guardDigits] - roundShift(o.mantissa*pow10[guardDigits], int(diff))
	r, _ := fromScaled(d, n.exponent-(Digits-1)-guardDigits)
	return r
}

// Mul returns n×o.
func (n Number) Mul(o Number) (Number, error) {
	if n.IsZero() || o.IsZero() {
		return Zero(), nil
	}
	hi, lo := bits.Mul64(n.mantissa, o.mantissa)
	shift := Digits - 1
	if !less128(hi, lo, p29hi, p29lo) {
		shift = Digits
	}
	q, r := bits.Div64(hi, lo, pow10[shift])
	if r >= pow10[shift]-r {
		q++
	}
	return fromScaled(q, n.exponent+o.exponent-2*(Digits-1)+int64(shift))
}

// Div returns n/o.
func (n Number) Div(o Number) (Number, error) {
	if o.IsZero() {
		return Zero(), ErrDivisionByZero
	}
	if n.IsZero() {
		return Zero(), nil
	}
	scale := Digits - 1
	if n.mantissa < o.mantissa {
		scale = Digits
	}
	hi, lo := bits.Mul64(n.mantissa, pow10[scale])
	q, r := bits.Div64(hi, lo, o.mantissa)
	if r >= o.mantissa-r {
		q++
	}
	return fromScaled(q, n.exponent-o.exponent-int64(scale))
}

// Shift returns n×10^k.
func (n Number) Shift(k int64) (Number, error) {
	if n.IsZero() {
		return n, nil
	}
	return build(n.mantissa, n.exponent+k)
}

// Pow returns n^k.
func (n Number) Pow(k uint64) (Number, error) {
	return One().MulPow(n, k)
}

// MulPow returns n×g^k. Up to SequentialLimit the factors are applied one at
// a time from n; beyond it g^k is taken by squaring, which drifts from the
// sequential product by at most about 2·log2(k) units in the last digit.
func (n Number) MulPow(g Number, k uint64) (Number, error) {
	if k == 0 || n.IsZero() {
		return n, nil
	}
	if k <= SequentialLimit {
		acc := n
		for i := uint64(0); i < k; i++ {
			var err error
			if acc, err = acc.Mul(g); err != nil {
				return acc, err
			}
		}
		return acc, nil
	}
	p, err := g.powBySquaring(k)
	if err != nil {
		return p, err
	}
	return n.Mul(p)
}

func (n Number) powBySquaring(k uint64) (Number, error) {
	result, base := One(), n
	for k > 0 {
		var err error
		if k&1 == 1 {
			if result, err = result.Mul(base); err != nil {
				return result, err
			}
		}
		k >>= 1
		if k > 0 {
			if base, err = base.Mul(base); err != nil {
				return base, err
			}
		}
	}
	return result, nil
}

// Log10 returns log10(n) as a float64 (-Inf for zero).
func (n Number) Log10() float64 {
	if n.IsZero() {
		return math.Inf(-1)
	}
	return float64(n.exponent) + math.Log10(float64(n.mantissa)/float64(mantissaMin))
}

// Exp10 returns 10^x for a float exponent, saturating on overflow.
func Exp10(x float64) (Number, error) {
	switch {
	case math.IsNaN(x):
		return Zero(), nil
	case x > MaxExponent:
		return Largest(), ErrOverflow
	case x < MinExponent:
		return Zero(), nil
	}
	whole := math.Floor(x)
	m := FromFloat64(math.Pow(10, x-whole))
	return m.Shift(int64(whole))
}

// Float64 returns the nearest float64, ±Inf or 0 when out of range.
func (n Number) Float64() float64 {
	f, _ := parseFloat(n.String())
	return f
}

// fromScaled normalizes v×10^unitExp.
func fromScaled(v uint64, unitExp int64) (Number, error) {
	if v == 0 {
		return Zero(), nil
	}
	d := int64(digitCount(v))
	switch {
	case d > Digits:
		v = roundShift(v, int(d-Digits))
		unitExp += d - Digits
		if v == mantissaLimit {
			v = mantissaMin
			unitExp++
		}
	case d < Digits:
		v *= pow10[Digits-d]
		unitExp -= Digits - d
	}
	return build(v, unitExp+Digits-1)
}

func build(mantissa uint64, exponent int64) (Number, error) {
	switch {
	case exponent > MaxExponent:
		return Largest(), ErrOverflow
	case exponent < MinExponent:
		return Zero(), nil
	}
	return Number{mantissa: mantissa, exponent: exponent}, nil
}

// roundShift divides v by 10^k, rounding half-up.
func roundShift(v uint64, k int) uint64 {
	if k == 0 {
		return v
	}
	p := pow10[k]
	q, r := v/p, v%p
	if r >= p-r {
		q++
	}
	return q
}

func digitCount(v uint64) int {
	for i := 1; i < len(pow10); i++ {
		if v < pow10[i] {
			return i
		}
	}
	return len(pow10)
}

func less128(ahi, alo, bhi, blo uint64) bool {
	return ahi < bhi || (ahi == bhi && alo < blo)
}
