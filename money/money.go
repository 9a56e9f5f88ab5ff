// Package money holds currency amounts as an integer count of minor units
// (paise). Floating point never touches an amount; decimal values only appear
// at the edges, when parsing user input or rendering for display.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (1 rupee = 100 paise).
type Money int64

const (
	Zero Money = 0

	// MinorDigits is the number of decimal places carried by the minor unit.
	MinorDigits   = 2
	minorPerMajor = 100
)

var (
	minAmount = decimal.NewFromInt(math.MinInt64)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

var (
	ErrInvalid   = errors.New("invalid money value")
	ErrNegative  = errors.New("money result would be negative")
	ErrPrecision = errors.New("money value has more than 2 decimal places")
)

// FromMinor wraps an amount already expressed in paise.
func FromMinor(paise int64) Money { return Money(paise) }

// FromMajor converts whole rupees.
func FromMajor(rupees int64) Money { return Money(rupees * minorPerMajor) }

// FromDecimal converts a decimal rupee value. Values with more than two
// fractional digits are rejected rather than rounded, and values that do not
// fit in paise are ErrInvalid.
func FromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Shift(MinorDigits)
	if !scaled.IsInteger() {
		return Zero, ErrPrecision
	}
	return fromScaled(scaled)
}

func fromScaled(scaled decimal.Decimal) (Money, error) {
	if scaled.LessThan(minAmount) || scaled.GreaterThan(maxAmount) {
		return Zero, fmt.Errorf("%w: %s paise is out of range", ErrInvalid, scaled.String())
	}
	return Money(scaled.IntPart()), nil
}

// Parse accepts user formatted rupee strings such as "20000", "20,000.50",
// "Rs 1,234" or "₹ -50". Currency markers and thousands separators are
// stripped before parsing.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	for _, marker := range []string{"₹", "INR", "inr", "Rs.", "rs.", "Rs", "rs"} {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	if s == "" {
		return Zero, ErrInvalid
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if neg {
		d = d.Neg()
	}
	return FromDecimal(d)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Minor() int64 { return int64(m) }

func (m Money) Add(o Money) Money { return m + o }

// Sub returns m - o and fails when the result would go below zero. Use it
// where a negative amount means the caller made a mistake.
func (m Money) Sub(o Money) (Money, error) {
	if o > m {
		return Zero, ErrNegative
	}
	return m - o, nil
}

// SubFloor returns m - o saturated at zero.
func (m Money) SubFloor(o Money) Money {
	if o >= m {
		return Zero
	}
	return m - o
}

// Diff returns the signed difference m - o.
func (m Money) Diff(o Money) Money { return m - o }

// MulFraction returns m * num / den rounded half away from zero, e.g.
// MulFraction(25, 100) for a 25% slab.
func (m Money) MulFraction(num, den int64) (Money, error) {
	if den <= 0 || num < 0 {
		return Zero, ErrInvalid
	}
	r := decimal.NewFromInt(int64(m)).Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den)).Round(0)
	return fromScaled(r)
}

func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

// Decimal returns the rupee value for display and export.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorDigits)
}

// String renders the plain decimal form, e.g. "20000.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorDigits)
}

// Format renders the display form with a rupee sign and thousands
// separators, e.g. "₹20,000.00".
func (m Money) Format() string {
	s := m.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "₹" + b.String() + "." + frac
}

// Sum adds all amounts.
func Sum(ms ...Money) Money {
	var total Money
	for _, m := range ms {
		total += m
	}
	return total
}

// MarshalJSON emits the decimal string so clients never see raw paise.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number in rupees.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return ErrInvalid
		}
		s = n.String()
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
