package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amount with two fractional digits
// =============================================================================

// MoneyScale is the number of fractional digits every amount carries.
const MoneyScale = 2

// Money is an exact decimal amount. It never passes through float64.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{d: decimal.Zero}

func NewMoney(d decimal.Decimal) Money { return Money{d: d} }

func MoneyFromInt(units int64) Money { return Money{d: decimal.NewFromInt(units)} }

// MoneyFromCents builds an amount from minor units (150 -> 1.50).
func MoneyFromCents(cents int64) Money { return Money{d: decimal.New(cents, -MoneyScale)} }

// MaxAmount is the largest single credit or payment amount, the range of a
// NUMERIC(10,2) column.
var MaxAmount = Money{d: decimal.New(9999999999, -MoneyScale)}

// maxIntegerDigits is the number of digits MaxAmount has before the point.
const maxIntegerDigits = 8

// ParseMoney parses a single entry amount, rejecting anything that does not
// fit in two fractional digits or exceeds MaxAmount.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", s)}
	}
	m := Money{d: d}
	if err := m.checkRange(); err != nil {
		return Money{}, err
	}
	if !m.HasValidScale() {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("amount %s has more than %d decimal places", s, MoneyScale)}
	}
	return m, nil
}

// ParseTotal parses an aggregate such as a column sum. Totals may exceed
// MaxAmount but still carry at most two fractional digits.
func ParseTotal(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("ledger: invalid total %q: %w", s, err)
	}
	m := Money{d: d}
	if !m.HasValidScale() {
		return Money{}, fmt.Errorf("ledger: total %s has more than %d decimal places", s, MoneyScale)
	}
	return m, nil
}

// MustParseMoney panics on malformed input. Tests and fixtures only.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) LessOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// HasValidScale reports whether the amount is representable with two
// fractional digits without rounding. The exponent is inspected before
// Round so inputs like 1e-3000000 never get rescaled.
func (m Money) HasValidScale() bool {
	if m.d.IsZero() || m.d.Exponent() >= -MoneyScale {
		return true
	}
	// The coefficient must end in this many zeros to lose nothing.
	if drop := -int(m.d.Exponent()) - MoneyScale; drop >= m.d.NumDigits() {
		return false
	}
	return m.d.Equal(m.d.Round(MoneyScale))
}

// ExceedsMax reports whether |m| is larger than MaxAmount. It compares digit
// counts first so huge exponents like 1e3000000 are never expanded.
func (m Money) ExceedsMax() bool {
	if m.d.IsZero() {
		return false
	}
	intDigits := m.d.NumDigits() + int(m.d.Exponent())
	if intDigits > maxIntegerDigits {
		return true
	}
	if intDigits < maxIntegerDigits {
		return false
	}
	return m.d.Abs().GreaterThan(MaxAmount.d)
}

func (m Money) checkRange() error {
	if m.ExceedsMax() {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("amount exceeds the maximum of %s", MaxAmount)}
	}
	return nil
}

func (m Money) String() string { return m.d.StringFixed(MoneyScale) }

// MarshalJSON emits a quoted fixed-point string so clients never see a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return &ValidationError{Field: "amount", Message: "amount must be a decimal number"}
	}
	parsed := Money{d: d}
	if err := parsed.checkRange(); err != nil {
		return err
	}
	if !parsed.HasValidScale() {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("amount %s has more than %d decimal places", d.String(), MoneyScale)}
	}
	*m = parsed
	return nil
}

// Sum adds amounts left to right.
func Sum(amounts ...Money) Money {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
