// Package money keeps every monetary amount at one canonical precision.
//
// All arithmetic helpers round their result to Scale fractional digits with
// banker's rounding. Comparisons against zero use Epsilon instead of exact
// equality, since repeated rounding can leave residues of a few units in the
// last place.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits kept after every operation.
const Scale = 8

var (
	// Epsilon is the "effectively zero" threshold.
	Epsilon = decimal.New(1, -7)

	hundred = decimal.NewFromInt(100)
)

// Round rounds d to Scale fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

func Add(a, b decimal.Decimal) decimal.Decimal { return Round(a.Add(b)) }
func Sub(a, b decimal.Decimal) decimal.Decimal { return Round(a.Sub(b)) }
func Mul(a, b decimal.Decimal) decimal.Decimal { return Round(a.Mul(b)) }

// Div returns a/b rounded, or zero when b is effectively zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if IsZero(b) {
		return decimal.Zero
	}
	return Round(a.DivRound(b, Scale+4))
}

// Percent returns pct percent of amount.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// FromFloat converts a configuration float into a rounded amount.
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}

// MustParse parses s or panics. Intended for constants and tests.
func MustParse(s string) decimal.Decimal {
	return Round(decimal.RequireFromString(s))
}

// IsZero reports whether |d| <= Epsilon.
func IsZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// IsPositive reports whether d > Epsilon.
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Epsilon)
}

// AtLeast reports whether a >= b within Epsilon.
func AtLeast(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThanOrEqual(Epsilon.Neg())
}

// Less reports whether a < b by more than Epsilon.
func Less(a, b decimal.Decimal) bool {
	return !AtLeast(a, b)
}

// Clamp returns zero for negative residues within Epsilon, d otherwise.
func Clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() && IsZero(d) {
		return decimal.Zero
	}
	return d
}
