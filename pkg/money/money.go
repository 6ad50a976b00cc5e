// Package money represents currency amounts as integer minor units (kopecks)
// so balances and splits never accumulate floating point drift.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 2

// Amount is a non-fractional count of minor currency units.
type Amount int64

var (
	minorPerMajor = decimal.New(1, Scale)
	maxMinor      = decimal.NewFromInt(math.MaxInt64)
)

// Parse reads a major-unit decimal such as "1000" or "149.90".
func Parse(raw string) (Amount, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal, rejecting negatives and sub-kopeck precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	minor := d.Mul(minorPerMajor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), Scale)
	}
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String renders the amount with exactly two decimals, e.g. "1000.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) Int64() int64 {
	return int64(a)
}

// MarshalJSON encodes the amount as a decimal string in major units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number in major units.
func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Split divides amount between the author and the platform. The author share is
// amount*authorPercent rounded half away from zero to a whole minor unit; the
// platform receives the remainder so the two parts always sum to amount.
func Split(amount Amount, authorPercent decimal.Decimal) (author Amount, platform Amount) {
	share := decimal.NewFromInt(int64(amount)).Mul(authorPercent).Round(0).IntPart()
	if share < 0 {
		share = 0
	}
	if share > int64(amount) {
		share = int64(amount)
	}
	return Amount(share), amount - Amount(share)
}
