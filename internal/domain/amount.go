package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// UnitDecimals is the number of base units per coin as a power of ten.
const UnitDecimals = 9

// UnitsPerCoin is the number of base units in one whole coin.
const UnitsPerCoin uint64 = 1_000_000_000

var maxUnits = decimal.New(math.MaxInt64, 0)

// FormatAmount renders base units as a whole-coin decimal string
// ("0.1" for 100_000_000 units).
func FormatAmount(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -UnitDecimals).String()
}

// ParseAmount converts a whole-coin decimal string into base units. Values
// with more than nine fractional digits, negative values and values beyond
// the int64 range are rejected.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	units := d.Mul(decimal.New(1, UnitDecimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, UnitDecimals)
	}
	if units.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return uint64(units.IntPart()), nil
}
