package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the number of minor units per major unit exponent (1 unit = 10^6 minor).
const DefaultDecimals int32 = 6

// ToMinor converts a major-unit decimal string ("1.5") into minor units.
// Fractions finer than the configured precision are rejected rather than rounded.
func ToMinor(major string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", major, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", major, decimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q overflows", major)
	}
	return scaled.IntPart(), nil
}

// ToMajor converts minor units into a major-unit decimal.
func ToMajor(minor int64, decimals int32) decimal.Decimal {
	return decimal.New(minor, -decimals)
}

// FormatMajor renders minor units as a fixed-point major-unit string.
func FormatMajor(minor int64, decimals int32) string {
	return ToMajor(minor, decimals).StringFixed(decimals)
}
