// Package units converts between ledger encodings and display values:
// coordinates as degrees scaled by 1e6, and value in the smallest native
// unit against a coin with 18 decimals.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

const (
	CoordScale = 1_000_000
	Decimals   = 18
)

var ErrInvalidAmount = errors.New("invalid amount")

// EncodeCoord scales degrees to the ledger's integer form, rounding toward
// negative infinity.
func EncodeCoord(deg float64) int64 { return int64(math.Floor(deg * CoordScale)) }

func DecodeCoord(v int64) float64 { return float64(v) / CoordScale }

func ValidLat(v int64) bool { return v >= -90*CoordScale && v <= 90*CoordScale }

func ValidLng(v int64) bool { return v >= -180*CoordScale && v <= 180*CoordScale }

// ParseCoin turns a decimal coin amount such as "1.5" into native units.
func ParseCoin(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// ParseWei parses a base-10 integer amount of native units.
func ParseWei(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// FormatCoin renders native units as a coin amount, always with at least
// one decimal ("1.0", "0.98").
func FormatCoin(v *uint256.Int) string {
	s := v.Dec()
	if len(s) <= Decimals {
		s = strings.Repeat("0", Decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-Decimals], strings.TrimRight(s[len(s)-Decimals:], "0")
	if frac == "" {
		frac = "0"
	}
	return whole + "." + frac
}
