// Package units converts decimal amount strings to and from the chain's
// minimal unit (wei, 18 decimals). Amounts never pass through floating point.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fractional precision of the native token.
const Decimals = 18

var (
	// ErrInvalidAmount is returned for strings that are not non-negative decimals.
	ErrInvalidAmount = errors.New("units: invalid amount")
	// ErrTooPrecise is returned when an amount carries more than Decimals fractional digits.
	ErrTooPrecise = errors.New("units: amount exceeds 18 fractional digits")
)

var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToWei parses a decimal string such as "1.5" into its wei value.
func ToWei(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: %q", ErrTooPrecise, amount)
	}

	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return wei, nil
}

// FromWei renders wei as the shortest exact decimal string ("1", "0.5").
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	q, r := new(big.Int).QuoRem(abs, weiPerUnit, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := r.String()
		frac = strings.Repeat("0", Decimals-len(frac)) + frac
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Canonical normalises a decimal amount ("01.50" becomes "1.5").
func Canonical(amount string) (string, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return "", err
	}
	return FromWei(wei), nil
}

// Add sums two decimal amounts exactly.
func Add(a, b string) (string, error) {
	x, err := ToWei(a)
	if err != nil {
		return "", err
	}
	y, err := ToWei(b)
	if err != nil {
		return "", err
	}
	return FromWei(new(big.Int).Add(x, y)), nil
}

// Positive reports whether amount parses to a value greater than zero.
func Positive(amount string) bool {
	wei, err := ToWei(amount)
	return err == nil && wei.Sign() > 0
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
