package registry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AmountDecimals is the number of fractional digits an Amount carries.
const AmountDecimals = 6

// Unit is one whole base value unit.
const Unit Amount = 1_000_000

// Amount is a quantity of the base value unit in fixed point, AmountDecimals
// fractional digits.
type Amount int64

var errInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a non-negative decimal string such as "0.05" or "2".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", errInvalidAmount)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > AmountDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", errInvalidAmount, s, AmountDecimals)
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
			}
		}
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	if w > math.MaxInt64/int64(Unit)-1 {
		return 0, fmt.Errorf("%w: %q out of range", errInvalidAmount, s)
	}
	var f int64
	if frac != "" {
		frac += strings.Repeat("0", AmountDecimals-len(frac))
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
		}
	}
	return Amount(w)*Unit + Amount(f), nil
}

// Add returns a+b for non-negative amounts, and false if the sum does not
// fit in an Amount.
func (a Amount) Add(b Amount) (Amount, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// MustParseAmount is ParseAmount for constants; it panics on bad input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String formats the amount with trailing fractional zeros trimmed.
func (a Amount) String() string {
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	whole := int64(a / Unit)
	frac := int64(a % Unit)
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	fs := fmt.Sprintf("%0*d", AmountDecimals, frac)
	return sign + strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fs, "0")
}
