package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (paise).
type Money int64

// ErrInvalidAmount is returned by ParseMoney for malformed input.
var ErrInvalidAmount = errors.New("domain: invalid amount")

// Percent returns pct percent of m, rounded half up.
func (m Money) Percent(pct int64) Money {
	return Money((int64(m)*pct + 50) / 100)
}

// String renders the amount with two decimals.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney accepts "40", "40.5" or "40.50" and returns the amount in paise.
func ParseMoney(value string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrInvalidAmount
	}
	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, ErrInvalidAmount
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, ErrInvalidAmount
		}
	}
	return Money(units*100 + cents), nil
}
