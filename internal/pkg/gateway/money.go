package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// MinorUnitScale returns the number of decimal places of an ISO-4217 code.
func MinorUnitScale(code string) int {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// FormatMajor renders a minor-unit amount as a decimal string, e.g. 1999 USD -> "19.99".
func FormatMajor(amount int64, code string) string {
	scale := MinorUnitScale(code)
	if scale == 0 {
		return strconv.FormatInt(amount, 10)
	}
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := strconv.FormatInt(amount, 10)
	if len(s) <= scale {
		s = strings.Repeat("0", scale-len(s)+1) + s
	}
	out := s[:len(s)-scale] + "." + s[len(s)-scale:]
	if neg {
		out = "-" + out
	}
	return out
}

// ParseMajor converts a decimal string in major units to minor units without
// going through floating point.
func ParseMajor(value, code string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	scale := MinorUnitScale(code)
	whole, frac, _ := strings.Cut(value, ".")
	frac = strings.TrimRight(frac, "0")
	if len(frac) > scale {
		return 0, fmt.Errorf("amount %q has more precision than %s allows", value, code)
	}
	frac += strings.Repeat("0", scale-len(frac))
	if whole == "" {
		whole = "0"
	}
	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if neg {
		n = -n
	}
	return n, nil
}
