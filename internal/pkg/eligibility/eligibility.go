// Package eligibility decides which payment providers may serve a buyer's
// country, currency and billing interval.
package eligibility

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

var (
	ErrInvalidCountry  = errors.New("invalid country code")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidInterval = errors.New("invalid billing interval")
)

// Context is the immutable input of a resolution.
type Context struct {
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

// NewContext normalizes and validates the codes.
func NewContext(country, currencyCode, interval string) (Context, error) {
	c := Context{
		Country:  strings.ToUpper(strings.TrimSpace(country)),
		Currency: strings.ToUpper(strings.TrimSpace(currencyCode)),
		Interval: strings.ToLower(strings.TrimSpace(interval)),
	}
	if !ValidCountry(c.Country) {
		return Context{}, fmt.Errorf("%w: %q", ErrInvalidCountry, country)
	}
	if !ValidCurrency(c.Currency) {
		return Context{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currencyCode)
	}
	if c.Interval == "" {
		c.Interval = gateway.IntervalMonthly
	}
	switch c.Interval {
	case gateway.IntervalMonthly, gateway.IntervalYearly, gateway.IntervalTrial:
	default:
		return Context{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	return c, nil
}

// ValidCountry reports whether code is an ISO-3166 alpha-2 country.
func ValidCountry(code string) bool {
	if len(code) != 2 {
		return false
	}
	r, err := language.ParseRegion(code)
	return err == nil && r.IsCountry()
}

// ValidCurrency reports whether code is an ISO-4217 currency.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// LocalCurrency returns the tender of a country.
func LocalCurrency(country string) (string, bool) {
	r, err := language.ParseRegion(strings.ToUpper(country))
	if err != nil {
		return "", false
	}
	unit, ok := currency.FromRegion(r)
	if !ok {
		return "", false
	}
	return unit.String(), true
}

// mobileMoneyRegion maps countries where mobile money is offered to the
// currencies it settles in.
var mobileMoneyRegion = map[string][]string{
	"GH": {"GHS"},
	"KE": {"KES"},
	"UG": {"UGX"},
	"RW": {"RWF"},
	"TZ": {"TZS"},
	"ZM": {"ZMW"},
	"CI": {"XOF"},
	"SN": {"XOF"},
	"CM": {"XAF"},
}

// MobileMoneyAvailable reports whether the country is in the mobile money
// region and the currency is one of its local currencies.
func MobileMoneyAvailable(country, currencyCode string) bool {
	currencies, ok := mobileMoneyRegion[strings.ToUpper(country)]
	return ok && slices.Contains(currencies, strings.ToUpper(currencyCode))
}

// PaymentMethods narrows a provider's base methods to the context.
func PaymentMethods(ctx Context, caps gateway.Capabilities) []gateway.PaymentMethod {
	out := make([]gateway.PaymentMethod, 0, len(caps.PaymentMethods))
	for _, m := range caps.PaymentMethods {
		if m == gateway.MethodMobileMoney && !MobileMoneyAvailable(ctx.Country, ctx.Currency) {
			continue
		}
		out = append(out, m)
	}
	return out
}
