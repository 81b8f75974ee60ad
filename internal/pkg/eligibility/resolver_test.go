package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

func allCandidates() []Candidate {
	adapters := []gateway.Adapter{
		gateway.NewPayPalAdapter("", nil),
		gateway.NewStripeAdapter("", nil),
		gateway.NewPaystackAdapter("", nil),
		gateway.NewFlutterwaveAdapter("", nil),
	}
	out := make([]Candidate, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, Candidate{Provider: a.Name(), Capabilities: a.Capabilities(), Enabled: true})
	}
	return out
}

func only(cands []Candidate, keep ...gateway.Provider) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		for _, p := range keep {
			if c.Provider == p {
				out = append(out, c)
			}
		}
	}
	return out
}

func mustContext(t *testing.T, country, cur, interval string) Context {
	t.Helper()
	ctx, err := NewContext(country, cur, interval)
	require.NoError(t, err)
	return ctx
}

func TestResolve_NigeriaPrefersNativeRegionalGateway(t *testing.T) {
	res := Resolve(mustContext(t, "NG", "NGN", gateway.IntervalMonthly), allCandidates())

	assert.Contains(t, res.Available, gateway.Flutterwave)
	assert.Contains(t, res.Available, gateway.Paystack)
	assert.NotContains(t, res.Available, gateway.Stripe)
	assert.Equal(t, gateway.Paystack, res.Recommended)
}

func TestResolve_ProvidersAreInFallbackOrder(t *testing.T) {
	res := Resolve(mustContext(t, "US", "USD", gateway.IntervalMonthly), allCandidates())

	got := make([]gateway.Provider, 0, len(res.Providers))
	for _, pe := range res.Providers {
		got = append(got, pe.Provider)
	}
	assert.Equal(t, gateway.FallbackOrder, got)
	assert.Equal(t, []gateway.Provider{gateway.Stripe, gateway.PayPal}, res.Available)
	assert.Equal(t, gateway.Stripe, res.Recommended)
}

func TestResolve_TrialExcludesSubscriptionOnlyProviders(t *testing.T) {
	res := Resolve(mustContext(t, "NG", "USD", gateway.IntervalTrial), allCandidates())

	assert.False(t, res.IsAvailable(gateway.Stripe))
	assert.False(t, res.IsAvailable(gateway.PayPal))
	stripe, ok := res.Lookup(gateway.Stripe)
	require.True(t, ok)
	assert.Contains(t, stripe.Reason, "trial")
	assert.Contains(t, res.Available, res.Recommended)
}

func TestResolve_DisabledAndAllowList(t *testing.T) {
	cands := allCandidates()
	for i := range cands {
		switch cands[i].Provider {
		case gateway.Paystack:
			cands[i].Enabled = false
		case gateway.Flutterwave:
			cands[i].AllowedCountries = []string{"ke", "gh"}
		}
	}
	res := Resolve(mustContext(t, "NG", "NGN", gateway.IntervalMonthly), cands)

	assert.Empty(t, res.Available)
	assert.Equal(t, gateway.Provider(""), res.Recommended)
	reasons := res.Reasons()
	assert.Contains(t, reasons[gateway.Paystack], "disabled")
	assert.Contains(t, reasons[gateway.Flutterwave], "allow-list")
	assert.Contains(t, reasons[gateway.Stripe], "currency NGN")
}

func TestResolve_RecommendedIsAlwaysAvailable(t *testing.T) {
	countries := []string{"NG", "GH", "KE", "UG", "ZA", "CI", "CM", "US", "GB", "DE", "FR", "BR", "IN"}
	currencies := []string{"NGN", "GHS", "KES", "UGX", "ZAR", "XOF", "XAF", "USD", "GBP", "EUR"}
	intervals := []string{gateway.IntervalMonthly, gateway.IntervalYearly, gateway.IntervalTrial}

	for _, country := range countries {
		for _, cur := range currencies {
			for _, interval := range intervals {
				res := Resolve(mustContext(t, country, cur, interval), allCandidates())
				if len(res.Available) == 0 {
					assert.Empty(t, res.Recommended)
					assert.NotEmpty(t, res.Reasons())
					continue
				}
				assert.Contains(t, res.Available, res.Recommended, "%s/%s/%s", country, cur, interval)
			}
		}
	}
}

func TestResolve_RegionalOnlyTrialRejectsCardProcessor(t *testing.T) {
	cands := only(allCandidates(), gateway.Flutterwave, gateway.Paystack, gateway.Stripe)
	res := Resolve(mustContext(t, "GH", "GHS", gateway.IntervalTrial), cands)

	assert.ElementsMatch(t, []gateway.Provider{gateway.Flutterwave, gateway.Paystack}, res.Available)
	pe, _ := res.Lookup(gateway.Stripe)
	assert.False(t, pe.Allowed)
	assert.Contains(t, pe.Reason, "trial")
}

func TestPaymentMethods_MobileMoneyNeedsRegionAndCurrency(t *testing.T) {
	caps := gateway.NewFlutterwaveAdapter("", nil).Capabilities()

	tests := []struct {
		name     string
		country  string
		currency string
		want     bool
	}{
		{"kenya shilling", "KE", "KES", true},
		{"kenya in dollars", "KE", "USD", false},
		{"senegal cfa", "SN", "XOF", true},
		{"nigeria", "NG", "NGN", false},
		{"united states", "US", "USD", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			methods := PaymentMethods(mustContext(t, tt.country, tt.currency, ""), caps)
			assert.Equal(t, tt.want, containsMethod(methods, gateway.MethodMobileMoney))
			assert.True(t, containsMethod(methods, gateway.MethodCard))
		})
	}
}

func containsMethod(ms []gateway.PaymentMethod, m gateway.PaymentMethod) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func TestNewContext(t *testing.T) {
	ctx, err := NewContext(" ng ", "ngn", "")
	require.NoError(t, err)
	assert.Equal(t, Context{Country: "NG", Currency: "NGN", Interval: gateway.IntervalMonthly}, ctx)

	_, err = NewContext("XX1", "USD", "monthly")
	assert.ErrorIs(t, err, ErrInvalidCountry)
	_, err = NewContext("US", "DOLLARS", "monthly")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
	_, err = NewContext("US", "USD", "weekly")
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestLocalCurrency(t *testing.T) {
	for country, want := range map[string]string{"NG": "NGN", "KE": "KES", "SN": "XOF", "DE": "EUR", "US": "USD"} {
		got, ok := LocalCurrency(country)
		assert.True(t, ok, country)
		assert.Equal(t, want, got, country)
	}
}
