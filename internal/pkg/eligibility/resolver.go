package eligibility

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// Candidate is a registered provider together with its admin settings.
type Candidate struct {
	Provider     gateway.Provider
	Capabilities gateway.Capabilities
	Enabled      bool
	// AllowedCountries is the optional admin allow-list; empty means no limit.
	AllowedCountries []string
}

// ProviderEligibility is the per-provider verdict.
type ProviderEligibility struct {
	Provider         gateway.Provider        `json:"provider"`
	Enabled          bool                    `json:"enabled"`
	SupportsCountry  bool                    `json:"supportsCountry"`
	SupportsCurrency bool                    `json:"supportsCurrency"`
	SupportsInterval bool                    `json:"supportsInterval"`
	Allowed          bool                    `json:"allowed"`
	Reason           string                  `json:"reason,omitempty"`
	PaymentMethods   []gateway.PaymentMethod `json:"paymentMethods"`
}

// Result lists every candidate in fallback order. An empty Available is not an
// error; the reasons explain it.
type Result struct {
	Context     Context               `json:"context"`
	Providers   []ProviderEligibility `json:"providers"`
	Available   []gateway.Provider    `json:"availableProviders"`
	Recommended gateway.Provider      `json:"recommendedProvider,omitempty"`
}

func (r Result) Lookup(p gateway.Provider) (ProviderEligibility, bool) {
	for _, pe := range r.Providers {
		if pe.Provider == p {
			return pe, true
		}
	}
	return ProviderEligibility{}, false
}

func (r Result) IsAvailable(p gateway.Provider) bool {
	return slices.Contains(r.Available, p)
}

// Reasons returns the non-empty reasons keyed by provider.
func (r Result) Reasons() map[gateway.Provider]string {
	out := make(map[gateway.Provider]string)
	for _, pe := range r.Providers {
		if pe.Reason != "" {
			out[pe.Provider] = pe.Reason
		}
	}
	return out
}

func fallbackRank(p gateway.Provider) int {
	if i := slices.Index(gateway.FallbackOrder, p); i >= 0 {
		return i
	}
	return len(gateway.FallbackOrder)
}

// Resolve evaluates every candidate against ctx. It has no side effects.
func Resolve(ctx Context, candidates []Candidate) Result {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return fallbackRank(a.Provider) - fallbackRank(b.Provider)
	})

	res := Result{Context: ctx, Providers: make([]ProviderEligibility, 0, len(sorted))}
	for _, c := range sorted {
		pe := evaluate(ctx, c)
		res.Providers = append(res.Providers, pe)
		if pe.Allowed {
			res.Available = append(res.Available, pe.Provider)
		}
	}
	res.Recommended = recommend(ctx, sorted, res.Available)
	return res
}

func evaluate(ctx Context, c Candidate) ProviderEligibility {
	caps := c.Capabilities
	pe := ProviderEligibility{
		Provider:         c.Provider,
		Enabled:          c.Enabled,
		SupportsCountry:  caps.SupportsCountry(ctx.Country),
		SupportsCurrency: caps.SupportsCurrency(ctx.Currency),
		SupportsInterval: ctx.Interval != gateway.IntervalTrial || caps.OneTimeCharges,
		PaymentMethods:   PaymentMethods(ctx, caps),
	}

	var reasons []string
	if !pe.Enabled {
		reasons = append(reasons, "provider is disabled")
	}
	if !pe.SupportsCountry {
		reasons = append(reasons, fmt.Sprintf("country %s is not supported", ctx.Country))
	}
	if !pe.SupportsCurrency {
		reasons = append(reasons, fmt.Sprintf("currency %s is not supported", ctx.Currency))
	}
	allowListed := len(c.AllowedCountries) == 0 || slices.ContainsFunc(c.AllowedCountries, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), ctx.Country)
	})
	if !allowListed {
		reasons = append(reasons, fmt.Sprintf("country %s is not in the configured allow-list", ctx.Country))
	}
	if !pe.SupportsInterval {
		reasons = append(reasons, "trial checkout needs one-time charges, which this provider does not offer")
	}

	pe.Allowed = pe.Enabled && pe.SupportsCountry && pe.SupportsCurrency && allowListed && pe.SupportsInterval
	pe.Reason = strings.Join(reasons, "; ")
	return pe
}

// recommend prefers the first available provider whose native currency is
// the country's local currency, then the first available in fallback order.
func recommend(ctx Context, sorted []Candidate, available []gateway.Provider) gateway.Provider {
	if len(available) == 0 {
		return ""
	}
	if local, ok := LocalCurrency(ctx.Country); ok {
		for _, c := range sorted {
			if slices.Contains(available, c.Provider) && c.Capabilities.IsNativeCurrency(local) {
				return c.Provider
			}
		}
	}
	return available[0]
}
