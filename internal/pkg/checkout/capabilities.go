package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/PayFox/internal/pkg/eligibility"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// ProviderCapabilities is the public, secret-free view of one provider.
type ProviderCapabilities struct {
	Provider                gateway.Provider                `json:"provider"`
	Enabled                 bool                            `json:"enabled"`
	AllCountries            bool                            `json:"allCountries"`
	SupportedCountries      []string                        `json:"supportedCountries"`
	SupportedCurrencies     []string                        `json:"supportedCurrencies"`
	SupportedPaymentMethods []gateway.PaymentMethod         `json:"supportedPaymentMethods"`
	Eligibility             eligibility.ProviderEligibility `json:"eligibility"`
}

// CapabilitiesReport is the resolver output for one context.
type CapabilitiesReport struct {
	Context     eligibility.Context    `json:"context"`
	Providers   []ProviderCapabilities `json:"providers"`
	Available   []gateway.Provider     `json:"availableProviders"`
	Recommended gateway.Provider       `json:"recommendedProvider,omitempty"`
}

// Capabilities runs the eligibility resolver for a diagnostic context. Empty
// values default to the configured country, its local currency and monthly.
func (o *Orchestrator) Capabilities(ctx context.Context, country, currencyCode, interval string) (*CapabilitiesReport, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = o.opts.DefaultCountry
	}
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		currencyCode = "USD"
		if local, ok := eligibility.LocalCurrency(country); ok {
			currencyCode = local
		}
	}

	elCtx, err := eligibility.NewContext(country, currencyCode, interval)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"query": err.Error()}}
	}

	candidates, err := o.settings.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load provider settings: %w", err)
	}
	res := eligibility.Resolve(elCtx, candidates)

	byProvider := make(map[gateway.Provider]eligibility.Candidate, len(candidates))
	for _, c := range candidates {
		byProvider[c.Provider] = c
	}

	report := &CapabilitiesReport{
		Context:     res.Context,
		Providers:   make([]ProviderCapabilities, 0, len(res.Providers)),
		Available:   res.Available,
		Recommended: res.Recommended,
	}
	for _, pe := range res.Providers {
		caps := byProvider[pe.Provider].Capabilities
		report.Providers = append(report.Providers, ProviderCapabilities{
			Provider:                pe.Provider,
			Enabled:                 pe.Enabled,
			AllCountries:            caps.AllCountries,
			SupportedCountries:      caps.Countries,
			SupportedCurrencies:     caps.Currencies,
			SupportedPaymentMethods: caps.PaymentMethods,
			Eligibility:             pe,
		})
	}
	return report, nil
}
