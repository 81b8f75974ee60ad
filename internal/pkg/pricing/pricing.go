// Package pricing holds the per-currency price table for paid plans.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/yaml.v3"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

var (
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrUnknownInterval   = errors.New("unknown billing interval")
	ErrCurrencyNotPriced = errors.New("plan is not priced in this currency")
)

// PlanPrice holds minor-unit amounts for one plan in one currency.
type PlanPrice struct {
	Monthly int64 `yaml:"monthly"`
	Yearly  int64 `yaml:"yearly"`
}

// Table is the full price list. Amounts are minor units of the currency.
type Table struct {
	// TrialPercent is the trial price as a percentage of the monthly price.
	TrialPercent int64 `yaml:"trial_percent"`
	// USDRates is how many units of a currency buy one US dollar.
	USDRates map[string]float64             `yaml:"usd_rates"`
	Plans    map[string]map[string]PlanPrice `yaml:"plans"`
}

// Quote is a resolved price.
type Quote struct {
	PlanID   string `json:"planId"`
	Interval string `json:"interval"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	// DisplayUSD is an informational USD-cent equivalent.
	DisplayUSD int64 `json:"displayUsd"`
}

// Default is the built-in table used when no file is configured.
func Default() *Table {
	return &Table{
		TrialPercent: 10,
		USDRates: map[string]float64{
			"USD": 1, "EUR": 0.92, "GBP": 0.79, "CAD": 1.36, "AUD": 1.52,
			"NGN": 1550, "GHS": 15.5, "KES": 129, "ZAR": 18.2, "UGX": 3700,
			"RWF": 1350, "TZS": 2600, "ZMW": 26.5, "XOF": 605, "XAF": 605,
		},
		Plans: map[string]map[string]PlanPrice{
			"premium": {
				"USD": {Monthly: 499, Yearly: 4990},
				"EUR": {Monthly: 459, Yearly: 4590},
				"GBP": {Monthly: 399, Yearly: 3990},
				"CAD": {Monthly: 679, Yearly: 6790},
				"AUD": {Monthly: 759, Yearly: 7590},
				"NGN": {Monthly: 500000, Yearly: 5000000},
				"GHS": {Monthly: 6000, Yearly: 60000},
				"KES": {Monthly: 50000, Yearly: 500000},
				"ZAR": {Monthly: 7900, Yearly: 79000},
				"UGX": {Monthly: 15000, Yearly: 150000},
				"RWF": {Monthly: 5000, Yearly: 50000},
				"TZS": {Monthly: 1000000, Yearly: 10000000},
				"ZMW": {Monthly: 10000, Yearly: 100000},
				"XOF": {Monthly: 2500, Yearly: 25000},
				"XAF": {Monthly: 2500, Yearly: 25000},
			},
			"premium_max": {
				"USD": {Monthly: 999, Yearly: 9990},
				"EUR": {Monthly: 919, Yearly: 9190},
				"GBP": {Monthly: 799, Yearly: 7990},
				"CAD": {Monthly: 1359, Yearly: 13590},
				"AUD": {Monthly: 1519, Yearly: 15190},
				"NGN": {Monthly: 1000000, Yearly: 10000000},
				"GHS": {Monthly: 12000, Yearly: 120000},
				"KES": {Monthly: 100000, Yearly: 1000000},
				"ZAR": {Monthly: 15900, Yearly: 159000},
				"UGX": {Monthly: 30000, Yearly: 300000},
				"RWF": {Monthly: 10000, Yearly: 100000},
				"TZS": {Monthly: 2000000, Yearly: 20000000},
				"ZMW": {Monthly: 20000, Yearly: 200000},
				"XOF": {Monthly: 5000, Yearly: 50000},
				"XAF": {Monthly: 5000, Yearly: 50000},
			},
		},
	}
}

// Load reads a YAML table. A missing file falls back to Default.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warnf("[Pricing] %s not found, using built-in price table", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML table.
func Parse(raw []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) normalize() {
	plans := make(map[string]map[string]PlanPrice, len(t.Plans))
	for plan, byCurrency := range t.Plans {
		prices := make(map[string]PlanPrice, len(byCurrency))
		for cur, p := range byCurrency {
			prices[strings.ToUpper(cur)] = p
		}
		plans[strings.ToLower(plan)] = prices
	}
	t.Plans = plans

	rates := make(map[string]float64, len(t.USDRates))
	for cur, r := range t.USDRates {
		rates[strings.ToUpper(cur)] = r
	}
	t.USDRates = rates
}

func (t *Table) Validate() error {
	if t.TrialPercent <= 0 || t.TrialPercent > 100 {
		return fmt.Errorf("pricing: trial_percent must be in 1..100, got %d", t.TrialPercent)
	}
	if len(t.Plans) == 0 {
		return errors.New("pricing: no plans configured")
	}
	for plan, byCurrency := range t.Plans {
		if _, ok := byCurrency["USD"]; !ok {
			return fmt.Errorf("pricing: plan %s has no USD price", plan)
		}
		for cur, p := range byCurrency {
			if p.Monthly <= 0 || p.Yearly <= 0 {
				return fmt.Errorf("pricing: plan %s/%s needs positive monthly and yearly amounts", plan, cur)
			}
		}
	}
	return nil
}

// PlanIDs lists plan ids in stable order.
func (t *Table) PlanIDs() []string {
	out := make([]string, 0, len(t.Plans))
	for p := range t.Plans {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (t *Table) HasPlan(plan string) bool {
	_, ok := t.Plans[strings.ToLower(plan)]
	return ok
}

// Priced reports whether plan has a price in currency.
func (t *Table) Priced(plan, currency string) bool {
	_, ok := t.Plans[strings.ToLower(plan)][strings.ToUpper(currency)]
	return ok
}

// Quote resolves the amount for a plan, interval and currency. Trials are a
// percentage of the monthly price, rounded up to one minor unit at least.
func (t *Table) Quote(plan, interval, currency string) (Quote, error) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	currency = strings.ToUpper(strings.TrimSpace(currency))

	byCurrency, ok := t.Plans[plan]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
	}
	price, ok := byCurrency[currency]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrCurrencyNotPriced, plan, currency)
	}

	var amount int64
	switch interval {
	case gateway.IntervalMonthly:
		amount = price.Monthly
	case gateway.IntervalYearly:
		amount = price.Yearly
	case gateway.IntervalTrial:
		amount = (price.Monthly*t.TrialPercent + 99) / 100
	default:
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownInterval, interval)
	}

	return Quote{
		PlanID:     plan,
		Interval:   interval,
		Currency:   currency,
		Amount:     amount,
		DisplayUSD: t.toUSDCents(amount, currency),
	}, nil
}

func (t *Table) toUSDCents(amount int64, currency string) int64 {
	if currency == "USD" {
		return amount
	}
	rate, ok := t.USDRates[currency]
	if !ok || rate <= 0 {
		return 0
	}
	major := float64(amount) / math.Pow10(gateway.MinorUnitScale(currency))
	return int64(math.Round(major / rate * 100))
}
