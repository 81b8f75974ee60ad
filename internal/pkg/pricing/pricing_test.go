package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

func TestQuote(t *testing.T) {
	table := Default()

	tests := []struct {
		name     string
		plan     string
		interval string
		currency string
		want     int64
		wantErr  error
	}{
		{name: "monthly usd", plan: "premium", interval: gateway.IntervalMonthly, currency: "USD", want: 499},
		{name: "yearly ngn", plan: "Premium", interval: gateway.IntervalYearly, currency: "ngn", want: 5000000},
		{name: "trial rounds up", plan: "premium", interval: gateway.IntervalTrial, currency: "USD", want: 50},
		{name: "trial zero-decimal currency", plan: "premium", interval: gateway.IntervalTrial, currency: "XOF", want: 250},
		{name: "unknown plan", plan: "gold", interval: gateway.IntervalMonthly, currency: "USD", wantErr: ErrUnknownPlan},
		{name: "unpriced currency", plan: "premium", interval: gateway.IntervalMonthly, currency: "JPY", wantErr: ErrCurrencyNotPriced},
		{name: "bad interval", plan: "premium", interval: "weekly", currency: "USD", wantErr: ErrUnknownInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := table.Quote(tt.plan, tt.interval, tt.currency)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Amount)
		})
	}
}

func TestQuote_DisplayUSD(t *testing.T) {
	table := Default()

	q, err := table.Quote("premium", gateway.IntervalMonthly, "NGN")
	require.NoError(t, err)
	// 5000 NGN at 1550/USD is about 3.23 USD.
	assert.Equal(t, int64(323), q.DisplayUSD)

	q, err = table.Quote("premium", gateway.IntervalMonthly, "USD")
	require.NoError(t, err)
	assert.Equal(t, q.Amount, q.DisplayUSD)
}

func TestParse(t *testing.T) {
	raw := []byte(`
trial_percent: 20
usd_rates: { eur: 0.9 }
plans:
  Basic:
    usd: { monthly: 300, yearly: 3000 }
    eur: { monthly: 280, yearly: 2800 }
`)
	table, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic"}, table.PlanIDs())
	assert.True(t, table.Priced("basic", "EUR"))

	q, err := table.Quote("basic", gateway.IntervalTrial, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(56), q.Amount)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"no plans":     "trial_percent: 10\n",
		"bad trial":    "trial_percent: 0\nplans: {p: {USD: {monthly: 1, yearly: 1}}}\n",
		"missing usd":  "trial_percent: 10\nplans: {p: {EUR: {monthly: 1, yearly: 1}}}\n",
		"zero amount":  "trial_percent: 10\nplans: {p: {USD: {monthly: 0, yearly: 1}}}\n",
		"invalid yaml": "plans: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.True(t, table.HasPlan("premium"))

	path := filepath.Join(t.TempDir(), "pricing.yml")
	require.NoError(t, os.WriteFile(path, []byte("trial_percent: 10\nplans: {solo: {USD: {monthly: 100, yearly: 1000}}}\n"), 0o600))
	table, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, table.PlanIDs())
}
