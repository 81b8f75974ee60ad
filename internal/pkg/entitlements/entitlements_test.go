package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "", want: PlanFree},
		{in: "free", want: PlanFree},
		{in: "premium", want: PlanPremium},
		{in: " PREMIUM_MAX ", want: PlanPremiumMax},
		{in: "Team", want: Plan("team")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestRank(t *testing.T) {
	assert.Less(t, Rank(PlanFree), Rank(PlanPremium))
	assert.Less(t, Rank(PlanPremium), Rank(PlanPremiumMax))
	assert.Equal(t, Rank(PlanPremium), Rank("team"))
}

func TestExtend(t *testing.T) {
	now := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 10)
	past := now.AddDate(0, 0, -1)

	tests := []struct {
		name      string
		current   Plan
		expiresAt *time.Time
		plan      Plan
		interval  string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"first purchase", PlanFree, nil, PlanPremium, gateway.IntervalMonthly, now, now.AddDate(0, 1, 0)},
		{"renewal stacks", PlanPremium, &future, PlanPremium, gateway.IntervalMonthly, future, future.AddDate(0, 1, 0)},
		{"expired renewal restarts", PlanPremium, &past, PlanPremium, gateway.IntervalYearly, now, now.AddDate(1, 0, 0)},
		{"plan switch restarts", PlanPremium, &future, PlanPremiumMax, gateway.IntervalMonthly, now, now.AddDate(0, 1, 0)},
		{"trial", PlanFree, nil, PlanPremium, gateway.IntervalTrial, now, now.AddDate(0, 0, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := Extend(tt.current, tt.expiresAt, tt.plan, tt.interval, 7, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}

	_, _, err := Extend(PlanFree, nil, PlanPremium, "weekly", 7, now)
	assert.Error(t, err)
}

func TestEffective(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	assert.Equal(t, PlanPremium, Effective(PlanPremium, &later, now))
	assert.Equal(t, PlanFree, Effective(PlanPremium, &earlier, now))
	assert.Equal(t, PlanPremiumMax, Effective(PlanPremiumMax, nil, now))
	assert.Equal(t, PlanFree, Effective("", &later, now))
}

func TestSubjectKey(t *testing.T) {
	id := uint(42)
	zero := uint(0)
	assert.Equal(t, "user:42", SubjectKey(&id, "a@b.c"))
	assert.Equal(t, "email:buyer@example.com", SubjectKey(nil, " Buyer@Example.com "))
	assert.Equal(t, "email:x@y.z", SubjectKey(&zero, "x@y.z"))
}
