package entitlements

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanPremiumMax Plan = "premium_max"
)

// Normalize lower-cases a plan id. Empty input is the free plan.
func Normalize(plan string) Plan {
	p := strings.ToLower(strings.TrimSpace(plan))
	if p == "" {
		return PlanFree
	}
	return Plan(p)
}

// Rank orders plans. Paid plans that are not built in rank like premium.
func Rank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanFree:
		return 0
	case PlanPremiumMax:
		return 2
	default:
		return 1
	}
}

// PeriodEnd returns the end of a paid period starting at start.
func PeriodEnd(start time.Time, interval string, trialDays int) (time.Time, error) {
	switch interval {
	case gateway.IntervalMonthly:
		return start.AddDate(0, 1, 0), nil
	case gateway.IntervalYearly:
		return start.AddDate(1, 0, 0), nil
	case gateway.IntervalTrial:
		if trialDays <= 0 {
			trialDays = 7
		}
		return start.AddDate(0, 0, trialDays), nil
	default:
		return time.Time{}, fmt.Errorf("unknown billing interval %q", interval)
	}
}

// Extend computes the period a new payment for plan buys. Renewals of the
// active plan stack on the current expiry; any other purchase starts now.
func Extend(current Plan, expiresAt *time.Time, plan Plan, interval string, trialDays int, now time.Time) (start, end time.Time, err error) {
	start = now
	if Normalize(string(current)) == Normalize(string(plan)) && expiresAt != nil && expiresAt.After(now) {
		start = *expiresAt
	}
	end, err = PeriodEnd(start, interval, trialDays)
	return start, end, err
}

// Effective is the plan in force at now. Expired paid plans fall back to free.
func Effective(plan Plan, expiresAt *time.Time, now time.Time) Plan {
	p := Normalize(string(plan))
	if p == PlanFree {
		return PlanFree
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return PlanFree
	}
	return p
}

// SubjectKey identifies whose entitlement a payment changes. Anonymous
// checkouts are held against the email until an account claims it.
func SubjectKey(userID *uint, email string) string {
	if userID != nil && *userID > 0 {
		return fmt.Sprintf("user:%d", *userID)
	}
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}
