package checkout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey_String(t *testing.T) {
	base := IdempotencyKey{Seed: "abc", PlanID: "premium", Interval: "monthly", Country: "NG", Currency: "NGN", Provider: "paystack", Method: "card", UI: "redirect"}

	s := base.String()
	assert.True(t, strings.HasPrefix(s, "ck_"))
	assert.Len(t, s, len("ck_")+64)
	assert.Equal(t, s, base.String())

	loose := IdempotencyKey{Seed: "abc", PlanID: " Premium ", Interval: "MONTHLY", Country: "ng", Currency: "ngn", Provider: "Paystack", Method: "CARD", UI: "Redirect"}
	assert.Equal(t, s, loose.String())
	assert.True(t, base.Equal(loose))
}

func TestIdempotencyKey_AnyParameterChangesKey(t *testing.T) {
	base := IdempotencyKey{Seed: "abc", PlanID: "premium", Interval: "monthly", Country: "NG", Currency: "NGN", Provider: "paystack", Method: "card", UI: "redirect"}

	mutations := map[string]func(k *IdempotencyKey){
		"seed":      func(k *IdempotencyKey) { k.Seed = "abd" },
		"seed case": func(k *IdempotencyKey) { k.Seed = "ABC" },
		"plan":      func(k *IdempotencyKey) { k.PlanID = "premium_max" },
		"interval":  func(k *IdempotencyKey) { k.Interval = "yearly" },
		"country":   func(k *IdempotencyKey) { k.Country = "GH" },
		"currency":  func(k *IdempotencyKey) { k.Currency = "USD" },
		"provider":  func(k *IdempotencyKey) { k.Provider = "flutterwave" },
		"method":    func(k *IdempotencyKey) { k.Method = "mobile_money" },
		"ui":        func(k *IdempotencyKey) { k.UI = "inline" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			k := base
			mutate(&k)
			assert.NotEqual(t, base.String(), k.String())
			assert.False(t, base.Equal(k))
		})
	}
}
