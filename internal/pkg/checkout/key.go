package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const idempotencyKeyPrefix = "ck_"

// IdempotencyKey names one checkout attempt. Changing any checkout parameter
// yields a different key, so an edited checkout never reuses a stale session.
type IdempotencyKey struct {
	Seed     string
	PlanID   string
	Interval string
	Country  string
	Currency string
	Provider string
	Method   string
	UI       string
}

func (k IdempotencyKey) normalized() IdempotencyKey {
	return IdempotencyKey{
		Seed:     strings.TrimSpace(k.Seed),
		PlanID:   strings.ToLower(strings.TrimSpace(k.PlanID)),
		Interval: strings.ToLower(strings.TrimSpace(k.Interval)),
		Country:  strings.ToUpper(strings.TrimSpace(k.Country)),
		Currency: strings.ToUpper(strings.TrimSpace(k.Currency)),
		Provider: strings.ToLower(strings.TrimSpace(k.Provider)),
		Method:   strings.ToLower(strings.TrimSpace(k.Method)),
		UI:       strings.ToLower(strings.TrimSpace(k.UI)),
	}
}

// String is the stored form: a fixed-length digest that fits the unique index
// and is safe to forward to providers.
func (k IdempotencyKey) String() string {
	n := k.normalized()
	sum := sha256.Sum256([]byte(strings.Join([]string{
		n.Seed, n.PlanID, n.Interval, n.Country, n.Currency, n.Provider, n.Method, n.UI,
	}, "\x1f")))
	return idempotencyKeyPrefix + hex.EncodeToString(sum[:])
}

// Equal compares keys after normalization; the seed is case sensitive.
func (k IdempotencyKey) Equal(other IdempotencyKey) bool {
	return k.normalized() == other.normalized()
}

// localReference is the provider-facing reference of an attempt. It is
// derived from the stored key, so a retry after a lost write sends the same
// parameters under the same provider idempotency key.
func localReference(key string) string {
	return referencePrefix + strings.TrimPrefix(key, idempotencyKeyPrefix)[:32]
}
