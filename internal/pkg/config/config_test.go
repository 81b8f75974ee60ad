package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("PAYMENT_ENCRYPTION_KEY", "v1:MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	t.Setenv("PAYMENT_ENCRYPTION_LEGACY_KEYS", "v0:a2V5,vx:b3RoZXI=")
	t.Setenv("PAYMENT_DEFAULT_COUNTRY", " ng ")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "NG", cfg.DefaultCountry)
	assert.Equal(t, []string{"v0:a2V5", "vx:b3RoZXI="}, cfg.LegacyEncryptionKeys)
	assert.Equal(t, 7, cfg.TrialDays)
	assert.Equal(t, "https://api.paystack.co", cfg.PaystackBaseURL)
}

func TestParse_RequiresEncryptionKey(t *testing.T) {
	t.Setenv("PAYMENT_ENCRYPTION_KEY", "")

	_, err := Parse()
	assert.ErrorIs(t, err, ErrMissingEncryptionKey)
}

func TestValidate_RejectsNonPositiveTimeout(t *testing.T) {
	cfg := &Payments{EncryptionKey: "v1:x", ProviderTimeout: 0}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTimeout)
}
