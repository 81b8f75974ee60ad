package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentProviderSetting_AllowedCountryList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"normalizes", " ng, gh ,,ke", []string{"NG", "GH", "KE"}},
		{"single", "US", []string{"US"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &PaymentProviderSetting{AllowedCountries: tt.raw}
			assert.Equal(t, tt.want, s.AllowedCountryList())
		})
	}
}

func TestPaymentProviderSetting_PlanIDs(t *testing.T) {
	s := &PaymentProviderSetting{PlanIDsJSON: `{"premium:monthly":"PLN_abc"}`}
	assert.Equal(t, map[string]string{"premium:monthly": "PLN_abc"}, s.PlanIDs())

	s.PlanIDsJSON = "not json"
	assert.Empty(t, s.PlanIDs())

	s.PlanIDsJSON = ""
	assert.NotNil(t, s.PlanIDs())
}

func TestPaymentProviderSetting_SecretValues(t *testing.T) {
	s := &PaymentProviderSetting{SecretKeyEnc: "a", ClientSecretEnc: "c"}
	vals := s.SecretValues()
	assert.Len(t, vals, len(SecretFields))
	assert.Equal(t, "a", vals[SecretFieldSecretKey])
	assert.Equal(t, "c", vals[SecretFieldClientSecret])
	assert.Empty(t, vals[SecretFieldWebhookSecret])
}

func TestPaymentConfirmation_IsTerminal(t *testing.T) {
	for state, want := range map[string]bool{
		ConfirmationStateInitiated: false,
		ConfirmationStateVerifying: false,
		ConfirmationStateConfirmed: true,
		ConfirmationStateRejected:  true,
	} {
		c := &PaymentConfirmation{State: state}
		assert.Equal(t, want, c.IsTerminal(), state)
	}
}
