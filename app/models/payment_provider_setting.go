package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Secret columns of PaymentProviderSetting. They hold vault envelopes, or
// plaintext for rows written before encryption was introduced.
const (
	SecretFieldSecretKey     = "secret_key_enc"
	SecretFieldWebhookSecret = "webhook_secret_enc"
	SecretFieldClientSecret  = "client_secret_enc"
	SecretFieldSuccessURL    = "success_url_enc"
)

// SecretFields lists every encrypted column.
var SecretFields = []string{
	SecretFieldSecretKey,
	SecretFieldWebhookSecret,
	SecretFieldClientSecret,
	SecretFieldSuccessURL,
}

const (
	PaymentModeTest = "test"
	PaymentModeLive = "live"
)

// PaymentProviderSetting is the admin-managed credential bundle of one
// provider.
type PaymentProviderSetting struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Provider         string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_provider_settings_provider" json:"provider"`
	Enabled          bool      `gorm:"default:false;index" json:"enabled"`
	Mode             string    `gorm:"type:varchar(10);not null;default:'test'" json:"mode"`
	PublicKey        string    `gorm:"type:varchar(255);default:''" json:"public_key"`
	ClientID         string    `gorm:"type:varchar(255);default:''" json:"client_id"`
	WebhookID        string    `gorm:"type:varchar(191);default:''" json:"webhook_id"`
	SecretKeyEnc     string    `gorm:"column:secret_key_enc;type:text" json:"-"`
	WebhookSecretEnc string    `gorm:"column:webhook_secret_enc;type:text" json:"-"`
	ClientSecretEnc  string    `gorm:"column:client_secret_enc;type:text" json:"-"`
	SuccessURLEnc    string    `gorm:"column:success_url_enc;type:text" json:"-"`
	PlanIDsJSON      string    `gorm:"column:plan_ids_json;type:text" json:"-"`
	AllowedCountries string    `gorm:"type:varchar(512);default:''" json:"allowed_countries"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SecretValues returns the stored value of every secret column.
func (s *PaymentProviderSetting) SecretValues() map[string]string {
	return map[string]string{
		SecretFieldSecretKey:     s.SecretKeyEnc,
		SecretFieldWebhookSecret: s.WebhookSecretEnc,
		SecretFieldClientSecret:  s.ClientSecretEnc,
		SecretFieldSuccessURL:    s.SuccessURLEnc,
	}
}

// AllowedCountryList parses the comma separated allow-list.
func (s *PaymentProviderSetting) AllowedCountryList() []string {
	var out []string
	for _, c := range strings.Split(s.AllowedCountries, ",") {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// PlanIDs decodes the "<plan>:<interval>" -> provider id map.
func (s *PaymentProviderSetting) PlanIDs() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(s.PlanIDsJSON) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s.PlanIDsJSON), &out)
	return out
}
