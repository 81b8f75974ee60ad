// Package paymentsettings is the admin-managed provider credential store. It
// encrypts secrets through the vault on write and hands out transient
// decrypted credentials to the checkout and reconcile paths.
package paymentsettings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/eligibility"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
	"github.com/ManuelReschke/PayFox/internal/pkg/vault"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrInvalidInput    = errors.New("invalid payment settings")
)

// CredentialsInput is a credential bundle as typed by an admin. Empty secret
// fields mean "keep what is stored".
type CredentialsInput struct {
	PublicKey     string            `json:"publicKey" validate:"max=255"`
	SecretKey     string            `json:"secretKey" validate:"max=512"`
	WebhookSecret string            `json:"webhookSecret" validate:"max=512"`
	ClientID      string            `json:"clientId" validate:"max=255"`
	ClientSecret  string            `json:"clientSecret" validate:"max=512"`
	WebhookID     string            `json:"webhookId" validate:"max=191"`
	PlanIDs       map[string]string `json:"planIds"`
}

// SaveInput is the body of a settings update.
type SaveInput struct {
	Provider         string           `json:"provider" validate:"required"`
	Enabled          bool             `json:"enabled"`
	Mode             string           `json:"mode" validate:"omitempty,oneof=test live"`
	Credentials      CredentialsInput `json:"credentials"`
	SuccessURL       string           `json:"successUrl" validate:"omitempty,url,max=1024"`
	AllowedCountries []string         `json:"allowedCountries" validate:"dive,len=2,alpha"`
	// Clear names secret fields to erase. A blank secret alone keeps the
	// stored value.
	Clear []string `json:"clear" validate:"dive,oneof=secretKey webhookSecret clientSecret successUrl"`
}

// View is the masked admin representation of a settings row.
type View struct {
	Provider         gateway.Provider  `json:"provider"`
	Enabled          bool              `json:"enabled"`
	Mode             string            `json:"mode"`
	PublicKey        string            `json:"publicKey"`
	ClientID         string            `json:"clientId"`
	WebhookID        string            `json:"webhookId"`
	SecretKey        string            `json:"secretKey"`
	WebhookSecret    string            `json:"webhookSecret"`
	ClientSecret     string            `json:"clientSecret"`
	PlanIDs          map[string]string `json:"planIds"`
	AllowedCountries []string          `json:"allowedCountries"`
	// NeedsMigration is set when a secret is plaintext or sealed by a legacy key.
	NeedsMigration bool      `json:"needsMigration"`
	DecryptError   string    `json:"decryptError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Service reads and writes provider settings.
type Service struct {
	repo     repository.PaymentSettingRepository
	vault    *vault.Vault
	registry *gateway.Registry
	timeout  time.Duration
	validate *validator.Validate
}

// NewService wires the store. timeout bounds test connections.
func NewService(repo repository.PaymentSettingRepository, v *vault.Vault, registry *gateway.Registry, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Service{
		repo:     repo,
		vault:    v,
		registry: registry,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// Candidates returns the eligibility input for every registered provider.
// Providers without a row, or without usable secrets, are disabled.
func (s *Service) Candidates(ctx context.Context) ([]eligibility.Candidate, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	byProvider := make(map[gateway.Provider]*models.PaymentProviderSetting, len(rows))
	for i := range rows {
		if p, ok := gateway.ParseProvider(rows[i].Provider); ok {
			byProvider[p] = &rows[i]
		}
	}

	out := make([]eligibility.Candidate, 0, len(byProvider))
	for _, p := range s.registry.Providers() {
		a, _ := s.registry.Get(p)
		c := eligibility.Candidate{Provider: p, Capabilities: a.Capabilities()}
		if row := byProvider[p]; row != nil {
			c.Enabled = row.Enabled && configured(p, row)
			c.AllowedCountries = row.AllowedCountryList()
		}
		out = append(out, c)
	}
	return out, nil
}

// configured reports whether a row carries the secrets its provider needs.
func configured(p gateway.Provider, row *models.PaymentProviderSetting) bool {
	if p == gateway.PayPal {
		return row.ClientID != "" && row.ClientSecretEnc != ""
	}
	return row.SecretKeyEnc != ""
}

// Setting returns the stored row, or gateway.ErrNotConfigured.
func (s *Service) Setting(ctx context.Context, p gateway.Provider) (*models.PaymentProviderSetting, error) {
	row, err := s.repo.GetByProvider(ctx, string(p))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s has no settings", gateway.ErrNotConfigured, p)
	}
	return row, nil
}

// Credentials decrypts the stored bundle of a provider. Decryption failures
// wrap vault.ErrDecryption.
func (s *Service) Credentials(ctx context.Context, p gateway.Provider) (*gateway.Credentials, error) {
	row, err := s.Setting(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.reveal(row)
}

func (s *Service) reveal(row *models.PaymentProviderSetting) (*gateway.Credentials, error) {
	secrets := make(map[string]string, len(models.SecretFields))
	for field, stored := range row.SecretValues() {
		if field == models.SecretFieldSuccessURL {
			continue
		}
		plain, err := s.vault.Reveal(stored)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", row.Provider, field, err)
		}
		secrets[field] = plain
	}
	return &gateway.Credentials{
		PublicKey:     row.PublicKey,
		SecretKey:     secrets[models.SecretFieldSecretKey],
		WebhookSecret: secrets[models.SecretFieldWebhookSecret],
		ClientID:      row.ClientID,
		ClientSecret:  secrets[models.SecretFieldClientSecret],
		WebhookID:     row.WebhookID,
		PlanIDs:       row.PlanIDs(),
	}, nil
}

// SuccessURL resolves the stored redirect target of a provider, if any.
func (s *Service) SuccessURL(row *models.PaymentProviderSetting) (string, error) {
	return s.vault.RevealURL(row.SuccessURLEnc)
}

// Save validates, encrypts and upserts a provider row.
func (s *Service) Save(ctx context.Context, in SaveInput) (*View, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, ok := gateway.ParseProvider(in.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}

	row, err := s.repo.GetByProvider(ctx, string(p))
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &models.PaymentProviderSetting{Provider: string(p), Mode: models.PaymentModeTest}
	}

	row.Enabled = in.Enabled
	if in.Mode != "" {
		row.Mode = in.Mode
	}
	row.PublicKey = strings.TrimSpace(in.Credentials.PublicKey)
	row.ClientID = strings.TrimSpace(in.Credentials.ClientID)
	row.WebhookID = strings.TrimSpace(in.Credentials.WebhookID)

	erase := make(map[string]bool, len(in.Clear))
	for _, name := range in.Clear {
		erase[name] = true
	}
	for _, f := range []struct {
		name  string
		dst   *string
		value string
	}{
		{"secretKey", &row.SecretKeyEnc, in.Credentials.SecretKey},
		{"webhookSecret", &row.WebhookSecretEnc, in.Credentials.WebhookSecret},
		{"clientSecret", &row.ClientSecretEnc, in.Credentials.ClientSecret},
		{"successUrl", &row.SuccessURLEnc, in.SuccessURL},
	} {
		v := strings.TrimSpace(f.value)
		if v == "" {
			if erase[f.name] {
				*f.dst = ""
			}
			continue
		}
		sealed, err := s.vault.Encrypt(v)
		if err != nil {
			return nil, err
		}
		*f.dst = sealed
	}

	if in.Credentials.PlanIDs != nil {
		raw, err := json.Marshal(in.Credentials.PlanIDs)
		if err != nil {
			return nil, err
		}
		row.PlanIDsJSON = string(raw)
	}
	countries := make([]string, 0, len(in.AllowedCountries))
	for _, c := range in.AllowedCountries {
		countries = append(countries, strings.ToUpper(strings.TrimSpace(c)))
	}
	row.AllowedCountries = strings.Join(countries, ",")

	if err := s.repo.Save(ctx, row); err != nil {
		return nil, err
	}
	log.Infof("[PaymentSettings] Saved %s (enabled=%t, mode=%s)", p, row.Enabled, row.Mode)
	view := s.view(row)
	return &view, nil
}

// List returns masked views of all stored rows.
func (s *Service) List(ctx context.Context) ([]View, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for i := range rows {
		out = append(out, s.view(&rows[i]))
	}
	return out, nil
}

func (s *Service) view(row *models.PaymentProviderSetting) View {
	v := View{
		Provider:         gateway.Provider(row.Provider),
		Enabled:          row.Enabled,
		Mode:             row.Mode,
		PublicKey:        row.PublicKey,
		ClientID:         row.ClientID,
		WebhookID:        row.WebhookID,
		PlanIDs:          row.PlanIDs(),
		AllowedCountries: row.AllowedCountryList(),
		UpdatedAt:        row.UpdatedAt,
	}
	for _, stored := range row.SecretValues() {
		if stored != "" && (!vault.IsEnvelope(stored) || s.vault.NeedsRekey(stored)) {
			v.NeedsMigration = true
		}
	}
	creds, err := s.reveal(row)
	if err != nil {
		v.DecryptError = err.Error()
		return v
	}
	v.SecretKey = Mask(creds.SecretKey)
	v.WebhookSecret = Mask(creds.WebhookSecret)
	v.ClientSecret = Mask(creds.ClientSecret)
	return v
}

// Mask keeps the last four characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return "********" + secret[len(secret)-4:]
}

// TestInput asks for a connection test. Empty credential fields are filled
// from the stored row so half-edited forms can be tested before saving.
type TestInput struct {
	Provider    string           `json:"provider" validate:"required"`
	Credentials CredentialsInput `json:"credentials"`
}

// TestConnection runs the provider's credential check with transient
// credentials. Errors are admin-facing and keep provider detail.
func (s *Service) TestConnection(ctx context.Context, in TestInput) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, ok := gateway.ParseProvider(in.Provider)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}
	adapter, ok := s.registry.Get(p)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}

	creds := &gateway.Credentials{}
	if row, err := s.repo.GetByProvider(ctx, string(p)); err != nil {
		return err
	} else if row != nil {
		if stored, err := s.reveal(row); err == nil {
			creds = stored
		} else {
			log.Warnf("[PaymentSettings] Stored %s credentials unreadable, testing input only: %v", p, err)
		}
	}
	merge(creds, in.Credentials)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := adapter.TestConnection(ctx, creds); err != nil {
		log.Warnf("[PaymentSettings] Test connection for %s failed: %v", p, err)
		return err
	}
	log.Infof("[PaymentSettings] Test connection for %s succeeded", p)
	return nil
}

func merge(dst *gateway.Credentials, in CredentialsInput) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&dst.PublicKey, in.PublicKey)
	set(&dst.SecretKey, in.SecretKey)
	set(&dst.WebhookSecret, in.WebhookSecret)
	set(&dst.ClientID, in.ClientID)
	set(&dst.ClientSecret, in.ClientSecret)
	set(&dst.WebhookID, in.WebhookID)
	if len(in.PlanIDs) > 0 {
		dst.PlanIDs = in.PlanIDs
	}
}

// Migrate encrypts plaintext secrets (and optionally re-seals legacy-key
// envelopes) across all rows.
func (s *Service) Migrate(ctx context.Context, rekey bool) (vault.MigrationResult, error) {
	res, err := s.vault.MigrateLegacyPlaintext(ctx, s.repo, vault.MigrateOptions{Rekey: rekey})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.VaultOperationsTotal.WithLabelValues("migrate", outcome).Inc()
	return res, err
}
