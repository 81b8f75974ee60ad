package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Payments holds the typed payment configuration read from the environment.
type Payments struct {
	// EncryptionKey is the current vault key as "<id>:<base64 32 bytes>".
	EncryptionKey string `env:"PAYMENT_ENCRYPTION_KEY"`
	// LegacyEncryptionKeys are decrypt-only keys, comma separated.
	LegacyEncryptionKeys []string `env:"PAYMENT_ENCRYPTION_LEGACY_KEYS" envSeparator:","`

	ProviderTimeout   time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"20s"`
	CreateLockTTL     time.Duration `env:"PAYMENT_CREATE_LOCK_TTL" envDefault:"45s"`
	ConfirmLockTTL    time.Duration `env:"PAYMENT_CONFIRM_LOCK_TTL" envDefault:"45s"`
	VerifyingStaleAge time.Duration `env:"PAYMENT_VERIFYING_STALE_AGE" envDefault:"2m"`
	IdempotencyTTL    time.Duration `env:"PAYMENT_IDEMPOTENCY_TTL" envDefault:"24h"`
	SweepInterval     time.Duration `env:"PAYMENT_SWEEP_INTERVAL" envDefault:"5m"`

	DefaultCountry string `env:"PAYMENT_DEFAULT_COUNTRY" envDefault:"US"`
	PricingFile    string `env:"PAYMENT_PRICING_FILE" envDefault:"config/pricing.yml"`
	TrialDays      int    `env:"PAYMENT_TRIAL_DAYS" envDefault:"7"`
	PublicBaseURL  string `env:"PUBLIC_DOMAIN" envDefault:"http://localhost:4000"`

	AdminToken            string `env:"PAYMENT_ADMIN_TOKEN"`
	QueueWorkers          int    `env:"PAYMENT_QUEUE_WORKERS" envDefault:"3"`
	CheckoutRatePerMinute int    `env:"PAYMENT_CHECKOUT_RATE_PER_MINUTE" envDefault:"30"`

	// Base URL overrides, mainly for sandboxes and tests.
	FlutterwaveBaseURL string `env:"FLUTTERWAVE_BASE_URL" envDefault:"https://api.flutterwave.com"`
	PaystackBaseURL    string `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	PayPalBaseURL      string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.paypal.com"`
	StripeBaseURL      string `env:"STRIPE_BASE_URL"`
}

var (
	ErrMissingEncryptionKey = errors.New("PAYMENT_ENCRYPTION_KEY is not configured")
	ErrInvalidTimeout       = errors.New("PAYMENT_PROVIDER_TIMEOUT must be positive")
)

var (
	loaded   *Payments
	loadErr  error
	loadOnce sync.Once
)

// Parse reads the payment configuration from the process environment.
func Parse() (*Payments, error) {
	cfg := &Payments{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse payment config: %w", err)
	}
	cfg.DefaultCountry = strings.ToUpper(strings.TrimSpace(cfg.DefaultCountry))
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the payment core relies on.
func (c *Payments) Validate() error {
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return ErrMissingEncryptionKey
	}
	if c.ProviderTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.QueueWorkers <= 0 {
		c.QueueWorkers = 3
	}
	if c.TrialDays <= 0 {
		c.TrialDays = 7
	}
	return nil
}

// GetPayments returns the process-wide payment configuration, parsed once.
func GetPayments() (*Payments, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse()
	})
	return loaded, loadErr
}
