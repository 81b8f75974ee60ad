// Package payments wires the checkout core from configuration.
package payments

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/checkout"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentsettings"
	"github.com/ManuelReschke/PayFox/internal/pkg/pricing"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayFox/internal/pkg/vault"
)

// Services holds the wired payment components shared by the HTTP layer.
type Services struct {
	Config     *config.Payments
	Vault      *vault.Vault
	Registry   *gateway.Registry
	Settings   *paymentsettings.Service
	Checkout   *checkout.Orchestrator
	Reconciler *reconcile.Reconciler
	Ledger     *billing.Service
	Jobs       *jobqueue.Manager
}

// NewRegistry builds the four provider adapters. Providers without native
// idempotency get the Redis-backed decorator.
func NewRegistry(cfg *config.Payments, client *redis.Client) *gateway.Registry {
	store := gateway.NewRedisIdempotencyStore(client)
	return gateway.NewRegistry(
		gateway.WithIdempotency(gateway.NewFlutterwaveAdapter(cfg.FlutterwaveBaseURL, nil), store, cfg.IdempotencyTTL),
		gateway.WithIdempotency(gateway.NewPaystackAdapter(cfg.PaystackBaseURL, nil), store, cfg.IdempotencyTTL),
		gateway.NewStripeAdapter(cfg.StripeBaseURL, nil),
		gateway.WithIdempotency(gateway.NewPayPalAdapter(cfg.PayPalBaseURL, nil), store, cfg.IdempotencyTTL),
	)
}

// Setup wires every payment component. jobs may be nil, in which case
// webhooks are reconciled inline and nothing sweeps in the background.
func Setup(cfg *config.Payments, db *gorm.DB, client *redis.Client, jobs *jobqueue.Manager) (*Services, error) {
	v, err := vault.New(cfg.EncryptionKey, cfg.LegacyEncryptionKeys)
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}
	prices, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		return nil, err
	}

	repos := repository.NewRepositories(db)
	registry := NewRegistry(cfg, client)
	locker := cache.NewLocker(client)
	settings := paymentsettings.NewService(repos.PaymentSetting, v, registry, cfg.ProviderTimeout)
	ledger := billing.NewServiceFromDB(db, cfg.TrialDays)

	orch := checkout.NewOrchestrator(settings, repos.CheckoutSession, registry, prices, locker, checkout.Options{
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.CreateLockTTL,
		DefaultCountry:  cfg.DefaultCountry,
		PublicBaseURL:   cfg.PublicBaseURL,
	})
	rec := reconcile.New(repos.Confirmation, repos.CheckoutSession, settings, registry, ledger, locker, reconcile.Options{
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.ConfirmLockTTL,
		StaleAge:        cfg.VerifyingStaleAge,
	})
	if jobs != nil {
		rec.Register(jobs, cfg.SweepInterval)
	}

	log.Infof("[Payments] Ready: providers=%v vault key=%s", registry.Providers(), v.CurrentKeyID())
	return &Services{
		Config:     cfg,
		Vault:      v,
		Registry:   registry,
		Settings:   settings,
		Checkout:   orch,
		Reconciler: rec,
		Ledger:     ledger,
		Jobs:       jobs,
	}, nil
}
