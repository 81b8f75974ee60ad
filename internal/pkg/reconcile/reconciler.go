// Package reconcile drives every payment reference through
// initiated -> verifying -> confirmed|rejected, whichever trigger arrives
// first, and applies the entitlement at most once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
)

var (
	ErrUnknownReference = errors.New("unknown payment reference")
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrInvalidTrigger   = errors.New("invalid confirmation trigger")
	// ErrUnavailable is a retryable failure to reach a verdict: provider
	// outage, unusable credentials or a storage error.
	ErrUnavailable = errors.New("payment verification temporarily unavailable")
)

// Source names what triggered a confirmation.
type Source string

const (
	SourceCallback Source = "callback"
	SourceWebhook  Source = "webhook"
	SourceSweep    Source = "sweep"
	SourceAdmin    Source = "admin"
)

func (s Source) valid() bool {
	switch s {
	case SourceCallback, SourceWebhook, SourceSweep, SourceAdmin:
		return true
	}
	return false
}

// Trigger asks for a reference to be reconciled.
type Trigger struct {
	Source    Source
	Provider  gateway.Provider
	Reference string
}

// Outcome is the state of a reference after a trigger.
type Outcome struct {
	Provider  gateway.Provider `json:"provider"`
	Reference string           `json:"reference"`
	State     string           `json:"state"`
	// Applied is true only for the call that changed the entitlement.
	Applied bool `json:"applied"`
	// Pending means no verdict yet; a later trigger will retry.
	Pending bool   `json:"pending"`
	Reason  string `json:"reason,omitempty"`
}

func (o *Outcome) Confirmed() bool { return o.State == models.ConfirmationStateConfirmed }

func (o *Outcome) Rejected() bool { return o.State == models.ConfirmationStateRejected }

// Confirmations is the conditional state store.
type Confirmations interface {
	Get(ctx context.Context, provider, reference string) (*models.PaymentConfirmation, error)
	BeginVerifying(ctx context.Context, id uint, source string, now, staleBefore time.Time) (*models.PaymentConfirmation, bool, error)
	Release(ctx context.Context, id uint, attempt int, providerStatus string) error
	Reject(ctx context.Context, id uint, attempt int, rejection repository.Rejection) (bool, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentConfirmation, error)
}

type Sessions interface {
	GetByID(ctx context.Context, id uint) (*models.CheckoutSession, error)
}

type CredentialSource interface {
	Credentials(ctx context.Context, p gateway.Provider) (*gateway.Credentials, error)
}

// Ledger applies confirmed payments and keeps the webhook log.
type Ledger interface {
	ConfirmPayment(ctx context.Context, in billing.ConfirmInput) (*billing.ConfirmResult, error)
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

// Options tunes the reconciler.
type Options struct {
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	// StaleAge is how long a verifying row may stay claimed before another
	// trigger takes it over.
	StaleAge time.Duration
	// AbandonAfter rejects references the sweep still finds pending after
	// this long.
	AbandonAfter time.Duration
	SweepBatch   int
}

// Reconciler is the single state machine behind callbacks, webhooks and the
// sweep.
type Reconciler struct {
	confirmations Confirmations
	sessions      Sessions
	creds         CredentialSource
	registry      *gateway.Registry
	ledger        Ledger
	locker        Locker
	dispatcher    Dispatcher
	opts          Options
	keys          *keyedMutex
	now           func() time.Time
}

// New wires the reconciler. locker and dispatcher may be nil.
func New(confirmations Confirmations, sessions Sessions, creds CredentialSource, registry *gateway.Registry, ledger Ledger, locker Locker, opts Options) *Reconciler {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 20 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 45 * time.Second
	}
	if opts.StaleAge <= 0 {
		opts.StaleAge = 2 * time.Minute
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = 48 * time.Hour
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &Reconciler{
		confirmations: confirmations,
		sessions:      sessions,
		creds:         creds,
		registry:      registry,
		ledger:        ledger,
		locker:        locker,
		opts:          opts,
		keys:          newKeyedMutex(),
		now:           time.Now,
	}
}

// SetDispatcher routes verified webhooks through a durable queue instead of
// processing them inline.
func (r *Reconciler) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

func outcomeOf(c *models.PaymentConfirmation) *Outcome {
	return &Outcome{
		Provider:  gateway.Provider(c.Provider),
		Reference: c.Reference,
		State:     c.State,
		Pending:   !c.IsTerminal(),
		Reason:    c.RejectReason,
	}
}

// Confirm reconciles one reference. Terminal references return their stored
// outcome without calling the provider. Once the provider call is issued the
// caller's cancellation no longer aborts the work.
func (r *Reconciler) Confirm(ctx context.Context, trig Trigger) (*Outcome, error) {
	trig.Reference = strings.TrimSpace(trig.Reference)
	if !trig.Source.valid() || trig.Reference == "" {
		return nil, fmt.Errorf("%w: source and reference are required", ErrInvalidTrigger)
	}
	adapter, ok := r.registry.Get(trig.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, trig.Provider)
	}

	c, err := r.confirmations.Get(ctx, string(trig.Provider), trig.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: load confirmation: %v", ErrUnavailable, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownReference, trig.Provider, trig.Reference)
	}
	if c.IsTerminal() {
		r.count(trig, "terminal")
		return outcomeOf(c), nil
	}

	lockKey := string(trig.Provider) + ":" + trig.Reference
	unlock := r.keys.Lock(lockKey)
	defer unlock()

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, "confirm:"+lockKey, r.opts.LockTTL, r.opts.LockTTL)
		switch {
		case errors.Is(err, cache.ErrLockNotAcquired):
			r.count(trig, "busy")
			return r.current(ctx, c)
		case err != nil:
			log.Warnf("[Reconcile] Lock unavailable for %s, relying on conditional updates: %v", lockKey, err)
		default:
			defer release()
		}
	}

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ProviderTimeout+r.opts.LockTTL)
	defer cancel()
	return r.verify(work, trig, adapter, c)
}

// current reloads a row that another worker owns.
func (r *Reconciler) current(ctx context.Context, c *models.PaymentConfirmation) (*Outcome, error) {
	latest, err := r.confirmations.Get(ctx, c.Provider, c.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: load confirmation: %v", ErrUnavailable, err)
	}
	if latest == nil {
		latest = c
	}
	return outcomeOf(latest), nil
}

func (r *Reconciler) verify(ctx context.Context, trig Trigger, adapter gateway.Adapter, c *models.PaymentConfirmation) (*Outcome, error) {
	now := r.now()
	claimed, ok, err := r.confirmations.BeginVerifying(ctx, c.ID, string(trig.Source), now, now.Add(-r.opts.StaleAge))
	if err != nil {
		return nil, fmt.Errorf("%w: claim confirmation: %v", ErrUnavailable, err)
	}
	if !ok {
		// Terminal by now, or freshly claimed by another worker.
		r.count(trig, "busy")
		return r.current(ctx, c)
	}
	attempt := claimed.Attempts

	session, err := r.sessions.GetByID(ctx, claimed.CheckoutSessionID)
	if err != nil || session == nil {
		r.release(ctx, claimed, "")
		return nil, fmt.Errorf("%w: checkout session %d missing: %v", ErrUnavailable, claimed.CheckoutSessionID, err)
	}

	creds, err := r.creds.Credentials(ctx, trig.Provider)
	if err != nil {
		// Decryption failures are surfaced to admins through the settings
		// view; the reference stays retryable.
		log.Errorf("[Reconcile] Credentials for %s unusable: %v", trig.Provider, err)
		r.release(ctx, claimed, "")
		r.count(trig, "misconfigured")
		return nil, fmt.Errorf("%w: %s credentials unusable", ErrUnavailable, trig.Provider)
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	result, err := adapter.VerifyTransaction(pctx, creds, claimed.Reference)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			return r.reject(ctx, trig, claimed, nil, "provider rejected verification")
		}
		log.Warnf("[Reconcile] Verify %s/%s failed: %v", trig.Provider, claimed.Reference, err)
		r.release(ctx, claimed, "")
		r.count(trig, "unavailable")
		return nil, fmt.Errorf("%w: verify %s", ErrUnavailable, trig.Provider)
	}

	switch result.Status {
	case gateway.StatusPending:
		if trig.Source == SourceSweep && now.Sub(claimed.CreatedAt) > r.opts.AbandonAfter {
			return r.reject(ctx, trig, claimed, result, "abandoned: still pending after "+r.opts.AbandonAfter.String())
		}
		r.release(ctx, claimed, result.ProviderStatus)
		r.count(trig, "pending")
		out := outcomeOf(claimed)
		out.State = models.ConfirmationStateInitiated
		out.Pending = true
		return out, nil
	case gateway.StatusFailed:
		return r.reject(ctx, trig, claimed, result, "provider reported "+nonEmpty(result.ProviderStatus, "failure"))
	}

	if result.VerifiedAmount != session.Amount || !strings.EqualFold(result.VerifiedCurrency, session.Currency) {
		reason := fmt.Sprintf("amount mismatch: expected %d %s, provider verified %d %s",
			session.Amount, session.Currency, result.VerifiedAmount, strings.ToUpper(result.VerifiedCurrency))
		return r.reject(ctx, trig, claimed, result, reason)
	}

	res, err := r.ledger.ConfirmPayment(ctx, billing.ConfirmInput{
		ConfirmationID: claimed.ID,
		Attempt:        attempt,
		Provider:       string(trig.Provider),
		Reference:      claimed.Reference,
		Plan:           session.PlanID,
		Interval:       session.BillingInterval,
		UserID:         session.UserID,
		Email:          session.Email,
		Amount:         result.VerifiedAmount,
		Currency:       result.VerifiedCurrency,
		TransactionID:  result.TransactionID,
		ProviderStatus: result.ProviderStatus,
		At:             now,
	})
	if errors.Is(err, billing.ErrConfirmationConflict) {
		log.Warnf("[Reconcile] Attempt %d on %s/%s lost ownership", attempt, trig.Provider, claimed.Reference)
		r.count(trig, "conflict")
		return r.current(ctx, claimed)
	}
	if err != nil {
		log.Errorf("[Reconcile] Applying %s/%s failed: %v", trig.Provider, claimed.Reference, err)
		r.release(ctx, claimed, result.ProviderStatus)
		r.count(trig, "error")
		return nil, fmt.Errorf("%w: apply entitlement", ErrUnavailable)
	}

	log.Infof("[Reconcile] Confirmed %s/%s via %s (applied=%t)", trig.Provider, claimed.Reference, trig.Source, res.Applied)
	r.count(trig, "confirmed")
	return &Outcome{
		Provider:  trig.Provider,
		Reference: claimed.Reference,
		State:     models.ConfirmationStateConfirmed,
		Applied:   res.Applied,
	}, nil
}

func (r *Reconciler) reject(ctx context.Context, trig Trigger, c *models.PaymentConfirmation, result *gateway.ConfirmationResult, reason string) (*Outcome, error) {
	rej := repository.Rejection{Reason: reason, At: r.now()}
	if result != nil {
		rej.ProviderStatus = result.ProviderStatus
		rej.VerifiedAmount = result.VerifiedAmount
		rej.VerifiedCurrency = strings.ToUpper(result.VerifiedCurrency)
		rej.TransactionID = result.TransactionID
	}
	ok, err := r.confirmations.Reject(ctx, c.ID, c.Attempts, rej)
	if err != nil {
		r.release(ctx, c, rej.ProviderStatus)
		return nil, fmt.Errorf("%w: reject confirmation: %v", ErrUnavailable, err)
	}
	if !ok {
		r.count(trig, "conflict")
		return r.current(ctx, c)
	}
	log.Infof("[Reconcile] Rejected %s/%s via %s: %s", trig.Provider, c.Reference, trig.Source, reason)
	r.count(trig, "rejected")
	return &Outcome{
		Provider:  trig.Provider,
		Reference: c.Reference,
		State:     models.ConfirmationStateRejected,
		Reason:    reason,
	}, nil
}

func (r *Reconciler) release(ctx context.Context, c *models.PaymentConfirmation, providerStatus string) {
	if err := r.confirmations.Release(ctx, c.ID, c.Attempts, providerStatus); err != nil {
		log.Warnf("[Reconcile] Release of %s/%s failed, stale takeover will recover it: %v", c.Provider, c.Reference, err)
	}
}

func (r *Reconciler) count(trig Trigger, outcome string) {
	metrics.ConfirmationsTotal.WithLabelValues(string(trig.Provider), string(trig.Source), outcome).Inc()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
