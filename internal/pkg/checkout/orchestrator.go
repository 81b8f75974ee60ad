// Package checkout turns a buyer's checkout request into exactly one provider
// session per idempotency key.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/eligibility"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
	"github.com/ManuelReschke/PayFox/internal/pkg/pricing"
)

const (
	UIRedirect = "redirect"
	UIInline   = "inline"

	referencePrefix = "pf_"
	lockKeyPrefix   = "checkout:"
)

// Request is the buyer-supplied checkout body.
type Request struct {
	PlanID          string `json:"planId" validate:"required,max=50"`
	BillingInterval string `json:"billingInterval" validate:"required,oneof=monthly yearly trial"`
	Provider        string `json:"provider" validate:"omitempty,max=20"`
	PaymentMethod   string `json:"paymentMethod" validate:"omitempty,max=20"`
	Email           string `json:"email" validate:"required,email,max=200"`
	IdempotencyKey  string `json:"idempotencyKey" validate:"omitempty,max=128"`
	CountryCode     string `json:"countryCode" validate:"omitempty,len=2"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	SuccessURL      string `json:"successUrl" validate:"omitempty,url,max=1024"`
	CancelURL       string `json:"cancelUrl" validate:"omitempty,url,max=1024"`
	CheckoutUI      string `json:"checkoutUi" validate:"omitempty,oneof=inline redirect"`
}

// Caller is what the HTTP layer knows about the buyer.
type Caller struct {
	UserID        *uint
	Name          string
	Authenticated bool
	// GeoCountry is the edge-detected country, used when the request has none.
	GeoCountry string
}

// Response is {url} for redirects or {reference, inline} for widgets.
type Response struct {
	URL        string                 `json:"url,omitempty"`
	Reference  string                 `json:"reference"`
	Provider   gateway.Provider       `json:"provider"`
	Amount     int64                  `json:"amount"`
	Currency   string                 `json:"currency"`
	DisplayUSD int64                  `json:"displayUsd"`
	Inline     *gateway.InlinePayload `json:"inline,omitempty"`
	// Notice explains a provider or method substitution.
	Notice string `json:"notice,omitempty"`
}

// Settings is the provider configuration the orchestrator reads.
type Settings interface {
	Candidates(ctx context.Context) ([]eligibility.Candidate, error)
	Setting(ctx context.Context, p gateway.Provider) (*models.PaymentProviderSetting, error)
	Credentials(ctx context.Context, p gateway.Provider) (*gateway.Credentials, error)
	SuccessURL(row *models.PaymentProviderSetting) (string, error)
}

// SessionStore persists sessions; CreateWithConfirmation must return
// repository.ErrDuplicate when the idempotency key already exists.
type SessionStore interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutSession, error)
	CreateWithConfirmation(ctx context.Context, session *models.CheckoutSession) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

// Options tunes the orchestrator.
type Options struct {
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	DefaultCountry  string
	// PublicBaseURL is the only host buyers may be redirected back to.
	PublicBaseURL string
}

// Orchestrator creates checkout sessions.
type Orchestrator struct {
	settings Settings
	sessions SessionStore
	registry *gateway.Registry
	prices   *pricing.Table
	locker   Locker
	opts     Options
	validate *validator.Validate
	group    singleflight.Group
}

// NewOrchestrator wires the orchestrator. locker may be nil, in which case the
// unique index alone guards concurrent creation across instances.
func NewOrchestrator(settings Settings, sessions SessionStore, registry *gateway.Registry, prices *pricing.Table, locker Locker, opts Options) *Orchestrator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 20 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 45 * time.Second
	}
	if opts.DefaultCountry == "" {
		opts.DefaultCountry = "US"
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Orchestrator{
		settings: settings,
		sessions: sessions,
		registry: registry,
		prices:   prices,
		locker:   locker,
		opts:     opts,
		validate: v,
	}
}

// plan is a fully resolved checkout, ready to be sent to a provider.
type plan struct {
	req      Request
	caller   Caller
	provider gateway.Provider
	method   gateway.PaymentMethod
	country  string
	quote    pricing.Quote
	inline   bool
	key      IdempotencyKey
	notices  []string
}

// CreateSession validates the request, resolves provider and price, and
// returns the session for its idempotency key, creating it at most once.
func (o *Orchestrator) CreateSession(ctx context.Context, req Request, caller Caller) (*Response, error) {
	p, err := o.resolve(ctx, req, caller)
	if err != nil {
		return nil, err
	}
	keyStr := p.key.String()

	stored, err := o.sessions.GetByIdempotencyKey(ctx, keyStr)
	if err != nil {
		return nil, fmt.Errorf("lookup checkout session: %w", err)
	}
	if stored != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(p.provider), "reused").Inc()
		return o.response(p, stored), nil
	}

	// The provider call outlives the caller: once issued the provider may
	// already hold state, so it runs to completion and is persisted.
	ch := o.group.DoChan(keyStr, func() (interface{}, error) {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.LockTTL+o.opts.ProviderTimeout)
		defer cancel()
		return o.create(detached, p, keyStr)
	})

	select {
	case <-ctx.Done():
		log.Warnf("[Checkout] Caller stopped waiting for %s session %s", p.provider, keyStr)
		metrics.CheckoutSessionsTotal.WithLabelValues(string(p.provider), "abandoned").Inc()
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return o.response(p, r.Val.(*models.CheckoutSession)), nil
	}
}

func (o *Orchestrator) resolve(ctx context.Context, req Request, caller Caller) (*plan, error) {
	req = normalize(req)
	if err := o.validate.Struct(req); err != nil {
		return nil, fromValidator(err)
	}
	if !o.prices.HasPlan(req.PlanID) {
		return nil, invalidField("planId", "unknown plan")
	}
	if req.Currency != "" && !eligibility.ValidCurrency(req.Currency) {
		return nil, invalidField("currency", "must be an ISO-4217 code")
	}

	country, err := o.country(req, caller)
	if err != nil {
		return nil, err
	}
	if err := o.checkReturnURL("successUrl", req.SuccessURL); err != nil {
		return nil, err
	}
	if err := o.checkReturnURL("cancelUrl", req.CancelURL); err != nil {
		return nil, err
	}

	candidates, err := o.settings.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load provider settings: %w", err)
	}

	p := &plan{req: req, caller: caller, country: country}
	currency := o.resolveCurrency(req, country, candidates)
	if req.Currency != "" && currency != req.Currency {
		p.notices = append(p.notices, fmt.Sprintf("%s pricing is not available; charging in %s", req.Currency, currency))
	}

	elCtx, err := eligibility.NewContext(country, currency, req.BillingInterval)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"billingInterval": err.Error()}}
	}
	res := eligibility.Resolve(elCtx, candidates)
	if len(res.Available) == 0 {
		log.Infof("[Checkout] No provider available for %s/%s/%s", elCtx.Country, elCtx.Currency, elCtx.Interval)
		metrics.CheckoutSessionsTotal.WithLabelValues("none", "ineligible").Inc()
		return nil, &UnavailableError{Reasons: res.Reasons()}
	}

	p.provider = o.selectProvider(req.Provider, res, p)
	pe, _ := res.Lookup(p.provider)
	p.method = selectMethod(req.PaymentMethod, pe.PaymentMethods, p)

	p.quote, err = o.prices.Quote(req.PlanID, elCtx.Interval, elCtx.Currency)
	if err != nil {
		return nil, invalidField("planId", err.Error())
	}

	adapter, _ := o.registry.Get(p.provider)
	ui := UIRedirect
	if req.CheckoutUI == UIInline && caller.Authenticated && adapter.Capabilities().Inline {
		ui = UIInline
		p.inline = true
	}

	seed := req.IdempotencyKey
	if seed == "" {
		seed = uuid.NewString()
	}
	p.key = IdempotencyKey{
		Seed:     seed,
		PlanID:   req.PlanID,
		Interval: elCtx.Interval,
		Country:  elCtx.Country,
		Currency: elCtx.Currency,
		Provider: string(p.provider),
		Method:   string(p.method),
		UI:       ui,
	}
	return p, nil
}

func normalize(req Request) Request {
	req.PlanID = strings.ToLower(strings.TrimSpace(req.PlanID))
	req.BillingInterval = strings.ToLower(strings.TrimSpace(req.BillingInterval))
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.Email = strings.TrimSpace(req.Email)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.CountryCode = strings.ToUpper(strings.TrimSpace(req.CountryCode))
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.SuccessURL = strings.TrimSpace(req.SuccessURL)
	req.CancelURL = strings.TrimSpace(req.CancelURL)
	req.CheckoutUI = strings.ToLower(strings.TrimSpace(req.CheckoutUI))
	return req
}

// country prefers the request, then the edge header, then the configured
// default. Only an explicit invalid request value is an error.
func (o *Orchestrator) country(req Request, caller Caller) (string, error) {
	if req.CountryCode != "" {
		if !eligibility.ValidCountry(req.CountryCode) {
			return "", invalidField("countryCode", "must be an ISO-3166 alpha-2 code")
		}
		return req.CountryCode, nil
	}
	if geo := strings.ToUpper(strings.TrimSpace(caller.GeoCountry)); eligibility.ValidCountry(geo) {
		return geo, nil
	}
	return o.opts.DefaultCountry, nil
}

// resolveCurrency picks the request currency if priced, else the country's
// local currency if priced and accepted by an enabled provider, else USD.
func (o *Orchestrator) resolveCurrency(req Request, country string, candidates []eligibility.Candidate) string {
	if req.Currency != "" && o.prices.Priced(req.PlanID, req.Currency) {
		return req.Currency
	}
	if local, ok := eligibility.LocalCurrency(country); ok && o.prices.Priced(req.PlanID, local) {
		for _, c := range candidates {
			if c.Enabled && c.Capabilities.SupportsCurrency(local) {
				return local
			}
		}
	}
	return "USD"
}

// selectProvider never fails on a provider mismatch; it substitutes the
// recommended provider and records why.
func (o *Orchestrator) selectProvider(requested string, res eligibility.Result, p *plan) gateway.Provider {
	if requested == "" {
		return res.Recommended
	}
	rp, known := gateway.ParseProvider(requested)
	if known && res.IsAvailable(rp) {
		return rp
	}

	reason := "it is not a supported provider"
	if pe, ok := res.Lookup(rp); ok && pe.Reason != "" {
		reason = pe.Reason
	} else if known {
		reason = "it is not configured"
	}
	p.notices = append(p.notices, fmt.Sprintf("%s is unavailable for this checkout (%s); using %s instead", requested, reason, res.Recommended))
	metrics.ProviderSubstitutionsTotal.WithLabelValues(requested, string(res.Recommended)).Inc()
	log.Infof("[Checkout] Substituted provider %s with %s: %s", requested, res.Recommended, reason)
	return res.Recommended
}

func selectMethod(requested string, offered []gateway.PaymentMethod, p *plan) gateway.PaymentMethod {
	fallback := gateway.MethodCard
	if len(offered) > 0 && !containsMethod(offered, fallback) {
		fallback = offered[0]
	}
	if requested == "" {
		return fallback
	}
	if m, ok := gateway.ParsePaymentMethod(requested); ok && containsMethod(offered, m) {
		return m
	}
	p.notices = append(p.notices, fmt.Sprintf("payment method %s is not offered here; using %s", requested, fallback))
	return fallback
}

func containsMethod(methods []gateway.PaymentMethod, m gateway.PaymentMethod) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}

// checkReturnURL keeps buyer-supplied redirects on our own host.
func (o *Orchestrator) checkReturnURL(field, raw string) error {
	if raw == "" || o.opts.PublicBaseURL == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidField(field, "must be an absolute URL")
	}
	base, err := url.Parse(o.opts.PublicBaseURL)
	if err != nil {
		return nil
	}
	if !strings.EqualFold(u.Host, base.Host) || (u.Scheme != "https" && u.Scheme != base.Scheme) {
		return invalidField(field, "must point to "+base.Host)
	}
	return nil
}

// create runs under singleflight with a detached context.
func (o *Orchestrator) create(ctx context.Context, p *plan, keyStr string) (*models.CheckoutSession, error) {
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, lockKeyPrefix+keyStr, o.opts.LockTTL, o.opts.LockTTL)
		switch {
		case errors.Is(err, cache.ErrLockNotAcquired):
			if stored, _ := o.sessions.GetByIdempotencyKey(ctx, keyStr); stored != nil {
				return stored, nil
			}
			return nil, fmt.Errorf("%w: session creation still in progress", ErrProviderUnavailable)
		case err != nil:
			log.Warnf("[Checkout] Lock unavailable for %s, relying on unique index: %v", keyStr, err)
		default:
			defer release()
		}
	}

	// Another instance may have finished while we waited for the lock.
	if stored, err := o.sessions.GetByIdempotencyKey(ctx, keyStr); err != nil {
		return nil, fmt.Errorf("lookup checkout session: %w", err)
	} else if stored != nil {
		return stored, nil
	}

	adapter, ok := o.registry.Get(p.provider)
	if !ok {
		return nil, ErrPaymentUnavailable
	}
	creds, err := o.settings.Credentials(ctx, p.provider)
	if err != nil {
		log.Errorf("[Checkout] Credentials for %s unusable: %v", p.provider, err)
		metrics.CheckoutSessionsTotal.WithLabelValues(string(p.provider), "misconfigured").Inc()
		return nil, ErrPaymentUnavailable
	}

	successURL, cancelURL := o.returnURLs(ctx, p)
	localRef := localReference(keyStr)
	in := gateway.SessionInput{
		Reference: localRef,
		Amount:    p.quote.Amount,
		Currency:  p.quote.Currency,
		Customer: gateway.Customer{
			Email: p.req.Email,
			Name:  p.caller.Name,
		},
		Metadata: map[string]string{
			"plan_id":  p.quote.PlanID,
			"interval": p.quote.Interval,
			"country":  p.country,
		},
		IdempotencyKey: keyStr,
		PlanID:         p.quote.PlanID,
		Interval:       p.quote.Interval,
		PaymentMethod:  p.method,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Description:    fmt.Sprintf("PayFox %s (%s)", p.quote.PlanID, p.quote.Interval),
		Inline:         p.inline,
	}
	if p.caller.UserID != nil {
		in.Customer.UserID = *p.caller.UserID
		in.Metadata["user_id"] = fmt.Sprint(*p.caller.UserID)
	}

	pctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	res, err := adapter.CreateSession(pctx, creds, in)
	cancel()
	if err != nil {
		return nil, o.classify(p.provider, err)
	}

	session := &models.CheckoutSession{
		IdempotencyKey:  keyStr,
		LocalReference:  localRef,
		Provider:        string(p.provider),
		Reference:       res.Reference,
		PlanID:          p.quote.PlanID,
		BillingInterval: p.quote.Interval,
		Country:         p.country,
		Currency:        p.quote.Currency,
		PaymentMethod:   string(p.method),
		Amount:          p.quote.Amount,
		DisplayUSD:      p.quote.DisplayUSD,
		Email:           strings.ToLower(p.req.Email),
		UserID:          p.caller.UserID,
		CheckoutUI:      p.key.UI,
		RedirectURL:     res.RedirectURL,
	}
	if session.Reference == "" {
		session.Reference = localRef
	}
	if res.Inline != nil {
		raw, err := json.Marshal(res.Inline)
		if err != nil {
			return nil, err
		}
		session.InlineParamsJSON = string(raw)
	}

	if err := o.sessions.CreateWithConfirmation(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			if stored, _ := o.sessions.GetByIdempotencyKey(ctx, keyStr); stored != nil {
				return stored, nil
			}
		}
		log.Errorf("[Checkout] Provider session %s/%s created but not stored: %v", p.provider, session.Reference, err)
		metrics.CheckoutSessionsTotal.WithLabelValues(string(p.provider), "error").Inc()
		return nil, fmt.Errorf("store checkout session: %w", err)
	}

	log.Infof("[Checkout] Created %s session %s for %s %s/%s", p.provider, session.Reference, p.quote.PlanID, p.quote.Interval, p.quote.Currency)
	metrics.CheckoutSessionsTotal.WithLabelValues(string(p.provider), "created").Inc()
	return session, nil
}

// classify maps adapter errors to buyer-safe errors. Detail only goes to the log.
func (o *Orchestrator) classify(p gateway.Provider, err error) error {
	log.Errorf("[Checkout] %s create session failed: %v", p, err)
	if gateway.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(p), "unavailable").Inc()
		return ErrProviderUnavailable
	}
	metrics.CheckoutSessionsTotal.WithLabelValues(string(p), "failed").Inc()
	return ErrPaymentUnavailable
}

func (o *Orchestrator) returnURLs(ctx context.Context, p *plan) (string, string) {
	success := p.req.SuccessURL
	if success == "" {
		if row, err := o.settings.Setting(ctx, p.provider); err == nil {
			if stored, err := o.settings.SuccessURL(row); err != nil {
				log.Warnf("[Checkout] Stored success URL of %s unusable: %v", p.provider, err)
			} else {
				success = stored
			}
		}
	}
	if success == "" {
		success = o.opts.PublicBaseURL + "/checkout/success?provider=" + string(p.provider)
	}
	cancel := p.req.CancelURL
	if cancel == "" {
		cancel = o.opts.PublicBaseURL + "/checkout/cancel?provider=" + string(p.provider)
	}
	return success, cancel
}

// response renders a stored session. A stored inline payload is only
// returned when this resolution allows inline; the redirect URL is always
// the fallback.
func (o *Orchestrator) response(p *plan, s *models.CheckoutSession) *Response {
	resp := &Response{
		Reference:  s.Reference,
		Provider:   gateway.Provider(s.Provider),
		Amount:     s.Amount,
		Currency:   s.Currency,
		DisplayUSD: s.DisplayUSD,
		Notice:     strings.Join(p.notices, "; "),
	}
	if p.inline && s.InlineParamsJSON != "" {
		var inline gateway.InlinePayload
		if err := json.Unmarshal([]byte(s.InlineParamsJSON), &inline); err == nil {
			resp.Inline = &inline
			return resp
		}
	}
	resp.URL = s.RedirectURL
	return resp
}
