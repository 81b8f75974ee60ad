// Package gateway is the uniform interface over the payment providers and the
// four adapters that implement it.
package gateway

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

// Provider identifies a payment provider.
type Provider string

const (
	Flutterwave Provider = "flutterwave"
	Paystack    Provider = "paystack"
	Stripe      Provider = "stripe"
	PayPal      Provider = "paypal"
)

// FallbackOrder is the fixed global preference used when no provider has a
// native-currency match: regional gateways first, then card, then wallet.
var FallbackOrder = []Provider{Flutterwave, Paystack, Stripe, PayPal}

// ParseProvider normalizes a provider name.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	return p, slices.Contains(FallbackOrder, p)
}

// PaymentMethod is a buyer-facing way to pay.
type PaymentMethod string

const (
	MethodCard        PaymentMethod = "card"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodApplePay    PaymentMethod = "apple_pay"
	MethodGooglePay   PaymentMethod = "google_pay"
)

// ParsePaymentMethod normalizes a payment method name.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCard, MethodMobileMoney, MethodApplePay, MethodGooglePay:
		return m, true
	}
	return "", false
}

// Billing intervals.
const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
	IntervalTrial   = "trial"
)

// Credentials is the decrypted per-provider secret bundle. It only lives for
// the duration of a provider call.
type Credentials struct {
	PublicKey     string
	SecretKey     string
	WebhookSecret string
	ClientID      string
	ClientSecret  string
	WebhookID     string
	// PlanIDs maps "<plan>:<interval>" to a provider plan or price id.
	PlanIDs map[string]string
}

// PlanID returns the provider plan id for a plan and interval.
func (c *Credentials) PlanID(plan, interval string) string {
	if c == nil || c.PlanIDs == nil {
		return ""
	}
	return strings.TrimSpace(c.PlanIDs[plan+":"+interval])
}

// Customer identifies the payer.
type Customer struct {
	Email  string
	Name   string
	UserID uint
}

// SessionInput is everything an adapter needs to open a checkout session.
// Amount is in minor units of Currency.
type SessionInput struct {
	Reference      string
	Amount         int64
	Currency       string
	Customer       Customer
	Metadata       map[string]string
	IdempotencyKey string
	PlanID         string
	Interval       string
	PaymentMethod  PaymentMethod
	SuccessURL     string
	CancelURL      string
	Description    string
	// Inline asks for an in-page widget session instead of a hosted page.
	Inline bool
}

// InlinePayload carries the parameters a client widget needs.
type InlinePayload struct {
	Provider     Provider `json:"provider"`
	PublicKey    string   `json:"publicKey"`
	SessionToken string   `json:"sessionToken"`
	Reference    string   `json:"reference"`
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency"`
	Email        string   `json:"email,omitempty"`
}

// SessionResult is what a provider returned for a created session.
type SessionResult struct {
	Reference   string         `json:"reference"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	Inline      *InlinePayload `json:"inline,omitempty"`
}

// ConfirmationStatus is the normalized verification outcome.
type ConfirmationStatus string

const (
	StatusSuccess ConfirmationStatus = "success"
	StatusFailed  ConfirmationStatus = "failed"
	StatusPending ConfirmationStatus = "pending"
)

// ConfirmationResult is the provider's authoritative view of a payment.
type ConfirmationResult struct {
	Provider         Provider
	Reference        string
	Status           ConfirmationStatus
	VerifiedAmount   int64
	VerifiedCurrency string
	TransactionID    string
	ProviderStatus   string
}

// WebhookEvent is a signature-verified inbound notification.
type WebhookEvent struct {
	Provider  Provider
	EventID   string
	EventType string
	// Reference is empty for events that do not concern a checkout.
	Reference string
}

// Capabilities describes what a provider can do independent of credentials.
type Capabilities struct {
	AllCountries      bool
	Countries         []string
	Currencies        []string
	NativeCurrencies  []string
	PaymentMethods    []PaymentMethod
	OneTimeCharges    bool
	Inline            bool
	NativeIdempotency bool
}

func (c Capabilities) SupportsCountry(country string) bool {
	return c.AllCountries || slices.Contains(c.Countries, strings.ToUpper(country))
}

func (c Capabilities) SupportsCurrency(currency string) bool {
	return slices.Contains(c.Currencies, strings.ToUpper(currency))
}

func (c Capabilities) IsNativeCurrency(currency string) bool {
	return slices.Contains(c.NativeCurrencies, strings.ToUpper(currency))
}

func (c Capabilities) SupportsMethod(m PaymentMethod) bool {
	return slices.Contains(c.PaymentMethods, m)
}

// Adapter is implemented once per provider. The orchestrator and reconciler
// only ever talk to providers through it.
type Adapter interface {
	Name() Provider
	Capabilities() Capabilities
	CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error)
	// VerifyTransaction always asks the provider; callers must never trust a
	// client-reported outcome instead.
	VerifyTransaction(ctx context.Context, creds *Credentials, reference string) (*ConfirmationResult, error)
	TestConnection(ctx context.Context, creds *Credentials) error
	ParseWebhook(ctx context.Context, creds *Credentials, payload []byte, headers http.Header) (*WebhookEvent, error)
}

// Registry resolves adapters by provider.
type Registry struct {
	adapters map[Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(p Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Providers lists registered providers in fallback order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.adapters))
	for _, p := range FallbackOrder {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
