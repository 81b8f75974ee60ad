package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/balance"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
)

// StripeAdapter uses Stripe Checkout Sessions in subscription mode. Keys are
// passed per call so one process can serve rotated credentials.
type StripeAdapter struct {
	backend stripe.Backend
}

// NewStripeAdapter builds the adapter. baseURL is only set for tests and
// stripe-mock; retries are left to the caller.
func NewStripeAdapter(baseURL string, httpClient *http.Client) *StripeAdapter {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		cfg.URL = stripe.String(strings.TrimRight(baseURL, "/"))
	}
	return &StripeAdapter{backend: stripe.GetBackendWithConfig(stripe.APIBackend, cfg)}
}

func (a *StripeAdapter) Name() Provider { return Stripe }

func (a *StripeAdapter) Capabilities() Capabilities {
	return Capabilities{
		AllCountries:      true,
		Currencies:        []string{"USD", "EUR", "GBP", "CAD", "AUD", "ZAR", "KES"},
		PaymentMethods:    []PaymentMethod{MethodCard, MethodApplePay, MethodGooglePay},
		Inline:            true,
		NativeIdempotency: true,
	}
}

func stripeInterval(interval string) string {
	if interval == IntervalYearly {
		return string(stripe.PriceRecurringIntervalYear)
	}
	return string(stripe.PriceRecurringIntervalMonth)
}

func (a *StripeAdapter) CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}
	if in.Interval == IntervalTrial {
		return nil, fmt.Errorf("stripe trial checkout: %w", ErrUnsupported)
	}

	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if price := creds.PlanID(in.PlanID, in.Interval); price != "" {
		item.Price = stripe.String(price)
	} else {
		name := in.Description
		if name == "" {
			name = in.PlanID
		}
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(in.Currency)),
			UnitAmount: stripe.Int64(in.Amount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(stripeInterval(in.Interval)),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID:  stripe.String(in.Reference),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{item},
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if in.Customer.Email != "" {
		params.CustomerEmail = stripe.String(in.Customer.Email)
	}
	if in.Inline {
		params.UIMode = stripe.String("embedded")
		params.ReturnURL = stripe.String(in.SuccessURL)
	} else {
		params.SuccessURL = stripe.String(in.SuccessURL)
		params.CancelURL = stripe.String(in.CancelURL)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("reference", in.Reference)
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	start := time.Now()
	sc := session.Client{B: a.backend, Key: creds.SecretKey}
	s, err := sc.New(params)
	observeStripe("create_session", start, err)
	if err != nil {
		return nil, classifyStripeError("create_session", err)
	}

	res := &SessionResult{Reference: s.ID, RedirectURL: s.URL}
	if in.Inline && s.ClientSecret != "" {
		res.Inline = &InlinePayload{
			Provider:     Stripe,
			PublicKey:    creds.PublicKey,
			SessionToken: s.ClientSecret,
			Reference:    s.ID,
			Amount:       in.Amount,
			Currency:     strings.ToUpper(in.Currency),
			Email:        in.Customer.Email,
		}
	}
	return res, nil
}

func (a *StripeAdapter) VerifyTransaction(ctx context.Context, creds *Credentials, reference string) (*ConfirmationResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	start := time.Now()
	sc := session.Client{B: a.backend, Key: creds.SecretKey}
	s, err := sc.Get(reference, params)
	observeStripe("verify", start, err)
	if err != nil {
		return nil, classifyStripeError("verify", err)
	}

	res := &ConfirmationResult{
		Provider:         Stripe,
		Reference:        s.ID,
		VerifiedAmount:   s.AmountTotal,
		VerifiedCurrency: strings.ToUpper(string(s.Currency)),
		ProviderStatus:   string(s.Status) + "/" + string(s.PaymentStatus),
	}
	if s.Subscription != nil {
		res.TransactionID = s.Subscription.ID
	}
	switch {
	case s.Status == stripe.CheckoutSessionStatusComplete && s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		res.Status = StatusSuccess
	case s.Status == stripe.CheckoutSessionStatusExpired:
		res.Status = StatusFailed
	default:
		res.Status = StatusPending
	}
	return res, nil
}

func (a *StripeAdapter) TestConnection(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.SecretKey == "" {
		return fmt.Errorf("stripe: %w", ErrNotConfigured)
	}
	params := &stripe.BalanceParams{}
	params.Context = ctx

	start := time.Now()
	bc := balance.Client{B: a.backend, Key: creds.SecretKey}
	_, err := bc.Get(params)
	observeStripe("test_connection", start, err)
	if err != nil {
		return classifyStripeError("test_connection", err)
	}
	return nil
}

func (a *StripeAdapter) ParseWebhook(ctx context.Context, creds *Credentials, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if creds == nil || creds.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), creds.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &WebhookEvent{Provider: Stripe, EventID: event.ID, EventType: string(event.Type)}
	if event.Data != nil {
		var obj struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err == nil && obj.Object == "checkout.session" {
			out.Reference = obj.ID
		}
	}
	return out, nil
}

func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		sentinel := classifyStatus(se.HTTPStatusCode, se.Msg)
		if sentinel == nil {
			sentinel = ErrRejected
		}
		return &ProviderError{Provider: Stripe, Op: op, Status: se.HTTPStatusCode, Detail: truncate(se.Msg, 512), Err: sentinel}
	}
	return &ProviderError{Provider: Stripe, Op: op, Detail: "transport error", Err: errors.Join(ErrProviderUnavailable, err)}
}

func observeStripe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(classifyStripeError(op, err))
	}
	metrics.ProviderRequestDuration.WithLabelValues(string(Stripe), op, outcome).Observe(time.Since(start).Seconds())
}
