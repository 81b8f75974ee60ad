package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultPayPalBaseURL = "https://api-m.paypal.com"

// PayPalAdapter runs recurring checkouts through PayPal Subscriptions. PayPal
// has no one-time charge path here, so trials are refused.
type PayPalAdapter struct {
	api apiClient

	mu     sync.Mutex
	tokens map[string]paypalToken
	now    func() time.Time
}

type paypalToken struct {
	value   string
	expires time.Time
}

func NewPayPalAdapter(baseURL string, httpClient *http.Client) *PayPalAdapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultPayPalBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &PayPalAdapter{
		api:    apiClient{provider: PayPal, baseURL: baseURL, http: httpClient},
		tokens: make(map[string]paypalToken),
		now:    time.Now,
	}
}

func (a *PayPalAdapter) Name() Provider { return PayPal }

func (a *PayPalAdapter) Capabilities() Capabilities {
	return Capabilities{
		AllCountries:      true,
		Currencies:        []string{"USD", "EUR", "GBP", "CAD", "AUD"},
		PaymentMethods:    []PaymentMethod{MethodCard},
		NativeIdempotency: true,
	}
}

// accessToken returns a cached client-credentials token, refreshing it a
// minute before expiry.
func (a *PayPalAdapter) accessToken(ctx context.Context, creds *Credentials) (string, error) {
	if creds == nil || creds.ClientID == "" || creds.ClientSecret == "" {
		return "", fmt.Errorf("paypal: %w", ErrNotConfigured)
	}
	cacheKey := creds.ClientID + "\x00" + creds.ClientSecret

	a.mu.Lock()
	tok, ok := a.tokens[cacheKey]
	a.mu.Unlock()
	if ok && a.now().Before(tok.expires) {
		return tok.value, nil
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := a.api.do(ctx, request{
		op:        "oauth_token",
		method:    http.MethodPost,
		path:      "/v1/oauth2/token",
		form:      url.Values{"grant_type": {"client_credentials"}},
		basicUser: creds.ClientID,
		basicPass: creds.ClientSecret,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &ProviderError{Provider: PayPal, Op: "oauth_token", Detail: "empty access token", Err: ErrInvalidCredentials}
	}

	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl > 0 {
		a.mu.Lock()
		a.tokens[cacheKey] = paypalToken{value: out.AccessToken, expires: a.now().Add(ttl)}
		a.mu.Unlock()
	}
	return out.AccessToken, nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalSubscription struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	CustomID    string       `json:"custom_id"`
	Links       []paypalLink `json:"links"`
	BillingInfo struct {
		LastPayment struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"last_payment"`
	} `json:"billing_info"`
}

func (a *PayPalAdapter) CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error) {
	if in.Interval == IntervalTrial {
		return nil, fmt.Errorf("paypal trial checkout: %w", ErrUnsupported)
	}
	planID := creds.PlanID(in.PlanID, in.Interval)
	if planID == "" {
		return nil, fmt.Errorf("paypal %s/%s: %w", in.PlanID, in.Interval, ErrPlanNotConfigured)
	}
	token, err := a.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"plan_id":   planID,
		"custom_id": in.Reference,
		"application_context": map[string]string{
			"return_url":  in.SuccessURL,
			"cancel_url":  in.CancelURL,
			"user_action": "SUBSCRIBE_NOW",
		},
	}
	if in.Customer.Email != "" {
		body["subscriber"] = map[string]string{"email_address": in.Customer.Email}
	}
	headers := map[string]string{"Prefer": "return=representation"}
	if in.IdempotencyKey != "" {
		headers["PayPal-Request-Id"] = in.IdempotencyKey
	}

	var sub paypalSubscription
	err = a.api.do(ctx, request{
		op:      "create_session",
		method:  http.MethodPost,
		path:    "/v1/billing/subscriptions",
		headers: headers,
		bearer:  token,
		body:    body,
	}, &sub)
	if err != nil {
		return nil, err
	}

	approve := ""
	for _, l := range sub.Links {
		if l.Rel == "approve" {
			approve = l.Href
			break
		}
	}
	if sub.ID == "" || approve == "" {
		return nil, &ProviderError{Provider: PayPal, Op: "create_session", Detail: "missing subscription id or approve link", Err: ErrRejected}
	}
	return &SessionResult{Reference: sub.ID, RedirectURL: approve}, nil
}

func (a *PayPalAdapter) VerifyTransaction(ctx context.Context, creds *Credentials, reference string) (*ConfirmationResult, error) {
	token, err := a.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	var sub paypalSubscription
	err = a.api.do(ctx, request{
		op:     "verify",
		method: http.MethodGet,
		path:   "/v1/billing/subscriptions/" + url.PathEscape(reference),
		bearer: token,
	}, &sub)
	if err != nil {
		return nil, err
	}

	res := &ConfirmationResult{
		Provider:       PayPal,
		Reference:      reference,
		TransactionID:  sub.ID,
		ProviderStatus: sub.Status,
	}
	switch strings.ToUpper(sub.Status) {
	case "ACTIVE":
		amt := sub.BillingInfo.LastPayment.Amount
		if amt.Value == "" {
			// Activated but the first charge has not settled yet.
			res.Status = StatusPending
			return res, nil
		}
		value, err := ParseMajor(amt.Value, amt.CurrencyCode)
		if err != nil {
			return nil, &ProviderError{Provider: PayPal, Op: "verify", Detail: "parse amount", Err: errors.Join(ErrRejected, err)}
		}
		res.Status = StatusSuccess
		res.VerifiedAmount = value
		res.VerifiedCurrency = strings.ToUpper(amt.CurrencyCode)
	case "CANCELLED", "EXPIRED", "SUSPENDED":
		res.Status = StatusFailed
	default:
		res.Status = StatusPending
	}
	return res, nil
}

func (a *PayPalAdapter) TestConnection(ctx context.Context, creds *Credentials) error {
	_, err := a.accessToken(ctx, creds)
	return err
}

var paypalSignatureHeaders = map[string]string{
	"transmission_id":   "Paypal-Transmission-Id",
	"transmission_time": "Paypal-Transmission-Time",
	"transmission_sig":  "Paypal-Transmission-Sig",
	"cert_url":          "Paypal-Cert-Url",
	"auth_algo":         "Paypal-Auth-Algo",
}

// ParseWebhook asks PayPal to verify the transmission signature. Any missing
// header or non-SUCCESS answer is an invalid signature.
func (a *PayPalAdapter) ParseWebhook(ctx context.Context, creds *Credentials, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if creds == nil || creds.WebhookID == "" {
		return nil, fmt.Errorf("paypal: %w", ErrNotConfigured)
	}
	if !json.Valid(payload) {
		return nil, ErrSignatureInvalid
	}

	body := map[string]any{
		"webhook_id":    creds.WebhookID,
		"webhook_event": json.RawMessage(payload),
	}
	for field, header := range paypalSignatureHeaders {
		v := headers.Get(header)
		if v == "" {
			return nil, ErrSignatureInvalid
		}
		body[field] = v
	}

	token, err := a.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	var verdict struct {
		VerificationStatus string `json:"verification_status"`
	}
	err = a.api.do(ctx, request{
		op:     "verify_webhook",
		method: http.MethodPost,
		path:   "/v1/notifications/verify-webhook-signature",
		bearer: token,
		body:   body,
	}, &verdict)
	if err != nil {
		return nil, err
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return nil, ErrSignatureInvalid
	}

	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                 string `json:"id"`
			BillingAgreementID string `json:"billing_agreement_id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("paypal webhook: %w", ErrRejected)
	}
	out := &WebhookEvent{Provider: PayPal, EventID: event.ID, EventType: event.EventType}
	switch {
	case strings.HasPrefix(event.EventType, "BILLING.SUBSCRIPTION."):
		out.Reference = event.Resource.ID
	case strings.HasPrefix(event.EventType, "PAYMENT.SALE."):
		out.Reference = event.Resource.BillingAgreementID
	}
	return out, nil
}
