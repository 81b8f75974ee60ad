package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackAdapter talks to the Paystack transaction API.
type PaystackAdapter struct {
	api apiClient
}

func NewPaystackAdapter(baseURL string, httpClient *http.Client) *PaystackAdapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultPaystackBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &PaystackAdapter{api: apiClient{provider: Paystack, baseURL: baseURL, http: httpClient}}
}

func (a *PaystackAdapter) Name() Provider { return Paystack }

func (a *PaystackAdapter) Capabilities() Capabilities {
	return Capabilities{
		Countries:        []string{"NG", "GH", "ZA", "KE", "CI"},
		Currencies:       []string{"NGN", "GHS", "ZAR", "KES", "USD"},
		NativeCurrencies: []string{"NGN", "GHS", "ZAR"},
		PaymentMethods:   []PaymentMethod{MethodCard, MethodMobileMoney},
		OneTimeCharges:   true,
		Inline:           true,
	}
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID        json.Number `json:"id"`
	Reference string      `json:"reference"`
	Status    string      `json:"status"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
}

func (a *PaystackAdapter) CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}

	channels := []string{"card"}
	if in.PaymentMethod == MethodMobileMoney {
		channels = []string{"mobile_money", "card"}
	}
	meta := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["idempotency_key"] = in.IdempotencyKey

	body := map[string]any{
		"email":        in.Customer.Email,
		"amount":       in.Amount,
		"currency":     strings.ToUpper(in.Currency),
		"reference":    in.Reference,
		"callback_url": in.SuccessURL,
		"channels":     channels,
		"metadata":     meta,
	}
	if in.Interval != IntervalTrial {
		if planID := creds.PlanID(in.PlanID, in.Interval); planID != "" {
			body["plan"] = planID
		}
	}

	var env paystackEnvelope
	if err := a.api.do(ctx, request{op: "create_session", method: http.MethodPost, path: "/transaction/initialize", bearer: creds.SecretKey, body: body}, &env); err != nil {
		return nil, err
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || !env.Status || data.AuthorizationURL == "" {
		return nil, &ProviderError{Provider: Paystack, Op: "create_session", Detail: truncate(env.Message, 200), Err: ErrRejected}
	}

	ref := data.Reference
	if ref == "" {
		ref = in.Reference
	}
	res := &SessionResult{Reference: ref, RedirectURL: data.AuthorizationURL}
	if creds.PublicKey != "" && data.AccessCode != "" {
		res.Inline = &InlinePayload{
			Provider:     Paystack,
			PublicKey:    creds.PublicKey,
			SessionToken: data.AccessCode,
			Reference:    ref,
			Amount:       in.Amount,
			Currency:     strings.ToUpper(in.Currency),
			Email:        in.Customer.Email,
		}
	}
	return res, nil
}

func (a *PaystackAdapter) VerifyTransaction(ctx context.Context, creds *Credentials, reference string) (*ConfirmationResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}

	var env paystackEnvelope
	err := a.api.do(ctx, request{
		op:     "verify",
		method: http.MethodGet,
		path:   "/transaction/verify/" + url.PathEscape(reference),
		bearer: creds.SecretKey,
	}, &env)
	if err != nil {
		if errors.Is(err, ErrRejected) && statusOf(err) == http.StatusNotFound {
			return &ConfirmationResult{Provider: Paystack, Reference: reference, Status: StatusPending}, nil
		}
		return nil, err
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, &ProviderError{Provider: Paystack, Op: "verify", Detail: "decode transaction", Err: errors.Join(ErrProviderUnavailable, err)}
	}

	res := &ConfirmationResult{
		Provider:         Paystack,
		Reference:        reference,
		TransactionID:    tx.ID.String(),
		ProviderStatus:   tx.Status,
		VerifiedAmount:   tx.Amount,
		VerifiedCurrency: strings.ToUpper(tx.Currency),
	}
	switch strings.ToLower(tx.Status) {
	case "success":
		res.Status = StatusSuccess
	case "failed", "reversed":
		res.Status = StatusFailed
	default:
		// "abandoned" and "ongoing" both mean the buyer may still complete.
		res.Status = StatusPending
	}
	if tx.Reference != "" && tx.Reference != reference {
		res.Status = StatusFailed
	}
	return res, nil
}

func (a *PaystackAdapter) TestConnection(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.SecretKey == "" {
		return fmt.Errorf("paystack: %w", ErrNotConfigured)
	}
	return a.api.do(ctx, request{op: "test_connection", method: http.MethodGet, path: "/balance", bearer: creds.SecretKey}, nil)
}

// ParseWebhook checks x-paystack-signature, an HMAC-SHA512 of the raw body.
// Paystack signs with the secret key unless a dedicated webhook secret is set.
func (a *PaystackAdapter) ParseWebhook(ctx context.Context, creds *Credentials, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if creds == nil {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}
	secret := creds.WebhookSecret
	if secret == "" {
		secret = creds.SecretKey
	}
	if secret == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}
	if !verifyHMACHex(payload, headers.Get("x-paystack-signature"), []byte(secret), sha512.New) {
		return nil, ErrSignatureInvalid
	}

	var body struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("paystack webhook: %w", ErrRejected)
	}
	eventID := ""
	if body.Data.ID != "" {
		eventID = body.Event + ":" + body.Data.ID.String()
	}
	return &WebhookEvent{
		Provider:  Paystack,
		EventID:   eventID,
		EventType: body.Event,
		Reference: body.Data.Reference,
	}, nil
}
