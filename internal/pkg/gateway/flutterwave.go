package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultFlutterwaveBaseURL = "https://api.flutterwave.com"

var flutterwaveMobileMoneyOptions = map[string]string{
	"GHS": "mobilemoneyghana",
	"KES": "mpesa",
	"UGX": "mobilemoneyuganda",
	"RWF": "mobilemoneyrwanda",
	"TZS": "mobilemoneytanzania",
	"ZMW": "mobilemoneyzambia",
	"XOF": "mobilemoneyfranco",
	"XAF": "mobilemoneyfranco",
}

// FlutterwaveAdapter talks to the Flutterwave v3 API.
type FlutterwaveAdapter struct {
	api apiClient
}

func NewFlutterwaveAdapter(baseURL string, httpClient *http.Client) *FlutterwaveAdapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultFlutterwaveBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &FlutterwaveAdapter{api: apiClient{provider: Flutterwave, baseURL: baseURL, http: httpClient}}
}

func (a *FlutterwaveAdapter) Name() Provider { return Flutterwave }

func (a *FlutterwaveAdapter) Capabilities() Capabilities {
	return Capabilities{
		Countries:        []string{"NG", "GH", "KE", "UG", "TZ", "RW", "ZA", "ZM", "CI", "SN", "CM", "EG", "MW"},
		Currencies:       []string{"NGN", "GHS", "KES", "UGX", "TZS", "RWF", "ZAR", "ZMW", "XOF", "XAF", "EGP", "MWK", "USD", "EUR", "GBP"},
		NativeCurrencies: []string{"KES", "UGX", "TZS", "RWF", "ZMW", "XOF", "XAF", "EGP", "MWK"},
		PaymentMethods:   []PaymentMethod{MethodCard, MethodMobileMoney},
		OneTimeCharges:   true,
		Inline:           true,
	}
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

func (a *FlutterwaveAdapter) CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}

	options := "card"
	if in.PaymentMethod == MethodMobileMoney {
		if opt, ok := flutterwaveMobileMoneyOptions[strings.ToUpper(in.Currency)]; ok {
			options = opt + ",card"
		}
	}

	meta := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["idempotency_key"] = in.IdempotencyKey

	body := map[string]any{
		"tx_ref":          in.Reference,
		"amount":          json.Number(FormatMajor(in.Amount, in.Currency)),
		"currency":        strings.ToUpper(in.Currency),
		"redirect_url":    in.SuccessURL,
		"payment_options": options,
		"customer": map[string]string{
			"email": in.Customer.Email,
			"name":  in.Customer.Name,
		},
		"meta": meta,
		"customizations": map[string]string{
			"title": in.Description,
		},
	}
	if in.Interval != IntervalTrial {
		if planID := creds.PlanID(in.PlanID, in.Interval); planID != "" {
			body["payment_plan"] = planID
		}
	}

	var env flutterwaveEnvelope
	err := a.api.do(ctx, request{op: "create_session", method: http.MethodPost, path: "/v3/payments", bearer: creds.SecretKey, body: body}, &env)
	if err != nil {
		return nil, err
	}
	var data struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || env.Status != "success" || data.Link == "" {
		return nil, &ProviderError{Provider: Flutterwave, Op: "create_session", Detail: truncate(env.Message, 200), Err: ErrRejected}
	}

	res := &SessionResult{Reference: in.Reference, RedirectURL: data.Link}
	if creds.PublicKey != "" {
		res.Inline = &InlinePayload{
			Provider:     Flutterwave,
			PublicKey:    creds.PublicKey,
			SessionToken: in.Reference,
			Reference:    in.Reference,
			Amount:       in.Amount,
			Currency:     strings.ToUpper(in.Currency),
			Email:        in.Customer.Email,
		}
	}
	return res, nil
}

func (a *FlutterwaveAdapter) VerifyTransaction(ctx context.Context, creds *Credentials, reference string) (*ConfirmationResult, error) {
	if creds == nil || creds.SecretKey == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}

	var env flutterwaveEnvelope
	err := a.api.do(ctx, request{
		op:     "verify",
		method: http.MethodGet,
		path:   "/v3/transactions/verify_by_reference",
		query:  url.Values{"tx_ref": {reference}},
		bearer: creds.SecretKey,
	}, &env)
	if err != nil {
		// An unknown tx_ref means the buyer has not paid yet.
		if errors.Is(err, ErrRejected) && (statusOf(err) == http.StatusNotFound || strings.Contains(strings.ToLower(detailOf(err)), "no transaction")) {
			return &ConfirmationResult{Provider: Flutterwave, Reference: reference, Status: StatusPending}, nil
		}
		return nil, err
	}

	var tx flutterwaveTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, &ProviderError{Provider: Flutterwave, Op: "verify", Detail: "decode transaction", Err: errors.Join(ErrProviderUnavailable, err)}
	}

	res := &ConfirmationResult{
		Provider:         Flutterwave,
		Reference:        reference,
		TransactionID:    tx.ID.String(),
		ProviderStatus:   tx.Status,
		VerifiedCurrency: strings.ToUpper(tx.Currency),
	}
	if tx.Amount != "" {
		amount, err := ParseMajor(tx.Amount.String(), tx.Currency)
		if err != nil {
			return nil, &ProviderError{Provider: Flutterwave, Op: "verify", Detail: "parse amount", Err: errors.Join(ErrRejected, err)}
		}
		res.VerifiedAmount = amount
	}
	switch strings.ToLower(tx.Status) {
	case "successful":
		res.Status = StatusSuccess
	case "failed", "cancelled":
		res.Status = StatusFailed
	default:
		res.Status = StatusPending
	}
	if tx.TxRef != "" && tx.TxRef != reference {
		res.Status = StatusFailed
	}
	return res, nil
}

func (a *FlutterwaveAdapter) TestConnection(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.SecretKey == "" {
		return fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}
	return a.api.do(ctx, request{op: "test_connection", method: http.MethodGet, path: "/v3/balances", bearer: creds.SecretKey}, nil)
}

func (a *FlutterwaveAdapter) ParseWebhook(ctx context.Context, creds *Credentials, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if creds == nil || creds.WebhookSecret == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}
	if !constantTimeEqual(headers.Get("verif-hash"), creds.WebhookSecret) {
		return nil, ErrSignatureInvalid
	}

	var body struct {
		Event string                 `json:"event"`
		Data  flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("flutterwave webhook: %w", ErrRejected)
	}
	return &WebhookEvent{
		Provider:  Flutterwave,
		EventID:   body.Data.ID.String(),
		EventType: body.Event,
		Reference: body.Data.TxRef,
	}, nil
}
