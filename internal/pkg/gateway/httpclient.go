package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxResponseBody    = 1 << 20
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// apiClient is the JSON-over-HTTP plumbing shared by the adapters that have
// no SDK.
type apiClient struct {
	provider Provider
	baseURL  string
	http     *http.Client
}

type request struct {
	op      string
	method  string
	path    string
	query   url.Values
	headers map[string]string
	body    any
	form    url.Values
	// basicUser/basicPass switch auth to HTTP basic.
	basicUser string
	basicPass string
	bearer    string
}

func (c *apiClient) do(ctx context.Context, r request, out any) error {
	start := time.Now()
	err := c.send(ctx, r, out)
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.ProviderRequestDuration.WithLabelValues(string(c.provider), r.op, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (c *apiClient) send(ctx context.Context, r request, out any) error {
	target := strings.TrimRight(c.baseURL, "/") + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.body != nil:
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s %s: encode request: %w", c.provider, r.op, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.provider, r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case r.basicUser != "":
		req.SetBasicAuth(r.basicUser, r.basicPass)
	case r.bearer != "":
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.provider, Op: r.op, Detail: "transport error", Err: errors.Join(ErrProviderUnavailable, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &ProviderError{Provider: c.provider, Op: r.op, Status: resp.StatusCode, Detail: "read body", Err: errors.Join(ErrProviderUnavailable, err)}
	}

	if sentinel := classifyStatus(resp.StatusCode, string(raw)); sentinel != nil {
		return &ProviderError{
			Provider: c.provider,
			Op:       r.op,
			Status:   resp.StatusCode,
			Detail:   truncate(string(raw), 512),
			Err:      sentinel,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ProviderError{Provider: c.provider, Op: r.op, Status: resp.StatusCode, Detail: "decode response", Err: errors.Join(ErrProviderUnavailable, err)}
		}
	}
	return nil
}

// statusOf extracts the HTTP status from a ProviderError, 0 otherwise.
func statusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

func detailOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Detail
	}
	return ""
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "rejected"
	}
}
