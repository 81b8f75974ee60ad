package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrProviderUnavailable covers network failures, timeouts and provider 5xx. Retryable.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrInvalidCredentials means the provider refused our keys. Admin-facing only.
	ErrInvalidCredentials = errors.New("invalid provider credentials")
	// ErrSignatureInvalid means a webhook failed authentication.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrRejected is any other provider-side refusal of a well-formed request.
	ErrRejected = errors.New("provider rejected request")

	ErrNotConfigured     = errors.New("provider credentials incomplete")
	ErrPlanNotConfigured = errors.New("provider plan id not configured")
	ErrUnsupported       = errors.New("operation not supported by provider")
)

// ProviderError keeps admin-facing detail about a failed provider call. The
// wrapped sentinel decides how callers classify it.
type ProviderError struct {
	Provider Provider
	Op       string
	Status   int
	Detail   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s failed: status=%d %s: %v", e.Provider, e.Op, e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s: %v", e.Provider, e.Op, e.Detail, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// badCredentialMarkers are substrings providers use in 4xx bodies when the
// key itself is wrong.
var badCredentialMarkers = []string{
	"invalid key",
	"invalid api key",
	"invalid secret key",
	"invalid authorization key",
	"invalid_client",
	"client authentication failed",
	"no such api key",
	"authentication failed",
	"unauthorized",
}

// classifyStatus maps an HTTP status and body to a sentinel.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrProviderUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrInvalidCredentials
	case status >= 400:
		lower := strings.ToLower(body)
		for _, m := range badCredentialMarkers {
			if strings.Contains(lower, m) {
				return ErrInvalidCredentials
			}
		}
		return ErrRejected
	}
	return nil
}

// IsRetryable reports whether the caller may retry the same call later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
