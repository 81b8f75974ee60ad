package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

var (
	// ErrValidation is bad caller input. Not retryable.
	ErrValidation = errors.New("invalid checkout request")
	// ErrEligibilityUnavailable means no provider may serve the context.
	ErrEligibilityUnavailable = errors.New("no payment provider available")
	// ErrProviderUnavailable is a timeout or outage; the caller may retry or
	// fall back to redirect mode.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentUnavailable hides credential and configuration problems from
	// buyers.
	ErrPaymentUnavailable = errors.New("payment temporarily unavailable, please try another method")
)

// ValidationError lists the offending fields by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// fromValidator converts validator output. Field names come from the json tag
// registered on the validator.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out.Fields[fe.Field()] = "is required"
		case "oneof":
			out.Fields[fe.Field()] = "must be one of: " + fe.Param()
		case "email":
			out.Fields[fe.Field()] = "must be a valid email address"
		case "url":
			out.Fields[fe.Field()] = "must be an absolute URL"
		default:
			out.Fields[fe.Field()] = "failed " + fe.Tag() + " check"
		}
	}
	return out
}

// UnavailableError carries the per-provider reasons of an empty eligibility
// result.
type UnavailableError struct {
	Reasons map[gateway.Provider]string
}

func (e *UnavailableError) Error() string {
	return ErrEligibilityUnavailable.Error()
}

func (e *UnavailableError) Unwrap() error {
	return ErrEligibilityUnavailable
}
