package billing

import (
	"errors"
	"time"
)

var (
	// ErrConfirmationConflict means the confirmation row left the verifying
	// state (or changed owner) before the payment could be applied.
	ErrConfirmationConflict = errors.New("confirmation is no longer owned by this attempt")
	ErrInvalidConfirmation  = errors.New("invalid confirmation input")
)

// ConfirmInput is a provider-verified successful payment to apply.
// ConfirmationID and Attempt identify the verifying row claimed by the caller.
type ConfirmInput struct {
	ConfirmationID uint
	Attempt        int

	Provider  string
	Reference string
	Plan      string
	Interval  string

	UserID *uint
	Email  string

	Amount         int64
	Currency       string
	TransactionID  string
	ProviderStatus string

	At time.Time
}

// ConfirmResult reports what the ledger did. Applied is false when a grant
// for the reference already existed.
type ConfirmResult struct {
	Applied   bool
	Plan      string
	PeriodEnd *time.Time
}

// VerifiedPayment is what gets stored on the confirmed row.
type VerifiedPayment struct {
	ProviderStatus   string
	VerifiedAmount   int64
	VerifiedCurrency string
	TransactionID    string
	At               time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Reference       string
	PayloadJSON     string
}
