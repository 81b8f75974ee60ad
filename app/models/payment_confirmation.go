package models

import "time"

const (
	ConfirmationStateInitiated = "initiated"
	ConfirmationStateVerifying = "verifying"
	ConfirmationStateConfirmed = "confirmed"
	ConfirmationStateRejected  = "rejected"
)

// PaymentConfirmation is the reconciliation state of one provider reference.
type PaymentConfirmation struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CheckoutSessionID uint       `gorm:"not null;index" json:"checkout_session_id"`
	Provider          string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_confirmations_provider_reference,priority:1" json:"provider"`
	Reference         string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_confirmations_provider_reference,priority:2" json:"reference"`
	State             string     `gorm:"type:varchar(16);not null;default:'initiated';index" json:"state"`
	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	VerifyingSince    *time.Time `gorm:"type:timestamp;default:null" json:"verifying_since,omitempty"`
	LastSource        string     `gorm:"type:varchar(16);default:''" json:"last_source"`
	ProviderStatus    string     `gorm:"type:varchar(64);default:''" json:"provider_status"`
	VerifiedAmount    int64      `gorm:"not null;default:0" json:"verified_amount"`
	VerifiedCurrency  string     `gorm:"type:varchar(3);default:''" json:"verified_currency"`
	TransactionID     string     `gorm:"type:varchar(191);default:''" json:"transaction_id"`
	RejectReason      string     `gorm:"type:varchar(255);default:''" json:"reject_reason"`
	ResolvedAt        *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *PaymentConfirmation) IsTerminal() bool {
	return c.State == ConfirmationStateConfirmed || c.State == ConfirmationStateRejected
}
