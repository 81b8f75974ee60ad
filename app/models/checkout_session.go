package models

import "time"

// CheckoutSession records one provider session. It is written once per
// idempotency key and never updated.
type CheckoutSession struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey   string    `gorm:"type:varchar(80);not null;uniqueIndex:ux_checkout_sessions_idempotency_key" json:"idempotency_key"`
	LocalReference   string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_checkout_sessions_local_reference" json:"local_reference"`
	Provider         string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_checkout_sessions_provider_reference,priority:1" json:"provider"`
	Reference        string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_checkout_sessions_provider_reference,priority:2" json:"reference"`
	PlanID           string    `gorm:"type:varchar(50);not null" json:"plan_id"`
	BillingInterval  string    `gorm:"type:varchar(16);not null" json:"billing_interval"`
	Country          string    `gorm:"type:char(2);not null" json:"country"`
	Currency         string    `gorm:"type:char(3);not null" json:"currency"`
	PaymentMethod    string    `gorm:"type:varchar(20);not null;default:'card'" json:"payment_method"`
	Amount           int64     `gorm:"not null" json:"amount"`
	DisplayUSD       int64     `gorm:"not null;default:0" json:"display_usd"`
	Email            string    `gorm:"type:varchar(200);not null;index" json:"email"`
	UserID           *uint     `gorm:"index" json:"user_id,omitempty"`
	CheckoutUI       string    `gorm:"type:varchar(10);not null;default:'redirect'" json:"checkout_ui"`
	RedirectURL      string    `gorm:"type:text" json:"redirect_url"`
	InlineParamsJSON string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
