package models

import "time"

// Entitlement is the paid tier of a user, or of an email that has not signed
// up yet. SubjectKey is "user:<id>" or "email:<address>".
type Entitlement struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SubjectKey    string     `gorm:"type:varchar(220);not null;uniqueIndex:ux_entitlements_subject" json:"subject_key"`
	UserID        *uint      `gorm:"index" json:"user_id,omitempty"`
	Email         string     `gorm:"type:varchar(200);not null;default:'';index" json:"email"`
	Plan          string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	ExpiresAt     *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	LastReference string     `gorm:"type:varchar(191);default:''" json:"last_reference"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EntitlementGrant is the ledger row of one applied payment. The unique
// (provider, reference) index makes every payment count at most once.
type EntitlementGrant struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	EntitlementID   uint      `gorm:"not null;index" json:"entitlement_id"`
	Provider        string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_entitlement_grants_provider_reference,priority:1" json:"provider"`
	Reference       string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_entitlement_grants_provider_reference,priority:2" json:"reference"`
	Plan            string    `gorm:"type:varchar(50);not null" json:"plan"`
	BillingInterval string    `gorm:"type:varchar(16);not null" json:"billing_interval"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:char(3);not null" json:"currency"`
	PeriodStart     time.Time `gorm:"type:timestamp;not null" json:"period_start"`
	PeriodEnd       time.Time `gorm:"type:timestamp;not null" json:"period_end"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
