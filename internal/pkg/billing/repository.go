package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one DB transaction.
	Transaction(ctx context.Context, fn func(repo Repository) error) error
	MarkConfirmed(ctx context.Context, confirmationID uint, attempt int, p VerifiedPayment) (bool, error)
	CreateGrant(ctx context.Context, grant *models.EntitlementGrant) (bool, error)
	LockEntitlement(ctx context.Context, subjectKey string, userID *uint, email string) (*models.Entitlement, error)
	SaveEntitlement(ctx context.Context, ent *models.Entitlement) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// MarkConfirmed moves the row from verifying to confirmed only while the
// caller's attempt still owns it.
func (r *gormRepository) MarkConfirmed(ctx context.Context, confirmationID uint, attempt int, p VerifiedPayment) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.PaymentConfirmation{}).
		Where("id = ? AND state = ? AND attempts = ?", confirmationID, models.ConfirmationStateVerifying, attempt).
		Updates(map[string]interface{}{
			"state":             models.ConfirmationStateConfirmed,
			"verifying_since":   nil,
			"provider_status":   p.ProviderStatus,
			"verified_amount":   p.VerifiedAmount,
			"verified_currency": p.VerifiedCurrency,
			"transaction_id":    p.TransactionID,
			"resolved_at":       p.At,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// CreateGrant inserts the ledger row and reports false when the
// (provider, reference) grant already exists.
func (r *gormRepository) CreateGrant(ctx context.Context, grant *models.EntitlementGrant) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "reference"},
		},
		DoNothing: true,
	}).Create(grant)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// LockEntitlement returns the subject's row locked FOR UPDATE, creating a
// free row first when none exists.
func (r *gormRepository) LockEntitlement(ctx context.Context, subjectKey string, userID *uint, email string) (*models.Entitlement, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_key"}},
		DoNothing: true,
	}).Create(&models.Entitlement{
		SubjectKey: subjectKey,
		UserID:     userID,
		Email:      email,
		Plan:       "free",
	}).Error; err != nil {
		return nil, err
	}

	var ent models.Entitlement
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subject_key = ?", subjectKey).
		First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormRepository) SaveEntitlement(ctx context.Context, ent *models.Entitlement) error {
	return r.db.WithContext(ctx).Save(ent).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
