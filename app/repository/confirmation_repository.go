package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// confirmationRepository implements the ConfirmationRepository interface
type confirmationRepository struct {
	db *gorm.DB
}

// NewConfirmationRepository creates a new confirmation repository instance
func NewConfirmationRepository(db *gorm.DB) ConfirmationRepository {
	return &confirmationRepository{db: db}
}

func (r *confirmationRepository) Get(ctx context.Context, provider, reference string) (*models.PaymentConfirmation, error) {
	var c models.PaymentConfirmation
	err := r.db.WithContext(ctx).Where("provider = ? AND reference = ?", provider, reference).First(&c).Error
	return notFound(&c, err)
}

// BeginVerifying moves an initiated row, or a verifying row older than
// staleBefore, to verifying and bumps the attempt counter. The returned row
// carries the attempt number later transitions must present.
func (r *confirmationRepository) BeginVerifying(ctx context.Context, id uint, source string, now, staleBefore time.Time) (*models.PaymentConfirmation, bool, error) {
	db := r.db.WithContext(ctx)
	tx := db.Model(&models.PaymentConfirmation{}).
		Where("id = ? AND (state = ? OR (state = ? AND verifying_since < ?))",
			id, models.ConfirmationStateInitiated, models.ConfirmationStateVerifying, staleBefore).
		Updates(map[string]interface{}{
			"state":           models.ConfirmationStateVerifying,
			"verifying_since": now,
			"last_source":     source,
			"attempts":        gorm.Expr("attempts + 1"),
		})
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, false, nil
	}

	var c models.PaymentConfirmation
	if err := db.First(&c, id).Error; err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// Release hands a verifying row back to initiated so a later trigger can retry.
func (r *confirmationRepository) Release(ctx context.Context, id uint, attempt int, providerStatus string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentConfirmation{}).
		Where("id = ? AND state = ? AND attempts = ?", id, models.ConfirmationStateVerifying, attempt).
		Updates(map[string]interface{}{
			"state":           models.ConfirmationStateInitiated,
			"verifying_since": nil,
			"provider_status": providerStatus,
		}).Error
}

func (r *confirmationRepository) Reject(ctx context.Context, id uint, attempt int, rej Rejection) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.PaymentConfirmation{}).
		Where("id = ? AND state = ? AND attempts = ?", id, models.ConfirmationStateVerifying, attempt).
		Updates(map[string]interface{}{
			"state":             models.ConfirmationStateRejected,
			"verifying_since":   nil,
			"provider_status":   rej.ProviderStatus,
			"verified_amount":   rej.VerifiedAmount,
			"verified_currency": rej.VerifiedCurrency,
			"transaction_id":    rej.TransactionID,
			"reject_reason":     truncate(rej.Reason, 255),
			"resolved_at":       rej.At,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ListStale returns non-terminal rows created before createdBefore, oldest first.
func (r *confirmationRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentConfirmation, error) {
	var out []models.PaymentConfirmation
	err := r.db.WithContext(ctx).
		Where("state IN ? AND created_at < ?",
			[]string{models.ConfirmationStateInitiated, models.ConfirmationStateVerifying}, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
