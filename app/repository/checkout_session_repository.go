package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// checkoutSessionRepository implements the CheckoutSessionRepository interface
type checkoutSessionRepository struct {
	db *gorm.DB
}

// NewCheckoutSessionRepository creates a new checkout session repository instance
func NewCheckoutSessionRepository(db *gorm.DB) CheckoutSessionRepository {
	return &checkoutSessionRepository{db: db}
}

func (r *checkoutSessionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&s).Error
	return notFound(&s, err)
}

func (r *checkoutSessionRepository) GetByReference(ctx context.Context, provider, reference string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.db.WithContext(ctx).Where("provider = ? AND reference = ?", provider, reference).First(&s).Error
	return notFound(&s, err)
}

func (r *checkoutSessionRepository) GetByID(ctx context.Context, id uint) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.db.WithContext(ctx).First(&s, id).Error
	return notFound(&s, err)
}

// CreateWithConfirmation returns ErrDuplicate when the idempotency key or
// the provider reference already exists.
func (r *checkoutSessionRepository) CreateWithConfirmation(ctx context.Context, session *models.CheckoutSession) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		return tx.Create(&models.PaymentConfirmation{
			CheckoutSessionID: session.ID,
			Provider:          session.Provider,
			Reference:         session.Reference,
			State:             models.ConfirmationStateInitiated,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}
