package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/vault"
)

// ErrDuplicate is returned when a unique index rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

// PaymentSettingRepository defines the operations on provider credential rows
type PaymentSettingRepository interface {
	GetByProvider(ctx context.Context, provider string) (*models.PaymentProviderSetting, error)
	List(ctx context.Context) ([]models.PaymentProviderSetting, error)
	Save(ctx context.Context, setting *models.PaymentProviderSetting) error

	// vault.RecordStore, used by the plaintext migration
	ListSecretRecords(ctx context.Context) ([]vault.Record, error)
	CompareAndSwapField(ctx context.Context, id uint, field, prev, next string) (bool, error)
}

// CheckoutSessionRepository defines the operations on stored checkout sessions
type CheckoutSessionRepository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutSession, error)
	GetByReference(ctx context.Context, provider, reference string) (*models.CheckoutSession, error)
	GetByID(ctx context.Context, id uint) (*models.CheckoutSession, error)
	// CreateWithConfirmation stores the session and its initiated
	// confirmation row atomically.
	CreateWithConfirmation(ctx context.Context, session *models.CheckoutSession) error
}

// ConfirmationRepository defines the conditional state transitions of the
// reconciler. Transitions report false when the row was not in the expected
// state.
type ConfirmationRepository interface {
	Get(ctx context.Context, provider, reference string) (*models.PaymentConfirmation, error)
	BeginVerifying(ctx context.Context, id uint, source string, now, staleBefore time.Time) (*models.PaymentConfirmation, bool, error)
	Release(ctx context.Context, id uint, attempt int, providerStatus string) error
	Reject(ctx context.Context, id uint, attempt int, rejection Rejection) (bool, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentConfirmation, error)
}

// Rejection is the verified data stored with a rejected confirmation.
type Rejection struct {
	ProviderStatus   string
	VerifiedAmount   int64
	VerifiedCurrency string
	TransactionID    string
	Reason           string
	At               time.Time
}

// Repositories struct holds all repository instances
type Repositories struct {
	PaymentSetting  PaymentSettingRepository
	CheckoutSession CheckoutSessionRepository
	Confirmation    ConfirmationRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PaymentSetting:  NewPaymentSettingRepository(db),
		CheckoutSession: NewCheckoutSessionRepository(db),
		Confirmation:    NewConfirmationRepository(db),
	}
}

// notFound maps gorm.ErrRecordNotFound to a nil result.
func notFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
