package repository

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/vault"
)

// paymentSettingRepository implements the PaymentSettingRepository interface
type paymentSettingRepository struct {
	db *gorm.DB
}

// NewPaymentSettingRepository creates a new payment setting repository instance
func NewPaymentSettingRepository(db *gorm.DB) PaymentSettingRepository {
	return &paymentSettingRepository{db: db}
}

// GetByProvider returns nil without error when the provider has no row.
func (r *paymentSettingRepository) GetByProvider(ctx context.Context, provider string) (*models.PaymentProviderSetting, error) {
	var setting models.PaymentProviderSetting
	err := r.db.WithContext(ctx).Where("provider = ?", provider).First(&setting).Error
	return notFound(&setting, err)
}

func (r *paymentSettingRepository) List(ctx context.Context) ([]models.PaymentProviderSetting, error) {
	var settings []models.PaymentProviderSetting
	err := r.db.WithContext(ctx).Order("provider ASC").Find(&settings).Error
	return settings, err
}

// Save upserts by provider and reloads the stored row.
func (r *paymentSettingRepository) Save(ctx context.Context, setting *models.PaymentProviderSetting) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"mode",
			"public_key",
			"client_id",
			"webhook_id",
			models.SecretFieldSecretKey,
			models.SecretFieldWebhookSecret,
			models.SecretFieldClientSecret,
			models.SecretFieldSuccessURL,
			"plan_ids_json",
			"allowed_countries",
			"updated_at",
		}),
	}).Create(setting).Error; err != nil {
		return err
	}
	return db.Where("provider = ?", setting.Provider).First(setting).Error
}

func (r *paymentSettingRepository) ListSecretRecords(ctx context.Context) ([]vault.Record, error) {
	settings, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]vault.Record, 0, len(settings))
	for i := range settings {
		records = append(records, vault.Record{ID: settings[i].ID, Fields: settings[i].SecretValues()})
	}
	return records, nil
}

// CompareAndSwapField writes next only while the column still holds prev.
func (r *paymentSettingRepository) CompareAndSwapField(ctx context.Context, id uint, field, prev, next string) (bool, error) {
	if !slices.Contains(models.SecretFields, field) {
		return false, fmt.Errorf("field %q is not a secret column", field)
	}
	tx := r.db.WithContext(ctx).Model(&models.PaymentProviderSetting{}).
		Where("id = ? AND "+field+" = ?", id, prev).
		Update(field, next)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
