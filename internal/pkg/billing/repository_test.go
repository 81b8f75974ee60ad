package billing

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayFox/app/models"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRepository(db), mock
}

func TestMarkConfirmed_IsConditional(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"owned attempt", 1, true},
		{"taken over", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `payment_confirmations` SET")).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.MarkConfirmed(context.Background(), 3, 2, VerifiedPayment{VerifiedAmount: 499, VerifiedCurrency: "USD", At: time.Now()})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateGrant_DuplicateIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `entitlement_grants`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateGrant(context.Background(), &models.EntitlementGrant{Provider: "stripe", Reference: "cs_1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWebhookEventIfNotExists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `billing_webhook_events`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `billing_webhook_events` WHERE provider = ? AND provider_event_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id"}).AddRow(4, "paystack", "evt_9"))

	created, stored, err := repo.CreateWebhookEventIfNotExists(context.Background(), &models.BillingWebhookEvent{Provider: "paystack", ProviderEventID: "evt_9"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint(4), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockEntitlement(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `entitlements`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_key", "plan"}).AddRow(2, "user:9", "premium"))

	ent, err := repo.LockEntitlement(context.Background(), "user:9", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "premium", ent.Plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}
