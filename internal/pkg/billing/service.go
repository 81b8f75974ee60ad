package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
)

// Service is the entitlement ledger. It is the only writer of entitlements
// and applies each provider reference at most once.
type Service struct {
	repo      Repository
	trialDays int
	now       func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, trialDays int) *Service {
	return &Service{repo: repo, trialDays: trialDays, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, trialDays int) *Service {
	return NewService(NewRepository(db), trialDays)
}

// ConfirmPayment marks the claimed confirmation as confirmed and extends the
// buyer's entitlement in one transaction. A second call for the same
// reference finds the grant and changes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	reference := strings.TrimSpace(in.Reference)
	if in.ConfirmationID == 0 || provider == "" || reference == "" {
		return nil, fmt.Errorf("%w: confirmation, provider and reference are required", ErrInvalidConfirmation)
	}
	if (in.UserID == nil || *in.UserID == 0) && strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("%w: user or email is required", ErrInvalidConfirmation)
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	plan := entitlements.Normalize(in.Plan)

	var result ConfirmResult
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		ok, err := repo.MarkConfirmed(ctx, in.ConfirmationID, in.Attempt, VerifiedPayment{
			ProviderStatus:   in.ProviderStatus,
			VerifiedAmount:   in.Amount,
			VerifiedCurrency: strings.ToUpper(in.Currency),
			TransactionID:    in.TransactionID,
			At:               at,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConfirmationConflict
		}

		subject := entitlements.SubjectKey(in.UserID, in.Email)
		ent, err := repo.LockEntitlement(ctx, subject, in.UserID, strings.ToLower(strings.TrimSpace(in.Email)))
		if err != nil {
			return err
		}

		start, end, err := entitlements.Extend(entitlements.Plan(ent.Plan), ent.ExpiresAt, plan, in.Interval, s.trialDays, at)
		if err != nil {
			return err
		}

		created, err := repo.CreateGrant(ctx, &models.EntitlementGrant{
			EntitlementID:   ent.ID,
			Provider:        provider,
			Reference:       reference,
			Plan:            string(plan),
			BillingInterval: in.Interval,
			Amount:          in.Amount,
			Currency:        strings.ToUpper(in.Currency),
			PeriodStart:     start,
			PeriodEnd:       end,
		})
		if err != nil {
			return err
		}
		if !created {
			log.Infof("[Billing] Grant for %s/%s already applied", provider, reference)
			result = ConfirmResult{Plan: ent.Plan, PeriodEnd: ent.ExpiresAt}
			return nil
		}

		ent.Plan = string(plan)
		ent.ExpiresAt = &end
		ent.LastReference = reference
		if err := repo.SaveEntitlement(ctx, ent); err != nil {
			return err
		}
		result = ConfirmResult{Applied: true, Plan: ent.Plan, PeriodEnd: &end}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		log.Infof("[Billing] Applied %s/%s: plan=%s until %s", provider, reference, result.Plan, result.PeriodEnd.Format(time.RFC3339))
	}
	return &result, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		Reference:       strings.TrimSpace(in.Reference),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}
