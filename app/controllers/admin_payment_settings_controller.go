package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentsettings"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayFox/internal/pkg/vault"
)

// ============================================================================
// ADMIN PAYMENT SETTINGS CONTROLLER
// ============================================================================

// PaymentSettings is the admin view of the provider credential store.
type PaymentSettings interface {
	List(ctx context.Context) ([]paymentsettings.View, error)
	Save(ctx context.Context, in paymentsettings.SaveInput) (*paymentsettings.View, error)
	TestConnection(ctx context.Context, in paymentsettings.TestInput) error
	Migrate(ctx context.Context, rekey bool) (vault.MigrationResult, error)
}

// JobRunner is the background job manager as seen by operators.
type JobRunner interface {
	RunPeriodicOnce(ctx context.Context, name string) (bool, error)
	Stats(ctx context.Context) (*jobqueue.Stats, error)
}

// AdminPaymentSettingsController handles the operator endpoints. Unlike the
// buyer endpoints it returns provider detail.
type AdminPaymentSettingsController struct {
	settings   PaymentSettings
	reconciler Reconciler
	jobs       JobRunner
}

// NewAdminPaymentSettingsController creates a new admin payment settings controller.
// jobs may be nil when no background worker is configured.
func NewAdminPaymentSettingsController(settings PaymentSettings, r Reconciler, jobs JobRunner) *AdminPaymentSettingsController {
	return &AdminPaymentSettingsController{settings: settings, reconciler: r, jobs: jobs}
}

// handleError is a helper method for consistent error handling
func (ac *AdminPaymentSettingsController) handleError(c *fiber.Ctx, message string, err error) error {
	var perr *gateway.ProviderError
	switch {
	case errors.Is(err, paymentsettings.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, message, err.Error())
	case errors.Is(err, paymentsettings.ErrUnknownProvider):
		return errorJSON(c, fiber.StatusNotFound, message, err.Error())
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return errorJSON(c, fiber.StatusUnprocessableEntity, message, err.Error())
	case errors.Is(err, gateway.ErrNotConfigured), errors.Is(err, gateway.ErrPlanNotConfigured):
		return errorJSON(c, fiber.StatusUnprocessableEntity, message, err.Error())
	case errors.Is(err, vault.ErrDecryption):
		return errorJSON(c, fiber.StatusConflict, message, err.Error())
	case errors.As(err, &perr), errors.Is(err, gateway.ErrProviderUnavailable):
		return errorJSON(c, fiber.StatusBadGateway, message, err.Error())
	}
	log.Errorf("[Admin] %s: %v", message, err)
	return errorJSON(c, fiber.StatusInternalServerError, message, err.Error())
}

// HandleAdminPaymentSettings lists every stored provider with masked secrets
func (ac *AdminPaymentSettingsController) HandleAdminPaymentSettings(c *fiber.Ctx) error {
	views, err := ac.settings.List(c.UserContext())
	if err != nil {
		return ac.handleError(c, "failed to load payment settings", err)
	}
	return c.JSON(fiber.Map{"providers": views})
}

// HandleAdminPaymentSettingsSave upserts one provider; secrets are encrypted
// before they are stored.
func (ac *AdminPaymentSettingsController) HandleAdminPaymentSettingsSave(c *fiber.Ctx) error {
	var in paymentsettings.SaveInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body", nil)
	}
	in.Provider = c.Params("provider")

	view, err := ac.settings.Save(c.UserContext(), in)
	if err != nil {
		return ac.handleError(c, "failed to save payment settings", err)
	}
	return c.JSON(view)
}

// HandleAdminPaymentSettingsTest runs the provider's connection check with
// the submitted, not yet persisted, credentials.
func (ac *AdminPaymentSettingsController) HandleAdminPaymentSettingsTest(c *fiber.Ctx) error {
	var in paymentsettings.TestInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body", nil)
	}
	if err := ac.settings.TestConnection(c.UserContext(), in); err != nil {
		return ac.handleError(c, "connection test failed", err)
	}
	return c.JSON(fiber.Map{"ok": true, "provider": in.Provider})
}

// HandleAdminPaymentSettingsMigrate encrypts stored plaintext secrets.
// ?rekey=true also re-seals envelopes written under legacy keys.
func (ac *AdminPaymentSettingsController) HandleAdminPaymentSettingsMigrate(c *fiber.Ctx) error {
	res, err := ac.settings.Migrate(c.UserContext(), c.QueryBool("rekey", false))
	if err != nil {
		return ac.handleError(c, "credential migration failed", err)
	}
	log.Infof("[Admin] Credential migration: scanned=%d updated=%d rekeyed=%d", res.Scanned, res.Updated, res.Rekeyed)
	return c.JSON(res)
}

// HandleAdminReconcile re-asks the provider about one attempt and applies
// the verdict like any other confirmation source.
func (ac *AdminPaymentSettingsController) HandleAdminReconcile(c *fiber.Ctx) error {
	p, ok := gateway.ParseProvider(c.Params("provider"))
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "payment not found", reconcile.ErrUnknownProvider.Error())
	}
	ref := c.Params("reference")
	out, err := ac.reconciler.Confirm(c.UserContext(), reconcile.Trigger{
		Source:    reconcile.SourceAdmin,
		Provider:  p,
		Reference: ref,
	})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrInvalidTrigger):
			return errorJSON(c, fiber.StatusBadRequest, "invalid reconcile request", err.Error())
		case errors.Is(err, reconcile.ErrUnknownProvider), errors.Is(err, reconcile.ErrUnknownReference):
			return errorJSON(c, fiber.StatusNotFound, "payment not found", err.Error())
		case errors.Is(err, reconcile.ErrUnavailable):
			return errorJSON(c, fiber.StatusServiceUnavailable, "payment verification unavailable", err.Error())
		}
		log.Errorf("[Admin] Reconcile %s/%s failed: %v", p, ref, err)
		return errorJSON(c, fiber.StatusInternalServerError, "reconcile failed", err.Error())
	}
	log.Infof("[Admin] Reconciled %s/%s: state=%s applied=%t", p, ref, out.State, out.Applied)
	return c.JSON(out)
}

// HandleAdminSweep runs the pending payment sweep now instead of waiting
// for its next tick.
func (ac *AdminPaymentSettingsController) HandleAdminSweep(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "background jobs are not configured", nil)
	}
	ok, err := ac.jobs.RunPeriodicOnce(c.UserContext(), reconcile.SweepTaskName)
	if err != nil {
		log.Errorf("[Admin] Sweep failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "sweep failed", err.Error())
	}
	if !ok {
		return errorJSON(c, fiber.StatusServiceUnavailable, "sweep is not registered", nil)
	}
	return c.JSON(fiber.Map{"ok": true, "task": reconcile.SweepTaskName})
}

// HandleAdminQueueStats reports queue depth and per-status job counters.
func (ac *AdminPaymentSettingsController) HandleAdminQueueStats(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "background jobs are not configured", nil)
	}
	stats, err := ac.jobs.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Queue stats failed: %v", err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue unavailable", err.Error())
	}
	return c.JSON(stats)
}
