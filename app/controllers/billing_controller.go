package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
)

// Reconciler is the confirmation state machine behind callbacks and webhooks.
type Reconciler interface {
	Confirm(ctx context.Context, t reconcile.Trigger) (*reconcile.Outcome, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*reconcile.WebhookResult, error)
}

// BillingController handles client confirmations and provider webhooks
type BillingController struct {
	reconciler Reconciler
}

// NewBillingController creates a new billing controller
func NewBillingController(r Reconciler) *BillingController {
	return &BillingController{reconciler: r}
}

type confirmRequest struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	// TransactionID is accepted from widgets but never trusted; the provider
	// is always asked.
	TransactionID string `json:"transactionId"`
}

// HandleConfirm is the inline widget callback. The widget's own verdict is
// ignored; the reference is verified with the provider.
func (bc *BillingController) HandleConfirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body", nil)
	}
	p, ok := gateway.ParseProvider(req.Provider)
	if !ok || strings.TrimSpace(req.Reference) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "provider and reference are required", nil)
	}

	out, err := bc.reconciler.Confirm(c.UserContext(), reconcile.Trigger{
		Source:    reconcile.SourceCallback,
		Provider:  p,
		Reference: strings.TrimSpace(req.Reference),
	})
	switch {
	case errors.Is(err, reconcile.ErrUnknownReference):
		return errorJSON(c, fiber.StatusNotFound, "unknown payment reference", nil)
	case errors.Is(err, reconcile.ErrUnknownProvider), errors.Is(err, reconcile.ErrInvalidTrigger):
		return errorJSON(c, fiber.StatusBadRequest, "provider and reference are required", nil)
	case errors.Is(err, reconcile.ErrUnavailable):
		c.Set(fiber.HeaderRetryAfter, "10")
		return errorJSON(c, fiber.StatusServiceUnavailable, "payment verification temporarily unavailable, please retry", nil)
	case err != nil:
		log.Errorf("[Billing] Confirm %s/%s failed: %v", p, req.Reference, err)
		return errorJSON(c, fiber.StatusInternalServerError, "payment verification failed", nil)
	}

	switch {
	case out.Confirmed():
		return c.JSON(fiber.Map{"ok": true, "reference": out.Reference, "state": out.State})
	case out.Pending:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": false, "pending": true, "reference": out.Reference, "state": out.State})
	default:
		return errorJSON(c, fiber.StatusBadRequest, "payment was not completed", fiber.Map{"reference": out.Reference, "state": out.State})
	}
}

// HandleWebhook acknowledges a verified delivery once it is stored. A bad
// signature is always a 400 so the provider never treats it as delivered.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	rawBody := append([]byte(nil), c.BodyRaw()...)

	headers := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers.Add(string(k), string(v))
	})

	res, err := bc.reconciler.HandleWebhook(c.UserContext(), provider, rawBody, headers)
	switch {
	case errors.Is(err, reconcile.ErrUnknownProvider):
		return errorJSON(c, fiber.StatusNotFound, "unknown provider", nil)
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_signature", nil)
	case errors.Is(err, reconcile.ErrInvalidPayload):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", nil)
	case errors.Is(err, reconcile.ErrUnavailable):
		return errorJSON(c, fiber.StatusServiceUnavailable, "webhook_unavailable", nil)
	case err != nil:
		log.Errorf("[Billing] %s webhook failed: %v", provider, err)
		return errorJSON(c, fiber.StatusInternalServerError, "webhook_failed", nil)
	}
	return c.JSON(fiber.Map{"ok": true, "duplicate": res.Duplicate, "queued": res.Queued})
}
