package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/checkout"
)

// CheckoutService is the part of the orchestrator the buyer endpoints use.
type CheckoutService interface {
	CreateSession(ctx context.Context, req checkout.Request, caller checkout.Caller) (*checkout.Response, error)
	Capabilities(ctx context.Context, country, currency, interval string) (*checkout.CapabilitiesReport, error)
}

// CheckoutController handles session creation and the capabilities view
type CheckoutController struct {
	checkout CheckoutService
}

// NewCheckoutController creates a new checkout controller
func NewCheckoutController(svc CheckoutService) *CheckoutController {
	return &CheckoutController{checkout: svc}
}

// HandleCreateSession answers with {url} for hosted pages or
// {reference, inline} for widgets.
func (cc *CheckoutController) HandleCreateSession(c *fiber.Ctx) error {
	var req checkout.Request
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body", nil)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}

	resp, err := cc.checkout.CreateSession(c.UserContext(), req, callerFrom(c))
	if err != nil {
		return checkoutError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// checkoutError maps orchestrator errors. Buyers never see provider or
// credential detail.
func checkoutError(c *fiber.Ctx, err error) error {
	var verr *checkout.ValidationError
	var unavailable *checkout.UnavailableError
	switch {
	case errors.As(err, &verr):
		return errorJSON(c, fiber.StatusBadRequest, checkout.ErrValidation.Error(), verr.Fields)
	case errors.Is(err, checkout.ErrValidation):
		return errorJSON(c, fiber.StatusBadRequest, checkout.ErrValidation.Error(), nil)
	case errors.As(err, &unavailable):
		return errorJSON(c, fiber.StatusUnprocessableEntity, checkout.ErrEligibilityUnavailable.Error(), unavailable.Reasons)
	case errors.Is(err, checkout.ErrProviderUnavailable):
		c.Set(fiber.HeaderRetryAfter, "5")
		return errorJSON(c, fiber.StatusServiceUnavailable, checkout.ErrPaymentUnavailable.Error(), nil)
	case errors.Is(err, checkout.ErrPaymentUnavailable):
		return errorJSON(c, fiber.StatusBadGateway, checkout.ErrPaymentUnavailable.Error(), nil)
	}
	log.Errorf("[Checkout] Create session failed: %v", err)
	return errorJSON(c, fiber.StatusInternalServerError, checkout.ErrPaymentUnavailable.Error(), nil)
}

// HandleCapabilities returns the eligibility report for ?country=&currency=&interval=.
func (cc *CheckoutController) HandleCapabilities(c *fiber.Ctx) error {
	report, err := cc.checkout.Capabilities(c.UserContext(), c.Query("country"), c.Query("currency"), c.Query("interval"))
	if err != nil {
		var verr *checkout.ValidationError
		if errors.As(err, &verr) {
			return errorJSON(c, fiber.StatusBadRequest, "invalid query", verr.Fields)
		}
		log.Errorf("[Checkout] Capabilities failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "capabilities unavailable", nil)
	}
	return c.JSON(report)
}
