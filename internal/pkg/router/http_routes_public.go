package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Buyer checkout
	checkoutGroup := app.Group("/checkout", middleware.CheckoutRateLimit(h.ratePerMinute, h.limiterStorage))
	checkoutGroup.Post("/create-session", h.checkout.HandleCreateSession)
	checkoutGroup.Post("/confirm", h.billing.HandleConfirm)

	// Read-only eligibility view, no secrets
	app.Get("/gateways/capabilities", h.checkout.HandleCapabilities)

	// Provider webhooks (no session, signature-verified by the reconciler)
	app.Post("/webhooks/:provider", h.billing.HandleWebhook)
}
