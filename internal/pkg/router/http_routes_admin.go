package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.adminToken))

	// Provider credentials
	adminGroup.Get("/payment-settings", h.admin.HandleAdminPaymentSettings)
	adminGroup.Put("/payment-settings/:provider", h.admin.HandleAdminPaymentSettingsSave)
	adminGroup.Post("/payment-settings/test", h.admin.HandleAdminPaymentSettingsTest)
	adminGroup.Post("/payment-settings/migrate", h.admin.HandleAdminPaymentSettingsMigrate)

	// Payment operations
	adminGroup.Post("/payments/sweep", h.admin.HandleAdminSweep)
	adminGroup.Get("/payments/queue", h.admin.HandleAdminQueueStats)
	adminGroup.Post("/payments/:provider/:reference/reconcile", h.admin.HandleAdminReconcile)
}
