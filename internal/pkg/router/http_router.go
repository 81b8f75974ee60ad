package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/payments"
)

type HttpRouter struct {
	checkout       *controllers.CheckoutController
	billing        *controllers.BillingController
	admin          *controllers.AdminPaymentSettingsController
	adminToken     string
	ratePerMinute  int
	limiterStorage fiber.Storage
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally; it only reads the login session
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(svc *payments.Services, limiterStorage fiber.Storage) *HttpRouter {
	// A nil *Manager must not become a non-nil interface.
	var jobs controllers.JobRunner
	if svc.Jobs != nil {
		jobs = svc.Jobs
	}
	return &HttpRouter{
		checkout:       controllers.NewCheckoutController(svc.Checkout),
		billing:        controllers.NewBillingController(svc.Reconciler),
		admin:          controllers.NewAdminPaymentSettingsController(svc.Settings, svc.Reconciler, jobs),
		adminToken:     svc.Config.AdminToken,
		ratePerMinute:  svc.Config.CheckoutRatePerMinute,
		limiterStorage: limiterStorage,
	}
}
