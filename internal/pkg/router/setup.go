package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/payments"
)

// Router installs one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers every route of the service. limiterStorage backs
// the checkout rate limit; nil keeps it in memory.
func InstallRouter(app *fiber.App, svc *payments.Services, limiterStorage fiber.Storage) {
	setup(app,
		NewOpsRouter(),
		NewHttpRouter(svc, limiterStorage),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
