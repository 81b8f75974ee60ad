package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/checkout"
	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

// errorJSON writes the {error, details?} body used by every endpoint.
func errorJSON(c *fiber.Ctx, status int, message string, details any) error {
	body := fiber.Map{"error": message}
	if details != nil {
		body["details"] = details
	}
	return c.Status(status).JSON(body)
}

// callerFrom turns the request's user context into the checkout caller.
func callerFrom(c *fiber.Ctx) checkout.Caller {
	u := usercontext.GetUserContext(c)
	return checkout.Caller{
		UserID:        usercontext.UserIDPtr(c),
		Name:          u.Username,
		Authenticated: u.IsLoggedIn,
		GeoCountry:    u.Country,
	}
}
