package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the caller as far as the checkout service knows it
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	// Country is the edge-detected ISO country of the request, if any.
	Country string `json:"country"`
}

// Set stores the user context on the request
func Set(c *fiber.Ctx, u UserContext) {
	c.Locals(localsKey, u)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if u, ok := c.Locals(localsKey).(UserContext); ok {
		return u
	}
	return UserContext{}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// UserIDPtr returns the caller's id, or nil for guests
func UserIDPtr(c *fiber.Ctx) *uint {
	u := GetUserContext(c)
	if !u.IsLoggedIn || u.UserID == 0 {
		return nil
	}
	id := u.UserID
	return &id
}
