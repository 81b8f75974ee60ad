package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/session"
	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

// Edge headers carrying the buyer's country, checked in order.
var geoHeaders = []string{"CF-IPCountry", "X-Country-Code"}

// UserContextMiddleware reads the login session, if any, and the edge
// country header into the request's user context. It never writes the
// session.
func UserContextMiddleware(c *fiber.Ctx) error {
	userCtx := usercontext.UserContext{Country: geoCountry(c)}

	store := session.GetSessionStore()
	if store == nil {
		usercontext.Set(c, userCtx)
		return c.Next()
	}
	sess, err := store.Get(c)
	if err != nil {
		// On error: treat as anonymous user
		usercontext.Set(c, userCtx)
		return c.Next()
	}

	userID, ok := sessionUserID(sess.Get(usercontext.KeyUserID))
	if !ok {
		usercontext.Set(c, userCtx)
		return c.Next()
	}

	userCtx.UserID = userID
	userCtx.IsLoggedIn = true
	userCtx.Username, _ = sess.Get(usercontext.KeyName).(string)
	userCtx.Email, _ = sess.Get(usercontext.KeyEmail).(string)
	userCtx.IsAdmin, _ = sess.Get(usercontext.KeyIsAdmin).(bool)
	usercontext.Set(c, userCtx)
	return c.Next()
}

// sessionUserID accepts the numeric shapes different session encoders leave behind.
func sessionUserID(v any) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case uint64:
		return uint(id), id > 0
	case float64:
		return uint(id), id > 0
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return uint(n), err == nil && n > 0
	}
	return 0, false
}

func geoCountry(c *fiber.Ctx) string {
	for _, h := range geoHeaders {
		v := strings.ToUpper(strings.TrimSpace(c.Get(h)))
		// Cloudflare uses XX for unknown and T1 for Tor.
		if len(v) == 2 && v != "XX" && v != "T1" {
			return v
		}
	}
	return ""
}
