package usercontext

// Session keys written by the web app's login flow and Locals keys set by
// the middleware.
const (
	KeyUserID  = "user_id"
	KeyEmail   = "email"
	KeyName    = "username"
	KeyIsAdmin = "isAdmin"

	localsKey = "USER_CONTEXT"
)
