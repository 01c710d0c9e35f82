package middleware

// identity.go reads the caller's identity that JWTAuth stored in the Echo
// context.  Handlers use UserID and IsAdmin; the rate limiter uses
// subject to build per-user bucket keys.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/model"
)

// UserID returns the authenticated user's id.  ok is false on routes that
// are not behind JWTAuth.
func UserID(c echo.Context) (id uint64, ok bool) {
	id, ok = c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated user's role or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// IsAdmin reports whether the caller holds the ADMIN role.
func IsAdmin(c echo.Context) bool { return Role(c) == model.RoleAdmin }

// subject identifies the caller for rate limiting, "anon" when the
// request is not authenticated.
func subject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
