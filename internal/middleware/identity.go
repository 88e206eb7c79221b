package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Identity returns the authenticated user id and role. ok is false on
// routes without JWTAuth or when the claims were not usable.
func Identity(c echo.Context) (userID uint64, role string, ok bool) {
	id, idOK := c.Get(ctxUserID).(uint64)
	role, roleOK := c.Get(ctxRole).(string)
	return id, role, idOK && roleOK && id != 0
}

// subject is the rate limit key part for the caller: the user id, or
// "anon" for public routes.
func subject(c echo.Context) string {
	if id, _, ok := Identity(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
