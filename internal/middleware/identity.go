package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/authgate/internal/model"
)

const identityKey = "identity"

func setIdentity(c echo.Context, id model.Identity) { c.Set(identityKey, id) }

// IdentityFrom returns the identity JWTAuth stored for this request.
func IdentityFrom(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(identityKey).(model.Identity)
	return id, ok
}

// userID returns the authenticated user id for logging, or "guest".
func userID(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.ID, 10)
	}
	return "guest"
}
