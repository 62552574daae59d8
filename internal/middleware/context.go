package middleware

import (
	"github.com/labstack/echo/v4"

	"cmsapi/internal/auth"
	"cmsapi/internal/model"
)

const (
	claimsKey    = "claims"
	identityKey  = "identity"
	userKey      = "currentUser"
	verifyErrKey = "tokenVerifyError"
)

// IdentityFrom returns the identity set by the session middleware.
func IdentityFrom(c echo.Context) (auth.Identity, bool) {
	id, ok := c.Get(identityKey).(auth.Identity)
	return id, ok
}

// UserFrom returns the user record loaded by the session middleware.
func UserFrom(c echo.Context) (*model.User, bool) {
	u, ok := c.Get(userKey).(*model.User)
	return u, ok && u != nil
}

// ClaimsFrom returns the verified token claims.
func ClaimsFrom(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// SetIdentity attaches an authenticated user to the request.
func SetIdentity(c echo.Context, user *model.User) {
	c.Set(userKey, user)
	c.Set(identityKey, auth.IdentityFromUser(user))
}
