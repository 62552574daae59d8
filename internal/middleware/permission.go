package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"cmsapi/internal/acl"
	apperrors "cmsapi/internal/errors"
)

// RequirePermission lets the request through only when the session identity satisfies rule.
// It must run after Session.
func RequirePermission(guard *acl.Guard, rule acl.Rule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperrors.ErrUnauthenticated
			}
			allowed, err := guard.Authorize(c.Request().Context(), id.Roles, rule)
			if err != nil {
				return fmt.Errorf("authorize %s: %w", rule, err)
			}
			if !allowed {
				return apperrors.ErrForbidden
			}
			return next(c)
		}
	}
}
