package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"cmsapi/internal/auth"
	apperrors "cmsapi/internal/errors"
	"cmsapi/internal/metrics"
	"cmsapi/internal/model"
)

// TokenCookie is the cookie carrying the session token.
const TokenCookie = "token"

// UserFinder loads a user with its current roles.
type UserFinder interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// SessionConfig configures Session.
type SessionConfig struct {
	JWT   *auth.JWTService
	Users UserFinder
	Log   *logrus.Entry
	// Debug adds the failure reason, client IP and timestamp to 401 bodies.
	Debug bool
	Now   func() time.Time
}

// Session authenticates the request from the token cookie or a bearer header,
// then reloads the user so the identity carries current roles.
func Session(cfg SessionConfig) echo.MiddlewareFunc {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	verify := echojwt.WithConfig(echojwt.Config{
		ContextKey:  claimsKey,
		TokenLookup: "cookie:" + TokenCookie + ",header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			claims, err := cfg.JWT.Verify(token)
			if err != nil {
				c.Set(verifyErrKey, err)
				return nil, err
			}
			return claims, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			verifyErr, _ := c.Get(verifyErrKey).(error)
			switch {
			case verifyErr == nil:
				return cfg.reject(c, "missing", "no token provided")
			case errors.Is(verifyErr, auth.ErrTokenExpired):
				return cfg.reject(c, "expired", "token expired")
			case errors.Is(verifyErr, auth.ErrMissingSecret):
				return verifyErr
			default:
				return cfg.reject(c, "invalid", "invalid token")
			}
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(cfg.resolve(next))
	}
}

func (cfg SessionConfig) resolve(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := ClaimsFrom(c)
		if !ok {
			return cfg.reject(c, "invalid", "invalid token")
		}

		user, err := cfg.Users.FindByID(c.Request().Context(), claims.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cfg.reject(c, "unknown_user", "user not found")
		}
		if err != nil {
			metrics.AuthAttempts.WithLabelValues("error").Inc()
			return err
		}

		SetIdentity(c, user)
		metrics.AuthAttempts.WithLabelValues("ok").Inc()
		return next(c)
	}
}

func (cfg SessionConfig) reject(c echo.Context, outcome, reason string) error {
	metrics.AuthAttempts.WithLabelValues(outcome).Inc()
	cfg.Log.WithFields(logrus.Fields{
		"reason": reason,
		"ip":     c.RealIP(),
		"path":   c.Path(),
	}).Info("authentication rejected")

	httpErr := apperrors.NewHTTPError(http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
	if cfg.Debug {
		httpErr.WithDebug(&apperrors.DebugInfo{
			Reason:    reason,
			IP:        c.RealIP(),
			Timestamp: cfg.Now().UTC().Format(time.RFC3339),
		})
	}
	return httpErr
}
