package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	echoSwagger "github.com/swaggo/echo-swagger"

	"cmsapi/internal/acl"
	apperrors "cmsapi/internal/errors"
	"cmsapi/internal/handler"
	"cmsapi/internal/middleware"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth     *handler.AuthHandler
	Recovery *handler.RecoveryHandler
	Settings *handler.SettingsHandler
	ACL      *handler.ACLHandler
}

// Deps are the middlewares' collaborators.
type Deps struct {
	Session     echo.MiddlewareFunc
	Guard       *acl.Guard
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	Log         *logrus.Entry
	// IPExtractor decides the client address used for rate limiting. Nil means the socket peer.
	IPExtractor echo.IPExtractor
}

// ClientIP returns the extractor for a deployment. Forwarded headers are only honored
// behind a proxy, and then only from loopback or private hops.
func ClientIP(trustProxy bool) echo.IPExtractor {
	if !trustProxy {
		return echo.ExtractIPDirect()
	}
	return echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)
}

// Register wires routes and middleware.
func Register(e *echo.Echo, deps Deps, h Handlers) {
	e.IPExtractor = deps.IPExtractor
	if e.IPExtractor == nil {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(echomw.RequestID())
	e.Use(requestLogger(deps.Log))
	e.Use(echomw.Recover())

	e.Validator = NewValidator()
	e.HTTPErrorHandler = apperrors.HTTPErrorHandler(deps.Log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	public := api.Group("", deps.RateLimiter.Middleware("public"))
	public.POST("/auth/register", h.Auth.Register)
	public.POST("/auth/login", h.Auth.Login)
	public.POST("/auth/logout", h.Auth.Logout)
	public.POST("/auth/forgot-password", h.Recovery.ForgotPassword)
	public.POST("/auth/resend-code", h.Recovery.ResendCode)
	public.POST("/auth/verify-code", h.Recovery.VerifyCode)
	public.POST("/auth/reset-password", h.Recovery.ResetPassword)

	// Secured routes (require a session)
	secured := api.Group("", deps.Session, deps.RateLimiter.Middleware("private"))
	secured.GET("/auth/me", h.Auth.Me)

	can := func(rule acl.Rule) echo.MiddlewareFunc {
		return middleware.RequirePermission(deps.Guard, rule)
	}

	// Settings routes
	secured.GET("/settings", h.Settings.GetAll, can(acl.Require("settings:read")))
	secured.PUT("/settings", h.Settings.BulkUpdate, can(acl.Require("settings:update")))
	secured.POST("/settings/invalidate", h.Settings.Invalidate, can(acl.Require("settings:update")))
	secured.GET("/settings/:key", h.Settings.GetByPrefix, can(acl.Require("settings:read")))
	secured.PUT("/settings/:key", h.Settings.Update, can(acl.Require("settings:update")))

	// ACL routes
	secured.GET("/acl", h.ACL.Get, can(acl.Any("acl:read", "acl:reload")))
	secured.POST("/acl/reload", h.ACL.Reload, can(acl.Require("acl:reload")))
}

func requestLogger(log *logrus.Entry) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if log == nil {
				return nil
			}
			log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"remote_ip":  v.RemoteIP,
				"request_id": v.RequestID,
			}).Info("request")
			return nil
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator returns the validator installed on the echo instance.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
