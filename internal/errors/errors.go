package errors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"cmsapi/internal/acl"
	"cmsapi/internal/recovery"
	"cmsapi/internal/service"
	"cmsapi/internal/settings"
)

var (
	// ErrUnauthenticated is returned when a request carries no valid session.
	ErrUnauthenticated = errors.New("unauthorized")
	// ErrForbidden is returned when the caller lacks a required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when a client exceeds the request rate.
	ErrRateLimited = errors.New("too many requests")
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Message string     `json:"message"`
	Code    string     `json:"code"`
	Debug   *DebugInfo `json:"debug,omitempty"`
}

// DebugInfo is attached to 401 responses when auth debugging is on.
type DebugInfo struct {
	Reason    string `json:"reason"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Debug      *DebugInfo
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// WithDebug attaches diagnostics to the response body.
func (e *HTTPError) WithDebug(d *DebugInfo) *HTTPError {
	e.Debug = d
	return e
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Message: e.Message,
		Code:    e.Code,
		Debug:   e.Debug,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Unknown errors become a generic 500.
func MapErrorToHTTP(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return NewHTTPError(http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
	case errors.Is(err, ErrForbidden):
		return NewHTTPError(http.StatusForbidden, "You do not have permission to perform this action.", "FORBIDDEN")
	case errors.Is(err, ErrRateLimited):
		return NewHTTPError(http.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMITED")
	case errors.Is(err, service.ErrInvalidCredentials):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "INVALID_CREDENTIALS")
	case errors.Is(err, service.ErrUserAlreadyExists):
		return NewHTTPError(http.StatusConflict, err.Error(), "USER_ALREADY_EXISTS")
	case errors.Is(err, recovery.ErrThrottled):
		return NewHTTPError(http.StatusTooManyRequests, "Please wait before requesting a new code.", "RECOVERY_THROTTLED")
	case errors.Is(err, recovery.ErrInvalidCode):
		return NewHTTPError(http.StatusBadRequest, "Invalid or expired code.", "INVALID_CODE")
	case errors.Is(err, recovery.ErrSessionExpired):
		return NewHTTPError(http.StatusBadRequest, "Expired session.", "SESSION_EXPIRED")
	case errors.Is(err, recovery.ErrInvalidResetToken):
		return NewHTTPError(http.StatusBadRequest, "Invalid or expired reset token.", "INVALID_RESET_TOKEN")
	case errors.Is(err, settings.ErrUnknownKey):
		return NewHTTPError(http.StatusNotFound, "setting not found", "SETTING_NOT_FOUND")
	case errors.Is(err, settings.ErrInvalidValue):
		return NewHTTPError(http.StatusBadRequest, err.Error(), "INVALID_SETTING_VALUE")
	case errors.Is(err, acl.ErrInvalidRule):
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INVALID_RULE")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// HTTPErrorHandler renders every error as an ErrorResponse. 5xx causes are logged, never returned.
func HTTPErrorHandler(log *logrus.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var httpErr *HTTPError
		var echoErr *echo.HTTPError
		switch {
		case errors.As(err, &httpErr):
		case errors.As(err, &echoErr):
			httpErr = fromEcho(echoErr)
		default:
			httpErr = MapErrorToHTTP(err)
		}

		if httpErr.StatusCode >= http.StatusInternalServerError && log != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(httpErr.StatusCode)
			return
		}
		_ = c.JSON(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
}

func fromEcho(e *echo.HTTPError) *HTTPError {
	msg, ok := e.Message.(string)
	if !ok || msg == "" {
		msg = http.StatusText(e.Code)
	}
	if e.Code >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	return NewHTTPError(e.Code, msg, statusCode(e.Code))
}

func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
