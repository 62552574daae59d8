package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cmsapi/internal/auth"
	"cmsapi/internal/errors"
	"cmsapi/internal/middleware"
	"cmsapi/internal/model"
	"cmsapi/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService  service.AuthService
	jwtService   *auth.JWTService
	secureCookie bool
}

// NewAuthHandler creates a new auth handler. secureCookie marks the session cookie Secure.
func NewAuthHandler(authService service.AuthService, jwtService *auth.JWTService, secureCookie bool) *AuthHandler {
	return &AuthHandler{authService: authService, jwtService: jwtService, secureCookie: secureCookie}
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
	Lastname string `json:"lastname"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Token     string      `json:"token,omitempty"`
	User      *model.User `json:"user"`
	IssuedAt  time.Time   `json:"issuedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} model.User
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.Register(c.Request().Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Lastname: req.Lastname,
	})
	if err != nil {
		return errors.MapErrorToHTTP(err)
	}
	return c.JSON(http.StatusCreated, user)
}

// Login godoc
// @Summary Login user
// @Description Sets the httpOnly token cookie and returns the token with its metadata.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return errors.MapErrorToHTTP(err)
	}

	// metadata for display only, the cookie is what authenticates
	meta, err := h.jwtService.Decode(result.Token)
	if err != nil {
		return err
	}

	c.SetCookie(h.cookie(result.Token, int(h.jwtService.TTL().Seconds())))
	return c.JSON(http.StatusOK, SessionResponse{
		Token:     result.Token,
		User:      result.User,
		IssuedAt:  meta.IssuedAtTime(),
		ExpiresAt: meta.ExpiresAtTime(),
	})
}

// Logout godoc
// @Summary Logout user
// @Description Clears the token cookie. Tokens stay valid until they expire.
// @Tags auth
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(h.cookie("", -1))
	return c.JSON(http.StatusOK, MessageResponse{Message: "logged out successfully"})
}

// Me godoc
// @Summary Current user
// @Tags auth
// @Produce json
// @Security CookieAuth
// @Security BearerAuth
// @Success 200 {object} SessionResponse
// @Failure 401 {object} errors.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return errors.ErrUnauthenticated
	}
	resp := SessionResponse{User: user}
	if claims, ok := middleware.ClaimsFrom(c); ok {
		resp.IssuedAt = claims.IssuedAtTime()
		resp.ExpiresAt = claims.ExpiresAtTime()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
