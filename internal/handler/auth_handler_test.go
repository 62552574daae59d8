package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cmsapi/internal/auth"
	"cmsapi/internal/middleware"
	"cmsapi/internal/model"
	"cmsapi/internal/service"
)

// MockAuthService is a mock implementation of service.AuthService.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, in service.RegisterInput) (*model.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*service.LoginResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func TestAuthHandler_LoginSetsCookie(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", time.Hour)
	user := &model.User{ID: 3, Email: "u@x.com", Name: "U", PasswordHash: "$2a$10$hidden"}
	token, claims, err := jwtService.Issue(auth.IdentityFromUser(user), 0)
	require.NoError(t, err)

	svc := new(MockAuthService)
	svc.On("Login", mock.Anything, "u@x.com", "password123").
		Return(&service.LoginResult{Token: token, Claims: claims, User: user}, nil)
	e := newTestEcho()
	e.POST("/api/auth/login", NewAuthHandler(svc, jwtService, true).Login)

	rec := doJSON(e, http.MethodPost, "/api/auth/login", `{"email":"u@x.com","password":"password123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookie, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	var body SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, token, body.Token)
	assert.Equal(t, time.Hour, body.ExpiresAt.Sub(body.IssuedAt))
	assert.NotContains(t, rec.Body.String(), "hidden")
}

func TestAuthHandler_LoginInvalidCredentials(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("Login", mock.Anything, "u@x.com", "wrong").Return(nil, service.ErrInvalidCredentials)
	e := newTestEcho()
	e.POST("/api/auth/login", NewAuthHandler(svc, auth.NewJWTService("test-secret", time.Hour), false).Login)

	rec := doJSON(e, http.MethodPost, "/api/auth/login", `{"email":"u@x.com","password":"wrong"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthHandler_RegisterConflict(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("Register", mock.Anything, mock.AnythingOfType("service.RegisterInput")).Return(nil, service.ErrUserAlreadyExists)
	e := newTestEcho()
	e.POST("/api/auth/register", NewAuthHandler(svc, auth.NewJWTService("test-secret", time.Hour), false).Register)

	rec := doJSON(e, http.MethodPost, "/api/auth/register", `{"email":"u@x.com","password":"password123","name":"U"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/auth/register", `{"email":"u@x.com","password":"short","name":"U"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_LogoutClearsCookie(t *testing.T) {
	e := newTestEcho()
	e.POST("/api/auth/logout", NewAuthHandler(new(MockAuthService), auth.NewJWTService("test-secret", time.Hour), false).Logout)

	rec := doJSON(e, http.MethodPost, "/api/auth/logout", ``)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAuthHandler_MeWithoutSession(t *testing.T) {
	e := newTestEcho()
	h := NewAuthHandler(new(MockAuthService), auth.NewJWTService("test-secret", time.Hour), false)
	e.GET("/api/auth/me", h.Me)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	e.GET("/api/auth/me-with-user", h.Me, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			middleware.SetIdentity(c, &model.User{ID: 3, Email: "u@x.com"})
			return next(c)
		}
	})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me-with-user", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "u@x.com")
}
