package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cmsapi/internal/errors"
	"cmsapi/internal/recovery"
)

// recoverySentMessage is returned whether or not the email belongs to a user.
const recoverySentMessage = "If the email is registered, a recovery code has been sent."

// RecoveryHandler handles the password recovery endpoints.
type RecoveryHandler struct {
	flow *recovery.Flow
}

// NewRecoveryHandler creates a new recovery handler.
func NewRecoveryHandler(flow *recovery.Flow) *RecoveryHandler {
	return &RecoveryHandler{flow: flow}
}

// EmailRequest carries the address a code is sent to.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// VerifyCodeRequest exchanges a code for a reset token.
type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyCodeResponse carries the reset token.
type VerifyCodeResponse struct {
	ResetToken string `json:"resetToken"`
}

// ResetPasswordRequest sets a new password with a reset token.
type ResetPasswordRequest struct {
	Email      string `json:"email" validate:"required,email"`
	ResetToken string `json:"resetToken" validate:"required"`
	Password   string `json:"password" validate:"required,min=6"`
}

// ForgotPassword godoc
// @Summary Request a recovery code
// @Description The response is the same whether or not the email is registered.
// @Tags recovery
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 429 {object} errors.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *RecoveryHandler) ForgotPassword(c echo.Context) error {
	var req EmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.flow.RequestCode(c.Request().Context(), req.Email); err != nil {
		return errors.MapErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: recoverySentMessage})
}

// ResendCode godoc
// @Summary Resend a recovery code
// @Tags recovery
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 429 {object} errors.ErrorResponse
// @Router /auth/resend-code [post]
func (h *RecoveryHandler) ResendCode(c echo.Context) error {
	var req EmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.flow.ResendCode(c.Request().Context(), req.Email); err != nil {
		return errors.MapErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: recoverySentMessage})
}

// VerifyCode godoc
// @Summary Verify a recovery code
// @Tags recovery
// @Accept json
// @Produce json
// @Param request body VerifyCodeRequest true "Email and code"
// @Success 200 {object} VerifyCodeResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /auth/verify-code [post]
func (h *RecoveryHandler) VerifyCode(c echo.Context) error {
	var req VerifyCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	token, err := h.flow.VerifyCode(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return errors.MapErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, VerifyCodeResponse{ResetToken: token})
}

// ResetPassword godoc
// @Summary Reset the password
// @Tags recovery
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset data"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /auth/reset-password [post]
func (h *RecoveryHandler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.flow.ResetPassword(c.Request().Context(), req.Email, req.ResetToken, req.Password); err != nil {
		return errors.MapErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
