package handler

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"cmsapi/internal/errors"
	"cmsapi/internal/settings"
)

// SettingsHandler exposes the settings tree and its write path.
type SettingsHandler struct {
	service *settings.Service
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(service *settings.Service) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// UpdateSettingRequest carries a new value. Strings are stored as is, anything else as its JSON text.
type UpdateSettingRequest struct {
	Value json.RawMessage `json:"value" validate:"required" swaggertype:"object"`
}

// BulkSettingItem is one entry of a bulk update.
type BulkSettingItem struct {
	Key   string          `json:"key" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required" swaggertype:"object"`
}

// BulkUpdateRequest carries several updates.
type BulkUpdateRequest struct {
	Items []BulkSettingItem `json:"items" validate:"required,min=1,dive"`
}

// GetAll godoc
// @Summary Settings tree
// @Tags settings
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /settings [get]
func (h *SettingsHandler) GetAll(c echo.Context) error {
	tree, err := h.service.Cache().LoadAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

// GetByPrefix godoc
// @Summary Settings subtree
// @Description Returns {} when the prefix does not exist.
// @Tags settings
// @Produce json
// @Security CookieAuth
// @Param key path string true "Dotted prefix, e.g. rate_limit.public"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /settings/{key} [get]
func (h *SettingsHandler) GetByPrefix(c echo.Context) error {
	tree, err := h.service.Cache().GetByPrefix(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

// Update godoc
// @Summary Update one setting
// @Tags settings
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param key path string true "Setting key"
// @Param request body UpdateSettingRequest true "New value"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /settings/{key} [put]
func (h *SettingsHandler) Update(c echo.Context) error {
	var req UpdateSettingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	key := c.Param("key")
	value := rawValue(req.Value)
	tree, err := h.service.Update(c.Request().Context(), key, value)
	if err != nil {
		return errors.MapErrorToHTTP(err)
	}
	if leaf, ok := tree.Lookup(key); ok {
		return c.JSON(http.StatusOK, leaf)
	}
	// written, but the tree could not be reloaded
	return c.JSON(http.StatusOK, map[string]string{"key": key, "value": value})
}

// BulkUpdate godoc
// @Summary Update several settings
// @Description Items are applied independently; the response tallies successes and failures.
// @Tags settings
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body BulkUpdateRequest true "Items"
// @Success 200 {object} settings.BulkResult
// @Failure 400 {object} errors.ErrorResponse
// @Router /settings [put]
func (h *SettingsHandler) BulkUpdate(c echo.Context) error {
	var req BulkUpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	items := make([]settings.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, settings.Item{Key: it.Key, Value: rawValue(it.Value)})
	}
	return c.JSON(http.StatusOK, h.service.BulkUpdate(c.Request().Context(), items))
}

// Invalidate godoc
// @Summary Reload the settings cache
// @Tags settings
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} errors.ErrorResponse
// @Router /settings/invalidate [post]
func (h *SettingsHandler) Invalidate(c echo.Context) error {
	tree, err := h.service.Invalidate(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

// rawValue unquotes JSON strings and keeps other JSON values as their text.
func rawValue(v json.RawMessage) string {
	trimmed := bytes.TrimSpace(v)
	var s string
	if len(trimmed) > 0 && trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	return string(trimmed)
}
