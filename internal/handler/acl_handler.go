package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cmsapi/internal/acl"
)

// ACLHandler exposes the role to permission snapshot.
type ACLHandler struct {
	cache *acl.Cache
}

// NewACLHandler creates a new ACL handler.
func NewACLHandler(cache *acl.Cache) *ACLHandler {
	return &ACLHandler{cache: cache}
}

// Get godoc
// @Summary Role permissions
// @Tags acl
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string][]string
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /acl [get]
func (h *ACLHandler) Get(c echo.Context) error {
	snap, err := h.cache.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Slugs())
}

// Reload godoc
// @Summary Rebuild the ACL cache
// @Description A failed rebuild is reported and the previous snapshot stays in use.
// @Tags acl
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string][]string
// @Failure 500 {object} errors.ErrorResponse
// @Router /acl/reload [post]
func (h *ACLHandler) Reload(c echo.Context) error {
	snap, err := h.cache.Reload(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Slugs())
}
