package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cmsapi/internal/logging"
	"cmsapi/internal/model"
	"cmsapi/internal/settings"
)

// memSettings is an in-memory settings table.
type memSettings struct {
	mu      sync.Mutex
	rows    map[string]model.Setting
	listErr error
}

func newMemSettings(rows ...model.Setting) *memSettings {
	m := &memSettings{rows: map[string]model.Setting{}}
	for _, r := range rows {
		m.rows[r.Key] = r
	}
	return m
}

func (m *memSettings) FindAll(context.Context) ([]model.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.Setting, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memSettings) FindByKey(_ context.Context, key string) (*model.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &r, nil
}

func (m *memSettings) UpdateValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.Value = value
	m.rows[key] = r
	return nil
}

func newSettingsServer(store *memSettings) *SettingsHandler {
	svc := settings.NewService(store, settings.NewCache(store, time.Minute, logging.Discard()), logging.Discard())
	return NewSettingsHandler(svc)
}

func seededSettings() *memSettings {
	return newMemSettings(
		model.Setting{ID: 1, Key: "pagination.pagesize", Type: model.SettingTypeNumber, Value: "10"},
		model.Setting{ID: 2, Key: "pagination.order", Type: model.SettingTypeString, Value: "desc"},
		model.Setting{ID: 3, Key: "upload_required.default", Type: model.SettingTypeBoolean, Value: "false"},
	)
}

func TestSettingsHandler_ReadTree(t *testing.T) {
	h := newSettingsServer(seededSettings())
	e := newTestEcho()
	e.GET("/api/settings", h.GetAll)
	e.GET("/api/settings/:key", h.GetByPrefix)

	rec := doJSON(e, http.MethodGet, "/api/settings/pagination", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pagesize":{"id":1,"value":10},"order":{"id":2,"value":"desc"}}`, rec.Body.String())

	rec = doJSON(e, http.MethodGet, "/api/settings/nothing.here", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = doJSON(e, http.MethodGet, "/api/settings", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upload_required"`)
}

func TestSettingsHandler_Update(t *testing.T) {
	store := seededSettings()
	h := newSettingsServer(store)
	e := newTestEcho()
	e.PUT("/api/settings/:key", h.Update)

	rec := doJSON(e, http.MethodPut, "/api/settings/pagination.pagesize", `{"value":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"value":25}`, rec.Body.String())

	rec = doJSON(e, http.MethodPut, "/api/settings/pagination.order", `{"value":"asc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "asc", store.rows["pagination.order"].Value)

	rec = doJSON(e, http.MethodPut, "/api/settings/pagination.pagesize", `{"value":"many"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPut, "/api/settings/pagination.pagesize", `{"value":"NaN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPut, "/api/settings/no.such.key", `{"value":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsHandler_UpdateWithoutReloadEchoesWrittenValue(t *testing.T) {
	store := seededSettings()
	h := newSettingsServer(store)
	e := newTestEcho()
	e.PUT("/api/settings/:key", h.Update)

	_, err := h.service.Refresh(context.Background())
	require.NoError(t, err)
	store.mu.Lock()
	store.listErr = errors.New("db down")
	store.mu.Unlock()

	rec := doJSON(e, http.MethodPut, "/api/settings/pagination.pagesize", `{"value":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"pagination.pagesize","value":"25"}`, rec.Body.String())
	assert.Equal(t, "25", store.rows["pagination.pagesize"].Value)
}

func TestSettingsHandler_BulkUpdateTally(t *testing.T) {
	store := seededSettings()
	h := newSettingsServer(store)
	e := newTestEcho()
	e.PUT("/api/settings", h.BulkUpdate)

	rec := doJSON(e, http.MethodPut, "/api/settings", `{"items":[
		{"key":"pagination.pagesize","value":50},
		{"key":"upload_required.default","value":true},
		{"key":"pagination.pagesize.extra","value":1},
		{"key":"pagination.order","value":"asc"}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result settings.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "pagination.pagesize.extra", result.Errors[0].Key)
	assert.Equal(t, "true", store.rows["upload_required.default"].Value)
	assert.Equal(t, 50, h.service.Current().Int("pagination.pagesize", 0))
}

func TestRawValue(t *testing.T) {
	assert.Equal(t, "asc", rawValue(json.RawMessage(`"asc"`)))
	assert.Equal(t, "42", rawValue(json.RawMessage(` 42 `)))
	assert.Equal(t, `{"bytes":1024,"label":"1 KB"}`, rawValue(json.RawMessage(`{"bytes":1024,"label":"1 KB"}`)))
}
