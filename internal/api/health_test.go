package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/renderer"
)

func TestHealthHandler_Healthz_ReportsBusyAndActivity(t *testing.T) {
	dispatcher := &fakeDispatcher{busy: true, activity: renderer.Activity{Raw: map[string]interface{}{"queue_pending": 2.0}}}
	handler := NewHealthHandler(dispatcher, "gpu-agent")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.Healthz(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Busy)
	assert.Empty(t, body.Service)
	assert.Equal(t, 2.0, body.Activity.Raw["queue_pending"])
}

func TestHealthHandler_Root_IncludesServiceName(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	handler := NewHealthHandler(dispatcher, "gpu-agent")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.Root(rec, req)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gpu-agent", body.Service)
}
