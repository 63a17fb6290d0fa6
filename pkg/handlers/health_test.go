package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/config"
	"github.com/new-bakery/nga/pkg/services/workqueue"
)

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func TestHealthHandler_Health_WithoutQueue(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	handler := NewHealthHandler(cfg, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.Nil(t, response.Jobs)
	assert.Nil(t, response.Connections)
}

func TestHealthHandler_Health_ReportsJobsAndConnections(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	jobs := fakeJobs{
		"a": {ID: "a", Status: workqueue.TaskStatusCompleted},
		"b": {ID: "b", Status: workqueue.TaskStatusRunning},
	}
	handler := NewHealthHandler(cfg, jobs, fixedCount(3), zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.NotNil(t, response.Jobs)
	assert.Equal(t, 2, response.Jobs.Total)
	assert.Equal(t, 1, response.Jobs.Completed)
	require.NotNil(t, response.Connections)
	assert.Equal(t, 3, *response.Connections)
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	handler := NewHealthHandler(cfg, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var response PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "nga", response.Service)
	assert.Equal(t, "test-version", response.Version)
	assert.Equal(t, "test", response.Environment)
}
