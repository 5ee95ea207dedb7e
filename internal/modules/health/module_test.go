package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot_trader/internal/modules/health/service"
)

func TestReadyzFollowsState(t *testing.T) {
	st := service.NewState()
	mux := NewMux(st)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	st.SetReady(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzSnapshot(t *testing.T) {
	st := service.NewState()
	st.SetWSConnected(true)
	st.SetSafeMode(true)
	st.Beat(time.Unix(1700000000, 0), 3)

	rec := httptest.NewRecorder()
	NewMux(st).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap service.Snapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.WSConnected)
	assert.True(t, snap.SafeMode)
	assert.Equal(t, int64(3), snap.OccupiedSlots)
	assert.Equal(t, int64(1700000000), snap.LastBeatUnix)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(service.NewState()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
