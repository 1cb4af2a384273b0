package healthapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/store"
)

type fakeShedReporter bool

func (f fakeShedReporter) Shedding() bool { return bool(f) }

func newTestServer(t *testing.T, shed ShedReporter) *Server {
	t.Helper()
	st, err := store.Open(store.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		Season: config.Season{
			Start: config.NewDate(2000, time.January, 1),
			End:   config.NewDate(2100, time.January, 1),
		},
		SourceA: config.SourceA{Password: "secret"},
	}
	return New(cfg, store.NewHandle(st), shed, zap.NewNop())
}

func TestHealthzReportsHealthyWhenNotShedding(t *testing.T) {
	s := newTestServer(t, fakeShedReporter(false))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "in_season", status.Season)
}

func TestHealthzReportsDegradedWhenShedding(t *testing.T) {
	s := newTestServer(t, fakeShedReporter(true))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.True(t, status.Shedding)
}

func TestDebugConfigRedactsSecrets(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/debug/config", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "(redacted)")
}
