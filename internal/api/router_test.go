package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sftpgate/internal/app"
	"github.com/charlesng35/sftpgate/internal/database/testutil"
	"github.com/charlesng35/sftpgate/internal/middleware"
	"github.com/charlesng35/sftpgate/internal/realtime"
	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/internal/sftp/sftptest"
	"github.com/charlesng35/sftpgate/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type connector struct{ conn sftp.Conn }

func (c connector) Connect(context.Context) (sftp.Conn, error) { return c.conn, nil }

type routerEnv struct {
	conn   *sftptest.Conn
	router *gin.Engine
}

func testConfig() *app.Config {
	return &app.Config{
		Server:     app.ServerConfig{RequireTenant: true},
		RateLimit:  app.RateLimitConfig{Enabled: true, Requests: 1000, Window: time.Minute},
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}, Health: app.HealthConfig{Enabled: true}},
	}
}

func newRouterEnv(t *testing.T, cfg *app.Config) *routerEnv {
	t.Helper()
	conn := sftptest.NewConn()
	manager := session.NewPool(connector{conn: conn}, 2)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	files, err := services.NewFileService(manager, remotepath.NewResolver("/tenants/{tenantId}"),
		services.ServerIdentity{Host: "sftp.internal", Port: 22, Username: "svc"},
		services.WithRecorder(audit))
	require.NoError(t, err)

	router, err := NewRouter(Dependencies{Config: cfg, Files: files, Audit: audit, Hub: realtime.NewHub()})
	require.NoError(t, err)
	return &routerEnv{conn: conn, router: router}
}

func (e *routerEnv) do(method, target, tenant string, body []byte) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set(middleware.HeaderTenantID, tenant)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var payload response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &payload)
	return w, payload
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	_, err = NewRouter(Dependencies{Config: testConfig()})
	require.Error(t, err)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	env := newRouterEnv(t, testConfig())

	w, payload := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, payload.Success)
	require.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w, _ = env.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"max_size":2`)

	w, _ = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sftpgate_api_latency_seconds")
}

func TestRouterUnknownRoute(t *testing.T) {
	env := newRouterEnv(t, testConfig())

	w, payload := env.do(http.MethodGet, "/api/nope", "acme", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.False(t, payload.Success)
}

func TestRouterRequiresTenant(t *testing.T) {
	env := newRouterEnv(t, testConfig())

	w, payload := env.do(http.MethodGet, "/api/files/list", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, payload.Error.Message, "X-Tenant-ID")
}

func TestRouterFileRoundTripIsAudited(t *testing.T) {
	env := newRouterEnv(t, testConfig())

	body, _ := json.Marshal(map[string]string{"path": "reports/2024"})
	w, _ := env.do(http.MethodPost, "/api/files/directories", "acme", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.True(t, env.conn.HasDir("/tenants/acme/reports/2024"))

	w, payload := env.do(http.MethodGet, "/api/files/list?dir=reports", "acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"name":"2024"`)
	require.True(t, payload.Success)

	w, payload = env.do(http.MethodGet, "/api/operations", "acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, payload.Meta.Total)
	entries := payload.Data.([]any)
	latest := entries[0].(map[string]any)
	require.Equal(t, "acme", latest["tenant_id"])
	require.NotEmpty(t, latest["request_id"])

	w, payload = env.do(http.MethodGet, "/api/operations", "globex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, payload.Meta.Total)
}

func TestRouterRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Requests = 2
	env := newRouterEnv(t, cfg)

	for i := 0; i < 2; i++ {
		w, _ := env.do(http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, payload := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", payload.Error.Code)
}

func TestRouterDisabledHealthAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring = app.MonitoringConfig{}
	env := newRouterEnv(t, cfg)

	w, _ := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "disabled")

	w, _ = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
