package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/sftpgate/internal/app"
	"github.com/charlesng35/sftpgate/internal/handlers"
	"github.com/charlesng35/sftpgate/internal/middleware"
	"github.com/charlesng35/sftpgate/internal/monitoring"
	"github.com/charlesng35/sftpgate/internal/monitoring/checks"
	"github.com/charlesng35/sftpgate/internal/realtime"
	"github.com/charlesng35/sftpgate/internal/services"
)

// Dependencies are the runtime services the router exposes.
type Dependencies struct {
	Config *app.Config
	Files  *services.FileService
	// Audit is optional; without it /api/operations is not registered.
	Audit *services.AuditService
	// Hub is optional; without it progress is not streamed.
	Hub *realtime.Hub
	// RateStore backs rate limiting; nil uses a process-local store.
	RateStore middleware.RateStore
	// Health runs readiness probes; nil probes only the session manager.
	Health *monitoring.Checker
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.Files == nil {
		return nil, errors.New("file service must be provided")
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, rateWindow(cfg)))
	}
	r.NoRoute(middleware.NotFoundHandler)

	health := deps.Health
	if health == nil {
		health = monitoring.NewChecker(0, checks.Sessions(deps.Files.Manager()))
	}
	registerHealthRoutes(r, cfg, health)
	registerMetricsRoute(r, cfg)

	api := r.Group("/api")
	api.Use(middleware.Tenant(cfg.Server.RequireTenant))

	files := handlers.NewFilesHandler(deps.Files,
		handlers.WithProgressHub(deps.Hub),
		handlers.WithSyncBase(cfg.Server.SyncBaseDir),
		handlers.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	)
	registerFileRoutes(api, files)

	if deps.Audit != nil {
		api.GET("/operations", handlers.NewOperationsHandler(deps.Audit).List)
	}
	if deps.Hub != nil {
		api.GET("/progress/ws", handlers.NewProgressHandler(deps.Hub).Stream)
	}

	return r, nil
}

func rateWindow(cfg *app.Config) time.Duration {
	if cfg.RateLimit.Window <= 0 {
		return time.Minute
	}
	return cfg.RateLimit.Window
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := cfg.Monitoring.Prometheus.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
