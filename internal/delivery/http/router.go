package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/control"
	"github.com/YonghoLee79/saramjobhunter/internal/delivery/http/middleware"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

// Automation is the control surface the handlers drive.
type Automation interface {
	Start(req control.StartRequest) (string, error)
	Stop()
	Status() control.Status
	History(ctx context.Context, days int) (*domain.History, error)
	ResumeManualLogin() error
	Subscribe() (<-chan domain.ProgressEvent, func())
}

// SettingsService reads and writes the last-used search parameters.
type SettingsService interface {
	Get(ctx context.Context) (*domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
}

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	Automation      Automation
	Settings        SettingsService
	Logger          *zap.Logger
	RateLimitPerMin int
	// Checks are probed by the health endpoint, keyed by service name.
	Checks map[string]func(ctx context.Context) error
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(deps.Logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(deps.Checks, deps.Logger)
		v1.GET("/health", healthHandler.Health)

		autoHandler := NewAutomationHandler(deps.Automation, deps.Settings, deps.Logger)
		v1.GET("/automation/status", autoHandler.Status)
		v1.GET("/history", autoHandler.History)
		v1.GET("/config", autoHandler.GetConfig)

		limited := v1.Group("")
		limited.Use(middleware.RateLimiter(deps.RateLimitPerMin))
		limited.POST("/automation/start", autoHandler.Start)
		limited.POST("/automation/stop", autoHandler.Stop)
		limited.POST("/automation/manual-login", autoHandler.ResumeManualLogin)
		limited.POST("/config", autoHandler.SaveConfig)

		// WebSocket for live progress
		wsHandler := NewWebSocketHandler(deps.Automation, deps.Logger)
		v1.GET("/automation/stream", wsHandler.Stream)
	}

	return router
}
