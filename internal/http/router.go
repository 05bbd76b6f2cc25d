package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/adpilot-backend/internal/http/handlers"
	httpMW "github.com/yungbote/adpilot-backend/internal/http/middleware"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	StatusHandler   *httpH.StatusHandler
	SignalHandler   *httpH.SignalHandler
	CreativeHandler *httpH.CreativeHandler
	ChangeHandler   *httpH.ChangeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireTenant())
	{
		if cfg.StatusHandler != nil {
			api.GET("/status", cfg.StatusHandler.GetStatus)
		}

		// Signals (async via the bus)
		if cfg.SignalHandler != nil {
			api.POST("/signals/performance", cfg.SignalHandler.Performance)
			api.POST("/signals/clicks", cfg.SignalHandler.Click)
			api.POST("/signals/conversions", cfg.SignalHandler.Conversion)
			api.POST("/signals/stage-changes", cfg.SignalHandler.StageChange)
		}

		// Creatives + winners
		if cfg.CreativeHandler != nil {
			api.POST("/creatives", cfg.CreativeHandler.Register)
			api.POST("/winners/similar", cfg.CreativeHandler.Similar)
		}

		// Changes
		if cfg.ChangeHandler != nil {
			api.POST("/changes", cfg.ChangeHandler.Propose)
			api.GET("/changes/:id", cfg.ChangeHandler.Get)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "route not found", "code": "not_found"}})
	})
	return r
}
