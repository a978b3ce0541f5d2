// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyforge-api/internal/config"
	"storyforge-api/internal/interfaces/http/handler"
	"storyforge-api/internal/interfaces/http/middleware"
)

// Handlers 路由所需的处理器集合
type Handlers struct {
	Health   *handler.HealthHandler
	Pipeline *handler.PipelineHandler
	Credit   *handler.CreditHandler
	Event    *handler.EventHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
}

// New 创建新的路由器
func New(cfg *config.Config, handlers Handlers) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(middleware.CORSConfig{}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		stories := v1.Group("/stories")
		{
			stories.POST("/:id/advance", r.handlers.Pipeline.Advance)
			stories.GET("/:id/predictions", r.handlers.Pipeline.Predict)
			stories.GET("/:id/generations", r.handlers.Pipeline.Generations)
		}

		credits := v1.Group("/credits")
		{
			credits.GET("", r.handlers.Credit.Balance)
			credits.POST("/topup", r.handlers.Credit.TopUp)
		}

		v1.GET("/events", r.handlers.Event.Stream)
	}
}
