// Package api wires the HTTP surface of the lookup service.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/planillas/api/handler"
	"github.com/use-agent/planillas/api/middleware"
	"github.com/use-agent/planillas/cache"
	"github.com/use-agent/planillas/config"
	"github.com/use-agent/planillas/engine"
)

// Deps are the long-lived components the handlers share.
type Deps struct {
	Queue   *engine.Queue
	Session handler.SessionReporter
	Prober  *engine.Prober
	Cache   *cache.Cache
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	Lookup:  Auth (if enabled) → RateLimit
//
// Health and metrics are outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, deps Deps, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	lookup := handler.Lookup(deps.Queue, deps.Cache)

	// One limiter for both lookup surfaces so they share buckets.
	limiter := middleware.RateLimit(cfg.RateLimit)

	// Root query form, kept for existing callers.
	root := r.Group("/")
	if cfg.Auth.Enabled {
		root.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	root.Use(limiter)
	root.GET("", lookup)

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(deps.Queue, deps.Session, deps.Prober, cfg.Site.EntryURL, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(limiter)

	protected.GET("/lookup", lookup)
	protected.POST("/lookup", lookup)

	protected.POST("/batch/lookup", handler.PostBatch(deps.Queue))
	protected.GET("/batch/:id", handler.GetBatch())

	return r
}
