package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"lpbf-planner/config"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/mw"
)

// NewRouter creates and configures a new Gin router. Idle rate limiter
// buckets are dropped until ctx is cancelled.
func NewRouter(ctx context.Context, h *Handler, cfg config.ServerConfig, m *metrics.Recorder) *gin.Engine {
	r := gin.New()
	r.Use(mw.Logger(), gin.Recovery())
	if cfg.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.RequestIPHeader
	}

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Forget(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.Use(mw.Limit(limiter))
	{
		api.POST("/parts", h.CreatePart)
		api.POST("/parts/import", h.ImportParts)
		api.GET("/parts", h.ListParts)
		api.GET("/parts/:id", h.GetPart)
		api.PUT("/parts/:id", h.UpdatePart)
		api.POST("/parts/:id/status", h.TransitionPart)
		api.POST("/parts/:id/estimate", h.EstimatePart)

		api.POST("/runs", h.CreateRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/status", h.TransitionRun)
		api.POST("/runs/:id/nest", h.NestRun)

		api.POST("/allocations", h.Allocate)
		api.DELETE("/allocations/:part_id", h.Unassign)
		api.GET("/decisions", h.ListDecisions)

		api.GET("/notifications", h.ListDrafts)
		api.PUT("/notifications/:id/status", h.TransitionDraft)
		api.POST("/notifications/retry", h.RetryNotifications)

		// The catalogue only changes with the configuration.
		api.GET("/machines", caching, h.GetMachines)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
