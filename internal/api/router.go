package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"push-device-backend/config"
	"push-device-backend/internal/mw"
	"push-device-backend/internal/session"
	"push-device-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, sessions *session.Manager, webpushOptions *webpush.Options, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, sessions, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		device := api.Group("/pushNotifications/device")
		device.Use(handler.RequireSession())
		{
			device.POST("/list", handler.ListDevices)
			device.POST("/set", handler.SetDevice)
			device.POST("/delete", handler.DeleteDevices)
		}
	}

	return r
}
