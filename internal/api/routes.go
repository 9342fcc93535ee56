package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
)

// RegisterRoutes 注册 /api/v1 路由与文档页
func RegisterRoutes(r *gin.Engine, cfg cfgpkg.HTTPConfig, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil || deps.Sessions == nil || deps.Commands == nil {
		logger.Warn("api routes skipped: sessions or commands missing")
		return
	}
	h := NewHandler(deps)

	r.GET("/openapi.json", ServeOpenAPI)
	if cfg.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/openapi.json")))
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimit))
	if cfg.Auth.Enabled {
		v1.Use(middleware.APIKeyAuth(cfg.Auth, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(cfg.Auth.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	v1.GET("/devices", h.ListDevices)
	v1.GET("/devices/:imei", h.GetDevice)
	v1.GET("/devices/:imei/records", h.ListRecords)
	v1.PUT("/devices/:imei/block", h.SetBlocked)
	v1.POST("/devices/:imei/commands", h.EnqueueCommand)
	v1.GET("/commands/:id", h.GetCommand)
	v1.GET("/sessions", h.ListSessions)
	v1.GET("/stream", h.ReadStream)
	v1.GET("/live", h.Live)

	logger.Info("api routes registered", zap.Int("endpoints", 9), zap.Bool("swagger", cfg.Swagger))
}
