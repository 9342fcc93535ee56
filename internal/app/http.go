package app

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/httpserver"
)

// NewHTTPServer 根据配置创建 HTTP 服务器；指标未启用时不注册 /metrics
func NewHTTPServer(cfg *cfgpkg.Config, logger *zap.Logger, metricsHandler http.Handler, readyFn func(ctx context.Context) bool) *httpserver.Server {
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	return httpserver.New(cfg.HTTP, logger, cfg.Metrics.Path, metricsHandler, readyFn)
}
