package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/tcpserver"
)

// NewTCPServer 根据配置创建 TCP 服务器并接入指标
func NewTCPServer(cfg cfgpkg.TCPConfig, handler tcpserver.Handler, appm *metrics.AppMetrics, logger *zap.Logger) *tcpserver.Server {
	srv := tcpserver.New(cfg, handler, logger)
	srv.SetMetricsCallbacks(
		func() { appm.TCPAccepted.Inc() },
		func(reason string) { appm.TCPRejected.WithLabelValues(reason).Inc() },
		func(n int) { appm.TCPBytesReceived.Add(float64(n)) },
	)
	return srv
}
