package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/session"
	redisstorage "github.com/taoyao-code/avl-server/internal/storage/redis"
)

// NewSessions 构造会话登记
// 如果Redis客户端可用，则使用Redis会话管理器，否则使用内存会话管理器
func NewSessions(cfg cfgpkg.GatewayConfig, redisClient *redisstorage.Client, serverID string, logger *zap.Logger) session.Registry {
	timeout := cfg.IdleTimeout

	if redisClient != nil {
		logger.Info("using redis session manager",
			zap.String("server_id", serverID),
			zap.Duration("timeout", timeout))
		return session.NewRedisManager(redisClient.Client, serverID, timeout, logger)
	}
	logger.Info("using memory session manager", zap.Duration("timeout", timeout))
	return session.New(timeout)
}
