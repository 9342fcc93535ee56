package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/command"
	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/health"
	"github.com/taoyao-code/avl-server/internal/sink"
	redisstorage "github.com/taoyao-code/avl-server/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil, nil
func NewRedisClient(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enable {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewRecordStream 客户端为空时返回 nil
func NewRecordStream(client *redisstorage.Client, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.RecordStream, error) {
	if client == nil {
		return nil, nil
	}
	c, err := sink.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	logger.Info("redis record stream",
		zap.String("stream", cfg.Stream),
		zap.Int64("max_len", cfg.StreamMaxLen),
		zap.Stringer("compression", c))
	return redisstorage.NewRecordStream(client, cfg.Stream, cfg.StreamMaxLen).WithCompression(c), nil
}

// NewCommandQueue Redis 可用时使用 Redis 队列，否则使用内存队列
// 第二个返回值为死信计数函数，供维护任务告警
func NewCommandQueue(client *redisstorage.Client, logger *zap.Logger) (command.Queue, func(context.Context) (int64, error)) {
	if client != nil {
		q := redisstorage.NewCommandQueue(client)
		logger.Info("using redis command queue")
		return q, q.DeadCount
	}
	q := command.NewMemoryQueue()
	logger.Info("using memory command queue")
	return q, func(context.Context) (int64, error) { return int64(q.DeadCount()), nil }
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
