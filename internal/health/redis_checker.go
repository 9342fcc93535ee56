package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPinger *storage/redis.Client 满足该接口
type RedisPinger interface {
	HealthCheck(ctx context.Context) error
	Stats() *redis.PoolStats
}

// RedisChecker 记录流与指令队列依赖的 Redis
type RedisChecker struct {
	client RedisPinger
}

func NewRedisChecker(client RedisPinger) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

// Check ping 失败为不健康；连接池使用率 >90% 或超时不少于命中时降级
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	var stats redis.PoolStats
	if s := c.client.Stats(); s != nil {
		stats = *s
	}
	res := CheckResult{Status: StatusHealthy, Message: "ok", Details: poolDetails(stats)}
	switch {
	case stats.Timeouts > 0 && stats.Timeouts >= stats.Hits:
		res.Status, res.Message = StatusDegraded, "connection pool timeouts"
	case poolUsage(stats) > 0.9:
		res.Status, res.Message = StatusDegraded, "connection pool near limit"
	}
	res.Latency = time.Since(start)
	return res
}

func poolUsage(s redis.PoolStats) float64 {
	if s.TotalConns == 0 {
		return 0
	}
	return float64(s.TotalConns-s.IdleConns) / float64(s.TotalConns)
}

func poolDetails(s redis.PoolStats) map[string]any {
	return map[string]any{
		"total_conns": s.TotalConns,
		"idle_conns":  s.IdleConns,
		"stale_conns": s.StaleConns,
		"hits":        s.Hits,
		"misses":      s.Misses,
		"timeouts":    s.Timeouts,
		"utilization": fmt.Sprintf("%.1f%%", poolUsage(s)*100),
	}
}
