package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolUsage 连接池占用快照
type PoolUsage struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

// DatabaseChecker PostgreSQL 记录库检查
type DatabaseChecker struct {
	ping  func(ctx context.Context) error
	usage func() PoolUsage
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{
		ping: pool.Ping,
		usage: func() PoolUsage {
			s := pool.Stat()
			return PoolUsage{Total: s.TotalConns(), Idle: s.IdleConns(), Acquired: s.AcquiredConns(), Max: s.MaxConns()}
		},
	}
}

func (c *DatabaseChecker) Name() string { return "database" }

// Check 占用率 >90% 降级，占满为不健康
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	u := c.usage()
	var usage float64
	if u.Max > 0 {
		usage = float64(u.Acquired) / float64(u.Max)
	}
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]any{
			"total_conns":    u.Total,
			"idle_conns":     u.Idle,
			"acquired_conns": u.Acquired,
			"max_conns":      u.Max,
			"utilization":    fmt.Sprintf("%.1f%%", usage*100),
		},
	}
	switch {
	case usage >= 1.0:
		res.Status, res.Message = StatusUnhealthy, "connection pool exhausted"
	case usage > 0.9:
		res.Status, res.Message = StatusDegraded, "connection pool near limit"
	}
	res.Latency = time.Since(start)
	return res
}
