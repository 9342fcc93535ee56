package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/session"
)

// sweeper 内存与Redis会话管理器都提供 Sweep
type sweeper interface {
	Sweep(now time.Time) int
}

// DeadLetterWarnThreshold 死信超过该数量时告警
const DeadLetterWarnThreshold = 1000

// Maintenance 周期任务：清理超时的 UDP 会话、刷新在线数、检查指令死信
type Maintenance struct {
	sessions  session.Registry
	deadCount func(ctx context.Context) (int64, error)
	metrics   *metrics.AppMetrics
	logger    *zap.Logger
	interval  time.Duration
	now       func() time.Time

	// 统计
	statsSwept int64
}

// NewMaintenance interval<=0 时取1分钟
func NewMaintenance(sessions session.Registry, deadCount func(ctx context.Context) (int64, error), appm *metrics.AppMetrics, interval time.Duration, logger *zap.Logger) *Maintenance {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Maintenance{
		sessions:  sessions,
		deadCount: deadCount,
		metrics:   appm,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
	}
}

// Start 阻塞运行直到 ctx 结束
func (m *Maintenance) Start(ctx context.Context) {
	m.logger.Info("maintenance started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("maintenance stopped", zap.Int64("total_swept", m.statsSwept))
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮维护
func (m *Maintenance) RunOnce(ctx context.Context) {
	now := m.now()
	if s, ok := m.sessions.(sweeper); ok {
		if n := s.Sweep(now); n > 0 {
			m.statsSwept += int64(n)
			m.logger.Debug("expired sessions swept", zap.Int("swept", n))
		}
	}
	if m.metrics != nil {
		m.metrics.OnlineGauge.Set(float64(m.sessions.OnlineCount(now)))
	}

	if m.deadCount == nil {
		return
	}
	count, err := m.deadCount(ctx)
	if err != nil {
		m.logger.Error("failed to get dead command count", zap.Error(err))
		return
	}
	if count > DeadLetterWarnThreshold {
		m.logger.Warn("dead command queue overloaded",
			zap.Int64("dead_count", count),
			zap.String("suggestion", "manual intervention required"))
	}
}

// Stats 获取统计信息
func (m *Maintenance) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_swept": m.statsSwept,
	}
}
