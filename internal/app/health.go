package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/avl-server/internal/health"
	"github.com/taoyao-code/avl-server/internal/sink"
)

// NewHealthAggregator 创建健康检查聚合器，初始包含下游发布检查
func NewHealthAggregator(fanout *sink.Fanout) *health.Aggregator {
	return health.NewAggregator(health.NewSinkChecker(fanout))
}

// AddDatabaseChecker 数据库启用时添加检查器
func AddDatabaseChecker(aggregator *health.Aggregator, pool *pgxpool.Pool) {
	if pool != nil {
		aggregator.AddChecker(health.NewDatabaseChecker(pool))
	}
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddTCPChecker 添加TCP检查器到聚合器
func AddTCPChecker(aggregator *health.Aggregator, tcpServer health.TCPListener) {
	aggregator.AddChecker(health.NewTCPChecker(tcpServer))
}

// AddUDPChecker 添加UDP检查器到聚合器
func AddUDPChecker(aggregator *health.Aggregator, udpServer health.UDPListener) {
	aggregator.AddChecker(health.NewUDPChecker(udpServer))
}

// AddCommandQueueChecker 死信超过 DeadLetterWarnThreshold 时降级
func AddCommandQueueChecker(aggregator *health.Aggregator, deadCount func(ctx context.Context) (int64, error)) {
	if deadCount == nil {
		return
	}
	aggregator.AddChecker(health.CheckerFunc{
		CheckName: "command_queue",
		Fn: func(ctx context.Context) health.CheckResult {
			n, err := deadCount(ctx)
			if err != nil {
				return health.CheckResult{Status: health.StatusDegraded, Message: fmt.Sprintf("dead letter count: %v", err)}
			}
			res := health.CheckResult{Status: health.StatusHealthy, Message: "ok", Details: map[string]any{"dead_letters": n}}
			if n > DeadLetterWarnThreshold {
				res.Status, res.Message = health.StatusDegraded, "dead letters above threshold"
			}
			return res
		},
	})
}
