package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/avl-server/internal/sink"
)

// BreakerSource 下游发布熔断器快照，*sink.Fanout 满足该接口
type BreakerSource interface {
	Breakers() map[string]sink.BreakerStats
}

// SinkChecker 下游发布健康检查：部分熔断降级，全部熔断不健康
type SinkChecker struct {
	source BreakerSource
}

func NewSinkChecker(source BreakerSource) *SinkChecker {
	return &SinkChecker{source: source}
}

func (c *SinkChecker) Name() string { return "sinks" }

func (c *SinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.source.Breakers()

	open := 0
	details := make(map[string]any, len(stats))
	for name, s := range stats {
		if s.State != sink.BreakerClosed.String() {
			open++
		}
		details[name] = map[string]any{
			"state":    s.State,
			"failures": s.Failures,
			"trips":    s.Trips,
		}
	}

	status := StatusHealthy
	message := "ok"
	switch {
	case len(stats) == 0:
		message = "no sinks configured"
	case open == len(stats):
		status = StatusUnhealthy
		message = "all sinks unavailable"
	case open > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d of %d sinks unavailable", open, len(stats))
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
