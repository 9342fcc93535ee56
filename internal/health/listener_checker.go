package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/avl-server/internal/tcpserver"
)

// TCPListener TCP 网关的检查视图
type TCPListener interface {
	Listening() bool
	Stats() (tcpserver.LimiterStats, tcpserver.RateLimiterStats)
}

// TCPChecker TCP服务器健康检查器
type TCPChecker struct {
	server TCPListener
}

// NewTCPChecker 创建TCP健康检查器
func NewTCPChecker(server TCPListener) *TCPChecker {
	return &TCPChecker{server: server}
}

// Name 返回检查器名称
func (c *TCPChecker) Name() string {
	return "tcp"
}

// Check 未监听为不健康，连接占用超过80%降级，超过95%不健康
func (c *TCPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if !c.server.Listening() {
		return CheckResult{Status: StatusUnhealthy, Message: "not listening", Latency: time.Since(start)}
	}

	limiter, rate := c.server.Stats()
	details := map[string]any{
		"active_connections": limiter.ActiveConnections,
		"max_connections":    limiter.MaxConnections,
		"rejected_total":     limiter.RejectedTotal,
		"rate_rejected":      rate.RejectedTotal,
	}
	if limiter.MaxConnections == 0 {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no limiting enabled",
			Details: details,
			Latency: time.Since(start),
		}
	}

	utilization := float64(limiter.ActiveConnections) / float64(limiter.MaxConnections)
	details["utilization"] = fmt.Sprintf("%.1f%%", utilization*100)

	status := StatusHealthy
	message := "ok"
	if utilization > 0.8 {
		status = StatusDegraded
		message = "high connection usage"
	}
	if utilization > 0.95 {
		status = StatusUnhealthy
		message = "connection limit near exhausted"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}

// UDPListener UDP 网关的检查视图
type UDPListener interface {
	Listening() bool
}

// UDPChecker UDP 网关健康检查器
type UDPChecker struct {
	server UDPListener
}

func NewUDPChecker(server UDPListener) *UDPChecker {
	return &UDPChecker{server: server}
}

func (c *UDPChecker) Name() string { return "udp" }

func (c *UDPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if !c.server.Listening() {
		return CheckResult{Status: StatusUnhealthy, Message: "not listening", Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Latency: time.Since(start)}
}
