package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHTTPRoutes /health 详细报告，/health/ready 与 /health/live 供探针使用
// 降级仍返回200，只有不健康返回503
func RegisterHTTPRoutes(r gin.IRouter, aggregator *Aggregator) {
	g := r.Group("/health")

	g.GET("", func(c *gin.Context) {
		report := aggregator.Report(c.Request.Context())
		c.JSON(statusCode(report.Status), report)
	})

	g.GET("/ready", func(c *gin.Context) {
		status := aggregator.OverallStatus(c.Request.Context())
		c.JSON(statusCode(status), gin.H{
			"status": status,
			"ready":  status != StatusUnhealthy,
		})
	})

	g.GET("/live", func(c *gin.Context) {
		alive := aggregator.Alive()
		code := http.StatusOK
		if !alive {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"alive": alive})
	})
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
