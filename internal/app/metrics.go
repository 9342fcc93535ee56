package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/avl-server/internal/metrics"
)

// NewMetrics 初始化注册表与应用指标，并登记 avl_build_info{version,server_id}=1
func NewMetrics(version, serverID string) (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avl_build_info",
		Help: "Build and instance information",
	}, []string{"version", "server_id"})
	reg.MustRegister(info)
	info.WithLabelValues(version, serverID).Set(1)
	return reg, appm
}
