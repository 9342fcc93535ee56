package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 网关业务指标
type AppMetrics struct {
	TCPAccepted      prometheus.Counter
	TCPRejected      *prometheus.CounterVec // labels: reason=limit|rate
	TCPBytesReceived prometheus.Counter
	UDPDatagrams     prometheus.Counter
	FramesDecoded    *prometheus.CounterVec // labels: codec
	RecordsDecoded   *prometheus.CounterVec // labels: codec
	DecodeErrors     *prometheus.CounterVec // labels: kind
	IdentifierTotal  *prometheus.CounterVec // labels: result=accept|deny
	CommandsTotal    *prometheus.CounterVec // labels: result=sent|response|not_executed|timeout|failed
	PublishTotal     *prometheus.CounterVec // labels: sink, result=ok|error|open
	OnlineGauge      prometheus.Gauge       // 当前在线设备数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		TCPAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_accept_total",
			Help: "Total accepted TCP connections.",
		}),
		TCPRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcp_reject_total",
			Help: "TCP connections rejected before the session started.",
		}, []string{"reason"}),
		TCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_bytes_received_total",
			Help: "Total bytes received over TCP.",
		}),
		UDPDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udp_datagrams_total",
			Help: "Total UDP datagrams received.",
		}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_frames_decoded_total",
			Help: "Decoded frames and datagrams by codec.",
		}, []string{"codec"}),
		RecordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_records_decoded_total",
			Help: "Decoded AVL records by codec.",
		}, []string{"codec"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_decode_errors_total",
			Help: "Decode failures by error kind.",
		}, []string{"kind"}),
		IdentifierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_identifier_total",
			Help: "Device identifications by result.",
		}, []string{"result"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_commands_total",
			Help: "Codec12 command deliveries by result.",
		}, []string{"result"}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_publish_total",
			Help: "Record publications by sink and result.",
		}, []string{"sink", "result"}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_online_count",
			Help: "Current number of online devices.",
		}),
	}
	reg.MustRegister(
		m.TCPAccepted, m.TCPRejected, m.TCPBytesReceived, m.UDPDatagrams,
		m.FramesDecoded, m.RecordsDecoded, m.DecodeErrors, m.IdentifierTotal,
		m.CommandsTotal, m.PublishTotal, m.OnlineGauge,
	)
	return m
}
