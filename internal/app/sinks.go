package app

import (
	"net/http"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/sink"
)

// NamedPublisher 待接入扇出的下游
type NamedPublisher struct {
	Name      string
	Publisher sink.Publisher
}

// NewFanout 构造下游扇出：日志下游总是存在，其余按启用情况追加
// 每个下游独立熔断，发布结果计入 avl_publish_total
func NewFanout(cfg cfgpkg.GatewayConfig, appm *metrics.AppMetrics, logger *zap.Logger, extra ...NamedPublisher) *sink.Fanout {
	f := sink.NewFanout(logger, cfg.SinkBreaker.MaxFailures, cfg.SinkBreaker.ResetTimeout)
	if appm != nil {
		f.SetResultCallback(func(name, result string) {
			appm.PublishTotal.WithLabelValues(name, result).Inc()
		})
	}
	f.Add("log", sink.Log{Logger: logger.Named("records")})
	for _, p := range extra {
		if p.Publisher == nil {
			continue
		}
		f.Add(p.Name, p.Publisher)
	}
	logger.Info("record sinks configured", zap.Int("sinks", f.Len()))
	return f
}

// NewWebhook 未启用时返回 nil
func NewWebhook(cfg cfgpkg.WebhookConfig) *sink.Webhook {
	if !cfg.Enable {
		return nil
	}
	wh := sink.NewWebhook(&http.Client{Timeout: cfg.Timeout}, cfg.URL, cfg.APIKey, cfg.Secret)
	if cfg.Retries >= 0 {
		wh.Retries = cfg.Retries
	}
	return wh
}

// NewLiveHub 未启用时返回 nil
func NewLiveHub(cfg cfgpkg.LiveConfig) *sink.Hub {
	if !cfg.Enable {
		return nil
	}
	return sink.NewHub(cfg.Buffer)
}
