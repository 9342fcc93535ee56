package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/sink"
)

// LiveFeed 实时批次订阅源（sink.Hub）
type LiveFeed interface {
	Subscribe(imei string) *sink.Subscription
	Unsubscribe(s *sink.Subscription)
}

const liveWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Live 以 WebSocket 推送实时批次，每条文本消息为一个 JSON 批次
// GET /api/v1/live?imei=
func (h *Handler) Live(c *gin.Context) {
	if h.deps.Live == nil {
		unavailable(c, "live feed")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		h.logger.Warn("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	defer conn.Close()

	imei := c.Query("imei")
	sub := h.deps.Live.Subscribe(imei)
	defer h.deps.Live.Unsubscribe(sub)
	h.logger.Info("live subscriber connected", zap.String("imei", imei), zap.String("remote", c.ClientIP()))

	// 客户端不发送数据，读循环只用于感知关闭与处理 pong
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.deps.LivePing
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("live subscriber disconnected", zap.String("imei", imei), zap.String("remote", c.ClientIP()))
			return
		case b, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(b); err != nil {
				h.logger.Debug("live write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}
