// Package api 设备、指令与会话的 REST 接口
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/command"
	"github.com/taoyao-code/avl-server/internal/session"
	"github.com/taoyao-code/avl-server/internal/sink"
	"github.com/taoyao-code/avl-server/internal/storage"
	pgstorage "github.com/taoyao-code/avl-server/internal/storage/pg"
)

// RecordReader 历史记录查询（PostgreSQL）
type RecordReader interface {
	RecentRecords(ctx context.Context, imei string, limit int) ([]pgstorage.StoredRecord, error)
}

// CommandHistory 指令状态历史（PostgreSQL command_log）
type CommandHistory interface {
	CommandHistory(ctx context.Context, commandID string) ([]command.Command, error)
}

// StreamReader 记录流回放（Redis Stream）
type StreamReader interface {
	Read(ctx context.Context, start string, count int64) ([]*sink.Batch, string, error)
}

// ClusterLister 跨实例会话列表（Redis 会话管理器）
type ClusterLister interface {
	ListCluster(ctx context.Context) ([]session.Info, error)
}

// Deps 处理器依赖；除 Sessions 和 Commands 外均可为空，对应接口返回 503
type Deps struct {
	Sessions session.Registry
	Commands command.Queue
	Devices  storage.DeviceRepo
	Records  RecordReader
	History  CommandHistory
	Stream   StreamReader
	Live     LiveFeed
	// LivePing 实时推送的 ping 间隔，默认30秒
	LivePing time.Duration
	// MaxRetry 新建指令的重试上限
	MaxRetry int
	Logger   *zap.Logger
}

// Handler REST 处理器
type Handler struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler 创建处理器
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger, now: time.Now}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// DeviceView 设备登记信息与在线状态
type DeviceView struct {
	IMEI           string        `json:"imei"`
	Online         bool          `json:"online"`
	Blocked        bool          `json:"blocked"`
	LastTransport  string        `json:"last_transport,omitempty"`
	LastRemoteAddr string        `json:"last_remote_addr,omitempty"`
	LastCodec      string        `json:"last_codec,omitempty"`
	LastSeenAt     *time.Time    `json:"last_seen_at,omitempty"`
	RecordCount    int64         `json:"record_count"`
	Session        *session.Info `json:"session,omitempty"`
}

// ListDevices 分页查询设备
// GET /api/v1/devices?limit=&offset=
func (h *Handler) ListDevices(c *gin.Context) {
	if h.deps.Devices == nil {
		unavailable(c, "device registry")
		return
	}
	limit := intQuery(c, "limit", 100)
	if limit == 0 || limit > 1000 {
		limit = 100
	}
	offset := intQuery(c, "offset", 0)

	list, err := h.deps.Devices.ListDevices(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list devices failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	now := h.now()
	out := make([]DeviceView, 0, len(list))
	for _, d := range list {
		out = append(out, DeviceView{
			IMEI:           d.IMEI,
			Online:         h.deps.Sessions.IsOnline(d.IMEI, now),
			Blocked:        d.Blocked,
			LastTransport:  d.LastTransport,
			LastRemoteAddr: d.LastRemoteAddr,
			LastCodec:      d.LastCodec,
			LastSeenAt:     d.LastSeenAt,
			RecordCount:    d.RecordCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out, "limit": limit, "offset": offset})
}

// GetDevice 单个设备；登记簿未配置时仅返回会话信息
// GET /api/v1/devices/:imei
func (h *Handler) GetDevice(c *gin.Context) {
	imei := c.Param("imei")
	view := DeviceView{IMEI: imei, Online: h.deps.Sessions.IsOnline(imei, h.now())}
	if info, ok := h.deps.Sessions.Get(imei); ok {
		view.Session = &info
	}

	if h.deps.Devices != nil {
		d, err := h.deps.Devices.GetDevice(c.Request.Context(), imei)
		switch {
		case errors.Is(err, storage.ErrDeviceNotFound):
			if view.Session == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
		case err != nil:
			h.logger.Error("get device failed", zap.String("imei", imei), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		default:
			view.Blocked = d.Blocked
			view.LastTransport = d.LastTransport
			view.LastRemoteAddr = d.LastRemoteAddr
			view.LastCodec = d.LastCodec
			view.LastSeenAt = d.LastSeenAt
			view.RecordCount = d.RecordCount
		}
	} else if view.Session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListRecords 设备最近记录
// GET /api/v1/devices/:imei/records?limit=
func (h *Handler) ListRecords(c *gin.Context) {
	if h.deps.Records == nil {
		unavailable(c, "record store")
		return
	}
	imei := c.Param("imei")
	records, err := h.deps.Records.RecentRecords(c.Request.Context(), imei, intQuery(c, "limit", 100))
	if err != nil {
		h.logger.Error("list records failed", zap.String("imei", imei), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []pgstorage.StoredRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"imei": imei, "records": records})
}

// BlockRequest 拉黑请求
type BlockRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

// SetBlocked 拉黑或解除设备；拉黑同时断开当前连接
// PUT /api/v1/devices/:imei/block
func (h *Handler) SetBlocked(c *gin.Context) {
	if h.deps.Devices == nil {
		unavailable(c, "device registry")
		return
	}
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	imei := c.Param("imei")
	if err := h.deps.Devices.SetBlocked(c.Request.Context(), imei, *req.Blocked); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("set blocked failed", zap.String("imei", imei), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	disconnected := false
	if *req.Blocked {
		if conn, ok := h.deps.Sessions.Conn(imei); ok {
			_ = conn.Close()
			disconnected = true
		}
	}
	h.logger.Info("device block updated",
		zap.String("imei", imei),
		zap.Bool("blocked", *req.Blocked),
		zap.Bool("disconnected", disconnected))
	c.JSON(http.StatusOK, gin.H{"imei": imei, "blocked": *req.Blocked, "disconnected": disconnected})
}

// CommandRequest 下发指令请求
type CommandRequest struct {
	Text     string `json:"text" binding:"required"`
	MaxRetry *int   `json:"max_retry,omitempty"`
}

// EnqueueCommand 排队一条 Codec12 指令，设备下一次上报后投递
// POST /api/v1/devices/:imei/commands
func (h *Handler) EnqueueCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := command.Validate(req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	maxRetry := h.deps.MaxRetry
	if req.MaxRetry != nil && *req.MaxRetry >= 0 {
		maxRetry = *req.MaxRetry
	}

	imei := c.Param("imei")
	ctx := c.Request.Context()
	cmd, err := h.deps.Commands.Enqueue(ctx, imei, req.Text, maxRetry)
	if err != nil {
		h.logger.Error("enqueue command failed", zap.String("imei", imei), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, _ := h.deps.Commands.Pending(ctx, imei)
	h.logger.Info("command enqueued",
		zap.String("imei", imei),
		zap.String("command_id", cmd.ID),
		zap.Int64("pending", pending))
	c.JSON(http.StatusAccepted, gin.H{
		"command": cmd,
		"pending": pending,
		"online":  h.deps.Sessions.IsOnline(imei, h.now()),
	})
}

// GetCommand 指令当前状态；配置了 command_log 时附带历史
// GET /api/v1/commands/:id
func (h *Handler) GetCommand(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	cmd, err := h.deps.Commands.Get(ctx, id)
	if err != nil {
		if errors.Is(err, command.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"command": cmd}
	if h.deps.History != nil {
		history, err := h.deps.History.CommandHistory(ctx, id)
		if err != nil {
			h.logger.Warn("command history failed", zap.String("command_id", id), zap.Error(err))
		} else {
			resp["history"] = history
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions 在线会话；scope=cluster 时列出所有实例
// GET /api/v1/sessions?scope=cluster
func (h *Handler) ListSessions(c *gin.Context) {
	now := h.now()
	list := h.deps.Sessions.List()
	if c.Query("scope") == "cluster" {
		cl, ok := h.deps.Sessions.(ClusterLister)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cluster scope requires redis sessions"})
			return
		}
		all, err := cl.ListCluster(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		list = all
	}
	if list == nil {
		list = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": list,
		"online":   h.deps.Sessions.OnlineCount(now),
	})
}

// ReadStream 回放 Redis 记录流
// GET /api/v1/stream?after=&count=
func (h *Handler) ReadStream(c *gin.Context) {
	if h.deps.Stream == nil {
		unavailable(c, "record stream")
		return
	}
	count := intQuery(c, "count", 100)
	if count == 0 || count > 1000 {
		count = 100
	}
	batches, last, err := h.deps.Stream.Read(c.Request.Context(), c.Query("after"), int64(count))
	if err != nil {
		h.logger.Error("read stream failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if batches == nil {
		batches = []*sink.Batch{}
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "last_id": last})
}
