// Package gateway TCP 设备会话：识别、收帧应答、记录发布与指令下发
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/command"
	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/session"
	"github.com/taoyao-code/avl-server/internal/sink"
	"github.com/taoyao-code/avl-server/internal/storage"
	"github.com/taoyao-code/avl-server/internal/tcpserver"
)

// Conn 会话处理需要的连接能力，*tcpserver.ConnContext 满足该接口
type Conn interface {
	io.ReadWriter
	ID() uint64
	RemoteAddr() net.Addr
	Close() error
	SetReadTimeout(d time.Duration)
	ReadTimeout() time.Duration
}

// CommandLogger 指令状态变化落库
type CommandLogger interface {
	InsertCommandLog(ctx context.Context, cmd *command.Command) error
}

// Options 会话处理依赖；Commands/Devices/CommandLog/Metrics 可为 nil
type Options struct {
	Config     cfgpkg.GatewayConfig
	Sessions   session.Registry
	Publisher  sink.Publisher
	Commands   command.Queue
	Devices    storage.DeviceRepo
	CommandLog CommandLogger
	Metrics    *metrics.AppMetrics
	Logger     *zap.Logger
}

// Handler 每个 TCP 连接一个会话
type Handler struct {
	opts     Options
	policy   *AcceptPolicy
	zeroRead teltonika.ZeroReadPolicy
	logger   *zap.Logger
}

// maxCommandsPerCycle 每收到一帧后最多连续下发的指令数
const maxCommandsPerCycle = 8

// errHangup 等待指令响应时设备断开
var errHangup = fmt.Errorf("device hung up before responding: %w", net.ErrClosed)

// NewHandler 创建会话处理器
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = sink.Log{Logger: logger}
	}
	var blocked BlockChecker
	if opts.Devices != nil {
		blocked = opts.Devices
	}
	return &Handler{
		opts:     opts,
		policy:   NewAcceptPolicy(opts.Config, blocked),
		zeroRead: ParseZeroReadPolicy(opts.Config.ZeroReadPolicy),
		logger:   logger,
	}
}

// ParseZeroReadPolicy default（或空）仅允许指令响应空读；strict 一律视为断开
func ParseZeroReadPolicy(name string) teltonika.ZeroReadPolicy {
	if strings.EqualFold(name, "strict") {
		return teltonika.StrictZeroReadPolicy
	}
	return teltonika.DefaultZeroReadPolicy
}

// ServeConn 实现 tcpserver.Handler
func (h *Handler) ServeConn(ctx context.Context, cc *tcpserver.ConnContext) {
	h.Serve(ctx, cc)
}

// Serve 处理一个设备连接直到断开；返回前解除会话绑定
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	cfg := h.opts.Config
	if cfg.IdleTimeout > 0 {
		conn.SetReadTimeout(cfg.IdleTimeout)
	}
	stream := teltonika.NewStream(conn,
		teltonika.WithIdentifierCapacity(cfg.IdentifierCapacity),
		teltonika.WithPacketCapacity(cfg.PacketCapacity),
		teltonika.WithZeroReadPolicy(h.zeroRead),
	)
	remote := addrString(conn.RemoteAddr())
	log := h.logger.With(zap.Uint64("conn_id", conn.ID()), zap.String("remote", remote))

	imei, err := stream.ReadIdentifier(ctx)
	if err != nil {
		h.countDecodeError(err)
		log.Info("identification failed", zap.Error(err))
		return
	}
	log = log.With(zap.String("imei", imei))

	if err := h.policy.Check(ctx, imei); err != nil {
		h.countIdentifier("deny")
		log.Warn("device rejected", zap.Error(err))
		if werr := stream.WriteIdentifierDenial(); werr != nil {
			log.Debug("write denial failed", zap.Error(werr))
		}
		return
	}
	if err := stream.WriteIdentifierApproval(); err != nil {
		log.Info("write approval failed", zap.Error(err))
		return
	}
	h.countIdentifier("accept")

	now := time.Now()
	prev := h.opts.Sessions.Bind(session.Info{
		IMEI:        imei,
		Transport:   "tcp",
		RemoteAddr:  remote,
		ConnID:      conn.ID(),
		ConnectedAt: now,
		LastSeen:    now,
	}, conn)
	if prev != nil && prev.ID() != conn.ID() {
		log.Info("closing previous connection", zap.Uint64("prev_conn_id", prev.ID()))
		_ = prev.Close()
	}
	defer func() {
		h.opts.Sessions.Unbind(imei, conn.ID())
		h.refreshOnline()
	}()
	h.refreshOnline()

	if h.opts.Devices != nil {
		if _, err := h.opts.Devices.EnsureDevice(ctx, imei, "tcp", remote); err != nil {
			log.Warn("device registry upsert failed", zap.Error(err))
		}
	}
	log.Info("device online")

	for {
		if ctx.Err() != nil {
			return
		}
		frame, raw, err := stream.ReadFrameAndBytes(ctx)
		if err != nil {
			h.logReadEnd(log, err)
			return
		}
		if frame == nil {
			// 策略允许的空读同样意味着对端已关闭
			log.Info("device offline", zap.String("reason", "connection_closed"))
			return
		}
		if frame.Kind() == teltonika.FrameCommand {
			// 未等待中的指令响应，记录后丢弃
			log.Warn("unsolicited command response",
				zap.Stringer("type", frame.MessageType),
				zap.Strings("responses", frame.Responses))
			continue
		}

		batch := sink.NewBatch(imei, "tcp", frame.Codec, frame.Records)
		batch.RemoteAddr = remote
		batch.Raw = raw
		if err := h.opts.Publisher.Publish(ctx, batch); err != nil {
			log.Warn("publish incomplete", zap.String("batch_id", batch.ID), zap.Error(err))
		}
		if err := stream.WriteFrameAck(frame); err != nil {
			log.Info("write ack failed", zap.Error(err))
			return
		}
		h.recordActivity(ctx, log, imei, remote, frame.Codec, len(frame.Records))

		if err := h.deliverCommands(ctx, log, stream, conn, imei); err != nil {
			log.Info("session ended during command exchange", zap.Error(err))
			return
		}
	}
}

func (h *Handler) recordActivity(ctx context.Context, log *zap.Logger, imei, remote string, codec teltonika.Codec, records int) {
	at := time.Now()
	h.opts.Sessions.Touch(session.Activity{
		IMEI:       imei,
		Transport:  "tcp",
		RemoteAddr: remote,
		Codec:      codec.String(),
		Records:    records,
		At:         at,
	})
	if m := h.opts.Metrics; m != nil {
		m.FramesDecoded.WithLabelValues(codec.String()).Inc()
		m.RecordsDecoded.WithLabelValues(codec.String()).Add(float64(records))
	}
	if h.opts.Devices != nil {
		if err := h.opts.Devices.TouchDevice(ctx, imei, codec.String(), records, at); err != nil {
			log.Debug("device registry touch failed", zap.Error(err))
		}
	}
	log.Debug("frame accepted", zap.Stringer("codec", codec), zap.Int("records", records))
}

// deliverCommands 逐条下发待投递指令并等待响应
// 返回错误表示连接已不可用（写失败、响应超时或响应帧异常）
func (h *Handler) deliverCommands(ctx context.Context, log *zap.Logger, stream *teltonika.Stream, conn Conn, imei string) error {
	q := h.opts.Commands
	if q == nil {
		return nil
	}
	for i := 0; i < maxCommandsPerCycle; i++ {
		cmd, err := q.Dequeue(ctx, imei)
		if err != nil {
			log.Warn("dequeue command failed", zap.Error(err))
			return nil
		}
		if cmd == nil {
			return nil
		}
		clog := log.With(zap.String("command_id", cmd.ID), zap.String("command", cmd.Text))

		if err := stream.WriteCommand(cmd.Text); err != nil {
			h.failCommand(ctx, clog, cmd, "write", err)
			return err
		}
		h.countCommand("sent")
		h.logCommand(ctx, clog, cmd)

		before := stream.BytesRead()
		resp, err := h.awaitResponse(ctx, stream, conn)
		if err == nil && stream.BytesRead() == before {
			// 空响应帧来自0字节读取，设备已断开
			err = errHangup
		}
		if err != nil {
			h.failCommand(ctx, clog, cmd, "response", err)
			return err
		}

		status := command.StatusResponded
		result := "response"
		if resp.MessageType == teltonika.TypeNotExecuted {
			status, result = command.StatusNotExecuted, "not_executed"
		}
		text := strings.Join(resp.Responses, "\n")
		if err := q.Complete(ctx, cmd, status, text); err != nil {
			clog.Warn("complete command failed", zap.Error(err))
		}
		h.countCommand(result)
		h.logCommand(ctx, clog, cmd)
		h.opts.Sessions.Touch(session.Activity{IMEI: imei, Transport: "tcp", Codec: resp.Codec.String(), At: time.Now()})
		clog.Info("command answered", zap.String("status", string(status)), zap.String("response", text))
	}
	return nil
}

// awaitResponse 以指令超时读取响应，随后恢复空闲超时
func (h *Handler) awaitResponse(ctx context.Context, stream *teltonika.Stream, conn Conn) (*teltonika.Frame, error) {
	if d := h.opts.Config.CommandTimeout; d > 0 {
		idle := conn.ReadTimeout()
		conn.SetReadTimeout(d)
		defer conn.SetReadTimeout(idle)
	}
	return stream.ReadCommandResponse(ctx)
}

func (h *Handler) failCommand(ctx context.Context, log *zap.Logger, cmd *command.Command, stage string, cause error) {
	reason := stage + ": " + cause.Error()
	if err := h.opts.Commands.Fail(ctx, cmd, reason); err != nil {
		log.Warn("fail command failed", zap.Error(err))
	}
	result := "failed"
	if ErrorLabel(cause) == "timeout" {
		result = "timeout"
	}
	h.countCommand(result)
	h.logCommand(ctx, log, cmd)
	log.Warn("command delivery failed", zap.String("reason", reason), zap.Int("retries", cmd.Retries))
}

func (h *Handler) logCommand(ctx context.Context, log *zap.Logger, cmd *command.Command) {
	if h.opts.CommandLog == nil {
		return
	}
	if err := h.opts.CommandLog.InsertCommandLog(ctx, cmd); err != nil {
		log.Debug("command log insert failed", zap.Error(err))
	}
}

// logReadEnd 区分正常断开、空闲超时与协议错误
func (h *Handler) logReadEnd(log *zap.Logger, err error) {
	label := h.countDecodeError(err)
	switch label {
	case "connection_closed", "canceled":
		log.Info("device offline", zap.String("reason", label))
	case "timeout":
		log.Info("device idle timeout")
	default:
		log.Warn("frame decode failed", zap.String("kind", label), zap.Error(err))
	}
}

// countDecodeError 返回错误分类标签并计数
func (h *Handler) countDecodeError(err error) string {
	label := ErrorLabel(err)
	if h.opts.Metrics != nil {
		h.opts.Metrics.DecodeErrors.WithLabelValues(label).Inc()
	}
	return label
}

// ErrorLabel 解码/读取错误的指标标签
func ErrorLabel(err error) string {
	if k := teltonika.KindOf(err); k != 0 {
		return k.Label()
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return "connection_closed"
	default:
		return "io"
	}
}

func (h *Handler) countIdentifier(result string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.IdentifierTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) countCommand(result string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.CommandsTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) refreshOnline() {
	if h.opts.Metrics != nil {
		h.opts.Metrics.OnlineGauge.Set(float64(h.opts.Sessions.OnlineCount(time.Now())))
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
