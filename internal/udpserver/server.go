// Package udpserver UDP 数据报网关：解码、应答发送方并发布记录
package udpserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/gateway"
	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/session"
	"github.com/taoyao-code/avl-server/internal/sink"
	"github.com/taoyao-code/avl-server/internal/storage"
)

// Options 数据报处理依赖；Devices/Metrics 可为 nil
type Options struct {
	Sessions  session.Registry
	Publisher sink.Publisher
	Policy    *gateway.AcceptPolicy
	Devices   storage.DeviceRepo
	Metrics   *metrics.AppMetrics
	Logger    *zap.Logger
}

// Server UDP 网关
type Server struct {
	cfg    cfgpkg.UDPConfig
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	conn net.PacketConn
	wg   sync.WaitGroup
}

// New 创建 UDP 网关，Start 后开始监听
func New(cfg cfgpkg.UDPConfig, opts Options) *Server {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = teltonika.DefaultPacketCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = sink.Log{Logger: logger}
	}
	return &Server{cfg: cfg, opts: opts, logger: logger}
}

// Start 监听并启动读取循环
func (s *Server) Start() error {
	conn, err := net.ListenPacket("udp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn)
	s.logger.Info("udp gateway listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr 实际监听地址（端口为0时有用）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Listening 是否正在监听
func (s *Server) Listening() bool { return s.Addr() != nil }

func (s *Server) readLoop(conn net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("udp read failed", zap.Error(err))
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.handle(context.Background(), conn, addr, packet)
	}
}

// handle 一个数据报对应一个 Stream：读取端为报文内容，写入端回发给来源地址
func (s *Server) handle(ctx context.Context, conn net.PacketConn, addr net.Addr, packet []byte) {
	if m := s.opts.Metrics; m != nil {
		m.UDPDatagrams.Inc()
	}
	remote := addr.String()
	rw := &packetRW{r: bytes.NewReader(packet), conn: conn, addr: addr, timeout: s.cfg.WriteTimeout}
	stream := teltonika.NewStream(rw, teltonika.WithPacketCapacity(len(packet)+1))

	d, err := stream.ReadDatagram(ctx)
	if err != nil {
		label := gateway.ErrorLabel(err)
		if m := s.opts.Metrics; m != nil {
			m.DecodeErrors.WithLabelValues(label).Inc()
		}
		s.logger.Warn("datagram decode failed",
			zap.String("remote", remote),
			zap.String("kind", label),
			zap.Int("bytes", len(packet)),
			zap.Error(err))
		return
	}
	log := s.logger.With(zap.String("imei", d.IMEI), zap.String("remote", remote), zap.Uint16("packet_id", d.PacketID))

	if s.opts.Policy != nil {
		if err := s.opts.Policy.Check(ctx, d.IMEI); err != nil {
			// 不应答，设备按自身策略重发或放弃
			if m := s.opts.Metrics; m != nil {
				m.IdentifierTotal.WithLabelValues("deny").Inc()
			}
			log.Warn("datagram rejected", zap.Error(err))
			return
		}
	}

	batch := sink.NewBatch(d.IMEI, "udp", d.Codec, d.Records)
	batch.RemoteAddr = remote
	batch.PacketID = d.PacketID
	batch.Raw = packet
	if err := s.opts.Publisher.Publish(ctx, batch); err != nil {
		log.Warn("publish incomplete", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	if err := stream.WriteDatagramAck(d); err != nil {
		log.Warn("write datagram ack failed", zap.Error(err))
	}

	now := time.Now()
	if s.opts.Sessions != nil {
		s.opts.Sessions.Touch(session.Activity{
			IMEI:       d.IMEI,
			Transport:  "udp",
			RemoteAddr: remote,
			Codec:      d.Codec.String(),
			Records:    len(d.Records),
			At:         now,
		})
	}
	if m := s.opts.Metrics; m != nil {
		m.FramesDecoded.WithLabelValues(d.Codec.String()).Inc()
		m.RecordsDecoded.WithLabelValues(d.Codec.String()).Add(float64(len(d.Records)))
	}
	if s.opts.Devices != nil {
		if err := s.opts.Devices.TouchDevice(ctx, d.IMEI, d.Codec.String(), len(d.Records), now); err != nil {
			log.Debug("device registry touch failed", zap.Error(err))
		}
	}
	log.Debug("datagram accepted", zap.Stringer("codec", d.Codec), zap.Int("records", len(d.Records)))
}

// Shutdown 关闭监听并等待读取循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// packetRW 报文读取 + 回发写入
type packetRW struct {
	r       *bytes.Reader
	conn    net.PacketConn
	addr    net.Addr
	timeout time.Duration
}

func (p *packetRW) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *packetRW) Write(b []byte) (int, error) {
	if p.timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	}
	return p.conn.WriteTo(b, p.addr)
}
