package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
)

// Config 模拟参数
type Config struct {
	Addr        string
	IMEI        string
	Transport   string
	Codec       string
	Frames      int
	Records     int
	Interval    time.Duration
	CommandWait time.Duration
	Reject      []string
	Timeout     time.Duration
}

// Stats 运行统计
type Stats struct {
	Frames   int
	Records  int
	Commands int
}

var (
	ErrDenied      = errors.New("gateway denied the identifier")
	ErrAckMismatch = errors.New("ack does not match sent records")
)

// Simulator 单个模拟终端
type Simulator struct {
	cfg    Config
	codec  teltonika.Codec
	logger *zap.Logger
	reject map[string]bool

	// 轨迹状态
	seq     int
	packet  uint16
	started time.Time
}

// New 校验参数
func New(cfg Config, logger *zap.Logger) (*Simulator, error) {
	var codec teltonika.Codec
	switch strings.ToLower(cfg.Codec) {
	case "8":
		codec = teltonika.Codec8
	case "8e", "8ext":
		codec = teltonika.Codec8Ext
	case "16":
		codec = teltonika.Codec16
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	if cfg.Transport != "tcp" && cfg.Transport != "udp" {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.Records < 1 || cfg.Records > math.MaxUint8 {
		return nil, fmt.Errorf("records per frame must be 1..255, got %d", cfg.Records)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reject := make(map[string]bool, len(cfg.Reject))
	for _, r := range cfg.Reject {
		reject[r] = true
	}
	return &Simulator{
		cfg:     cfg,
		codec:   codec,
		logger:  logger.With(zap.String("imei", cfg.IMEI), zap.String("transport", cfg.Transport)),
		reject:  reject,
		started: time.Now().UTC().Truncate(time.Millisecond),
	}, nil
}

// Run 连接网关并上报直到发送完 Frames 个单元或 ctx 结束
func (s *Simulator) Run(ctx context.Context) (Stats, error) {
	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, s.cfg.Transport, s.cfg.Addr)
	if err != nil {
		return Stats{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if s.cfg.Transport == "udp" {
		return s.runUDP(ctx, conn)
	}
	return s.runTCP(ctx, conn)
}

func (s *Simulator) runTCP(ctx context.Context, conn net.Conn) (Stats, error) {
	var st Stats
	id, err := teltonika.EncodeIdentifier(s.cfg.IMEI)
	if err != nil {
		return st, err
	}
	if err := s.writeWithDeadline(conn, id); err != nil {
		return st, fmt.Errorf("send identifier: %w", err)
	}
	ack := make([]byte, 1)
	if err := s.readFull(conn, ack); err != nil {
		return st, fmt.Errorf("identifier ack: %w", err)
	}
	if ack[0] != teltonika.IdentifierAck(true)[0] {
		return st, ErrDenied
	}
	s.logger.Info("identifier accepted")

	stream := teltonika.NewStream(conn)
	for i := 0; s.cfg.Frames == 0 || i < s.cfg.Frames; i++ {
		if i > 0 && !sleep(ctx, s.cfg.Interval) {
			return st, ctx.Err()
		}
		frame := &teltonika.Frame{Codec: s.codec, Records: s.nextRecords()}
		raw, err := teltonika.EncodeFrame(frame)
		if err != nil {
			return st, err
		}
		if err := s.writeWithDeadline(conn, raw); err != nil {
			return st, fmt.Errorf("send frame: %w", err)
		}
		countAck := make([]byte, 4)
		if err := s.readFull(conn, countAck); err != nil {
			return st, fmt.Errorf("frame ack: %w", err)
		}
		if n := binary.BigEndian.Uint32(countAck); int(n) != len(frame.Records) {
			return st, fmt.Errorf("%w: sent %d, acked %d", ErrAckMismatch, len(frame.Records), n)
		}
		st.Frames++
		st.Records += len(frame.Records)
		s.logger.Debug("frame acked", zap.Int("records", len(frame.Records)))

		n, err := s.serveCommands(ctx, conn, stream)
		st.Commands += n
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

// serveCommands 在 CommandWait 窗口内应答网关下发的指令
func (s *Simulator) serveCommands(ctx context.Context, conn net.Conn, stream *teltonika.Stream) (int, error) {
	if s.cfg.CommandWait <= 0 {
		return 0, nil
	}
	handled := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.CommandWait))
		f, err := stream.ReadFrame(ctx)
		_ = conn.SetReadDeadline(time.Time{})
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return handled, nil
		}
		if err != nil {
			return handled, fmt.Errorf("read command: %w", err)
		}
		if f == nil {
			return handled, nil
		}
		if f.Codec != teltonika.Codec12 || f.MessageType != teltonika.TypeCommand {
			s.logger.Warn("unexpected frame from gateway", zap.Stringer("codec", f.Codec))
			continue
		}
		for _, cmd := range f.Responses {
			mt, reply := teltonika.TypeResponse, "ok: "+cmd
			if s.reject[cmd] {
				mt, reply = teltonika.TypeNotExecuted, cmd
			}
			raw, err := teltonika.EncodeCommandResponse(mt, reply)
			if err != nil {
				return handled, err
			}
			if err := s.writeWithDeadline(conn, raw); err != nil {
				return handled, fmt.Errorf("send response: %w", err)
			}
			handled++
			s.logger.Info("command answered", zap.String("command", cmd), zap.Stringer("type", mt))
		}
	}
}

func (s *Simulator) runUDP(ctx context.Context, conn net.Conn) (Stats, error) {
	var st Stats
	buf := make([]byte, 64)
	for i := 0; s.cfg.Frames == 0 || i < s.cfg.Frames; i++ {
		if i > 0 && !sleep(ctx, s.cfg.Interval) {
			return st, ctx.Err()
		}
		s.packet++
		d := &teltonika.Datagram{
			PacketID:    s.packet,
			AVLPacketID: uint8(s.packet),
			IMEI:        s.cfg.IMEI,
			Codec:       s.codec,
			Records:     s.nextRecords(),
		}
		raw, err := teltonika.EncodeDatagram(d)
		if err != nil {
			return st, err
		}
		if err := s.writeWithDeadline(conn, raw); err != nil {
			return st, fmt.Errorf("send datagram: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
		n, err := conn.Read(buf)
		if err != nil {
			return st, fmt.Errorf("datagram ack: %w", err)
		}
		want := teltonika.DatagramAck(d)
		if n != len(want) || string(buf[:n]) != string(want) {
			return st, fmt.Errorf("%w: packet %d", ErrAckMismatch, d.PacketID)
		}
		st.Frames++
		st.Records += len(d.Records)
	}
	return st, nil
}

// nextRecords 生成一段沿经线移动的轨迹
func (s *Simulator) nextRecords() []teltonika.Record {
	out := make([]teltonika.Record, 0, s.cfg.Records)
	for i := 0; i < s.cfg.Records; i++ {
		s.seq++
		rec := teltonika.Record{
			Timestamp:  s.started.Add(time.Duration(s.seq) * time.Second),
			Priority:   teltonika.PriorityLow,
			Longitude:  25.2797,
			Latitude:   54.6872 + float64(s.seq)*0.0001,
			Altitude:   120,
			Angle:      0,
			Satellites: 9,
			Speed:      36,
			Events: []teltonika.Event{
				// 点火、外部电压、里程
				{ID: 239, Value: teltonika.U8(1)},
				{ID: 66, Value: teltonika.U16(12800)},
				{ID: 199, Value: teltonika.U32(uint32(s.seq) * 10)},
			},
		}
		switch s.codec {
		case teltonika.Codec16:
			cause := teltonika.CausePeriodical
			rec.GenerationCause = &cause
		case teltonika.Codec8Ext:
			rec.Events = append(rec.Events, teltonika.Event{ID: 385, Value: teltonika.Variable([]byte(s.cfg.IMEI))})
		}
		out = append(out, rec)
	}
	return out
}

func (s *Simulator) writeWithDeadline(conn net.Conn, p []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	_, err := conn.Write(p)
	return err
}

func (s *Simulator) readFull(conn net.Conn, p []byte) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_, err := io.ReadFull(conn, p)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
