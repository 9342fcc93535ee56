package teltonika

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	DefaultIdentifierCapacity = 128
	DefaultPacketCapacity     = 2048
)

// UnitKind 一次读取周期要解码的逻辑单元
type UnitKind int

const (
	UnitIdentifier UnitKind = iota
	UnitFrame
	UnitDatagram
	UnitCommandResponse
)

func (k UnitKind) String() string {
	switch k {
	case UnitIdentifier:
		return "identifier"
	case UnitFrame:
		return "frame"
	case UnitDatagram:
		return "datagram"
	case UnitCommandResponse:
		return "command_response"
	default:
		return "unknown"
	}
}

// ZeroReadPolicy 决定某类读取在缓冲为空时读到0字节是否视为合法的空结果
// 返回 false 时按连接关闭处理
type ZeroReadPolicy func(kind UnitKind) bool

// DefaultZeroReadPolicy 仅指令响应允许空结果
func DefaultZeroReadPolicy(kind UnitKind) bool { return kind == UnitCommandResponse }

// StrictZeroReadPolicy 任何0字节读取都视为连接关闭
func StrictZeroReadPolicy(UnitKind) bool { return false }

// State 重组状态机状态
type State int

const (
	StateAccumulating State = iota
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option Stream 配置项
type Option func(*Stream)

// WithIdentifierCapacity IMEI 读取的单次读块大小（仅影响初始分配）
func WithIdentifierCapacity(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.imeiCap = n
		}
	}
}

// WithPacketCapacity 帧/数据报读取的单次读块大小（仅影响初始分配）
func WithPacketCapacity(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.packetCap = n
		}
	}
}

// WithZeroReadPolicy 替换0字节读取策略
func WithZeroReadPolicy(p ZeroReadPolicy) Option {
	return func(s *Stream) {
		if p != nil {
			s.zeroRead = p
		}
	}
}

// Stream 在字节流上做增量重组：反复读取、追加缓冲、尝试解码
// 同一 Stream 同一时刻只能有一个读取在进行，不可并发使用
type Stream struct {
	inner     io.ReadWriter
	imeiCap   int
	packetCap int
	zeroRead  ZeroReadPolicy
	state     State
	bytesRead uint64
}

// NewStream 包装一个字节源/汇
func NewStream(rw io.ReadWriter, opts ...Option) *Stream {
	s := &Stream{
		inner:     rw,
		imeiCap:   DefaultIdentifierCapacity,
		packetCap: DefaultPacketCapacity,
		zeroRead:  DefaultZeroReadPolicy,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Inner 返回底层字节源/汇
func (s *Stream) Inner() io.ReadWriter { return s.inner }

// State 最近一次读取周期的状态
func (s *Stream) State() State { return s.state }

// BytesRead 累计读取字节数
func (s *Stream) BytesRead() uint64 { return s.bytesRead }

// DecodeFunc 解码函数：返回消耗字节数与结果；字节不足须返回 Incomplete
type DecodeFunc[T any] func(b []byte) (int, T, error)

// errEmptyUnit 策略允许的0字节空结果
var errEmptyUnit = errors.New("empty unit")

// PullAndDecode 读取-累积-解码循环
//   - 解码成功：状态 Complete，返回结果与本单元原始字节，多余字节丢弃
//   - Incomplete：继续读取
//   - 其它错误：状态 Failed，立即返回，不重试
//   - 读到0字节：按 ZeroReadPolicy 返回空结果或 ConnectionClosed
//
// ctx 只在两次读取之间检查；阻塞中的读取由字节源自身的超时/取消约束
func PullAndDecode[T any](ctx context.Context, s *Stream, kind UnitKind, decode DecodeFunc[T]) (T, []byte, error) {
	var zero T
	capacity := s.packetCap
	if kind == UnitIdentifier {
		capacity = s.imeiCap
	}
	s.state = StateAccumulating
	buf := make([]byte, 0, capacity*2)
	chunk := make([]byte, capacity)

	fail := func(err error) (T, []byte, error) {
		s.state = StateFailed
		return zero, nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n, rerr := s.inner.Read(chunk)
		if n > 0 {
			s.bytesRead += uint64(n)
			buf = append(buf, chunk[:n]...)
			used, v, err := decode(buf)
			switch {
			case err == nil:
				s.state = StateComplete
				return v, buf[:used], nil
			case !IsIncomplete(err):
				return fail(err)
			}
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return fail(fmt.Errorf("read %s: %w", kind, rerr))
		}
		if n == 0 {
			if len(buf) == 0 && s.zeroRead(kind) {
				s.state = StateComplete
				return zero, nil, errEmptyUnit
			}
			return fail(closed(kind, len(buf)))
		}
		if rerr != nil {
			// 本次读到数据但流已结束，仍不完整
			return fail(closed(kind, len(buf)))
		}
	}
}

func closed(kind UnitKind, buffered int) error {
	return newError(KindConnectionClosed, kind.String(), buffered, "stream ended with %d bytes buffered", buffered)
}

// ReadIdentifier 读取设备 IMEI
func (s *Stream) ReadIdentifier(ctx context.Context) (string, error) {
	imei, _, err := PullAndDecode[string](ctx, s, UnitIdentifier, DecodeIdentifier)
	if errors.Is(err, errEmptyUnit) {
		return "", nil
	}
	return imei, err
}

// ReadFrame 读取一帧 TCP 数据
func (s *Stream) ReadFrame(ctx context.Context) (*Frame, error) {
	f, _, err := s.ReadFrameAndBytes(ctx)
	return f, err
}

// ReadFrameAndBytes 与 ReadFrame 相同，同时返回该帧的原始字节
func (s *Stream) ReadFrameAndBytes(ctx context.Context) (*Frame, []byte, error) {
	f, raw, err := PullAndDecode[*Frame](ctx, s, UnitFrame, DecodeFrame)
	if errors.Is(err, errEmptyUnit) {
		return nil, nil, nil
	}
	return f, raw, err
}

// ReadDatagram 读取一个 UDP 数据报
func (s *Stream) ReadDatagram(ctx context.Context) (*Datagram, error) {
	d, _, err := PullAndDecode[*Datagram](ctx, s, UnitDatagram, DecodeDatagram)
	if errors.Is(err, errEmptyUnit) {
		return nil, nil
	}
	return d, err
}

// ReadCommandResponse 读取 Codec12 指令响应帧
// 策略允许时，0字节读取返回一个不含响应的空帧
func (s *Stream) ReadCommandResponse(ctx context.Context) (*Frame, error) {
	f, _, err := PullAndDecode[*Frame](ctx, s, UnitCommandResponse, DecodeFrame)
	if errors.Is(err, errEmptyUnit) {
		return &Frame{Codec: Codec12, MessageType: TypeResponse}, nil
	}
	if err != nil {
		return nil, err
	}
	if f.Codec != Codec12 {
		s.state = StateFailed
		return nil, newError(KindUnsupportedCodec, "codec", headerLen, "expected %s response, got %s", Codec12, f.Codec)
	}
	return f, nil
}

type flusher interface {
	Flush() error
}

// write 写全部字节后 flush（若底层支持）
func (s *Stream) write(p []byte) error {
	if _, err := s.inner.Write(p); err != nil {
		return err
	}
	if f, ok := s.inner.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteIdentifierApproval 接受设备
func (s *Stream) WriteIdentifierApproval() error { return s.write(IdentifierAck(true)) }

// WriteIdentifierDenial 拒绝设备
func (s *Stream) WriteIdentifierDenial() error { return s.write(IdentifierAck(false)) }

// WriteFrameAck 应答接收的记录数；f 为 nil 时应答0
func (s *Stream) WriteFrameAck(f *Frame) error { return s.write(FrameAck(f)) }

// WriteDatagramAck 数据报应答；d 为 nil 时计数与ID均为0
func (s *Stream) WriteDatagramAck(d *Datagram) error { return s.write(DatagramAck(d)) }

// WriteCommand 下发 Codec12 指令
func (s *Stream) WriteCommand(cmds ...string) error {
	b, err := EncodeCommand(cmds...)
	if err != nil {
		return err
	}
	return s.write(b)
}
