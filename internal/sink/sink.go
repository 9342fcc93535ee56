// Package sink 解码后记录的下游发布：Redis Stream、PostgreSQL 与日志
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
)

// Batch 一次上报（一帧或一个数据报）的记录集合
type Batch struct {
	ID         string             `cbor:"id" json:"id"`
	IMEI       string             `cbor:"imei" json:"imei"`
	Transport  string             `cbor:"transport" json:"transport"`
	RemoteAddr string             `cbor:"remote_addr,omitempty" json:"remote_addr,omitempty"`
	Codec      teltonika.Codec    `cbor:"codec" json:"codec"`
	PacketID   uint16             `cbor:"packet_id,omitempty" json:"packet_id,omitempty"`
	ReceivedAt time.Time          `cbor:"received_at" json:"received_at"`
	Records    []teltonika.Record `cbor:"records" json:"records"`
	Raw        []byte             `cbor:"raw,omitempty" json:"raw,omitempty"`
}

// NewBatch 生成带ID的批次
func NewBatch(imei, transport string, codec teltonika.Codec, records []teltonika.Record) *Batch {
	return &Batch{
		ID:         uuid.NewString(),
		IMEI:       imei,
		Transport:  transport,
		Codec:      codec,
		ReceivedAt: time.Now().UTC(),
		Records:    records,
	}
}

// Publisher 下游发布接口
type Publisher interface {
	Publish(ctx context.Context, b *Batch) error
}

// PublisherFunc 函数适配
type PublisherFunc func(ctx context.Context, b *Batch) error

func (f PublisherFunc) Publish(ctx context.Context, b *Batch) error { return f(ctx, b) }

// Log 仅记录日志的发布者（未启用任何存储时使用）
type Log struct {
	Logger *zap.Logger
}

func (l Log) Publish(_ context.Context, b *Batch) error {
	if l.Logger == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("batch_id", b.ID),
		zap.String("imei", b.IMEI),
		zap.String("transport", b.Transport),
		zap.Stringer("codec", b.Codec),
		zap.Int("records", len(b.Records)),
	}
	if n := len(b.Records); n > 0 {
		last := b.Records[n-1]
		fields = append(fields,
			zap.Time("last_ts", last.Timestamp),
			zap.Float64("lat", last.Latitude),
			zap.Float64("lon", last.Longitude),
		)
	}
	l.Logger.Info("avl batch", fields...)
	return nil
}

// Memory 内存发布者，保存全部批次
type Memory struct {
	mu      sync.Mutex
	batches []*Batch
	Err     error
}

func (m *Memory) Publish(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.batches = append(m.batches, b)
	return nil
}

// Batches 已发布批次的副本
func (m *Memory) Batches() []*Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Fanout 依次发布到各个下游，每个下游独立熔断
// 任一下游失败不影响其他下游，返回合并后的错误
type Fanout struct {
	logger   *zap.Logger
	targets  []target
	onResult func(sink, result string)

	maxFailures  int
	resetTimeout time.Duration
}

type target struct {
	name    string
	pub     Publisher
	breaker *Breaker
}

// NewFanout 创建扇出发布器
func NewFanout(logger *zap.Logger, maxFailures int, resetTimeout time.Duration) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger, maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// Add 注册下游
func (f *Fanout) Add(name string, p Publisher) {
	b := NewBreaker(f.maxFailures, f.resetTimeout)
	b.OnStateChange(func(from, to BreakerState) {
		f.logger.Warn("sink breaker state changed",
			zap.String("sink", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})
	f.targets = append(f.targets, target{name: name, pub: p, breaker: b})
}

// SetResultCallback 设置发布结果回调（result=ok|error|open）
func (f *Fanout) SetResultCallback(fn func(sink, result string)) { f.onResult = fn }

// Len 下游数量
func (f *Fanout) Len() int { return len(f.targets) }

// Breakers 各下游熔断器统计
func (f *Fanout) Breakers() map[string]BreakerStats {
	out := make(map[string]BreakerStats, len(f.targets))
	for _, t := range f.targets {
		out[t.name] = t.breaker.Stats()
	}
	return out
}

func (f *Fanout) Publish(ctx context.Context, b *Batch) error {
	var errs []error
	for _, t := range f.targets {
		err := t.breaker.Do(func() error { return t.pub.Publish(ctx, b) })
		result := "ok"
		switch {
		case errors.Is(err, ErrBreakerOpen), errors.Is(err, ErrHalfOpenBusy):
			result = "open"
		case err != nil:
			result = "error"
			f.logger.Error("publish failed",
				zap.String("sink", t.name),
				zap.String("imei", b.IMEI),
				zap.String("batch_id", b.ID),
				zap.Error(err))
		}
		if f.onResult != nil {
			f.onResult(t.name, result)
		}
		if err != nil {
			errs = append(errs, &PublishError{Sink: t.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// PublishError 单个下游的发布失败
type PublishError struct {
	Sink string
	Err  error
}

func (e *PublishError) Error() string { return "sink " + e.Sink + ": " + e.Err.Error() }
func (e *PublishError) Unwrap() error { return e.Err }
