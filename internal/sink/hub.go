package sink

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub 将批次广播给实时订阅者（WebSocket 推送）
// 订阅者队列满时丢弃，发布不会被慢消费者阻塞
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

// Subscription 单个订阅；IMEI 为空表示接收全部设备
type Subscription struct {
	IMEI string
	C    <-chan *Batch

	ch   chan *Batch
	once sync.Once
}

// NewHub buffer<=0 时取 64
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

var _ Publisher = (*Hub)(nil)

// Subscribe 注册订阅，调用方结束时必须 Unsubscribe
func (h *Hub) Subscribe(imei string) *Subscription {
	ch := make(chan *Batch, h.buffer)
	s := &Subscription{IMEI: imei, C: ch, ch: ch}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe 移除订阅并关闭其通道，可重复调用
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Close 关闭全部订阅，停机时用于结束推送连接
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// Publish 非阻塞投递
func (h *Hub) Publish(_ context.Context, b *Batch) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.IMEI != "" && s.IMEI != b.IMEI {
			continue
		}
		select {
		case s.ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers 当前订阅数
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因队列满丢弃的投递次数
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
