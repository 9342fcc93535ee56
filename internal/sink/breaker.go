package sink

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常发布
	BreakerOpen                         // 拒绝发布，直到冷却结束
	BreakerHalfOpen                     // 冷却结束后放行试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrBreakerOpen 熔断中，本批次被跳过
	ErrBreakerOpen = errors.New("sink breaker is open")
	// ErrHalfOpenBusy 半开试探名额已满
	ErrHalfOpenBusy = errors.New("sink breaker half-open probe in flight")
)

// Breaker 下游发布熔断器
// 连续失败 maxFailures 次进入 Open；冷却 resetTimeout 后放行 probes 个试探，
// 全部成功回到 Closed，任一失败重新 Open
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	inflight int
	passed   int
	openedAt time.Time
	trips    int64

	maxFailures  int
	resetTimeout time.Duration
	probes       int
	now          func() time.Time

	onStateChange func(from, to BreakerState)
}

// NewBreaker 创建熔断器，非正参数取默认值（5 次 / 30s）
func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		probes:       1,
		now:          time.Now,
	}
}

// OnStateChange 注册状态变化回调（在持锁外同步调用）
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Do 在熔断保护下执行 fn
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.release(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var from, to BreakerState
	changed := false
	defer func() {
		cb := b.onStateChange
		b.mu.Unlock()
		if changed && cb != nil {
			cb(from, to)
		}
	}()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		from, to, changed = b.state, BreakerHalfOpen, true
		b.state = BreakerHalfOpen
		b.passed = 0
		b.inflight = 1
		return nil
	case BreakerHalfOpen:
		if b.inflight >= b.probes {
			return ErrHalfOpenBusy
		}
		b.inflight++
		return nil
	}
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case BreakerClosed:
		if err != nil {
			b.failures++
			if b.failures >= b.maxFailures {
				b.trip()
			}
		} else {
			b.failures = 0
		}
	case BreakerHalfOpen:
		b.inflight--
		if err != nil {
			b.trip()
		} else {
			b.passed++
			if b.passed >= b.probes {
				b.state = BreakerClosed
				b.failures = 0
			}
		}
	}
	to := b.state
	cb := b.onStateChange
	b.mu.Unlock()
	if from != to && cb != nil {
		cb(from, to)
	}
}

// trip 持锁调用
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.inflight = 0
	b.trips++
}

// State 当前状态（Open 冷却结束前不会自行变为 HalfOpen）
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复为 Closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = BreakerClosed
	b.failures = 0
	b.inflight = 0
	b.mu.Unlock()
}

// BreakerStats 熔断器统计
type BreakerStats struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	Trips    int64     `json:"trips"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Stats 统计快照
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:    b.state.String(),
		Failures: b.failures,
		Trips:    b.trips,
		OpenedAt: b.openedAt,
	}
}
