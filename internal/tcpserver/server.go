package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
)

// Handler 处理一个已接受的连接；返回后连接被关闭
type Handler interface {
	ServeConn(ctx context.Context, cc *ConnContext)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, cc *ConnContext)

func (f HandlerFunc) ServeConn(ctx context.Context, cc *ConnContext) { f(ctx, cc) }

// Server TCP 网关：接受连接、准入控制、每连接一个 goroutine
type Server struct {
	cfg     cfgpkg.TCPConfig
	handler Handler
	logger  *zap.Logger

	limiter *ConnectionLimiter
	rate    *RateLimiter

	mu    sync.Mutex
	ln    net.Listener
	conns map[uint64]*ConnContext

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	nextConnID atomic.Uint64

	// 可选指标回调
	onAccept    func()
	onReject    func(reason string)
	onRecvBytes func(n int)
}

// New 创建 TCP 网关
func New(cfg cfgpkg.TCPConfig, handler Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		limiter: NewConnectionLimiter(cfg.MaxConnections, 100*time.Millisecond),
		rate:    NewRateLimiter(cfg.RateLimit.RatePerSec, cfg.RateLimit.Burst),
		conns:   make(map[uint64]*ConnContext),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onReject func(string), onRecvBytes func(int)) {
	s.onAccept, s.onReject, s.onRecvBytes = onAccept, onReject, onRecvBytes
}

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("tcp gateway listening", zap.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr 实际监听地址（端口为0时用于获取分配的端口）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listening 监听是否仍在运行
func (s *Server) Listening() bool {
	return s.Addr() != nil && s.ctx.Err() == nil
}

// ActiveConnections 当前连接数
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stats 准入控制统计
func (s *Server) Stats() (LimiterStats, RateLimiterStats) {
	return s.limiter.Stats(), s.rate.Stats()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			// 短暂错误等待后重试
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.rate.Allow() {
			s.reject(c, "rate")
			continue
		}
		if err := s.limiter.Acquire(s.ctx); err != nil {
			s.reject(c, "limit")
			continue
		}
		if s.onAccept != nil {
			s.onAccept()
		}

		cc := newConnContext(c, s.nextConnID.Add(1), s.cfg.ReadTimeout, s.cfg.WriteTimeout, s.onRecvBytes)
		s.track(cc)
		s.wg.Add(1)
		go s.serve(cc)
	}
}

func (s *Server) reject(c net.Conn, reason string) {
	s.logger.Warn("connection rejected",
		zap.String("remote_addr", c.RemoteAddr().String()),
		zap.String("reason", reason),
	)
	if s.onReject != nil {
		s.onReject(reason)
	}
	_ = c.Close()
}

func (s *Server) serve(cc *ConnContext) {
	defer s.wg.Done()
	defer s.limiter.Release()
	defer s.untrack(cc)
	defer cc.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panic",
				zap.Uint64("conn_id", cc.ID()),
				zap.Any("panic", r),
			)
		}
	}()

	if s.handler != nil {
		s.handler.ServeConn(s.ctx, cc)
	}
}

func (s *Server) track(cc *ConnContext) {
	s.mu.Lock()
	s.conns[cc.ID()] = cc
	s.mu.Unlock()
}

func (s *Server) untrack(cc *ConnContext) {
	s.mu.Lock()
	delete(s.conns, cc.ID())
	s.mu.Unlock()
}

// Shutdown 关闭监听与全部连接，等待处理协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, cc := range s.conns {
		_ = cc.Close()
	}
	s.mu.Unlock()

	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
