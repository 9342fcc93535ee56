package tcpserver

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnContext 单个设备连接
// 实现 io.ReadWriter 与 Flush，可直接交给协议流重组器使用；
// 每次 Read/Write 前刷新 deadline，读超时即视为连接空闲过久
type ConnContext struct {
	c      net.Conn
	id     uint64
	bw     *bufio.Writer
	onRecv func(n int)

	readTimeout  atomic.Int64 // time.Duration
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	doneC     chan struct{}
	opened    time.Time
}

func newConnContext(c net.Conn, id uint64, readTimeout, writeTimeout time.Duration, onRecv func(int)) *ConnContext {
	cc := &ConnContext{
		c:            c,
		id:           id,
		bw:           bufio.NewWriterSize(c, 512),
		onRecv:       onRecv,
		writeTimeout: writeTimeout,
		doneC:        make(chan struct{}),
		opened:       time.Now(),
	}
	cc.readTimeout.Store(int64(readTimeout))
	return cc
}

// ID 返回连接ID（单进程唯一递增）
func (cc *ConnContext) ID() uint64 { return cc.id }

// RemoteAddr 返回远端地址
func (cc *ConnContext) RemoteAddr() net.Addr { return cc.c.RemoteAddr() }

// OpenedAt 连接建立时间
func (cc *ConnContext) OpenedAt() time.Time { return cc.opened }

// SetReadTimeout 调整后续读取的超时（如等待指令响应时缩短）
func (cc *ConnContext) SetReadTimeout(d time.Duration) { cc.readTimeout.Store(int64(d)) }

// ReadTimeout 当前读超时
func (cc *ConnContext) ReadTimeout() time.Duration { return time.Duration(cc.readTimeout.Load()) }

func (cc *ConnContext) Read(p []byte) (int, error) {
	if d := cc.ReadTimeout(); d > 0 {
		_ = cc.c.SetReadDeadline(time.Now().Add(d))
	}
	n, err := cc.c.Read(p)
	if n > 0 && cc.onRecv != nil {
		cc.onRecv(n)
	}
	return n, err
}

// Write 写入发送缓冲，需调用 Flush 才会真正发出
func (cc *ConnContext) Write(p []byte) (int, error) {
	if cc.closed.Load() {
		return 0, net.ErrClosed
	}
	return cc.bw.Write(p)
}

// Flush 带写超时地发出缓冲数据
func (cc *ConnContext) Flush() error {
	if cc.writeTimeout > 0 {
		_ = cc.c.SetWriteDeadline(time.Now().Add(cc.writeTimeout))
	}
	return cc.bw.Flush()
}

// Close 关闭连接并广播
func (cc *ConnContext) Close() error {
	var err error
	cc.closeOnce.Do(func() {
		cc.closed.Store(true)
		err = cc.c.Close()
		close(cc.doneC)
	})
	return err
}

// Done 返回连接关闭通知通道
func (cc *ConnContext) Done() <-chan struct{} { return cc.doneC }
