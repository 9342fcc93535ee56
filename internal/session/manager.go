package session

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	info Info
	conn Conn
}

// Manager 内存会话登记
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	timeout time.Duration
}

// New timeout 为在线判定窗口，<=0 时取5分钟
func New(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{entries: make(map[string]*entry), timeout: timeout}
}

// Timeout 在线判定窗口
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Bind 绑定设备物理ID到连接对象，重复绑定将覆盖并返回旧连接
func (m *Manager) Bind(info Info, conn Conn) Conn {
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	if info.LastSeen.IsZero() {
		info.LastSeen = info.ConnectedAt
	}
	if conn != nil {
		info.ConnID = conn.ID()
		if info.RemoteAddr == "" && conn.RemoteAddr() != nil {
			info.RemoteAddr = conn.RemoteAddr().String()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var prev Conn
	if old, ok := m.entries[info.IMEI]; ok && old.conn != nil && old.conn != conn {
		prev = old.conn
	}
	m.entries[info.IMEI] = &entry{info: info, conn: conn}
	return prev
}

// Touch 更新最近活动时间与计数
func (m *Manager) Touch(a Activity) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[a.IMEI]
	if !ok {
		e = &entry{info: Info{
			IMEI:        a.IMEI,
			Transport:   a.Transport,
			RemoteAddr:  a.RemoteAddr,
			ConnectedAt: a.At,
		}}
		m.entries[a.IMEI] = e
	}
	e.info.LastSeen = a.At
	if a.RemoteAddr != "" {
		e.info.RemoteAddr = a.RemoteAddr
	}
	if a.Codec != "" {
		e.info.LastCodec = a.Codec
		e.info.Frames++
	}
	e.info.Records += uint64(a.Records)
}

// Unbind 解除绑定
func (m *Manager) Unbind(imei string, connID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[imei]; ok && e.info.ConnID == connID {
		delete(m.entries, imei)
	}
}

// Get 返回设备会话
func (m *Manager) Get(imei string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[imei]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// Conn 返回绑定的连接对象
func (m *Manager) Conn(imei string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[imei]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// List 全部会话
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IMEI < out[j].IMEI })
	return out
}

// IsOnline 判断设备是否在线
func (m *Manager) IsOnline(imei string, now time.Time) bool {
	info, ok := m.Get(imei)
	return ok && now.Sub(info.LastSeen) <= m.timeout
}

// OnlineCount 返回当前在线设备数量
func (m *Manager) OnlineCount(now time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.entries {
		if now.Sub(e.info.LastSeen) <= m.timeout {
			count++
		}
	}
	return count
}

// Sweep 清理超时的无连接会话（UDP），返回清理数量
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for imei, e := range m.entries {
		if e.conn == nil && now.Sub(e.info.LastSeen) > m.timeout {
			delete(m.entries, imei)
			n++
		}
	}
	return n
}
