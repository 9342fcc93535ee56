package session

import (
	"net"
	"time"
)

// Conn 会话绑定的连接（TCP 连接满足该接口，UDP 会话没有连接）
type Conn interface {
	ID() uint64
	RemoteAddr() net.Addr
	Close() error
}

// Info 设备会话快照
type Info struct {
	IMEI        string    `json:"imei"`
	Transport   string    `json:"transport"` // tcp | udp
	RemoteAddr  string    `json:"remote_addr"`
	ConnID      uint64    `json:"conn_id,omitempty"`
	ServerID    string    `json:"server_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	LastCodec   string    `json:"last_codec,omitempty"`
	Frames      uint64    `json:"frames"`
	Records     uint64    `json:"records"`
}

// Activity 一次上行活动（帧、数据报或指令响应）
type Activity struct {
	IMEI       string
	Transport  string
	RemoteAddr string
	Codec      string
	Records    int
	At         time.Time
}

// Registry 在线设备登记，支持内存和Redis两种实现
type Registry interface {
	// Bind 绑定设备到连接；同一 IMEI 已有连接时返回旧连接，由调用方关闭
	Bind(info Info, conn Conn) (prev Conn)

	// Touch 记录一次上行活动；UDP 设备首次出现时创建会话
	Touch(a Activity)

	// Unbind 解除绑定；connID 不匹配（已被新连接替换）时忽略
	Unbind(imei string, connID uint64)

	// Get 返回设备会话
	Get(imei string) (Info, bool)

	// Conn 返回本实例持有的连接
	Conn(imei string) (Conn, bool)

	// List 返回本实例已知的全部会话，按 IMEI 排序
	List() []Info

	// IsOnline 最近一次活动是否在超时窗口内
	IsOnline(imei string, now time.Time) bool

	// OnlineCount 在线设备数量
	OnlineCount(now time.Time) int
}
