package models

import (
	"time"
)

// 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// Device 映射 devices 表：首次识别时创建，之后每次上报刷新
type Device struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IMEI string `gorm:"column:imei;type:varchar(32);not null;uniqueIndex" json:"imei"`
	// 最近一次连接信息
	LastTransport  string     `gorm:"column:last_transport;type:varchar(8);not null;default:''" json:"last_transport"`
	LastRemoteAddr string     `gorm:"column:last_remote_addr;type:varchar(64);not null;default:''" json:"last_remote_addr"`
	LastCodec      string     `gorm:"column:last_codec;type:varchar(16);not null;default:''" json:"last_codec"`
	LastSeenAt     *time.Time `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	// 累计记录数
	RecordCount int64 `gorm:"column:record_count;not null;default:0" json:"record_count"`
	// 拉黑后识别阶段直接拒绝
	Blocked bool `gorm:"column:blocked;not null;default:false" json:"blocked"`
	// 审计字段
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// All 需要 AutoMigrate 的模型
func All() []interface{} {
	return []interface{}{&Device{}}
}
