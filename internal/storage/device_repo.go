package storage

import (
	"context"
	"errors"
	"time"

	"github.com/taoyao-code/avl-server/internal/storage/models"
)

// ErrDeviceNotFound 设备不存在
var ErrDeviceNotFound = errors.New("device not found")

// DeviceRepo 设备登记簿
type DeviceRepo interface {
	// EnsureDevice 识别成功时调用：不存在则创建，存在则刷新连接信息
	EnsureDevice(ctx context.Context, imei, transport, remoteAddr string) (*models.Device, error)
	// TouchDevice 上报后刷新 last_seen/codec 并累加记录数（不存在则创建）
	TouchDevice(ctx context.Context, imei, codec string, records int, at time.Time) error
	// GetDevice 按 IMEI 查询，不存在返回 ErrDeviceNotFound
	GetDevice(ctx context.Context, imei string) (*models.Device, error)
	// ListDevices 按最近上报时间倒序分页
	ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error)
	// SetBlocked 拉黑或解除
	SetBlocked(ctx context.Context, imei string, blocked bool) error
	// IsBlocked 设备不存在视为未拉黑
	IsBlocked(ctx context.Context, imei string) (bool, error)
}
