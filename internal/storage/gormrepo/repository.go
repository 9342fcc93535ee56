package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taoyao-code/avl-server/internal/storage"
	"github.com/taoyao-code/avl-server/internal/storage/models"
)

// Repository 基于 GORM 的 DeviceRepo 实现
type Repository struct {
	db *gorm.DB
}

// New 返回使用给定 *gorm.DB 的 DeviceRepo
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ storage.DeviceRepo = (*Repository)(nil)

// AutoMigrate 建表/补列
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(models.All()...)
}

// EnsureDevice 若设备不存在则插入，存在则刷新连接信息
func (r *Repository) EnsureDevice(ctx context.Context, imei, transport, remoteAddr string) (*models.Device, error) {
	now := time.Now()
	record := &models.Device{
		IMEI:           imei,
		LastTransport:  transport,
		LastRemoteAddr: remoteAddr,
		LastSeenAt:     &now,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "imei"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_transport":   gorm.Expr("excluded.last_transport"),
				"last_remote_addr": gorm.Expr("excluded.last_remote_addr"),
				"last_seen_at":     gorm.Expr("excluded.last_seen_at"),
				"updated_at":       gorm.Expr("NOW()"),
			}),
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, imei)
}

// TouchDevice 刷新最近上报并累加记录数
func (r *Repository) TouchDevice(ctx context.Context, imei, codec string, records int, at time.Time) error {
	ts := at
	record := &models.Device{
		IMEI:        imei,
		LastCodec:   codec,
		LastSeenAt:  &ts,
		RecordCount: int64(records),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "imei"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_codec":   gorm.Expr("excluded.last_codec"),
				"last_seen_at": gorm.Expr("excluded.last_seen_at"),
				"record_count": gorm.Expr("devices.record_count + excluded.record_count"),
				"updated_at":   gorm.Expr("NOW()"),
			}),
		}).
		Create(record).Error
}

// GetDevice 通过 IMEI 查询设备
func (r *Repository) GetDevice(ctx context.Context, imei string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).Where("imei = ?", imei).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// ListDevices 分页返回设备列表，最近上报的在前
func (r *Repository) ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error) {
	var devices []models.Device
	q := r.db.WithContext(ctx).Order("last_seen_at DESC NULLS LAST").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// SetBlocked 设备不存在时创建一条被拉黑的登记
func (r *Repository) SetBlocked(ctx context.Context, imei string, blocked bool) error {
	record := &models.Device{IMEI: imei, Blocked: blocked}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "imei"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"blocked":    blocked,
				"updated_at": gorm.Expr("NOW()"),
			}),
		}).
		Create(record).Error
}

// IsBlocked 查询拉黑状态
func (r *Repository) IsBlocked(ctx context.Context, imei string) (bool, error) {
	var blocked []bool
	err := r.db.WithContext(ctx).Model(&models.Device{}).
		Where("imei = ?", imei).
		Limit(1).
		Pluck("blocked", &blocked).Error
	if err != nil {
		return false, err
	}
	return len(blocked) > 0 && blocked[0], nil
}
