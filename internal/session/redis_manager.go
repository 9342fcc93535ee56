package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis Key设计
const (
	// avl:session:{imei} -> Info JSON，TTL 为在线窗口的2倍
	keySessionPrefix = "avl:session:"
	redisOpTimeout   = 2 * time.Second
)

// RedisManager 本地登记 + Redis 镜像，多实例部署时可查询其它实例上的设备
// 连接对象只保存在本地
type RedisManager struct {
	*Manager
	client   *redis.Client
	serverID string
	logger   *zap.Logger
}

// NewRedisManager 创建Redis会话管理器；serverID 为空时生成随机ID
func NewRedisManager(client *redis.Client, serverID string, timeout time.Duration, logger *zap.Logger) *RedisManager {
	if serverID == "" {
		serverID = uuid.New().String()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisManager{Manager: New(timeout), client: client, serverID: serverID, logger: logger}
}

// ServerID 当前实例ID
func (m *RedisManager) ServerID() string { return m.serverID }

// Bind 本地绑定后写入 Redis
func (m *RedisManager) Bind(info Info, conn Conn) Conn {
	info.ServerID = m.serverID
	prev := m.Manager.Bind(info, conn)
	m.mirror(info.IMEI)
	return prev
}

// Touch 本地更新后刷新 Redis
func (m *RedisManager) Touch(a Activity) {
	m.Manager.Touch(a)
	m.mirror(a.IMEI)
}

// Unbind 仅删除本实例写入的镜像
func (m *RedisManager) Unbind(imei string, connID uint64) {
	info, ok := m.Manager.Get(imei)
	m.Manager.Unbind(imei, connID)
	if !ok || info.ConnID != connID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	remote, err := m.load(ctx, imei)
	if err != nil || remote.ServerID != m.serverID || remote.ConnID != connID {
		return
	}
	if err := m.client.Del(ctx, keySessionPrefix+imei).Err(); err != nil {
		m.logger.Warn("session unbind mirror failed", zap.String("imei", imei), zap.Error(err))
	}
}

// Get 优先本地，其次 Redis
func (m *RedisManager) Get(imei string) (Info, bool) {
	if info, ok := m.Manager.Get(imei); ok {
		return info, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	info, err := m.load(ctx, imei)
	if err != nil {
		return Info{}, false
	}
	return info, true
}

// IsOnline 按合并后的会话判断
func (m *RedisManager) IsOnline(imei string, now time.Time) bool {
	info, ok := m.Get(imei)
	return ok && now.Sub(info.LastSeen) <= m.timeout
}

// ListCluster 扫描 Redis 中全部实例的会话
func (m *RedisManager) ListCluster(ctx context.Context) ([]Info, error) {
	var (
		cursor uint64
		out    []Info
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, keySessionPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			info, err := m.load(ctx, key[len(keySessionPrefix):])
			if err != nil {
				continue
			}
			out = append(out, info)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (m *RedisManager) mirror(imei string) {
	info, ok := m.Manager.Get(imei)
	if !ok {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := m.client.Set(ctx, keySessionPrefix+imei, raw, 2*m.timeout).Err(); err != nil {
		m.logger.Warn("session mirror failed", zap.String("imei", imei), zap.Error(err))
	}
}

func (m *RedisManager) load(ctx context.Context, imei string) (Info, error) {
	raw, err := m.client.Get(ctx, keySessionPrefix+imei).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Info{}, errors.New("session not found")
		}
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
