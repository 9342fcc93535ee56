package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 使用测试用Redis客户端（需要真实Redis实例）
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
		return nil
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestRedisManager_Mirror(t *testing.T) {
	client := setupTestRedis(t)

	a := NewRedisManager(client, "server-a", time.Minute, nil)
	b := NewRedisManager(client, "server-b", time.Minute, nil)

	now := time.Now()
	a.Bind(Info{IMEI: "356307042441013", Transport: "tcp", ConnectedAt: now}, &fakeConn{id: 7})
	a.Touch(Activity{IMEI: "356307042441013", Codec: "codec8", Records: 2, At: now})

	// 另一实例能看到会话，但拿不到连接
	info, ok := b.Get("356307042441013")
	require.True(t, ok)
	assert.Equal(t, "server-a", info.ServerID)
	assert.Equal(t, uint64(2), info.Records)
	assert.True(t, b.IsOnline("356307042441013", now))
	_, ok = b.Conn("356307042441013")
	assert.False(t, ok)

	list, err := b.ListCluster(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	a.Unbind("356307042441013", 7)
	_, ok = b.Get("356307042441013")
	assert.False(t, ok)
}

func TestRedisManager_GeneratesServerID(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRedisManager(client, "", time.Minute, nil)
	assert.Len(t, m.ServerID(), 36)
}
