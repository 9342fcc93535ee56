package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
)

// ErrDisabled redis.enable=false
var ErrDisabled = errors.New("redis is not enabled")

// Client 记录流、指令队列与会话注册共用的连接
type Client struct {
	*redis.Client
}

// Options 配置 -> go-redis 选项
func Options(cfg cfgpkg.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// NewClient 连接并 ping；ping 超时取 DialTimeout，未设置时5秒
func NewClient(ctx context.Context, cfg cfgpkg.RedisConfig) (*Client, error) {
	if !cfg.Enable {
		return nil, ErrDisabled
	}
	rdb := redis.NewClient(Options(cfg))

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

// Wrap 包装已有连接（测试使用）
func Wrap(rdb *redis.Client) *Client { return &Client{Client: rdb} }

func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// HealthCheck health.RedisPinger
func (c *Client) HealthCheck(ctx context.Context) error { return c.Ping(ctx).Err() }

// Stats health.RedisPinger
func (c *Client) Stats() *redis.PoolStats { return c.PoolStats() }
