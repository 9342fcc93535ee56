package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/avl-server/internal/command"
)

const (
	// Redis Key前缀
	commandKeyPrefix   = "avl:cmd:"       // 指令详情（String JSON）
	commandQueuePrefix = "avl:cmd:queue:" // 设备待投递队列（List，元素为指令ID）
	commandDeadKey     = "avl:cmd:dead"   // 死信队列（List）

	commandTTL = 7 * 24 * time.Hour
)

// CommandQueue Redis 指令队列，多实例共享
type CommandQueue struct {
	client *Client
	now    func() time.Time
}

// NewCommandQueue 创建Redis指令队列
func NewCommandQueue(client *Client) *CommandQueue {
	return &CommandQueue{client: client, now: time.Now}
}

var _ command.Queue = (*CommandQueue)(nil)

// Enqueue 入队
func (q *CommandQueue) Enqueue(ctx context.Context, imei, text string, maxRetry int) (*command.Command, error) {
	if err := command.Validate(text); err != nil {
		return nil, err
	}
	now := q.now()
	cmd := &command.Command{
		ID:        uuid.New().String(),
		IMEI:      imei,
		Text:      text,
		Status:    command.StatusPending,
		MaxRetry:  maxRetry,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, commandKeyPrefix+cmd.ID, data, commandTTL)
	pipe.RPush(ctx, commandQueuePrefix+imei, cmd.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue command: %w", err)
	}
	return cmd, nil
}

// Dequeue 出队并标记为已发送
// 出队与状态更新在同一个 WATCH/MULTI 事务中提交，并发出队时队列被改动则重试
func (q *CommandQueue) Dequeue(ctx context.Context, imei string) (*command.Command, error) {
	key := commandQueuePrefix + imei
	for attempt := 0; attempt < dequeueMaxAttempts; attempt++ {
		cmd, err := q.dequeueOnce(ctx, key)
		switch {
		case errors.Is(err, redis.Nil):
			return nil, nil
		case errors.Is(err, redis.TxFailedErr), errors.Is(err, errStaleCommand):
			continue
		case err != nil:
			return nil, err
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("dequeue command for %s: gave up after %d attempts", imei, dequeueMaxAttempts)
}

const dequeueMaxAttempts = 32

// errStaleCommand 队首ID的详情已过期，已移除
var errStaleCommand = errors.New("stale command id")

func (q *CommandQueue) dequeueOnce(ctx context.Context, key string) (*command.Command, error) {
	var cmd *command.Command
	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		id, err := tx.LIndex(ctx, key, 0).Result()
		if err != nil {
			return err
		}
		if err := tx.Watch(ctx, commandKeyPrefix+id).Err(); err != nil {
			return err
		}
		loaded, err := load(ctx, tx, id)
		if errors.Is(err, command.ErrNotFound) {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPop(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			return errStaleCommand
		}
		if err != nil {
			return err
		}

		loaded.Status = command.StatusSent
		loaded.UpdatedAt = q.now()
		data, err := json.Marshal(loaded)
		if err != nil {
			return fmt.Errorf("marshal command: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPop(ctx, key)
			pipe.Set(ctx, commandKeyPrefix+id, data, commandTTL)
			return nil
		})
		if err != nil {
			return err
		}
		cmd = loaded
		return nil
	}, key)
	return cmd, err
}

// Complete 记录响应
func (q *CommandQueue) Complete(ctx context.Context, cmd *command.Command, status command.Status, response string) error {
	cmd.Status = status
	cmd.Response = response
	return q.save(ctx, cmd)
}

// Fail 重试或进入死信
func (q *CommandQueue) Fail(ctx context.Context, cmd *command.Command, reason string) error {
	cmd.Retries++
	cmd.Error = reason
	if cmd.Retries < cmd.MaxRetry {
		cmd.Status = command.StatusPending
		if err := q.save(ctx, cmd); err != nil {
			return err
		}
		// 放回队首，保持设备侧指令顺序
		return q.client.LPush(ctx, commandQueuePrefix+cmd.IMEI, cmd.ID).Err()
	}
	cmd.Status = command.StatusFailed
	if err := q.save(ctx, cmd); err != nil {
		return err
	}
	return q.client.LPush(ctx, commandDeadKey, cmd.ID).Err()
}

// Get 按ID查询
func (q *CommandQueue) Get(ctx context.Context, id string) (*command.Command, error) {
	return load(ctx, q.client, id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c stringGetter, id string) (*command.Command, error) {
	raw, err := c.Get(ctx, commandKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, command.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cmd command.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("unmarshal command %s: %w", id, err)
	}
	return &cmd, nil
}

// Pending 设备待投递数量
func (q *CommandQueue) Pending(ctx context.Context, imei string) (int64, error) {
	return q.client.LLen(ctx, commandQueuePrefix+imei).Result()
}

// DeadCount 死信数量
func (q *CommandQueue) DeadCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, commandDeadKey).Result()
}

func (q *CommandQueue) save(ctx context.Context, cmd *command.Command) error {
	cmd.UpdatedAt = q.now()
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return q.client.Set(ctx, commandKeyPrefix+cmd.ID, data, commandTTL).Err()
}
