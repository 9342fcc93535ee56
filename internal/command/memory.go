package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue 单实例内存队列，未启用 Redis 时使用
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string][]*Command
	byID    map[string]*Command
	dead    []*Command
	now     func() time.Time
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string][]*Command),
		byID:    make(map[string]*Command),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, imei, text string, maxRetry int) (*Command, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}
	now := q.now()
	cmd := &Command{
		ID:        uuid.New().String(),
		IMEI:      imei,
		Text:      text,
		Status:    StatusPending,
		MaxRetry:  maxRetry,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.mu.Lock()
	q.pending[imei] = append(q.pending[imei], cmd)
	q.byID[cmd.ID] = cmd
	q.mu.Unlock()
	return cmd.clone(), nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, imei string) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.pending[imei]
	if len(list) == 0 {
		return nil, nil
	}
	cmd := list[0]
	q.pending[imei] = list[1:]
	cmd.Status = StatusSent
	cmd.UpdatedAt = q.now()
	return cmd.clone(), nil
}

func (q *MemoryQueue) Complete(_ context.Context, cmd *Command, status Status, response string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, ok := q.byID[cmd.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = status
	stored.Response = response
	stored.UpdatedAt = q.now()
	*cmd = *stored
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, cmd *Command, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, ok := q.byID[cmd.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Retries++
	stored.Error = reason
	stored.UpdatedAt = q.now()
	if stored.Retries < stored.MaxRetry {
		stored.Status = StatusPending
		q.pending[stored.IMEI] = append([]*Command{stored}, q.pending[stored.IMEI]...)
	} else {
		stored.Status = StatusFailed
		q.dead = append(q.dead, stored)
	}
	*cmd = *stored
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cmd.clone(), nil
}

func (q *MemoryQueue) Pending(_ context.Context, imei string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending[imei])), nil
}

// DeadCount 死信数量
func (q *MemoryQueue) DeadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

func (c *Command) clone() *Command {
	cp := *c
	return &cp
}
