// Package command 下行 Codec12 指令的排队与结果跟踪
package command

import (
	"context"
	"errors"
	"time"
)

// Status 指令状态
type Status string

const (
	StatusPending     Status = "pending"      // 等待设备上线/投递
	StatusSent        Status = "sent"         // 已写出，等待响应
	StatusResponded   Status = "responded"    // 设备返回响应 (0x06)
	StatusNotExecuted Status = "not_executed" // 设备拒绝执行 (0x11)
	StatusFailed      Status = "failed"       // 重试耗尽，进入死信
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusResponded || s == StatusNotExecuted || s == StatusFailed
}

var (
	ErrNotFound    = errors.New("command not found")
	ErrEmptyText   = errors.New("command text is empty")
	ErrTextTooLong = errors.New("command text too long")
)

// MaxTextLength 单条指令文本上限（设备端缓冲限制）
const MaxTextLength = 512

// Command 一条下行指令
type Command struct {
	ID        string    `json:"id"`
	IMEI      string    `json:"imei"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Retries   int       `json:"retries"`
	MaxRetry  int       `json:"max_retry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queue 指令队列：按 IMEI 先进先出，失败重试，超限进入死信
type Queue interface {
	// Enqueue 新建指令并排队
	Enqueue(ctx context.Context, imei, text string, maxRetry int) (*Command, error)

	// Dequeue 取出该设备下一条待投递指令；队列为空返回 nil, nil
	Dequeue(ctx context.Context, imei string) (*Command, error)

	// Complete 记录设备响应（responded / not_executed）
	Complete(ctx context.Context, cmd *Command, status Status, response string) error

	// Fail 投递失败：未超过重试次数时放回队首，否则标记失败
	Fail(ctx context.Context, cmd *Command, reason string) error

	// Get 按ID查询指令
	Get(ctx context.Context, id string) (*Command, error)

	// Pending 设备待投递数量
	Pending(ctx context.Context, imei string) (int64, error)
}

// Validate 检查指令文本
func Validate(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}
