package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
)

var (
	ErrEmptyIMEI  = errors.New("empty imei")
	ErrIMEILength = errors.New("imei length mismatch")
	ErrIMEIFormat = errors.New("imei must be decimal digits")
	ErrNotAllowed = errors.New("imei not in allowlist")
	ErrDenied     = errors.New("imei in denylist")
	ErrBlocked    = errors.New("device is blocked")
)

// BlockChecker 查询设备是否被拉黑（设备登记簿）
type BlockChecker interface {
	IsBlocked(ctx context.Context, imei string) (bool, error)
}

// AcceptPolicy 设备识别阶段的准入判断
// 顺序：非空 → 长度/数字 → 黑名单 → 白名单 → 登记簿拉黑
type AcceptPolicy struct {
	length  int
	allow   map[string]struct{}
	deny    map[string]struct{}
	blocked BlockChecker
}

// NewAcceptPolicy 从网关配置构建；blocked 可为 nil
func NewAcceptPolicy(cfg cfgpkg.GatewayConfig, blocked BlockChecker) *AcceptPolicy {
	p := &AcceptPolicy{length: cfg.IMEILength, blocked: blocked}
	if len(cfg.Allowlist) > 0 {
		p.allow = toSet(cfg.Allowlist)
	}
	if len(cfg.Denylist) > 0 {
		p.deny = toSet(cfg.Denylist)
	}
	return p
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			m[s] = struct{}{}
		}
	}
	return m
}

// Check 返回 nil 表示接受
// 登记簿查询失败时放行，避免数据库故障把全部设备挡在外面
func (p *AcceptPolicy) Check(ctx context.Context, imei string) error {
	if imei == "" {
		return ErrEmptyIMEI
	}
	if p.length > 0 {
		if len(imei) != p.length {
			return fmt.Errorf("%w: want %d, got %d", ErrIMEILength, p.length, len(imei))
		}
		for i := 0; i < len(imei); i++ {
			if imei[i] < '0' || imei[i] > '9' {
				return ErrIMEIFormat
			}
		}
	}
	if _, ok := p.deny[imei]; ok {
		return ErrDenied
	}
	if p.allow != nil {
		if _, ok := p.allow[imei]; !ok {
			return ErrNotAllowed
		}
	}
	if p.blocked != nil {
		if blocked, err := p.blocked.IsBlocked(ctx, imei); err == nil && blocked {
			return ErrBlocked
		}
	}
	return nil
}
