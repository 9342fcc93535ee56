package teltonika

import (
	"errors"
	"fmt"
)

// ErrorKind 解码错误分类
type ErrorKind int

const (
	KindIncomplete          ErrorKind = iota + 1 // 字节不足，可继续读取后重试
	KindInvalidPreamble                          // 前导4字节非全零
	KindUnrecognizedCodec                        // 未知 codec 字节
	KindUnsupportedCodec                         // 可识别但当前位置不支持的 codec
	KindUnrecognizedEnumValue                    // priority / generation cause / 消息类型
	KindCountMismatch                            // 事件数或记录数/响应数前后不一致
	KindChecksumMismatch                         // CRC 校验失败
	KindInvalidTimestamp                         // 时间戳无法映射为有效时间
	KindInvalidUnusableByte                      // 数据报固定字节不是 0x01
	KindLengthMismatch                           // 声明长度与内容不符
	KindConnectionClosed                         // 流读取到0字节（仅 Stream 使用）
)

var (
	ErrIncomplete          = errors.New("incomplete")
	ErrInvalidPreamble     = errors.New("invalid preamble")
	ErrUnrecognizedCodec   = errors.New("unrecognized codec")
	ErrUnsupportedCodec    = errors.New("unsupported codec")
	ErrUnrecognizedValue   = errors.New("unrecognized enum value")
	ErrCountMismatch       = errors.New("count mismatch")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidUnusableByte = errors.New("invalid unusable byte")
	ErrLengthMismatch      = errors.New("length mismatch")
	ErrConnectionClosed    = errors.New("connection closed")
)

var kindSentinels = map[ErrorKind]error{
	KindIncomplete:            ErrIncomplete,
	KindInvalidPreamble:       ErrInvalidPreamble,
	KindUnrecognizedCodec:     ErrUnrecognizedCodec,
	KindUnsupportedCodec:      ErrUnsupportedCodec,
	KindUnrecognizedEnumValue: ErrUnrecognizedValue,
	KindCountMismatch:         ErrCountMismatch,
	KindChecksumMismatch:      ErrChecksumMismatch,
	KindInvalidTimestamp:      ErrInvalidTimestamp,
	KindInvalidUnusableByte:   ErrInvalidUnusableByte,
	KindLengthMismatch:        ErrLengthMismatch,
	KindConnectionClosed:      ErrConnectionClosed,
}

func (k ErrorKind) String() string {
	if s, ok := kindSentinels[k]; ok {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label 返回适合作为指标标签的名称
func (k ErrorKind) Label() string {
	switch k {
	case KindIncomplete:
		return "incomplete"
	case KindInvalidPreamble:
		return "invalid_preamble"
	case KindUnrecognizedCodec:
		return "unrecognized_codec"
	case KindUnsupportedCodec:
		return "unsupported_codec"
	case KindUnrecognizedEnumValue:
		return "unrecognized_enum"
	case KindCountMismatch:
		return "count_mismatch"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindInvalidTimestamp:
		return "invalid_timestamp"
	case KindInvalidUnusableByte:
		return "invalid_unusable_byte"
	case KindLengthMismatch:
		return "length_mismatch"
	case KindConnectionClosed:
		return "connection_closed"
	default:
		return "unknown"
	}
}

// DecodeError 携带字段名与偏移量的解码错误
// Offset 为相对于本次解码输入起点的字节偏移；Need 仅在 Incomplete 时有意义
type DecodeError struct {
	Kind   ErrorKind
	Field  string
	Offset int
	Need   int
	Detail string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("teltonika: %s at offset %d (%s)", e.Kind, e.Offset, e.Field)
	if e.Kind == KindIncomplete && e.Need > 0 {
		msg += fmt.Sprintf(": need %d more bytes", e.Need)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap 使 errors.Is(err, ErrChecksumMismatch) 等判断成立
func (e *DecodeError) Unwrap() error { return kindSentinels[e.Kind] }

func newError(kind ErrorKind, field string, offset int, format string, args ...interface{}) *DecodeError {
	e := &DecodeError{Kind: kind, Field: field, Offset: offset}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}

func incomplete(field string, offset, need int) *DecodeError {
	return &DecodeError{Kind: KindIncomplete, Field: field, Offset: offset, Need: need}
}

// IsIncomplete 判断错误是否为"需要更多字节"
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// KindOf 提取错误分类，非 DecodeError 返回0
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
