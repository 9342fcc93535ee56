package teltonika

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Codec 协议编码标识（帧载荷首字节）
//
//	| TCP/UDP 遥测 | GPRS 指令 |
//	|--------------|-----------|
//	| Codec8       | Codec12   |
//	| Codec8Ext    | Codec13   |
//	| Codec16      | Codec14   |
type Codec uint8

const (
	Codec8    Codec = 0x08
	Codec8Ext Codec = 0x8E
	Codec16   Codec = 0x10
	Codec12   Codec = 0x0C
	Codec13   Codec = 0x0D
	Codec14   Codec = 0x0E
)

// ParseCodec 字节 -> Codec，未知字节返回 UnrecognizedCodec
func ParseCodec(b byte) (Codec, error) {
	switch c := Codec(b); c {
	case Codec8, Codec8Ext, Codec16, Codec12, Codec13, Codec14:
		return c, nil
	}
	return 0, newError(KindUnrecognizedCodec, "codec", 0, "byte 0x%02X", b)
}

// IsTelemetry 是否为遥测族（8/8E/16）
func (c Codec) IsTelemetry() bool {
	return c == Codec8 || c == Codec8Ext || c == Codec16
}

// IsCommand 是否为指令族（12/13/14）
func (c Codec) IsCommand() bool {
	return c == Codec12 || c == Codec13 || c == Codec14
}

func (c Codec) String() string {
	switch c {
	case Codec8:
		return "codec8"
	case Codec8Ext:
		return "codec8e"
	case Codec16:
		return "codec16"
	case Codec12:
		return "codec12"
	case Codec13:
		return "codec13"
	case Codec14:
		return "codec14"
	default:
		return fmt.Sprintf("codec(0x%02X)", uint8(c))
	}
}

func (c Codec) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Codec) UnmarshalText(b []byte) error {
	for _, v := range []Codec{Codec8, Codec8Ext, Codec16, Codec12, Codec13, Codec14} {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("teltonika: unknown codec %q", b)
}

// Priority 记录优先级
type Priority uint8

const (
	PriorityLow   Priority = 0x00
	PriorityHigh  Priority = 0x01
	PriorityPanic Priority = 0x02
)

// ParsePriority 字节 -> Priority
func ParsePriority(b byte) (Priority, error) {
	switch p := Priority(b); p {
	case PriorityLow, PriorityHigh, PriorityPanic:
		return p, nil
	}
	return 0, newError(KindUnrecognizedEnumValue, "priority", 0, "byte 0x%02X", b)
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityPanic:
		return "panic"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	for _, v := range []Priority{PriorityLow, PriorityHigh, PriorityPanic} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("teltonika: unknown priority %q", b)
}

// GenerationCause 事件生成原因，仅 Codec16 记录携带
type GenerationCause uint8

const (
	CauseOnExit     GenerationCause = 0
	CauseOnEntrance GenerationCause = 1
	CauseOnBoth     GenerationCause = 2
	CauseReserved   GenerationCause = 3
	CauseHysteresis GenerationCause = 4
	CauseOnChange   GenerationCause = 5
	CauseEventual   GenerationCause = 6
	CausePeriodical GenerationCause = 7
)

var causeNames = [...]string{"on_exit", "on_entrance", "on_both", "reserved", "hysteresis", "on_change", "eventual", "periodical"}

// ParseGenerationCause 字节 -> GenerationCause
func ParseGenerationCause(b byte) (GenerationCause, error) {
	if int(b) >= len(causeNames) {
		return 0, newError(KindUnrecognizedEnumValue, "generation_cause", 0, "byte 0x%02X", b)
	}
	return GenerationCause(b), nil
}

func (g GenerationCause) String() string {
	if int(g) < len(causeNames) {
		return causeNames[g]
	}
	return fmt.Sprintf("cause(%d)", uint8(g))
}

func (g GenerationCause) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GenerationCause) UnmarshalText(b []byte) error {
	for i, name := range causeNames {
		if name == string(b) {
			*g = GenerationCause(i)
			return nil
		}
	}
	return fmt.Errorf("teltonika: unknown generation cause %q", b)
}

// ValueKind IO 值宽度分类；同时决定事件在记录中的分组顺序
type ValueKind uint8

const (
	KindU8 ValueKind = iota
	KindU16
	KindU32
	KindU64
	KindVariable
)

func (k ValueKind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// width 定长值的字节宽度，变长返回0
func (k ValueKind) width() int {
	switch k {
	case KindU8:
		return 1
	case KindU16:
		return 2
	case KindU32:
		return 4
	case KindU64:
		return 8
	}
	return 0
}

// fits 定长值是否落在该宽度内
func (k ValueKind) fits(n uint64) bool {
	w := k.width()
	return w == 0 || w >= 8 || n>>(8*uint(w)) == 0
}

// EventValue IO 值（标签联合）：定长无符号整数或变长字节串
// 变长值只出现在 Codec8Ext
type EventValue struct {
	Kind  ValueKind
	Uint  uint64
	Bytes []byte
}

func U8(v uint8) EventValue   { return EventValue{Kind: KindU8, Uint: uint64(v)} }
func U16(v uint16) EventValue { return EventValue{Kind: KindU16, Uint: uint64(v)} }
func U32(v uint32) EventValue { return EventValue{Kind: KindU32, Uint: uint64(v)} }
func U64(v uint64) EventValue { return EventValue{Kind: KindU64, Uint: v} }

// Variable 变长字节串值
func Variable(b []byte) EventValue { return EventValue{Kind: KindVariable, Bytes: b} }

// IsVariable 是否为变长值
func (v EventValue) IsVariable() bool { return v.Kind == KindVariable }

func (v EventValue) String() string {
	if v.Kind == KindVariable {
		return hex.EncodeToString(v.Bytes)
	}
	return fmt.Sprintf("%s(%d)", v.Kind, v.Uint)
}

// MarshalJSON 定长值输出数字，变长值输出十六进制字符串
func (v EventValue) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind  string      `json:"kind"`
		Value interface{} `json:"value"`
	}{Kind: v.Kind.String()}
	if v.Kind == KindVariable {
		out.Value = hex.EncodeToString(v.Bytes)
	} else {
		out.Value = v.Uint
	}
	return json.Marshal(out)
}

// UnmarshalJSON MarshalJSON 的逆操作
func (v *EventValue) UnmarshalJSON(b []byte) error {
	var in struct {
		Kind  string          `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	for _, k := range valueKinds {
		if k.String() != in.Kind {
			continue
		}
		if k == KindVariable {
			var s string
			if err := json.Unmarshal(in.Value, &s); err != nil {
				return err
			}
			raw, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("teltonika: variable value: %w", err)
			}
			*v = Variable(raw)
			return nil
		}
		var n uint64
		if err := json.Unmarshal(in.Value, &n); err != nil {
			return err
		}
		if !k.fits(n) {
			return fmt.Errorf("%w: %s value %d", ErrFieldOverflow, k, n)
		}
		*v = EventValue{Kind: k, Uint: n}
		return nil
	}
	return fmt.Errorf("teltonika: unknown value kind %q", in.Kind)
}

// Event 一个 IO 事件（id 语义由厂商数据字典定义，这里不做解释）
type Event struct {
	ID    uint16     `json:"id"`
	Value EventValue `json:"value"`
}

// Record 某一时刻的定位与 IO 状态
// Events 按值宽度分组排列（u8、u16、u32、u64、变长），与线上顺序一致
type Record struct {
	Timestamp       time.Time        `json:"timestamp"`
	Priority        Priority         `json:"priority"`
	Longitude       float64          `json:"longitude"`
	Latitude        float64          `json:"latitude"`
	Altitude        uint16           `json:"altitude"`
	Angle           uint16           `json:"angle"`
	Satellites      uint8            `json:"satellites"`
	Speed           uint16           `json:"speed"`
	TriggerEventID  uint16           `json:"trigger_event_id"`
	GenerationCause *GenerationCause `json:"generation_cause,omitempty"`
	Events          []Event          `json:"events"`
}

// MessageType 指令帧中的消息类型
type MessageType uint8

const (
	TypeCommand     MessageType = 0x05
	TypeResponse    MessageType = 0x06
	TypeNotExecuted MessageType = 0x11
)

func parseMessageType(b byte) (MessageType, error) {
	switch t := MessageType(b); t {
	case TypeCommand, TypeResponse, TypeNotExecuted:
		return t, nil
	}
	return 0, newError(KindUnrecognizedEnumValue, "message_type", 0, "byte 0x%02X", b)
}

func (t MessageType) String() string {
	switch t {
	case TypeCommand:
		return "command"
	case TypeResponse:
		return "response"
	case TypeNotExecuted:
		return "not_executed"
	default:
		return fmt.Sprintf("type(0x%02X)", uint8(t))
	}
}

func (t MessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MessageType) UnmarshalText(b []byte) error {
	for _, v := range []MessageType{TypeCommand, TypeResponse, TypeNotExecuted} {
		if v.String() == string(b) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("teltonika: unknown message type %q", b)
}

// FrameKind 帧分支：遥测或指令响应
type FrameKind uint8

const (
	FrameTelemetry FrameKind = iota
	FrameCommand
)

// Frame TCP 帧（已通过 CRC 校验，解码后不再修改）
// 遥测帧填充 Records；指令帧填充 MessageType 与 Responses
type Frame struct {
	Codec       Codec       `json:"codec"`
	Records     []Record    `json:"records,omitempty"`
	MessageType MessageType `json:"message_type,omitempty"`
	Responses   []string    `json:"responses,omitempty"`
	Checksum    uint32      `json:"crc16"`
}

// Kind 返回帧分支
func (f *Frame) Kind() FrameKind {
	if f.Codec.IsCommand() {
		return FrameCommand
	}
	return FrameTelemetry
}

// Datagram UDP 数据报（无 CRC 字段）
type Datagram struct {
	PacketID    uint16   `json:"packet_id"`
	AVLPacketID uint8    `json:"avl_packet_id"`
	IMEI        string   `json:"imei"`
	Codec       Codec    `json:"codec"`
	Records     []Record `json:"records"`
}

// layout 各遥测 codec 的字段宽度表
type layout struct {
	idWidth    int  // 事件ID与触发事件ID宽度
	countWidth int  // 事件总数、各分组计数与变长长度前缀宽度
	variable   bool // 是否有变长分组
	cause      bool // 是否带生成原因
}

func layoutFor(c Codec) (layout, bool) {
	switch c {
	case Codec8:
		return layout{idWidth: 1, countWidth: 1}, true
	case Codec8Ext:
		return layout{idWidth: 2, countWidth: 2, variable: true}, true
	case Codec16:
		return layout{idWidth: 2, countWidth: 1, cause: true}, true
	}
	return layout{}, false
}
