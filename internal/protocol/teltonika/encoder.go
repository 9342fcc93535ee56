package teltonika

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrNoCommands       = errors.New("teltonika: at least one command required")
	ErrTooManyItems     = errors.New("teltonika: too many items for 1-byte quantity")
	ErrFieldOverflow    = errors.New("teltonika: value does not fit field width")
	ErrVariableNotAllow = errors.New("teltonika: variable-length value only allowed in codec8e")
)

// EncodeIdentifier 设备上线报文：2字节长度 + IMEI
func EncodeIdentifier(imei string) ([]byte, error) {
	raw := singleByteBytes(imei)
	if len(raw) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: imei length %d", ErrFieldOverflow, len(raw))
	}
	out := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(raw)), uint16(len(raw)))
	return append(out, raw...), nil
}

// EncodeCommand 构造 Codec12 指令帧（类型 0x05）
// preamble(4) | length(4) | 0x0C | qty(1) | 0x05 | [len(4) + 内容]... | qty(1) | crc16(4)
func EncodeCommand(cmds ...string) ([]byte, error) {
	if len(cmds) == 0 {
		return nil, ErrNoCommands
	}
	return encodeMessages(TypeCommand, cmds)
}

// EncodeCommandResponse 构造 Codec12 响应帧（设备侧报文，用于模拟器与测试）
func EncodeCommandResponse(mt MessageType, responses ...string) ([]byte, error) {
	return encodeMessages(mt, responses)
}

func encodeMessages(mt MessageType, items []string) ([]byte, error) {
	if len(items) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d messages", ErrTooManyItems, len(items))
	}
	payload := make([]byte, 0, 16)
	payload = append(payload, byte(Codec12), byte(len(items)), byte(mt))
	for _, s := range items {
		raw := singleByteBytes(s)
		if uint64(len(raw)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: message length %d", ErrFieldOverflow, len(raw))
		}
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(raw)))
		payload = append(payload, raw...)
	}
	payload = append(payload, byte(len(items)))
	return wrapFrame(payload), nil
}

// wrapFrame 加上前导、长度与 CRC
func wrapFrame(payload []byte) []byte {
	out := make([]byte, 0, headerLen+len(payload)+checksumLen)
	out = binary.BigEndian.AppendUint32(out, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, uint32(Checksum(payload)))
	return out
}

// EncodeFrame 遥测帧或指令帧编码（DecodeFrame 的逆运算）
// Checksum 字段被忽略，总是按载荷重新计算
func EncodeFrame(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("teltonika: nil frame")
	}
	if f.Codec == Codec12 {
		return encodeMessages(f.MessageType, f.Responses)
	}
	payload, err := appendRecords(nil, f.Codec, f.Records)
	if err != nil {
		return nil, err
	}
	return wrapFrame(payload), nil
}

// EncodeDatagram UDP 数据报编码（DecodeDatagram 的逆运算）
func EncodeDatagram(d *Datagram) ([]byte, error) {
	if d == nil {
		return nil, errors.New("teltonika: nil datagram")
	}
	imei := singleByteBytes(d.IMEI)
	if len(imei) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: imei length %d", ErrFieldOverflow, len(imei))
	}
	body := make([]byte, 0, 64)
	body = binary.BigEndian.AppendUint16(body, d.PacketID)
	body = append(body, unusableByte, d.AVLPacketID)
	body = binary.BigEndian.AppendUint16(body, uint16(len(imei)))
	body = append(body, imei...)
	body, err := appendRecords(body, d.Codec, d.Records)
	if err != nil {
		return nil, err
	}
	if len(body) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: datagram length %d", ErrFieldOverflow, len(body))
	}
	out := make([]byte, 0, 2+len(body))
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)))
	return append(out, body...), nil
}

// EncodeRecord 单条记录编码（不含 codec 与记录数）
func EncodeRecord(codec Codec, rec Record) ([]byte, error) {
	lay, ok := layoutFor(codec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	return appendRecord(nil, lay, rec)
}

func appendRecords(dst []byte, codec Codec, records []Record) ([]byte, error) {
	lay, ok := layoutFor(codec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	if len(records) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d records", ErrTooManyItems, len(records))
	}
	dst = append(dst, byte(codec), byte(len(records)))
	var err error
	for i := range records {
		if dst, err = appendRecord(dst, lay, records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return append(dst, byte(len(records))), nil
}

func appendRecord(dst []byte, lay layout, rec Record) ([]byte, error) {
	ms := rec.Timestamp.UnixMilli()
	if ms < 0 || ms > maxTimestampMillis {
		return nil, fmt.Errorf("%w: timestamp %s", ErrFieldOverflow, rec.Timestamp)
	}
	dst = binary.BigEndian.AppendUint64(dst, uint64(ms))
	dst = append(dst, byte(rec.Priority))
	dst = binary.BigEndian.AppendUint32(dst, encodeCoordinate(rec.Longitude))
	dst = binary.BigEndian.AppendUint32(dst, encodeCoordinate(rec.Latitude))
	dst = binary.BigEndian.AppendUint16(dst, rec.Altitude)
	dst = binary.BigEndian.AppendUint16(dst, rec.Angle)
	dst = append(dst, rec.Satellites)
	dst = binary.BigEndian.AppendUint16(dst, rec.Speed)

	var err error
	if dst, err = appendWidth(dst, lay.idWidth, int(rec.TriggerEventID), "trigger_event_id"); err != nil {
		return nil, err
	}
	if lay.cause {
		var cause GenerationCause
		if rec.GenerationCause != nil {
			cause = *rec.GenerationCause
		}
		dst = append(dst, byte(cause))
	}
	if dst, err = appendWidth(dst, lay.countWidth, len(rec.Events), "event_count"); err != nil {
		return nil, err
	}
	return appendEvents(dst, lay, rec.Events)
}

// appendEvents 按值宽度分组写出，组内保持原有相对顺序
func appendEvents(dst []byte, lay layout, events []Event) ([]byte, error) {
	written := 0
	for _, kind := range valueKinds {
		if kind == KindVariable && !lay.variable {
			continue
		}
		n := 0
		for _, ev := range events {
			if ev.Value.Kind == kind {
				n++
			}
		}
		var err error
		field := "events_" + kind.String()
		if dst, err = appendWidth(dst, lay.countWidth, n, field+"_count"); err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Value.Kind != kind {
				continue
			}
			if dst, err = appendWidth(dst, lay.idWidth, int(ev.ID), field+"_id"); err != nil {
				return nil, err
			}
			if dst, err = appendValue(dst, lay, ev.Value); err != nil {
				return nil, err
			}
			written++
		}
	}
	if written != len(events) {
		return nil, ErrVariableNotAllow
	}
	return dst, nil
}

func appendValue(dst []byte, lay layout, v EventValue) ([]byte, error) {
	if !v.Kind.fits(v.Uint) {
		return nil, fmt.Errorf("%w: %s=%d", ErrFieldOverflow, v.Kind, v.Uint)
	}
	switch v.Kind {
	case KindU8:
		return append(dst, byte(v.Uint)), nil
	case KindU16:
		return binary.BigEndian.AppendUint16(dst, uint16(v.Uint)), nil
	case KindU32:
		return binary.BigEndian.AppendUint32(dst, uint32(v.Uint)), nil
	case KindU64:
		return binary.BigEndian.AppendUint64(dst, v.Uint), nil
	}
	dst, err := appendWidth(dst, lay.countWidth, len(v.Bytes), "variable_len")
	if err != nil {
		return nil, err
	}
	return append(dst, v.Bytes...), nil
}

func appendWidth(dst []byte, width, v int, field string) ([]byte, error) {
	if width == 1 {
		if v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %s=%d", ErrFieldOverflow, field, v)
		}
		return append(dst, byte(v)), nil
	}
	if v < 0 || v > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %s=%d", ErrFieldOverflow, field, v)
	}
	return binary.BigEndian.AppendUint16(dst, uint16(v)), nil
}
