package teltonika

import (
	"time"
)

const (
	coordScale = 10000000.0
	// maxTimestampMillis 9999-12-31T23:59:59.999Z，超出视为无效时间
	maxTimestampMillis = 253402300799999
)

// valueKinds 线上分组顺序
var valueKinds = [...]ValueKind{KindU8, KindU16, KindU32, KindU64, KindVariable}

// DecodeRecord 按 codec 解码一条 AVL 记录，返回消耗字节数
func DecodeRecord(codec Codec, b []byte) (int, Record, error) {
	lay, ok := layoutFor(codec)
	if !ok {
		return 0, Record{}, newError(KindUnsupportedCodec, "codec", 0, "%s carries no records", codec)
	}
	r := newReader(b)
	rec, err := decodeRecord(r, lay)
	if err != nil {
		return 0, Record{}, err
	}
	return r.pos, rec, nil
}

func decodeRecord(r *reader, lay layout) (Record, error) {
	var rec Record

	tsOff := r.offset()
	ms, err := r.u64("timestamp")
	if err != nil {
		return rec, err
	}
	prioOff := r.offset()
	prio, err := r.u8("priority")
	if err != nil {
		return rec, err
	}
	lon, err := r.u32("longitude")
	if err != nil {
		return rec, err
	}
	lat, err := r.u32("latitude")
	if err != nil {
		return rec, err
	}
	if rec.Altitude, err = r.u16("altitude"); err != nil {
		return rec, err
	}
	if rec.Angle, err = r.u16("angle"); err != nil {
		return rec, err
	}
	if rec.Satellites, err = r.u8("satellites"); err != nil {
		return rec, err
	}
	if rec.Speed, err = r.u16("speed"); err != nil {
		return rec, err
	}
	if rec.TriggerEventID, err = r.uint(lay.idWidth, "trigger_event_id"); err != nil {
		return rec, err
	}
	var cause *GenerationCause
	causeOff := r.offset()
	var causeByte uint8
	if lay.cause {
		if causeByte, err = r.u8("generation_cause"); err != nil {
			return rec, err
		}
	}
	countOff := r.offset()
	total, err := r.uint(lay.countWidth, "event_count")
	if err != nil {
		return rec, err
	}
	events, err := decodeEvents(r, lay, int(total), countOff)
	if err != nil {
		return rec, err
	}

	// 结构完整后再做内容校验，保证截断输入只会得到 Incomplete
	if ms > maxTimestampMillis {
		return rec, newError(KindInvalidTimestamp, "timestamp", tsOff, "%d ms out of range", ms)
	}
	if rec.Priority, err = ParsePriority(prio); err != nil {
		return rec, at(err, prioOff)
	}
	if lay.cause {
		c, err := ParseGenerationCause(causeByte)
		if err != nil {
			return rec, at(err, causeOff)
		}
		cause = &c
	}

	rec.Timestamp = time.UnixMilli(int64(ms)).UTC()
	rec.Longitude = decodeCoordinate(lon)
	rec.Latitude = decodeCoordinate(lat)
	rec.GenerationCause = cause
	rec.Events = events
	return rec, nil
}

// decodeCoordinate 32位补码整数 / 1e7 -> 十进制度
func decodeCoordinate(raw uint32) float64 {
	return float64(int32(raw)) / coordScale
}

// encodeCoordinate decodeCoordinate 的逆运算（四舍五入到 1e-7 度）
func encodeCoordinate(deg float64) uint32 {
	v := deg * coordScale
	if v < 0 {
		v -= 0.5
	} else {
		v += 0.5
	}
	return uint32(int32(v))
}

// decodeEvents 依次解析 u8/u16/u32/u64/(变长) 分组，并校验事件总数
func decodeEvents(r *reader, lay layout, total, countOff int) ([]Event, error) {
	events := make([]Event, 0, total)
	for _, kind := range valueKinds {
		if kind == KindVariable && !lay.variable {
			continue
		}
		field := "events_" + kind.String()
		n, err := r.uint(lay.countWidth, field+"_count")
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(n); i++ {
			id, err := r.uint(lay.idWidth, field+"_id")
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(r, lay, kind, field)
			if err != nil {
				return nil, err
			}
			events = append(events, Event{ID: id, Value: v})
		}
	}
	if len(events) != total {
		return nil, newError(KindCountMismatch, "event_count", countOff, "declared %d, decoded %d", total, len(events))
	}
	return events, nil
}

func decodeValue(r *reader, lay layout, kind ValueKind, field string) (EventValue, error) {
	switch kind {
	case KindU8:
		v, err := r.u8(field)
		return U8(v), err
	case KindU16:
		v, err := r.u16(field)
		return U16(v), err
	case KindU32:
		v, err := r.u32(field)
		return U32(v), err
	case KindU64:
		v, err := r.u64(field)
		return U64(v), err
	}
	n, err := r.uint(lay.countWidth, field+"_len")
	if err != nil {
		return EventValue{}, err
	}
	raw, err := r.bytes(int(n), field)
	if err != nil {
		return EventValue{}, err
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Variable(cp), nil
}
