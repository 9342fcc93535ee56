package teltonika

import (
	"encoding/binary"
	"errors"
)

// reader 大端读取游标
// sealed=true 表示输入已完整缓冲（如帧载荷），越界属于长度错误而不是 Incomplete
type reader struct {
	buf    []byte
	pos    int
	base   int
	sealed bool
}

func newReader(b []byte) *reader { return &reader{buf: b} }

// sealedReader 针对已完整缓冲的区域，base 为其在原始输入中的偏移
func sealedReader(b []byte, base int) *reader {
	return &reader{buf: b, base: base, sealed: true}
}

func (r *reader) offset() int    { return r.base + r.pos }
func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) need(n int, field string) error {
	if have := r.remaining(); have < n {
		if r.sealed {
			return newError(KindLengthMismatch, field, r.offset(), "declared length ends %d bytes early", n-have)
		}
		return incomplete(field, r.offset(), n-have)
	}
	return nil
}

func (r *reader) u8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16(field string) (uint16, error) {
	if err := r.need(2, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32(field string) (uint32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// uint 读取1或2字节宽度的无符号数
func (r *reader) uint(width int, field string) (uint16, error) {
	if width == 1 {
		v, err := r.u8(field)
		return uint16(v), err
	}
	return r.u16(field)
}

// bytes 返回底层切片的视图，调用方需要时自行复制
func (r *reader) bytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// at 为枚举解析错误补上偏移量（off 为该字段起始位置）
func at(err error, off int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Offset = off
	}
	return err
}

func (r *reader) codec() (Codec, error) {
	off := r.offset()
	b, err := r.u8("codec")
	if err != nil {
		return 0, err
	}
	c, err := ParseCodec(b)
	return c, at(err, off)
}
