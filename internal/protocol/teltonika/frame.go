package teltonika

const (
	headerLen   = 8 // 前导4字节 + 长度4字节
	checksumLen = 4
)

// DecodeFrame 解码一帧 TCP 数据（遥测帧或指令响应帧）
// 格式：preamble(4)=0 | length(4) | payload(length) | crc16(4)
// 返回消耗字节数；缓冲不足时返回 Incomplete，调用方可补充字节后重试
func DecodeFrame(b []byte) (int, *Frame, error) {
	r := newReader(b)
	preamble, err := r.u32("preamble")
	if err != nil {
		return 0, nil, err
	}
	if preamble != 0 {
		return 0, nil, newError(KindInvalidPreamble, "preamble", 0, "got 0x%08X", preamble)
	}
	length, err := r.u32("data_length")
	if err != nil {
		return 0, nil, err
	}
	payloadOff := r.offset()
	payload, err := r.bytes(int(length), "payload")
	if err != nil {
		return 0, nil, err
	}
	crcOff := r.offset()
	crc, err := r.u32("crc16")
	if err != nil {
		return 0, nil, err
	}
	if calc := Checksum(payload); uint32(calc) != crc {
		return 0, nil, newError(KindChecksumMismatch, "crc16", crcOff, "calculated 0x%04X, received 0x%08X", calc, crc)
	}

	f, err := decodeFramePayload(sealedReader(payload, payloadOff))
	if err != nil {
		return 0, nil, err
	}
	f.Checksum = crc
	return r.pos, f, nil
}

func decodeFramePayload(p *reader) (*Frame, error) {
	codec, err := p.codec()
	if err != nil {
		return nil, err
	}
	f := &Frame{Codec: codec}
	switch {
	case codec.IsTelemetry():
		if f.Records, err = decodeRecords(p, codec); err != nil {
			return nil, err
		}
	case codec == Codec12:
		if f.MessageType, f.Responses, err = decodeResponses(p); err != nil {
			return nil, err
		}
	default:
		return nil, newError(KindUnsupportedCodec, "codec", p.offset()-1, "%s payload is not modeled", codec)
	}
	if p.remaining() != 0 {
		return nil, newError(KindLengthMismatch, "payload", p.offset(), "%d trailing bytes", p.remaining())
	}
	return f, nil
}

// decodeRecords 记录数(1) + 记录 + 记录数(1)，两次计数必须一致
func decodeRecords(p *reader, codec Codec) ([]Record, error) {
	lay, _ := layoutFor(codec)
	n, err := p.u8("record_count")
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, n)
	for i := 0; i < int(n); i++ {
		rec, err := decodeRecord(p, lay)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	trailerOff := p.offset()
	trailer, err := p.u8("record_count_trailer")
	if err != nil {
		return nil, err
	}
	if trailer != n {
		return nil, newError(KindCountMismatch, "record_count_trailer", trailerOff, "leading %d, trailing %d", n, trailer)
	}
	return records, nil
}

// decodeResponses Codec12：数量(1) + 类型(1) + [长度(4) + 内容]... + 数量(1)
func decodeResponses(p *reader) (MessageType, []string, error) {
	n, err := p.u8("response_quantity")
	if err != nil {
		return 0, nil, err
	}
	typeOff := p.offset()
	tb, err := p.u8("message_type")
	if err != nil {
		return 0, nil, err
	}
	mt, err := parseMessageType(tb)
	if err != nil {
		return 0, nil, at(err, typeOff)
	}
	responses := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		size, err := p.u32("response_length")
		if err != nil {
			return 0, nil, err
		}
		raw, err := p.bytes(int(size), "response")
		if err != nil {
			return 0, nil, err
		}
		responses = append(responses, singleByteString(raw))
	}
	trailerOff := p.offset()
	trailer, err := p.u8("response_quantity_trailer")
	if err != nil {
		return 0, nil, err
	}
	if trailer != n {
		return 0, nil, newError(KindCountMismatch, "response_quantity_trailer", trailerOff, "leading %d, trailing %d", n, trailer)
	}
	return mt, responses, nil
}
