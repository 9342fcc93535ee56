package teltonika

// unusableByte 数据报头中的固定字节
const unusableByte = 0x01

// DecodeDatagram 解码一个 UDP 数据报
// 格式：length(2) | packet_id(2) | 0x01 | avl_packet_id(1) | imei | codec | records
func DecodeDatagram(b []byte) (int, *Datagram, error) {
	r := newReader(b)
	length, err := r.u16("length")
	if err != nil {
		return 0, nil, err
	}
	body, err := r.bytes(int(length), "datagram")
	if err != nil {
		return 0, nil, err
	}

	p := sealedReader(body, 2)
	d := &Datagram{}
	if d.PacketID, err = p.u16("packet_id"); err != nil {
		return 0, nil, err
	}
	fixedOff := p.offset()
	fixed, err := p.u8("unusable_byte")
	if err != nil {
		return 0, nil, err
	}
	if fixed != unusableByte {
		return 0, nil, newError(KindInvalidUnusableByte, "unusable_byte", fixedOff, "got 0x%02X", fixed)
	}
	if d.AVLPacketID, err = p.u8("avl_packet_id"); err != nil {
		return 0, nil, err
	}
	if d.IMEI, err = decodeIdentifier(p); err != nil {
		return 0, nil, err
	}
	if d.Codec, err = p.codec(); err != nil {
		return 0, nil, err
	}
	if !d.Codec.IsTelemetry() {
		return 0, nil, newError(KindUnsupportedCodec, "codec", p.offset()-1, "%s not allowed in datagram", d.Codec)
	}
	if d.Records, err = decodeRecords(p, d.Codec); err != nil {
		return 0, nil, err
	}
	if p.remaining() != 0 {
		return 0, nil, newError(KindLengthMismatch, "datagram", p.offset(), "%d trailing bytes", p.remaining())
	}
	return r.pos, d, nil
}
