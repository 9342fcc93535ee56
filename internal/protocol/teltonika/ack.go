package teltonika

import "encoding/binary"

const (
	imeiApproved byte = 0x01
	imeiDenied   byte = 0x00
)

// IdentifierAck IMEI 接受(0x01)/拒绝(0x00) 应答
func IdentifierAck(accept bool) []byte {
	if accept {
		return []byte{imeiApproved}
	}
	return []byte{imeiDenied}
}

// FrameAck 遥测帧应答：4字节大端记录数；nil 帧应答0
func FrameAck(f *Frame) []byte {
	var n uint32
	if f != nil {
		n = uint32(len(f.Records))
	}
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), n)
}

// DatagramAck 数据报应答，结构与数据报头一致：
// count(2) | packet_id(2) | 0x01 | avl_packet_id(1) | count(4)；nil 数据报除固定字节外均为0
func DatagramAck(d *Datagram) []byte {
	var (
		count    int
		packetID uint16
		avlID    uint8
	)
	if d != nil {
		count, packetID, avlID = len(d.Records), d.PacketID, d.AVLPacketID
	}
	out := make([]byte, 0, 10)
	out = binary.BigEndian.AppendUint16(out, uint16(count))
	out = binary.BigEndian.AppendUint16(out, packetID)
	out = append(out, unusableByte, avlID)
	return binary.BigEndian.AppendUint32(out, uint32(count))
}
