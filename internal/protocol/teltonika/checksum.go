package teltonika

// crcPoly IBM/CRC16 反射多项式
const crcPoly = 0xA001

// Checksum 计算 CRC-16/ARC（IBM）校验值
// 寄存器初值为0，逐字节异或到低8位后做8轮右移，最低位为1时异或 0xA001
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// VerifyChecksum 比较载荷的计算值与帧尾携带的4字节校验字段
func VerifyChecksum(payload []byte, received uint32) bool {
	return uint32(Checksum(payload)) == received
}
