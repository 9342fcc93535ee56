package teltonika

import "unicode/utf8"

// DecodeIdentifier 解析设备标识（IMEI）：2字节长度 + 单字节字符
// 返回消耗字节数；字节不足返回 Incomplete，不存在内容错误
func DecodeIdentifier(b []byte) (int, string, error) {
	r := newReader(b)
	imei, err := decodeIdentifier(r)
	if err != nil {
		return 0, "", err
	}
	return r.pos, imei, nil
}

func decodeIdentifier(r *reader) (string, error) {
	n, err := r.u16("imei_length")
	if err != nil {
		return "", err
	}
	raw, err := r.bytes(int(n), "imei")
	if err != nil {
		return "", err
	}
	return singleByteString(raw), nil
}

// singleByteString 每个字节按一个字符（Latin-1）解释
func singleByteString(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// singleByteBytes singleByteString 的逆运算；超出 0xFF 的字符按 UTF-8 原样输出
func singleByteBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, c := range s {
		if c <= 0xFF {
			out = append(out, byte(c))
			continue
		}
		out = utf8.AppendRune(out, c)
	}
	return out
}
