package teltonika

import (
	"encoding/hex"
	"testing"
	"time"
)

// 抓包样本（CRC 已校验）
const (
	hexCodec8Single   = "000000000000003608010000016B40D8EA30010000000000000000000000000000000105021503010101425E0F01F10000601A014E0000000000000000010000C7CF"
	hexCodec8Short    = "000000000000002808010000016B40D9AD80010000000000000000000000000000000103021503010101425E100000010000F22A"
	hexCodec8Two      = "000000000000004308020000016B40D57B480100000000000000000000000000000001010101000000000000016B40D5C198010000000000000000000000000000000101010101000000020000252C"
	hexCodec8Ext      = "000000000000004A8E010000016B412CEE000100000000000000000000000000000000010005000100010100010011001D00010010015E2C880002000B000000003544C87A000E000000001DD7E06A00000100002994"
	hexCodec16        = "000000000000005F10020000016BDBC7833000000000000000000000000000000000000B05040200010000030002000B00270042563A00000000016BDBC7871800000000000000000000000000000000000B05040200010000030002000B00260042563A00000200005FB3"
	hexCodec8Negative = "000000000000002308010000016B40CC423001F0E48E6B800000000078005A07003701010115030000000100003EEB"
	hexCodec8ExtVar   = "00000000000000338E010000016B40CC42300200000000000000000000000000000001810002000100EF01000000000000000101810003AABBCC010000EC81"
	hexCodec16Period  = "000000000000002610010000016B40CC423000000000000000000000000000000000000B0701010001000000000100006C46"

	hexBadPriority   = "000000000000002108010000016B40CC423009000000000000000000000000000000010000000000010000B0AC"
	hexBadTrailer    = "000000000000002108010000016B40CC423001000000000000000000000000000000010000000000020000178B"
	hexBadCodec      = "000000000000000399000000002FD0"
	hexBadEventCount = "000000000000002308010000016B40CC42300100000000000000000000000000000001020115030000000100002291"
	hexBadCause      = "000000000000002310010000016B40CC423000000000000000000000000000000000000B090000000000010000277F"
	hexBadTimestamp  = "00000000000000210801FFFFFFFFFFFFFFFF01000000000000000000000000000000010000000000010000C748"
	hexCodec13       = "00000000000000080D010500000000010000CC10"
	hexBadMsgType    = "00000000000000040C0042000000F033"

	hexGetinfoCommand  = "000000000000000F0C010500000007676574696E666F0100004312"
	hexGetinfoResponse = "000000000000000F0C010600000007676574696E666F0100008017"
	hexTwoResponses    = "000000000000003E0C0206000000275254433A323031392F362F31302031303A303420496E69743A323031392F362F313020373A31300000000B4750533A31205361743A30020000CE8A"

	hexDatagram         = "003DCAFE0105000F33353230393330383634303336353508010000016B4F815B30010000000000000000000000000000000103021503010101425DBC000001"
	hexDatagramBadFixed = "003DCAFE0205000F33353230393330383634303336353508010000016B4F815B30010000000000000000000000000000000103021503010101425DBC000001"
	hexDatagramAck      = "0001CAFE010500000001"

	hexIMEI = "000F333536333037303432343431303133"

	// Codec8 单条记录（不含 codec 与记录数）
	hexRecordCodec8 = "0000016B40D8EA30010000000000000000000000000000000105021503010101425E0F01F10000601A014E0000000000000000"
)

// sampleMillis 构造样本时统一使用的时间戳 2019-06-10T09:50:56.560Z
const sampleMillis = 1560160256560

func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func utc(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return ts.UTC()
}

func causePtr(c GenerationCause) *GenerationCause { return &c }
