package sink

import (
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
)

const (
	// Codec8E，含变长IO值
	hexCodec8ExtVar = "00000000000000338E010000016B40CC42300200000000000000000000000000000001810002000100EF01000000000000000101810003AABBCC010000EC81"
	// Codec16，带生成原因
	hexCodec16Periodical = "000000000000002610010000016B40CC423000000000000000000000000000000000000B0701010001000000000100006C46"
)

func decodeFixture(t *testing.T, s string) *teltonika.Frame {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	_, f, err := teltonika.DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestBatchCBORRoundTrip(t *testing.T) {
	for name, fixture := range map[string]string{
		"codec8e": hexCodec8ExtVar,
		"codec16": hexCodec16Periodical,
	} {
		t.Run(name, func(t *testing.T) {
			f := decodeFixture(t, fixture)
			b := NewBatch("356307042441013", "tcp", f.Codec, f.Records)
			b.RemoteAddr = "10.0.0.1:40000"

			data, err := EncodeBatch(b)
			require.NoError(t, err)

			got, err := DecodeBatch(data)
			require.NoError(t, err)
			assert.Equal(t, b.ID, got.ID)
			assert.Equal(t, b.IMEI, got.IMEI)
			assert.Equal(t, b.Codec, got.Codec)
			assert.True(t, b.ReceivedAt.Equal(got.ReceivedAt))
			require.Len(t, got.Records, len(b.Records))
			for i := range b.Records {
				want, have := b.Records[i], got.Records[i]
				assert.True(t, want.Timestamp.Equal(have.Timestamp))
				have.Timestamp = want.Timestamp
				assert.Equal(t, want, have)
			}
		})
	}
}

func TestBatchCBOREnumsAsText(t *testing.T) {
	f := decodeFixture(t, hexCodec16Periodical)
	data, err := EncodeBatch(NewBatch("1", "udp", f.Codec, f.Records))
	require.NoError(t, err)

	// 通用解码：枚举以文本呈现，便于非 Go 消费者读取
	var generic map[string]any
	require.NoError(t, cbor.Unmarshal(data, &generic))
	assert.Equal(t, "codec16", generic["codec"])
	records := generic["records"].([]any)
	rec := records[0].(map[any]any)
	assert.Equal(t, "periodical", rec["generation_cause"])
	assert.Equal(t, "low", rec["priority"])
}

func TestBatchCBORDeterministic(t *testing.T) {
	f := decodeFixture(t, hexCodec8ExtVar)
	b := NewBatch("356307042441013", "tcp", f.Codec, f.Records)
	first, err := EncodeBatch(b)
	require.NoError(t, err)
	second, err := EncodeBatch(b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeBatchRejectsGarbage(t *testing.T) {
	_, err := DecodeBatch([]byte{0xFF, 0x00})
	assert.Error(t, err)
}
