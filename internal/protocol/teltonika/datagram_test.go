package teltonika

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDatagram(t *testing.T) {
	b := mustHex(t, hexDatagram)
	n, d, err := DecodeDatagram(b)
	require.NoError(t, err)
	assert.Equal(t, 63, n)
	assert.Equal(t, uint16(0xCAFE), d.PacketID)
	assert.Equal(t, uint8(5), d.AVLPacketID)
	assert.Equal(t, "352093086403655", d.IMEI)
	assert.Equal(t, Codec8, d.Codec)
	require.Len(t, d.Records, 1)

	rec := d.Records[0]
	assert.Equal(t, utc("2019-06-13T06:23:26Z"), rec.Timestamp)
	assert.Equal(t, PriorityHigh, rec.Priority)
	assert.Equal(t, uint16(1), rec.TriggerEventID)
	assert.Equal(t, []Event{
		{ID: 0x15, Value: U8(3)},
		{ID: 0x01, Value: U8(1)},
		{ID: 0x42, Value: U16(0x5DBC)},
	}, rec.Events)
}

func TestDecodeDatagram_Prefixes(t *testing.T) {
	b := mustHex(t, hexDatagram)
	for i := 0; i < len(b); i++ {
		_, _, err := DecodeDatagram(b[:i])
		require.True(t, IsIncomplete(err), "prefix %d: %v", i, err)
	}
}

func TestDecodeDatagram_InvalidUnusableByte(t *testing.T) {
	_, _, err := DecodeDatagram(mustHex(t, hexDatagramBadFixed))
	require.ErrorIs(t, err, ErrInvalidUnusableByte)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Offset)
}

func TestDecodeDatagram_CommandCodecRejected(t *testing.T) {
	body := []byte{0x00, 0x01, unusableByte, 0x00, 0x00, 0x01, '1', byte(Codec12), 0x00, 0x00}
	b := append([]byte{0x00, byte(len(body))}, body...)
	_, _, err := DecodeDatagram(b)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestDecodeDatagram_LengthMismatch(t *testing.T) {
	b := mustHex(t, hexDatagram)
	// 声明长度多1字节，并补1个多余字节
	long := append([]byte{0x00, 0x3E}, b[2:]...)
	long = append(long, 0x00)
	_, _, err := DecodeDatagram(long)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// 声明长度少1字节，记录尾部计数落在声明范围之外
	short := append([]byte{0x00, 0x3C}, b[2:]...)
	_, _, err = DecodeDatagram(short)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestEncodeDatagram_RoundTrip(t *testing.T) {
	b := mustHex(t, hexDatagram)
	_, d, err := DecodeDatagram(b)
	require.NoError(t, err)
	out, err := EncodeDatagram(d)
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestDatagramAck(t *testing.T) {
	_, d, err := DecodeDatagram(mustHex(t, hexDatagram))
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, hexDatagramAck), DatagramAck(d))
	assert.Equal(t, []byte{0, 0, 0, 0, unusableByte, 0, 0, 0, 0, 0}, DatagramAck(nil))
}
