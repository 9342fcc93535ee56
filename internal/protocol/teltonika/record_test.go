package teltonika

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord_Codec8(t *testing.T) {
	b := mustHex(t, hexRecordCodec8)
	n, rec, err := DecodeRecord(Codec8, b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, utc("2019-06-10T10:04:46Z"), rec.Timestamp)
	assert.Equal(t, PriorityHigh, rec.Priority)
	assert.Len(t, rec.Events, 5)
}

func TestDecodeRecord_Truncated(t *testing.T) {
	b := mustHex(t, hexRecordCodec8)
	for i := 0; i < len(b); i++ {
		_, _, err := DecodeRecord(Codec8, b[:i])
		require.True(t, IsIncomplete(err), "prefix %d: %v", i, err)
	}
}

func TestDecodeRecord_CommandCodec(t *testing.T) {
	_, _, err := DecodeRecord(Codec12, mustHex(t, hexRecordCodec8))
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestCoordinateTwosComplement(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		deg  float64
	}{
		{"零", 0, 0},
		{"东经", 0x0F0E0AD4, 25.2578516},
		{"西经", 0xF0E48E6B, -25.3456789},
		{"最小值", 0x80000000, -214.7483648},
		{"最大值", 0x7FFFFFFF, 214.7483647},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.deg, decodeCoordinate(tt.raw), 1e-9)
			assert.Equal(t, tt.raw, encodeCoordinate(tt.deg))
		})
	}
}

func TestEncodeRecord_RoundTrip(t *testing.T) {
	rec := Record{
		Timestamp:      time.UnixMilli(sampleMillis).UTC(),
		Priority:       PriorityPanic,
		Longitude:      54.6872268,
		Latitude:       25.2791234,
		Altitude:       112,
		Angle:          359,
		Satellites:     11,
		Speed:          87,
		TriggerEventID: 240,
		Events: []Event{
			{ID: 240, Value: U8(1)},
			{ID: 66, Value: U16(12587)},
			{ID: 199, Value: U32(1024)},
			{ID: 16, Value: U64(1 << 40)},
			{ID: 21, Value: U8(5)},
		},
	}

	b, err := EncodeRecord(Codec8, rec)
	require.NoError(t, err)
	n, got, err := DecodeRecord(Codec8, b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.InDelta(t, rec.Longitude, got.Longitude, 1e-9)
	assert.InDelta(t, rec.Latitude, got.Latitude, 1e-9)
	// 解码后按宽度分组，组内保持原相对顺序
	assert.Equal(t, []Event{
		{ID: 240, Value: U8(1)},
		{ID: 21, Value: U8(5)},
		{ID: 66, Value: U16(12587)},
		{ID: 199, Value: U32(1024)},
		{ID: 16, Value: U64(1 << 40)},
	}, got.Events)
	assert.Equal(t, rec.Timestamp, got.Timestamp)
	assert.Equal(t, rec.Speed, got.Speed)
}

func TestEncodeRecord_Codec16DefaultsCause(t *testing.T) {
	rec := Record{Timestamp: time.UnixMilli(sampleMillis).UTC(), TriggerEventID: 300}
	b, err := EncodeRecord(Codec16, rec)
	require.NoError(t, err)
	_, got, err := DecodeRecord(Codec16, b)
	require.NoError(t, err)
	assert.Equal(t, causePtr(CauseOnExit), got.GenerationCause)
	assert.Equal(t, uint16(300), got.TriggerEventID)
}

func TestEncodeRecord_Overflow(t *testing.T) {
	ts := time.UnixMilli(sampleMillis).UTC()

	_, err := EncodeRecord(Codec8, Record{Timestamp: ts, TriggerEventID: 256})
	assert.ErrorIs(t, err, ErrFieldOverflow)

	_, err = EncodeRecord(Codec8, Record{Timestamp: ts, Events: []Event{{ID: 300, Value: U8(1)}}})
	assert.ErrorIs(t, err, ErrFieldOverflow)

	_, err = EncodeRecord(Codec8, Record{Timestamp: ts, Events: []Event{{ID: 1, Value: Variable([]byte{1})}}})
	assert.ErrorIs(t, err, ErrVariableNotAllow)

	_, err = EncodeRecord(Codec8, Record{Timestamp: ts, Events: []Event{{ID: 1, Value: EventValue{Kind: KindU8, Uint: 300}}}})
	assert.ErrorIs(t, err, ErrFieldOverflow)

	_, err = EncodeRecord(Codec8Ext, Record{Timestamp: ts, Events: []Event{{ID: 1, Value: EventValue{Kind: KindU16, Uint: 0x10000}}}})
	assert.ErrorIs(t, err, ErrFieldOverflow)

	_, err = EncodeRecord(Codec8, Record{Timestamp: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, ErrFieldOverflow)
}
