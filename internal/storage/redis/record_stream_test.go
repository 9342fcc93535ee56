package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/sink"
)

func TestRecordStream_PublishAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStream(setupTestClient(t), "avl:records:test", 1000)

	rec := teltonika.Record{
		Timestamp: time.UnixMilli(1560160256560).UTC(),
		Priority:  teltonika.PriorityHigh,
		Latitude:  54.6872,
		Longitude: 25.2578516,
		Events:    []teltonika.Event{{ID: 239, Value: teltonika.U8(1)}},
	}
	first := sink.NewBatch("356307042441013", "tcp", teltonika.Codec8, []teltonika.Record{rec})
	second := sink.NewBatch("356307042441013", "udp", teltonika.Codec8Ext, nil)
	require.NoError(t, s.Publish(ctx, first))
	require.NoError(t, s.Publish(ctx, second))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, last, err := s.Read(ctx, "0", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, teltonika.Codec8Ext, got[1].Codec)
	require.Len(t, got[0].Records, 1)
	assert.Equal(t, uint16(239), got[0].Records[0].Events[0].ID)

	// 从最后一条之后读取为空
	more, _, err := s.Read(ctx, last, 10)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestRecordStream_Compressed(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	records := make([]teltonika.Record, 20)
	for i := range records {
		records[i] = teltonika.Record{
			Timestamp: time.UnixMilli(1560160256560 + int64(i)*1000).UTC(),
			Latitude:  54.6872,
			Longitude: 25.2578516,
			Events:    []teltonika.Event{{ID: 239, Value: teltonika.U8(1)}},
		}
	}

	for _, c := range []sink.Compression{sink.CompressionLZ4, sink.CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			name := "avl:records:test:" + c.String()
			client.Del(ctx, name)
			t.Cleanup(func() { client.Del(ctx, name) })

			s := NewRecordStream(client, name, 0).WithCompression(c)
			b := sink.NewBatch("356307042441013", "tcp", teltonika.Codec8, records)
			require.NoError(t, s.Publish(ctx, b))

			msgs, err := client.XRange(ctx, name, "-", "+").Result()
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, c.String(), msgs[0].Values["enc"])

			got, _, err := s.Read(ctx, "0", 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, b.ID, got[0].ID)
			assert.Len(t, got[0].Records, 20)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	// 无 enc/size 字段
	out, err := decodePayload(map[string]interface{}{}, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)

	_, err = decodePayload(map[string]interface{}{"enc": "gzip"}, []byte("abc"))
	assert.Error(t, err)
	_, err = decodePayload(map[string]interface{}{"size": "x"}, []byte("abc"))
	assert.Error(t, err)
}
