package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/avl-server/internal/sink"
)

// RecordStream 将批次以 CBOR 追加到 Redis Stream
// 消息字段：imei、codec、transport、records（条数）、payload（CBOR，可压缩）
// enc 与 size 记录压缩算法和原文长度
type RecordStream struct {
	client      *Client
	stream      string
	maxLen      int64
	compression sink.Compression
}

// NewRecordStream maxLen<=0 表示不裁剪
func NewRecordStream(client *Client, stream string, maxLen int64) *RecordStream {
	return &RecordStream{client: client, stream: stream, maxLen: maxLen}
}

// WithCompression 设置负载压缩算法，默认不压缩
func (s *RecordStream) WithCompression(c sink.Compression) *RecordStream {
	s.compression = c
	return s
}

var _ sink.Publisher = (*RecordStream)(nil)

// Publish XADD 一条消息
func (s *RecordStream) Publish(ctx context.Context, b *sink.Batch) error {
	raw, err := sink.EncodeBatch(b)
	if err != nil {
		return err
	}
	payload, enc, err := sink.Compress(raw, s.compression)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"batch_id":  b.ID,
			"imei":      b.IMEI,
			"codec":     b.Codec.String(),
			"transport": b.Transport,
			"records":   strconv.Itoa(len(b.Records)),
			"enc":       enc.String(),
			"size":      strconv.Itoa(len(raw)),
			"payload":   payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Read 从 start（不含）之后读取最多 count 条并解码，返回最后一条消息ID
// 供运维工具与测试回放，start 为 "0" 表示从头读取
func (s *RecordStream) Read(ctx context.Context, start string, count int64) ([]*sink.Batch, string, error) {
	from := "-"
	if start != "" && start != "0" {
		from = "(" + start
	}
	msgs, err := s.client.XRangeN(ctx, s.stream, from, "+", count).Result()
	if err != nil {
		return nil, start, err
	}
	out := make([]*sink.Batch, 0, len(msgs))
	last := start
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			return out, last, fmt.Errorf("stream message %s: missing payload", m.ID)
		}
		data, err := decodePayload(m.Values, []byte(raw))
		if err != nil {
			return out, last, fmt.Errorf("stream message %s: %w", m.ID, err)
		}
		b, err := sink.DecodeBatch(data)
		if err != nil {
			return out, last, fmt.Errorf("stream message %s: %w", m.ID, err)
		}
		out = append(out, b)
		last = m.ID
	}
	return out, last, nil
}

// decodePayload 无 enc 字段的旧消息按未压缩处理
func decodePayload(values map[string]interface{}, payload []byte) ([]byte, error) {
	name, _ := values["enc"].(string)
	enc, err := sink.ParseCompression(name)
	if err != nil {
		return nil, err
	}
	size := len(payload)
	if v, ok := values["size"].(string); ok {
		if size, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid size %q", v)
		}
	}
	return sink.Decompress(payload, enc, size)
}

// Len 流长度
func (s *RecordStream) Len(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.stream).Result()
}
