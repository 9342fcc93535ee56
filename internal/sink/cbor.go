package sink

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("sink: CBOR encoder mode: " + err.Error())
	}

	decOpts := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic("sink: CBOR decoder mode: " + err.Error())
	}
}

// EncodeBatch 确定性 CBOR 编码（流消息载荷）
func EncodeBatch(b *Batch) ([]byte, error) {
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// DecodeBatch EncodeBatch 的逆操作
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &b, nil
}
