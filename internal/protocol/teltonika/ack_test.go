package teltonika

import (
	"bytes"
	"testing"
)

func TestIdentifierAck(t *testing.T) {
	if got := IdentifierAck(true); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("approval = % X", got)
	}
	if got := IdentifierAck(false); !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("denial = % X", got)
	}
}

func TestFrameAck(t *testing.T) {
	tests := []struct {
		name   string
		frame  *Frame
		expect []byte
	}{
		{"空帧", nil, []byte{0, 0, 0, 0}},
		{"一条记录", &Frame{Codec: Codec8, Records: make([]Record, 1)}, []byte{0, 0, 0, 1}},
		{"两条记录", &Frame{Codec: Codec16, Records: make([]Record, 2)}, []byte{0, 0, 0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameAck(tt.frame); !bytes.Equal(got, tt.expect) {
				t.Errorf("FrameAck() = % X, expected % X", got, tt.expect)
			}
		})
	}
}
