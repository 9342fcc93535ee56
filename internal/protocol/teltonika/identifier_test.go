package teltonika

import (
	"testing"
)

func TestDecodeIdentifier(t *testing.T) {
	b := mustHex(t, hexIMEI)
	n, imei, err := DecodeIdentifier(b)
	if err != nil {
		t.Fatalf("decode identifier: %v", err)
	}
	if n != 17 || imei != "356307042441013" {
		t.Fatalf("got n=%d imei=%q", n, imei)
	}
}

func TestDecodeIdentifier_Prefixes(t *testing.T) {
	b := mustHex(t, hexIMEI)
	for i := 0; i < len(b); i++ {
		if _, _, err := DecodeIdentifier(b[:i]); !IsIncomplete(err) {
			t.Fatalf("prefix %d: expected incomplete, got %v", i, err)
		}
	}
}

func TestDecodeIdentifier_IgnoresTrailing(t *testing.T) {
	b := append(mustHex(t, hexIMEI), 0xDE, 0xAD)
	n, imei, err := DecodeIdentifier(b)
	if err != nil || n != 17 || imei != "356307042441013" {
		t.Fatalf("n=%d imei=%q err=%v", n, imei, err)
	}
}

func TestDecodeIdentifier_SingleByteCharacters(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"空标识", []byte{0x00, 0x00}, ""},
		{"ASCII", []byte{0x00, 0x02, 'A', '1'}, "A1"},
		{"高位字节", []byte{0x00, 0x02, 0xE9, 0xFF}, "éÿ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := DecodeIdentifier(tt.raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if back := singleByteBytes(got); string(back) != string(tt.raw[2:]) {
				t.Errorf("inverse mismatch: % X", back)
			}
		})
	}
}
