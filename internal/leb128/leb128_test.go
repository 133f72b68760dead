package leb128

import (
	"bytes"
	"testing"
)

func TestEncodeScenarios(t *testing.T) {
	cases := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{0xFFFF_FFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, c := range cases {
		got := Encode(nil, c.v)
		if !bytes.Equal(got, c.want) {
			t.Errorf("Encode(%d) = % x, want % x", c.v, got, c.want)
		}
	}
}

func TestDecodeEncodeLaw(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 255, 300, 1 << 20, 1<<32 - 1, 0xDEAD_BEEF}

	for _, v := range values {
		enc := Encode(nil, v)

		got, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%x) unexpected error: %v", enc, err)
		}

		if n != len(enc) {
			t.Errorf("Decode(%x) consumed %d bytes, want %d", enc, n, len(enc))
		}

		if got != v {
			t.Errorf("Decode(Encode(%d)) = %d", v, got)
		}
	}
}

func TestDecodeIncompleteDoesNotConsume(t *testing.T) {
	enc := Encode(nil, 128) // two bytes, high bit set on the first

	_, n, err := Decode(enc[:1])
	if err != nil {
		t.Fatalf("unexpected error on partial buffer: %v", err)
	}

	if n != 0 {
		t.Errorf("partial decode reported n=%d, want 0", n)
	}
}

func TestDecodeMalformedSixthContinuationByte(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}

	_, _, err := Decode(buf)
	if err == nil {
		t.Fatal("expected error for 6-byte continuation run")
	}
}

func TestMaxEncodedLength(t *testing.T) {
	enc := Encode(nil, 0xFFFF_FFFF)
	if len(enc) > MaxBytes {
		t.Errorf("encoded length %d exceeds MaxBytes %d", len(enc), MaxBytes)
	}
}
