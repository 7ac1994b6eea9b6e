package transport

import (
	"bytes"
	"testing"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := newFrameCodec(&buf)

	frames := []frame{
		{Tag: 0, Payload: []byte(`{"version":"2.1.1","items":[]}`)},
		{Tag: 1, Payload: bytes.Repeat([]byte{0x5A}, 4096)},
		{Tag: 1, Payload: nil},
	}

	for _, f := range frames {
		if err := codec.write(f); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	for i, want := range frames {
		got, err := codec.read()
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if got.Tag != want.Tag {
			t.Errorf("frame %d tag = %d, want %d", i, got.Tag, want.Tag)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d payload mismatch", i)
		}
	}
}
