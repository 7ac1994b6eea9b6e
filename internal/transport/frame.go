package transport

import (
	"encoding/gob"
	"io"
)

// frame is the unit of wire transfer: an opaque payload plus the tag that
// routes it on the receiving side.
type frame struct {
	Tag     uint8
	Payload []byte
}

// frameCodec encodes frames onto a single long-lived stream. Encoder and
// decoder are stateful, so exactly one codec exists per stream direction.
type frameCodec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func newFrameCodec(rw io.ReadWriter) *frameCodec {
	return &frameCodec{
		enc: gob.NewEncoder(rw),
		dec: gob.NewDecoder(rw),
	}
}

func (c *frameCodec) write(f frame) error {
	return c.enc.Encode(f)
}

func (c *frameCodec) read() (frame, error) {
	var f frame
	if err := c.dec.Decode(&f); err != nil {
		return frame{}, err
	}
	return f, nil
}
