package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// CompressionLevel is the zlib level used for outgoing Deflate
// envelopes. Level 5 trades speed for a useful ratio on message
// runs.
const CompressionLevel = 5

// MaxExpansion caps the declared uncompressed length of an incoming
// Deflate envelope. The declaration sizes a buffer before any byte is
// inflated, so it is never trusted past this bound.
const MaxExpansion = 1 << 20

// ErrDeflateCorrupt is returned when a Deflate payload does not
// inflate to the declared uncompressed length.
var ErrDeflateCorrupt = errors.New("protocol: corrupt deflate stream")

// Deflate wraps a zlib-compressed run of serialized messages. The
// envelope declares both lengths so the receiver can size the
// expansion buffer before inflating.
type Deflate struct {
	Uncompressed uint32
	Data         []byte
}

func (*Deflate) Type() MessageType { return TypeDeflate }
func (*Deflate) sealed()           {}

func (m *Deflate) encodeBody(e *Encoder) {
	e.WriteUint32(m.Uncompressed)
	e.WriteBytes32(m.Data)
}

func decodeDeflate(d *Decoder) (*Deflate, error) {
	m := &Deflate{}
	var err error
	if m.Uncompressed, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.Data, err = d.ReadBytes32(); err != nil {
		return nil, err
	}
	return m, nil
}

// Compress wraps already-serialized message bytes in a Deflate
// envelope. Returns nil if compression would not shrink the input.
func Compress(raw []byte) (*Deflate, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("protocol: deflate init: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("protocol: deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("protocol: deflate: %w", err)
	}
	if buf.Len() >= len(raw) {
		return nil, nil
	}
	return &Deflate{
		Uncompressed: uint32(len(raw)),
		Data:         buf.Bytes(),
	}, nil
}

// Expand inflates the envelope back to the original serialized
// message bytes.
func (m *Deflate) Expand() ([]byte, error) {
	if m.Uncompressed > MaxExpansion {
		return nil, ErrDeflateCorrupt
	}
	zr, err := zlib.NewReader(bytes.NewReader(m.Data))
	if err != nil {
		return nil, ErrDeflateCorrupt
	}
	defer zr.Close()

	// LimitReader guards against envelopes whose declared length
	// understates the real stream.
	out, err := io.ReadAll(io.LimitReader(zr, int64(m.Uncompressed)+1))
	if err != nil {
		return nil, ErrDeflateCorrupt
	}
	if uint32(len(out)) != m.Uncompressed {
		return nil, ErrDeflateCorrupt
	}
	return out, nil
}
