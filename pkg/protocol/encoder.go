package protocol

// Encoder is a binary encoder that appends data to an internal
// buffer. It is designed for encoding messages without allocations
// in the hot path.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// NewEncoderWithCap creates a new encoder with the specified initial
// capacity.
func NewEncoderWithCap(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Reset resets the encoder to empty state, reusing the underlying
// buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteByte appends a single byte.
// Note: this intentionally doesn't return an error (unlike
// io.ByteWriter) because the buffer is unbounded and can always
// append.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteUint16 appends a uint16 in big-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a uint32 in big-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteString8 appends a one-byte length prefix followed by the
// string bytes. The string must not exceed 255 bytes; longer input
// is truncated by the caller's validation, never silently here.
func (e *Encoder) WriteString8(s string) {
	e.buf = append(e.buf, byte(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteBytes16 appends a two-byte length prefix followed by the raw
// bytes.
func (e *Encoder) WriteBytes16(b []byte) {
	e.WriteUint16(uint16(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteBytes32 appends a four-byte length prefix followed by the raw
// bytes.
func (e *Encoder) WriteBytes32(b []byte) {
	e.WriteUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}
