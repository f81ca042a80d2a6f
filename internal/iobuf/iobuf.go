// Package iobuf provides the growable byte buffer used for
// per-connection input and output staging.
//
// A Buffer is an append/consume queue over a contiguous backing
// store. Producers obtain a writable window with Writable, fill it,
// and commit with CommitWrite; consumers inspect Readable and commit
// with CommitRead. Raw offsets are never exposed.
package iobuf

import (
	"errors"
	"fmt"
)

// DefaultSize is the initial backing store size for new buffers.
const DefaultSize = 4096

// ErrCapExceeded is returned when growth would push the buffer past
// its configured hard cap. Callers treat this as a protocol
// violation.
var ErrCapExceeded = errors.New("iobuf: buffer hard cap exceeded")

// Buffer is a growable linear byte buffer. The zero value is not
// usable; construct with New.
//
// Not safe for concurrent use.
type Buffer struct {
	buf  []byte
	rpos int // next unread byte
	wpos int // next writable byte
	cap  int // hard cap; 0 means unbounded
}

// New creates a buffer with the given initial size and hard cap.
// A cap of 0 disables the limit.
func New(size, hardCap int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size), cap: hardCap}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.wpos - b.rpos
}

// Empty reports whether all written bytes have been consumed.
func (b *Buffer) Empty() bool {
	return b.rpos == b.wpos
}

// Size returns the current backing store size.
func (b *Buffer) Size() int {
	return len(b.buf)
}

// Free returns the total free space, including the consumed prefix
// that Reposition would reclaim.
func (b *Buffer) Free() int {
	return len(b.buf) - b.Len()
}

// Writable returns the in-place writable window at the end of the
// buffer. It may be empty even when Free() is not; call Reposition
// or Grow in that case.
func (b *Buffer) Writable() []byte {
	return b.buf[b.wpos:]
}

// CommitWrite marks n bytes of the writable window as written.
func (b *Buffer) CommitWrite(n int) {
	if n < 0 || b.wpos+n > len(b.buf) {
		panic(fmt.Sprintf("iobuf: CommitWrite(%d) past window end", n))
	}
	b.wpos += n
}

// Readable returns the unread bytes. The slice is invalidated by any
// subsequent write or Reposition.
func (b *Buffer) Readable() []byte {
	return b.buf[b.rpos:b.wpos]
}

// CommitRead consumes n bytes from the readable window.
func (b *Buffer) CommitRead(n int) {
	if n < 0 || b.rpos+n > b.wpos {
		panic(fmt.Sprintf("iobuf: CommitRead(%d) past readable end", n))
	}
	b.rpos += n
	if b.rpos == b.wpos {
		// Nothing unread; rewind so the whole store is writable.
		b.rpos, b.wpos = 0, 0
	}
}

// Reposition compacts unread bytes to the start of the backing
// store, making the fragmented free space contiguous.
func (b *Buffer) Reposition() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.rpos:b.wpos])
	b.rpos, b.wpos = 0, n
}

// Grow extends the backing store by at least n bytes, preserving
// unread content. Returns ErrCapExceeded if the new size would pass
// the hard cap; the buffer is unchanged in that case.
func (b *Buffer) Grow(n int) error {
	if n <= 0 {
		return nil
	}
	newSize := len(b.buf) + n
	if b.cap > 0 && newSize > b.cap {
		return ErrCapExceeded
	}
	grown := make([]byte, newSize)
	copy(grown, b.buf[b.rpos:b.wpos])
	b.wpos -= b.rpos
	b.rpos = 0
	b.buf = grown
	return nil
}

// EnsureWritable makes sure at least n bytes can be written in
// place, repositioning first and growing only if total free space is
// insufficient.
func (b *Buffer) EnsureWritable(n int) error {
	if len(b.Writable()) >= n {
		return nil
	}
	if b.Free() >= n {
		b.Reposition()
		return nil
	}
	return b.Grow(n - b.Free())
}

// Append copies p into the buffer, growing as needed.
func (b *Buffer) Append(p []byte) error {
	if err := b.EnsureWritable(len(p)); err != nil {
		return err
	}
	copy(b.Writable(), p)
	b.CommitWrite(len(p))
	return nil
}
