// Package protocol implements the binary wire protocol spoken between
// drawing clients and the relay server.
//
// Every message is a single tagged record:
//
//	┌─────────────┬──────────────────────┬─────────────────────────┐
//	│ Type        │ Type-specific header │ Payload                 │
//	│ (1 byte)    │ (fixed per type)     │ (length from header)    │
//	└─────────────┴──────────────────────┴─────────────────────────┘
//
// There is no outer frame: the header of each type either fixes its
// total length or declares a payload length field, so a receiver can
// compute the full size of the pending message from a prefix of the
// stream. Required implements that computation; Stream layers
// partial-read reassembly and corruption detection on top of it.
//
// # Message Set
//
// The message set is closed. Every variant is a struct implementing
// the sealed Message interface, so routing code can type-switch
// exhaustively instead of falling through a default case. Messages
// that the server relays between users embed Hdr, which carries the
// user and session ID bytes present on the wire; the server stamps
// the user ID before fan-out and never trusts the client's value.
//
// # Encoding
//
// Fixed-width integers are big-endian. Strings and binary payloads
// are length-prefixed with the width declared in each type's header
// layout (one byte for names, titles and chat text, two bytes for
// instruction arguments, four bytes for raster data). Marshal and
// Unmarshal convert between Message values and wire bytes; MarshalTo
// appends messages to a shared encoder for batched delivery.
//
// # Compression
//
// A Deflate message wraps a zlib-compressed run of serialized
// messages. The envelope records both compressed and uncompressed
// lengths so the receiver can size its expansion buffer before
// inflating and re-feeding the contents through the normal decode
// path.
package protocol
