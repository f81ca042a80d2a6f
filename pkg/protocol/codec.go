package protocol

import (
	"errors"
	"fmt"
)

// Codec errors. ErrUnknownType and ErrCorruptBuffer are protocol
// violations: the connection that produced them must be dropped.
var (
	ErrUnknownType   = errors.New("protocol: unknown message type")
	ErrCorruptBuffer = errors.New("protocol: buffer corruption, message type changed mid-frame")
	ErrTrailingBytes = errors.New("protocol: declared length exceeds message body")
)

// wireSpec describes how to compute the total wire length of one
// message type. A message is either fixed-size (base only) or
// declares a payload length field inside its fixed header at byte
// offset lenAt, lenSize bytes wide, scaled by mult.
type wireSpec struct {
	base    int // fixed header length including the tag byte
	lenAt   int // offset of the length field, 0 if fixed-size
	lenSize int // 1, 2 or 4; 0 if fixed-size
	mult    int // payload bytes per length unit
}

var wireSpecs = map[MessageType]wireSpec{
	TypeIdentifier:        {base: 14},
	TypePasswordChallenge: {base: 3 + SeedLen},
	TypePasswordReply:     {base: 3 + DigestLen},
	TypeHostInfo:          {base: 9},
	TypeUserInfo:          {base: 6, lenAt: 5, lenSize: 1, mult: 1},
	TypeSessionInfo:       {base: 14, lenAt: 13, lenSize: 1, mult: 1},
	TypeInstruction:       {base: 8, lenAt: 6, lenSize: 2, mult: 1},
	TypeSubscribe:         {base: 3},
	TypeUnsubscribe:       {base: 3},
	TypeListSessions:      {base: 3},
	TypeSessionSelect:     {base: 3},
	TypeSessionEvent:      {base: 6},
	TypeLayerEvent:        {base: 5},
	TypeLayerSelect:       {base: 4},
	TypeToolInfo:          {base: 15},
	TypeStrokeInfo:        {base: 8},
	TypeStrokeEnd:         {base: 3},
	TypeRaster:            {base: 15, lenAt: 11, lenSize: 4, mult: 1},
	TypeSynchronize:       {base: 3},
	TypeSyncWait:          {base: 3},
	TypeCancel:            {base: 3},
	TypeChat:              {base: 4, lenAt: 3, lenSize: 1, mult: 1},
	TypePalette:           {base: 5, lenAt: 4, lenSize: 1, mult: 3},
	TypeAck:               {base: 4},
	TypeError:             {base: 5},
	TypeDeflate:           {base: 9, lenAt: 5, lenSize: 4, mult: 1},
}

// Required computes the total wire length of the message beginning
// at data[0] from however much of it is available. If the available
// prefix is too short to determine the length, the returned value is
// the number of bytes needed before Required can decide (always more
// than len(data)); no bytes are consumed either way.
// ErrUnknownType is returned for an unrecognized tag.
func Required(data []byte) (int, error) {
	if len(data) == 0 {
		return 1, nil
	}
	spec, ok := wireSpecs[MessageType(data[0])]
	if !ok {
		return 0, ErrUnknownType
	}
	if spec.lenSize == 0 || len(data) < spec.lenAt+spec.lenSize {
		// Fixed size, or header incomplete: need base first.
		return spec.base, nil
	}
	var n int
	switch spec.lenSize {
	case 1:
		n = int(data[spec.lenAt])
	case 2:
		n = int(data[spec.lenAt])<<8 | int(data[spec.lenAt+1])
	case 4:
		n = int(data[spec.lenAt])<<24 | int(data[spec.lenAt+1])<<16 |
			int(data[spec.lenAt+2])<<8 | int(data[spec.lenAt+3])
	}
	return spec.base + n*spec.mult, nil
}

// Marshal serializes a message to its full wire form, tag included.
func Marshal(m Message) []byte {
	e := NewEncoder()
	MarshalTo(e, m)
	return e.Bytes()
}

// MarshalTo appends a message's wire form to the encoder. Callers
// serializing a run of messages for one recipient reuse a single
// encoder across the run.
func MarshalTo(e *Encoder, m Message) {
	e.WriteByte(byte(m.Type()))
	m.encodeBody(e)
}

// Unmarshal decodes exactly one message from its full wire form.
// Trailing bytes are a framing error.
func Unmarshal(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrBufferTooShort
	}
	d := NewDecoder(data[1:])

	var (
		m   Message
		err error
	)
	switch MessageType(data[0]) {
	case TypeIdentifier:
		m, err = decodeIdentifier(d)
	case TypePasswordChallenge:
		m, err = decodePasswordChallenge(d)
	case TypePasswordReply:
		m, err = decodePasswordReply(d)
	case TypeHostInfo:
		m, err = decodeHostInfo(d)
	case TypeUserInfo:
		m, err = decodeUserInfo(d)
	case TypeSessionInfo:
		m, err = decodeSessionInfo(d)
	case TypeInstruction:
		m, err = decodeInstruction(d)
	case TypeSubscribe:
		m, err = decodeHdrOnly(d, &Subscribe{})
	case TypeUnsubscribe:
		m, err = decodeHdrOnly(d, &Unsubscribe{})
	case TypeListSessions:
		m, err = decodeHdrOnly(d, &ListSessions{})
	case TypeSessionSelect:
		m, err = decodeHdrOnly(d, &SessionSelect{})
	case TypeSessionEvent:
		m, err = decodeSessionEvent(d)
	case TypeLayerEvent:
		m, err = decodeLayerEvent(d)
	case TypeLayerSelect:
		m, err = decodeLayerSelect(d)
	case TypeToolInfo:
		m, err = decodeToolInfo(d)
	case TypeStrokeInfo:
		m, err = decodeStrokeInfo(d)
	case TypeStrokeEnd:
		m, err = decodeHdrOnly(d, &StrokeEnd{})
	case TypeRaster:
		m, err = decodeRaster(d)
	case TypeSynchronize:
		m, err = decodeHdrOnly(d, &Synchronize{})
	case TypeSyncWait:
		m, err = decodeHdrOnly(d, &SyncWait{})
	case TypeCancel:
		m, err = decodeHdrOnly(d, &Cancel{})
	case TypeChat:
		m, err = decodeChat(d)
	case TypePalette:
		m, err = decodePalette(d)
	case TypeAck:
		m, err = decodeAck(d)
	case TypeError:
		m, err = decodeError(d)
	case TypeDeflate:
		m, err = decodeDeflate(d)
	default:
		return nil, ErrUnknownType
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", MessageType(data[0]), err)
	}
	if !d.EOF() {
		return nil, ErrTrailingBytes
	}
	return m, nil
}

// hdrOnly is the subset of messages whose body is just the routing
// header.
type hdrOnly interface {
	Routed
}

func decodeHdrOnly[M hdrOnly](d *Decoder, m M) (Message, error) {
	if err := m.Header().decodeFrom(d); err != nil {
		return nil, err
	}
	return m, nil
}

// Stream reassembles messages from an incoming byte stream. Partial
// messages stay in the caller's buffer; Stream remembers the pending
// tag between attempts and reports corruption when it changes.
type Stream struct {
	pending     MessageType
	havePending bool
}

// Next attempts to detach one message from the front of data.
//
// Returns (msg, consumed, nil) on success; (nil, 0, nil) when more
// bytes are needed, consuming nothing; and a non-nil error on a
// protocol violation (unknown type, mid-frame corruption, or a
// malformed body). Decoded messages own their payload independently
// of data.
func (s *Stream) Next(data []byte) (Message, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	t := MessageType(data[0])
	if s.havePending && t != s.pending {
		return nil, 0, ErrCorruptBuffer
	}

	need, err := Required(data)
	if err != nil {
		return nil, 0, err
	}
	if need > len(data) {
		s.pending, s.havePending = t, true
		return nil, 0, nil
	}
	s.havePending = false

	m, err := Unmarshal(data[:need])
	if err != nil {
		return nil, 0, err
	}
	return m, need, nil
}

// Reset clears the pending-message state, for reuse after the
// caller's buffer has been replaced wholesale.
func (s *Stream) Reset() {
	s.havePending = false
}
