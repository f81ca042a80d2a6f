package protocol

// Ack acknowledges delivery or acceptance of a message of type
// Event, scoped to the session in the header. Clients that requested
// delivery acknowledgements receive one before their message is
// fanned out; Ack(SyncWait) from a member is the join-barrier
// acknowledgement.
type Ack struct {
	Hdr
	Event MessageType // Type of the acknowledged message
}

func (*Ack) Type() MessageType { return TypeAck }
func (*Ack) sealed()           {}

func (m *Ack) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(byte(m.Event))
}

func decodeAck(d *Decoder) (*Ack, error) {
	m := &Ack{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	event, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	m.Event = MessageType(event)
	return m, nil
}

// Error reports a recoverable failure to the sender of the offending
// message. The connection stays open.
type Error struct {
	Hdr
	Code ErrorCode
}

func (*Error) Type() MessageType { return TypeError }
func (*Error) sealed()           {}

func (m *Error) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteUint16(uint16(m.Code))
}

func decodeError(d *Decoder) (*Error, error) {
	m := &Error{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	code, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	m.Code = ErrorCode(code)
	return m, nil
}
