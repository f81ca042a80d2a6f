package protocol

// SessionInfo is one entry of a session listing, and the broadcast
// sent after a session is altered.
type SessionInfo struct {
	Hdr
	Width     uint16
	Height    uint16
	Owner     uint8
	UserCount uint8
	Limit     uint8
	Mode      uint8
	Flags     uint8
	Level     uint8
	Title     string
}

func (*SessionInfo) Type() MessageType { return TypeSessionInfo }
func (*SessionInfo) sealed()           {}

func (m *SessionInfo) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteUint16(m.Width)
	e.WriteUint16(m.Height)
	e.WriteByte(m.Owner)
	e.WriteByte(m.UserCount)
	e.WriteByte(m.Limit)
	e.WriteByte(m.Mode)
	e.WriteByte(m.Flags)
	e.WriteByte(m.Level)
	e.WriteString8(m.Title)
}

func decodeSessionInfo(d *Decoder) (*SessionInfo, error) {
	m := &SessionInfo{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	var err error
	if m.Width, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if m.Height, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(6)
	if err != nil {
		return nil, err
	}
	m.Owner, m.UserCount, m.Limit, m.Mode, m.Flags, m.Level =
		b[0], b[1], b[2], b[3], b[4], b[5]
	if m.Title, err = d.ReadString8(); err != nil {
		return nil, err
	}
	return m, nil
}

// Instruction is the admin/owner command envelope: session create,
// alter, destroy, password changes, admin authentication and server
// shutdown. Command selects the operation, Aux1/Aux2 carry small
// operands (user limit, mode) and Data the variable part (canvas
// dimensions, title, password).
type Instruction struct {
	Hdr
	Command uint8
	Aux1    uint8
	Aux2    uint8
	Data    []byte
}

func (*Instruction) Type() MessageType { return TypeInstruction }
func (*Instruction) sealed()           {}

func (m *Instruction) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Command)
	e.WriteByte(m.Aux1)
	e.WriteByte(m.Aux2)
	e.WriteBytes16(m.Data)
}

func decodeInstruction(d *Decoder) (*Instruction, error) {
	m := &Instruction{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(3)
	if err != nil {
		return nil, err
	}
	m.Command, m.Aux1, m.Aux2 = b[0], b[1], b[2]
	if m.Data, err = d.ReadBytes16(); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe requests membership in the session named by the header.
type Subscribe struct {
	Hdr
}

func (*Subscribe) Type() MessageType    { return TypeSubscribe }
func (*Subscribe) sealed()              {}
func (m *Subscribe) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// Unsubscribe leaves the session named by the header.
type Unsubscribe struct {
	Hdr
}

func (*Unsubscribe) Type() MessageType    { return TypeUnsubscribe }
func (*Unsubscribe) sealed()              {}
func (m *Unsubscribe) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// ListSessions requests a SessionInfo stream for every live session,
// terminated by an Ack.
type ListSessions struct {
	Hdr
}

func (*ListSessions) Type() MessageType    { return TypeListSessions }
func (*ListSessions) sealed()              {}
func (m *ListSessions) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// SessionSelect declares the sender's active session; subsequent
// drawing commands apply to it. Relayed to the session's members.
type SessionSelect struct {
	Hdr
}

func (*SessionSelect) Type() MessageType    { return TypeSessionSelect }
func (*SessionSelect) sealed()              {}
func (m *SessionSelect) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// SessionEvent is a moderation action inside a session: kick, lock,
// unlock, mute, unmute, delegate. Target is the affected user
// (NullUser for the whole session on lock/unlock) and Aux an
// optional layer operand for layer-locks.
type SessionEvent struct {
	Hdr
	Action uint8
	Target uint8
	Aux    uint8
}

func (*SessionEvent) Type() MessageType { return TypeSessionEvent }
func (*SessionEvent) sealed()           {}

func (m *SessionEvent) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Action)
	e.WriteByte(m.Target)
	e.WriteByte(m.Aux)
}

func decodeSessionEvent(d *Decoder) (*SessionEvent, error) {
	m := &SessionEvent{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(3)
	if err != nil {
		return nil, err
	}
	m.Action, m.Target, m.Aux = b[0], b[1], b[2]
	return m, nil
}

// LayerEvent announces a layer change (create, delete, reorder)
// within a session. Relayed verbatim to members.
type LayerEvent struct {
	Hdr
	Layer  uint8
	Action uint8
}

func (*LayerEvent) Type() MessageType { return TypeLayerEvent }
func (*LayerEvent) sealed()           {}

func (m *LayerEvent) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Layer)
	e.WriteByte(m.Action)
}

func decodeLayerEvent(d *Decoder) (*LayerEvent, error) {
	m := &LayerEvent{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	m.Layer, m.Action = b[0], b[1]
	return m, nil
}

// LayerSelect declares the sender's active layer in a session.
type LayerSelect struct {
	Hdr
	Layer uint8
}

func (*LayerSelect) Type() MessageType { return TypeLayerSelect }
func (*LayerSelect) sealed()           {}

func (m *LayerSelect) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Layer)
}

func decodeLayerSelect(d *Decoder) (*LayerSelect, error) {
	m := &LayerSelect{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	layer, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	m.Layer = layer
	return m, nil
}
