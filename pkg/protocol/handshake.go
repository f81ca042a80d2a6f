package protocol

// Identifier is the first message on every connection. The server
// refuses the connection unless Ident matches IdentString exactly
// and Revision matches the server's revision.
type Identifier struct {
	Ident      string // Must be exactly IdentLen bytes
	Revision   uint16
	Level      uint8 // Client feature level
	Flags      uint8 // Capability flags
	Extensions uint8 // Ext* negotiation bits
}

func (*Identifier) Type() MessageType { return TypeIdentifier }
func (*Identifier) sealed()           {}

func (m *Identifier) encodeBody(e *Encoder) {
	ident := make([]byte, IdentLen)
	copy(ident, m.Ident)
	e.WriteBytes(ident)
	e.WriteUint16(m.Revision)
	e.WriteByte(m.Level)
	e.WriteByte(m.Flags)
	e.WriteByte(m.Extensions)
}

func decodeIdentifier(d *Decoder) (*Identifier, error) {
	ident, err := d.ReadBytes(IdentLen)
	if err != nil {
		return nil, err
	}
	rev, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	level, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	flags, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	ext, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	return &Identifier{
		Ident:      string(ident),
		Revision:   rev,
		Level:      level,
		Flags:      flags,
		Extensions: ext,
	}, nil
}

// PasswordChallenge asks the peer to prove knowledge of a password.
// SessionID is NullSession for the server-wide password and admin
// authentication, or a session ID for a join challenge. The seed is
// regenerated after every comparison so a digest can never be
// replayed for another purpose.
type PasswordChallenge struct {
	Hdr
	Seed [SeedLen]byte
}

func (*PasswordChallenge) Type() MessageType { return TypePasswordChallenge }
func (*PasswordChallenge) sealed()           {}

func (m *PasswordChallenge) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteBytes(m.Seed[:])
}

func decodePasswordChallenge(d *Decoder) (*PasswordChallenge, error) {
	m := &PasswordChallenge{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	seed, err := d.ReadBytes(SeedLen)
	if err != nil {
		return nil, err
	}
	copy(m.Seed[:], seed)
	return m, nil
}

// PasswordReply answers a PasswordChallenge with
// digest = hash(secret ∥ seed).
type PasswordReply struct {
	Hdr
	Digest [DigestLen]byte
}

func (*PasswordReply) Type() MessageType { return TypePasswordReply }
func (*PasswordReply) sealed()           {}

func (m *PasswordReply) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteBytes(m.Digest[:])
}

func decodePasswordReply(d *Decoder) (*PasswordReply, error) {
	m := &PasswordReply{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	digest, err := d.ReadBytes(DigestLen)
	if err != nil {
		return nil, err
	}
	copy(m.Digest[:], digest)
	return m, nil
}

// HostInfo summarizes the server's state and policy. It is sent once
// after authentication, before login.
type HostInfo struct {
	Sessions         uint8
	SessionLimit     uint8
	Users            uint8
	UserLimit        uint8
	NameLenLimit     uint8
	MaxSubscriptions uint8
	Requirements     uint8
	Extensions       uint8
}

func (*HostInfo) Type() MessageType { return TypeHostInfo }
func (*HostInfo) sealed()           {}

func (m *HostInfo) encodeBody(e *Encoder) {
	e.WriteByte(m.Sessions)
	e.WriteByte(m.SessionLimit)
	e.WriteByte(m.Users)
	e.WriteByte(m.UserLimit)
	e.WriteByte(m.NameLenLimit)
	e.WriteByte(m.MaxSubscriptions)
	e.WriteByte(m.Requirements)
	e.WriteByte(m.Extensions)
}

func decodeHostInfo(d *Decoder) (*HostInfo, error) {
	b, err := d.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	return &HostInfo{
		Sessions:         b[0],
		SessionLimit:     b[1],
		Users:            b[2],
		UserLimit:        b[3],
		NameLenLimit:     b[4],
		MaxSubscriptions: b[5],
		Requirements:     b[6],
		Extensions:       b[7],
	}, nil
}

// UserInfo carries the login request, the enriched login reply, and
// join/leave user events broadcast to sessions.
type UserInfo struct {
	Hdr
	Event uint8 // Event* code
	Mode  uint8 // User mode bits in the session
	Name  string
}

func (*UserInfo) Type() MessageType { return TypeUserInfo }
func (*UserInfo) sealed()           {}

func (m *UserInfo) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Event)
	e.WriteByte(m.Mode)
	e.WriteString8(m.Name)
}

func decodeUserInfo(d *Decoder) (*UserInfo, error) {
	m := &UserInfo{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	event, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	mode, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	name, err := d.ReadString8()
	if err != nil {
		return nil, err
	}
	m.Event, m.Mode, m.Name = event, mode, name
	return m, nil
}
