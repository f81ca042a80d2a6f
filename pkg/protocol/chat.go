package protocol

// Chat is a chat line scoped to a session. Delivered only to peers
// that negotiated ExtChat.
type Chat struct {
	Hdr
	Text string
}

func (*Chat) Type() MessageType { return TypeChat }
func (*Chat) sealed()           {}

func (m *Chat) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteString8(m.Text)
}

func decodeChat(d *Decoder) (*Chat, error) {
	m := &Chat{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	text, err := d.ReadString8()
	if err != nil {
		return nil, err
	}
	m.Text = text
	return m, nil
}

// Palette replaces a run of palette entries starting at Offset.
// Colors holds packed RGB triplets. Delivered only to peers that
// negotiated ExtPalette.
type Palette struct {
	Hdr
	Offset uint8
	Colors []byte // 3 bytes per entry
}

func (*Palette) Type() MessageType { return TypePalette }
func (*Palette) sealed()           {}

// Count returns the number of palette entries carried.
func (m *Palette) Count() int {
	return len(m.Colors) / 3
}

func (m *Palette) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Offset)
	e.WriteByte(uint8(len(m.Colors) / 3))
	e.WriteBytes(m.Colors)
}

func decodePalette(d *Decoder) (*Palette, error) {
	m := &Palette{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	var err error
	if m.Offset, err = d.ReadByte(); err != nil {
		return nil, err
	}
	count, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if m.Colors, err = d.ReadBytes(int(count) * 3); err != nil {
		return nil, err
	}
	return m, nil
}
