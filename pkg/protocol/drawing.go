package protocol

// ToolInfo announces the sender's tool selection. The server relays
// it without interpreting the tool parameters.
type ToolInfo struct {
	Hdr
	Tool    uint8
	Mode    uint8
	ColorBG uint32 // RGBA
	ColorFG uint32 // RGBA
	SizeLo  uint8
	SizeHi  uint8
}

func (*ToolInfo) Type() MessageType { return TypeToolInfo }
func (*ToolInfo) sealed()           {}

func (m *ToolInfo) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteByte(m.Tool)
	e.WriteByte(m.Mode)
	e.WriteUint32(m.ColorBG)
	e.WriteUint32(m.ColorFG)
	e.WriteByte(m.SizeLo)
	e.WriteByte(m.SizeHi)
}

func decodeToolInfo(d *Decoder) (*ToolInfo, error) {
	m := &ToolInfo{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	var err error
	if m.Tool, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if m.Mode, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if m.ColorBG, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.ColorFG, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.SizeLo, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if m.SizeHi, err = d.ReadByte(); err != nil {
		return nil, err
	}
	return m, nil
}

// StrokeInfo is one point of a stroke in canvas coordinates.
type StrokeInfo struct {
	Hdr
	X        uint16
	Y        uint16
	Pressure uint8
}

func (*StrokeInfo) Type() MessageType { return TypeStrokeInfo }
func (*StrokeInfo) sealed()           {}

func (m *StrokeInfo) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteUint16(m.X)
	e.WriteUint16(m.Y)
	e.WriteByte(m.Pressure)
}

func decodeStrokeInfo(d *Decoder) (*StrokeInfo, error) {
	m := &StrokeInfo{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	var err error
	if m.X, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if m.Y, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if m.Pressure, err = d.ReadByte(); err != nil {
		return nil, err
	}
	return m, nil
}

// StrokeEnd terminates the sender's current stroke.
type StrokeEnd struct {
	Hdr
}

func (*StrokeEnd) Type() MessageType    { return TypeStrokeEnd }
func (*StrokeEnd) sealed()              {}
func (m *StrokeEnd) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// Raster is one chunk of a canvas snapshot transfer. The transfer
// is complete when Offset+len(Data) == Size. An empty transfer
// (Size 0) is the placeholder sent to the sole member of a fresh
// session.
type Raster struct {
	Hdr
	Offset uint32
	Size   uint32 // Total transfer size
	Data   []byte
}

func (*Raster) Type() MessageType { return TypeRaster }
func (*Raster) sealed()           {}

// Last reports whether this chunk completes the transfer.
func (m *Raster) Last() bool {
	return m.Offset+uint32(len(m.Data)) == m.Size
}

func (m *Raster) encodeBody(e *Encoder) {
	m.Hdr.encodeTo(e)
	e.WriteUint32(m.Offset)
	e.WriteUint32(m.Size)
	e.WriteBytes32(m.Data)
}

func decodeRaster(d *Decoder) (*Raster, error) {
	m := &Raster{}
	if err := m.Hdr.decodeFrom(d); err != nil {
		return nil, err
	}
	var err error
	if m.Offset, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.Size, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.Data, err = d.ReadBytes32(); err != nil {
		return nil, err
	}
	return m, nil
}

// Synchronize asks the raster source member to produce a full canvas
// snapshot for the pending joiners of its session.
type Synchronize struct {
	Hdr
}

func (*Synchronize) Type() MessageType    { return TypeSynchronize }
func (*Synchronize) sealed()              {}
func (m *Synchronize) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// SyncWait raises the join barrier: each current member pauses
// canvas-visible changes and acknowledges with Ack(SyncWait).
type SyncWait struct {
	Hdr
}

func (*SyncWait) Type() MessageType    { return TypeSyncWait }
func (*SyncWait) sealed()              {}
func (m *SyncWait) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }

// Cancel aborts an in-progress raster transfer, sent to the source
// when no recipients remain.
type Cancel struct {
	Hdr
}

func (*Cancel) Type() MessageType    { return TypeCancel }
func (*Cancel) sealed()              {}
func (m *Cancel) encodeBody(e *Encoder) { m.Hdr.encodeTo(e) }
