package protocol

// MessageType is the one-byte tag that begins every wire message.
type MessageType uint8

const (
	TypeIdentifier        MessageType = 0x01 // Protocol identification
	TypePasswordChallenge MessageType = 0x02 // Server → client auth seed
	TypePasswordReply     MessageType = 0x03 // Client → server digest
	TypeHostInfo          MessageType = 0x04 // Server capabilities summary
	TypeUserInfo          MessageType = 0x05 // Login and user events
	TypeSessionInfo       MessageType = 0x06 // Session listing entry
	TypeInstruction       MessageType = 0x07 // Admin instructions
	TypeSubscribe         MessageType = 0x08 // Join a session
	TypeUnsubscribe       MessageType = 0x09 // Leave a session
	TypeListSessions      MessageType = 0x0A // Request session listing
	TypeSessionSelect     MessageType = 0x0B // Select active session
	TypeSessionEvent      MessageType = 0x0C // Kick/lock/mute/delegate
	TypeLayerEvent        MessageType = 0x0D // Layer create/delete/reorder
	TypeLayerSelect       MessageType = 0x0E // Select active layer
	TypeToolInfo          MessageType = 0x10 // Drawing tool selection
	TypeStrokeInfo        MessageType = 0x11 // Stroke point
	TypeStrokeEnd         MessageType = 0x12 // End of stroke
	TypeRaster            MessageType = 0x13 // Canvas snapshot chunk
	TypeSynchronize       MessageType = 0x14 // Request raster from source
	TypeSyncWait          MessageType = 0x15 // Join barrier
	TypeCancel            MessageType = 0x16 // Abort raster transfer
	TypeChat              MessageType = 0x17 // Chat line
	TypePalette           MessageType = 0x18 // Palette update
	TypeAck               MessageType = 0x19 // Acknowledgement
	TypeError             MessageType = 0x1A // Recoverable error report
	TypeDeflate           MessageType = 0x1B // Compressed message run
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeIdentifier:
		return "Identifier"
	case TypePasswordChallenge:
		return "PasswordChallenge"
	case TypePasswordReply:
		return "PasswordReply"
	case TypeHostInfo:
		return "HostInfo"
	case TypeUserInfo:
		return "UserInfo"
	case TypeSessionInfo:
		return "SessionInfo"
	case TypeInstruction:
		return "Instruction"
	case TypeSubscribe:
		return "Subscribe"
	case TypeUnsubscribe:
		return "Unsubscribe"
	case TypeListSessions:
		return "ListSessions"
	case TypeSessionSelect:
		return "SessionSelect"
	case TypeSessionEvent:
		return "SessionEvent"
	case TypeLayerEvent:
		return "LayerEvent"
	case TypeLayerSelect:
		return "LayerSelect"
	case TypeToolInfo:
		return "ToolInfo"
	case TypeStrokeInfo:
		return "StrokeInfo"
	case TypeStrokeEnd:
		return "StrokeEnd"
	case TypeRaster:
		return "Raster"
	case TypeSynchronize:
		return "Synchronize"
	case TypeSyncWait:
		return "SyncWait"
	case TypeCancel:
		return "Cancel"
	case TypeChat:
		return "Chat"
	case TypePalette:
		return "Palette"
	case TypeAck:
		return "Ack"
	case TypeError:
		return "Error"
	case TypeDeflate:
		return "Deflate"
	default:
		return "Unknown"
	}
}

// Reserved ID values. NullUser doubles as the "server" origin on
// messages the server itself emits, and NullSession ("global") scopes
// messages that are not bound to a session.
const (
	NullUser    uint8 = 0
	NullSession uint8 = 0
	NullLayer   uint8 = 0
)

// SeedLen is the byte length of the password challenge seed.
const SeedLen = 4

// DigestLen is the byte length of the password reply digest
// (SHA-256 by default; the hashing primitive itself is supplied by
// the server deployment).
const DigestLen = 32

// IdentLen is the exact byte length of the protocol identifier
// string in an Identifier message.
const IdentLen = 8

// IdentString is the protocol identifier expected from every client.
const IdentString = "DrawServ"

// Revision is the protocol revision. A client carrying any other
// revision is refused.
const Revision uint16 = 11

// Capability bits carried in Identifier.Flags.
const (
	// FlagAckRequest asks the server to acknowledge every message it
	// relays on this client's behalf.
	FlagAckRequest uint8 = 0x01
)

// Extension negotiation bits carried in Identifier.Extensions.
const (
	ExtChat    uint8 = 0x01
	ExtPalette uint8 = 0x02
	ExtDeflate uint8 = 0x04
)

// Server requirement bits carried in HostInfo.Requirements.
const (
	RequireUniqueNames uint8 = 0x01
)

// User mode bits carried in UserInfo.Mode. They describe the user's
// standing within a session.
const (
	UserModeNone   uint8 = 0x00
	UserModeLocked uint8 = 0x01
	UserModeMuted  uint8 = 0x02
)

// Session mode bits carried in SessionInfo.Mode.
const (
	SessionModeLocked uint8 = 0x01
)

// Layer actions carried in LayerEvent.Action.
const (
	LayerCreate  uint8 = 1
	LayerDestroy uint8 = 2
	LayerLock    uint8 = 3
	LayerUnlock  uint8 = 4
)

// User event codes carried in UserInfo.Event.
const (
	EventNone       uint8 = 0
	EventLogin      uint8 = 1
	EventJoin       uint8 = 2
	EventLeave      uint8 = 3
	EventKicked     uint8 = 4
	EventDisconnect uint8 = 5
	EventBrokenPipe uint8 = 6
	EventTimedOut   uint8 = 7
	EventViolation  uint8 = 8
	EventDropped    uint8 = 9
)

// Session event actions carried in SessionEvent.Action.
const (
	SessionKick     uint8 = 1
	SessionLock     uint8 = 2
	SessionUnlock   uint8 = 3
	SessionMute     uint8 = 4
	SessionUnmute   uint8 = 5
	SessionDelegate uint8 = 6
)

// Admin instruction commands carried in Instruction.Command.
const (
	InstrCreate       uint8 = 1
	InstrDestroy      uint8 = 2
	InstrAlter        uint8 = 3
	InstrPassword     uint8 = 4
	InstrAuthenticate uint8 = 5
	InstrShutdown     uint8 = 6
)

// ErrorCode identifies a recoverable error reported to the sender.
type ErrorCode uint16

const (
	ErrCodeUnknownSession  ErrorCode = 0x0001
	ErrCodeSessionFull     ErrorCode = 0x0002
	ErrCodeNotSubscribed   ErrorCode = 0x0003
	ErrCodePasswordFailure ErrorCode = 0x0004
	ErrCodeNotUnique       ErrorCode = 0x0005
	ErrCodeTooLong         ErrorCode = 0x0006
	ErrCodeInvalidLayer    ErrorCode = 0x0007
	ErrCodeLayerLocked     ErrorCode = 0x0008
	ErrCodeUnauthorized    ErrorCode = 0x0009
	ErrCodeSyncInProgress  ErrorCode = 0x000A
	ErrCodeSyncFailure     ErrorCode = 0x000B
	ErrCodeInvalidRequest  ErrorCode = 0x000C
	ErrCodeSessionLimit    ErrorCode = 0x000D
	ErrCodeSessionLost     ErrorCode = 0x000E
	ErrCodeTooSmall        ErrorCode = 0x000F
	ErrCodeLevelMismatch   ErrorCode = 0x0010
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownSession:
		return "UnknownSession"
	case ErrCodeSessionFull:
		return "SessionFull"
	case ErrCodeNotSubscribed:
		return "NotSubscribed"
	case ErrCodePasswordFailure:
		return "PasswordFailure"
	case ErrCodeNotUnique:
		return "NotUnique"
	case ErrCodeTooLong:
		return "TooLong"
	case ErrCodeInvalidLayer:
		return "InvalidLayer"
	case ErrCodeLayerLocked:
		return "LayerLocked"
	case ErrCodeUnauthorized:
		return "Unauthorized"
	case ErrCodeSyncInProgress:
		return "SyncInProgress"
	case ErrCodeSyncFailure:
		return "SyncFailure"
	case ErrCodeInvalidRequest:
		return "InvalidRequest"
	case ErrCodeSessionLimit:
		return "SessionLimit"
	case ErrCodeSessionLost:
		return "SessionLost"
	case ErrCodeTooSmall:
		return "TooSmall"
	case ErrCodeLevelMismatch:
		return "LevelMismatch"
	default:
		return "Unknown"
	}
}

// Message is the closed set of wire messages. It is sealed: only
// types in this package implement it, so a type switch over all
// variants is exhaustive.
type Message interface {
	// Type returns the message's wire tag.
	Type() MessageType

	// encodeBody appends the message's header fields and payload
	// (everything after the tag byte) to the encoder.
	encodeBody(e *Encoder)

	sealed()
}

// Hdr is the routing header embedded in every message the server
// relays between users. UserID is stamped by the server before
// fan-out; the client-supplied value is never trusted.
type Hdr struct {
	UserID    uint8
	SessionID uint8
}

// Header returns the routing header for stamping and dispatch.
func (h *Hdr) Header() *Hdr { return h }

func (h *Hdr) encodeTo(e *Encoder) {
	e.WriteByte(h.UserID)
	e.WriteByte(h.SessionID)
}

func (h *Hdr) decodeFrom(d *Decoder) error {
	u, err := d.ReadByte()
	if err != nil {
		return err
	}
	s, err := d.ReadByte()
	if err != nil {
		return err
	}
	h.UserID, h.SessionID = u, s
	return nil
}

// Routed is implemented by all messages that carry a routing header.
// Identifier, HostInfo and Deflate are connection-scoped and do not.
type Routed interface {
	Message
	Header() *Hdr
}
