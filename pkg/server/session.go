package server

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// layer is one canvas layer's server-side state. Pixel content
// never touches the server; only existence and the lock bit do.
type layer struct {
	locked bool
}

// member binds a connection to a session with its per-session
// standing. Loop-owned, like everything session-related.
type member struct {
	conn *Conn

	// locked blocks this user's drawing traffic in the session.
	locked bool

	// muted drops this user's chat in the session.
	muted bool

	// layer is the user's selected layer, NullLayer if none.
	layer uint8

	// layerLock pins the user to one layer: any other selection is
	// refused. NullLayer means unrestricted.
	layerLock uint8
}

// Session is one shared canvas. Keyed by id in the registry; member
// records reference connections by pointer but cross-session state
// always travels by id.
type Session struct {
	id    uint8
	title string
	owner uint8

	width  uint16
	height uint16
	limit  uint8
	level  uint8

	// locked blocks drawing traffic for every member.
	locked bool

	// password guards joining, empty for open sessions.
	password string

	members map[uint8]*member

	// layers tracks the canvas layers announced through layer
	// events, keyed by layer id.
	layers map[uint8]*layer

	// waiting holds joiners queued for the next sync barrier.
	waiting []*Conn

	// syncing is true from barrier raise until all promotions are
	// done and raster tunnels are set up. New joiners queue behind.
	syncing bool

	// outstanding tracks the members whose barrier acknowledgement
	// is still pending.
	outstanding map[uint8]struct{}

	// syncSpan is the trace span covering the current barrier
	// round, nil outside one.
	syncSpan trace.Span

	// source is the member streaming the canvas snapshot, NullUser
	// outside a transfer.
	source uint8

	// tunnels routes raster data: source user id to the receivers
	// still awaiting the rest of the snapshot.
	tunnels map[uint8][]uint8
}

func newSession(id uint8, title string, owner uint8, width, height uint16, limit, level uint8) *Session {
	return &Session{
		id:          id,
		title:       title,
		owner:       owner,
		width:       width,
		height:      height,
		limit:       limit,
		level:       level,
		members:     make(map[uint8]*member),
		layers:      make(map[uint8]*layer),
		outstanding: make(map[uint8]struct{}),
		tunnels:     make(map[uint8][]uint8),
	}
}

func (s *Session) full() bool {
	return len(s.members) >= int(s.limit)
}

func (s *Session) isMember(uid uint8) bool {
	_, ok := s.members[uid]
	return ok
}

func (s *Session) addMember(c *Conn) *member {
	m := &member{conn: c, layer: protocol.NullLayer, layerLock: protocol.NullLayer}
	s.members[c.id] = m
	return m
}

func (s *Session) removeMember(uid uint8) {
	delete(s.members, uid)
	delete(s.outstanding, uid)
}

// lowestMember returns the member with the smallest user id, the
// deterministic pick for the raster source. NullUser when empty.
func (s *Session) lowestMember() uint8 {
	best := protocol.NullUser
	for uid := range s.members {
		if best == protocol.NullUser || uid < best {
			best = uid
		}
	}
	return best
}

// isWaiting reports whether the connection is queued for promotion.
func (s *Session) isWaiting(c *Conn) bool {
	for _, w := range s.waiting {
		if w == c {
			return true
		}
	}
	return false
}

func (s *Session) dropWaiting(c *Conn) {
	for i, w := range s.waiting {
		if w == c {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
}

// tunnelTargets returns the receivers fed by the given source, nil
// when no transfer from it is active.
func (s *Session) tunnelTargets(src uint8) []uint8 {
	return s.tunnels[src]
}

func (s *Session) addTunnel(src, dst uint8) {
	s.tunnels[src] = append(s.tunnels[src], dst)
}

// dropTunnelTarget removes one receiver from the source's tunnel set
// and reports whether the source has any receivers left.
func (s *Session) dropTunnelTarget(src, dst uint8) bool {
	targets := s.tunnels[src]
	for i, t := range targets {
		if t == dst {
			targets = append(targets[:i], targets[i+1:]...)
			break
		}
	}
	if len(targets) == 0 {
		delete(s.tunnels, src)
		return false
	}
	s.tunnels[src] = targets
	return true
}

// mode folds the session's standing into SessionInfo mode bits.
func (s *Session) mode() uint8 {
	var m uint8
	if s.locked {
		m |= protocol.SessionModeLocked
	}
	return m
}

// info builds the announcement record for session lists and join
// acknowledgements.
func (s *Session) info() *protocol.SessionInfo {
	return &protocol.SessionInfo{
		Hdr:       protocol.Hdr{SessionID: s.id},
		Width:     s.width,
		Height:    s.height,
		Owner:     s.owner,
		UserCount: uint8(len(s.members)),
		Limit:     s.limit,
		Mode:      s.mode(),
		Level:     s.level,
		Title:     s.title,
	}
}

// memberMode folds one member's standing into UserInfo mode bits.
func (m *member) mode() uint8 {
	var v uint8
	if m.locked {
		v |= protocol.UserModeLocked
	}
	if m.muted {
		v |= protocol.UserModeMuted
	}
	return v
}
