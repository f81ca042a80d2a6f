package server

import (
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// handleActive routes one message from a fully logged-in connection.
// The switch is exhaustive over the message set: types a client may
// never send are protocol violations.
func (s *Server) handleActive(c *Conn, msg protocol.Message) verdict {
	switch m := msg.(type) {
	case *protocol.ToolInfo:
		return s.handleDrawing(c, m)
	case *protocol.StrokeInfo:
		return s.handleDrawing(c, m)
	case *protocol.StrokeEnd:
		return s.handleDrawing(c, m)
	case *protocol.Raster:
		return s.handleRaster(c, m)
	case *protocol.SessionSelect:
		return s.handleSessionSelect(c, m)
	case *protocol.LayerSelect:
		return s.handleLayerSelect(c, m)
	case *protocol.LayerEvent:
		return s.handleLayerEvent(c, m)
	case *protocol.Subscribe:
		return s.handleSubscribe(c, m)
	case *protocol.Unsubscribe:
		return s.handleUnsubscribe(c, m)
	case *protocol.ListSessions:
		return s.handleListSessions(c)
	case *protocol.Chat:
		return s.handleChat(c, m)
	case *protocol.Palette:
		return s.handlePalette(c, m)
	case *protocol.Ack:
		return s.handleAck(c, m)
	case *protocol.Cancel:
		return s.handleCancel(c, m)
	case *protocol.PasswordReply:
		return s.handlePasswordReply(c, m)
	case *protocol.SessionEvent:
		return s.handleSessionEvent(c, m)
	case *protocol.Instruction:
		return s.handleInstruction(c, m)
	case *protocol.Error:
		// Peers may report errors; nothing to do but note it.
		c.logger.Debug("peer error report", "code", m.Code.String())
		return keep
	default:
		// Identifier, UserInfo, SessionInfo, HostInfo,
		// PasswordChallenge, Synchronize and SyncWait are
		// server-sent only.
		c.logger.Warn("illegal message in active state", "type", msg.Type().String())
		return disconnect(0)
	}
}

// claimed validates the sender id a routed message carries. Clients
// speak for themselves only; a foreign id is an impersonation
// attempt.
func claimed(c *Conn, m protocol.Routed) bool {
	uid := m.Header().UserID
	return uid == protocol.NullUser || uid == c.id
}

// handleDrawing relays tool changes and strokes to the selected
// session. Lock state silently swallows the traffic; peers never
// learn of suppressed strokes.
func (s *Server) handleDrawing(c *Conn, m protocol.Routed) verdict {
	if !claimed(c, m) {
		return disconnect(0)
	}
	sess := c.session
	if sess == nil {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeNotSubscribed)
		return keep
	}
	mem := sess.members[c.id]
	if mem == nil {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	if sess.locked || mem.locked {
		return keep
	}
	if mem.layer == protocol.NullLayer {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
		return keep
	}

	h := m.Header()
	h.UserID = c.id
	h.SessionID = sess.id
	s.propagate(sess, m, c)
	return keep
}

func (s *Server) handleRaster(c *Conn, m *protocol.Raster) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if !sess.isMember(c.id) {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	return s.tunnelRaster(c, sess, m)
}

func (s *Server) handleSessionSelect(c *Conn, m *protocol.SessionSelect) verdict {
	if !claimed(c, m) {
		return disconnect(0)
	}
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if !sess.isMember(c.id) {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	c.session = sess
	// Everyone, sender included, hears the selection; the echo is
	// the acknowledgement.
	note := &protocol.SessionSelect{Hdr: protocol.Hdr{UserID: c.id, SessionID: sess.id}}
	s.propagate(sess, note, nil)
	return keep
}

func (s *Server) handleLayerSelect(c *Conn, m *protocol.LayerSelect) verdict {
	if !claimed(c, m) {
		return disconnect(0)
	}
	sess := c.session
	if sess == nil {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeNotSubscribed)
		return keep
	}
	mem := sess.members[c.id]
	if mem == nil {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	if mem.layerLock != protocol.NullLayer && mem.layerLock != m.Layer {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
		return keep
	}
	l, ok := sess.layers[m.Layer]
	if !ok {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
		return keep
	}
	if l.locked {
		s.sendError(c, sess.id, protocol.ErrCodeLayerLocked)
		return keep
	}
	mem.layer = m.Layer
	note := &protocol.LayerSelect{
		Hdr:   protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Layer: m.Layer,
	}
	s.propagate(sess, note, nil)
	return keep
}

// handleLayerEvent creates, destroys or (un)locks a layer. Only the
// session owner or an admin may shape the layer set.
func (s *Server) handleLayerEvent(c *Conn, m *protocol.LayerEvent) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.owner != c.id && !c.admin {
		s.sendError(c, sess.id, protocol.ErrCodeUnauthorized)
		return keep
	}

	switch m.Action {
	case protocol.LayerCreate:
		if _, exists := sess.layers[m.Layer]; exists || m.Layer == protocol.NullLayer {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
			return keep
		}
		sess.layers[m.Layer] = &layer{}
	case protocol.LayerDestroy:
		if _, exists := sess.layers[m.Layer]; !exists {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
			return keep
		}
		delete(sess.layers, m.Layer)
		// Deselect the dead layer everywhere.
		for _, mem := range sess.members {
			if mem.layer == m.Layer {
				mem.layer = protocol.NullLayer
			}
		}
	case protocol.LayerLock, protocol.LayerUnlock:
		l, exists := sess.layers[m.Layer]
		if !exists {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidLayer)
			return keep
		}
		l.locked = m.Action == protocol.LayerLock
	default:
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}

	note := &protocol.LayerEvent{
		Hdr:    protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Layer:  m.Layer,
		Action: m.Action,
	}
	s.propagateAll(sess, note, nil)
	return keep
}

func (s *Server) handleSubscribe(c *Conn, m *protocol.Subscribe) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.isMember(c.id) || sess.isWaiting(c) {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}
	if c.subscriptions >= s.cfg.Limits.Subscriptions {
		s.sendError(c, sess.id, protocol.ErrCodeSessionLimit)
		return keep
	}
	if sess.full() {
		s.sendError(c, sess.id, protocol.ErrCodeSessionFull)
		return keep
	}
	if sess.level != c.level {
		s.sendError(c, sess.id, protocol.ErrCodeLevelMismatch)
		return keep
	}
	if sess.password != "" {
		c.seed = newSeed()
		c.pendingJoin = sess.id
		s.send(c, &protocol.PasswordChallenge{
			Hdr:  protocol.Hdr{SessionID: sess.id},
			Seed: c.seed,
		})
		return keep
	}
	s.joinSession(c, sess)
	return keep
}

// handlePasswordReply resolves whichever challenge is outstanding:
// a session join or an admin authentication.
func (s *Server) handlePasswordReply(c *Conn, m *protocol.PasswordReply) verdict {
	switch {
	case c.pendingAuth:
		c.pendingAuth = false
		ok := s.verify(s.adminPassword, c.seed, m.Digest)
		c.seed = newSeed()
		if !ok {
			s.sendError(c, protocol.NullSession, protocol.ErrCodePasswordFailure)
			return keep
		}
		c.admin = true
		s.ack(c, protocol.NullSession, protocol.TypeInstruction)
		c.logger.Info("admin authenticated")
		return keep

	case c.pendingJoin != protocol.NullSession:
		sid := c.pendingJoin
		c.pendingJoin = protocol.NullSession
		sess := s.sessionByID(sid)
		if sess == nil {
			s.sendError(c, sid, protocol.ErrCodeUnknownSession)
			return keep
		}
		ok := s.verify(sess.password, c.seed, m.Digest)
		c.seed = newSeed()
		if !ok {
			s.sendError(c, sess.id, protocol.ErrCodePasswordFailure)
			return keep
		}
		// Room may have filled while the challenge was out.
		if sess.full() {
			s.sendError(c, sess.id, protocol.ErrCodeSessionFull)
			return keep
		}
		s.joinSession(c, sess)
		return keep

	default:
		s.sendError(c, m.SessionID, protocol.ErrCodeInvalidRequest)
		return keep
	}
}

func (s *Server) handleUnsubscribe(c *Conn, m *protocol.Unsubscribe) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if !sess.isMember(c.id) && !sess.isWaiting(c) {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	s.ack(c, sess.id, protocol.TypeUnsubscribe)
	s.leaveSession(c, sess, protocol.EventLeave)
	return keep
}

func (s *Server) handleListSessions(c *Conn) verdict {
	for _, sess := range s.sessions {
		s.send(c, sess.info())
	}
	s.ack(c, protocol.NullSession, protocol.TypeListSessions)
	return keep
}

func (s *Server) handleChat(c *Conn, m *protocol.Chat) verdict {
	if !claimed(c, m) {
		return disconnect(0)
	}
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	mem := sess.members[c.id]
	if mem == nil {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	if mem.muted {
		return keep
	}
	note := &protocol.Chat{
		Hdr:  protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Text: m.Text,
	}
	s.propagate(sess, note, c)
	return keep
}

func (s *Server) handlePalette(c *Conn, m *protocol.Palette) verdict {
	if !claimed(c, m) {
		return disconnect(0)
	}
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if !sess.isMember(c.id) {
		s.sendError(c, sess.id, protocol.ErrCodeNotSubscribed)
		return keep
	}
	note := &protocol.Palette{
		Hdr:    protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Offset: m.Offset,
		Colors: m.Colors,
	}
	s.propagate(sess, note, c)
	return keep
}

func (s *Server) handleAck(c *Conn, m *protocol.Ack) verdict {
	switch m.Event {
	case protocol.TypeSyncWait:
		sess := s.sessionByID(m.SessionID)
		if sess == nil || !sess.isMember(c.id) {
			return keep
		}
		s.barrierAck(sess, c.id)
	default:
		// Unsolicited acks are harmless.
	}
	return keep
}

// handleCancel lets a snapshot source abort its transfer. The
// stranded receivers are dropped from the session with a sync
// failure, exactly as if the source had vanished.
func (s *Server) handleCancel(c *Conn, m *protocol.Cancel) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	targets := sess.tunnelTargets(c.id)
	if len(targets) == 0 {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}
	delete(sess.tunnels, c.id)
	if sess.source == c.id {
		sess.source = protocol.NullUser
	}
	for _, uid := range targets {
		if mem, ok := sess.members[uid]; ok {
			s.sendError(mem.conn, sess.id, protocol.ErrCodeSyncFailure)
			s.leaveSession(mem.conn, sess, protocol.EventDropped)
		}
	}
	return keep
}
