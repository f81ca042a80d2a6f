package server

import (
	"github.com/probonopd/Drawpile/internal/idpool"
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// handleSessionEvent applies a moderation action to a session. Only
// the owner or an admin wields these.
func (s *Server) handleSessionEvent(c *Conn, m *protocol.SessionEvent) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.owner != c.id && !c.admin {
		s.sendError(c, sess.id, protocol.ErrCodeUnauthorized)
		return keep
	}

	note := &protocol.SessionEvent{
		Hdr:    protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Action: m.Action,
		Target: m.Target,
		Aux:    m.Aux,
	}

	switch m.Action {
	case protocol.SessionKick:
		mem := sess.members[m.Target]
		if mem == nil {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
			return keep
		}
		s.propagateAll(sess, note, nil)
		s.leaveSession(mem.conn, sess, protocol.EventKicked)
		return keep

	case protocol.SessionLock, protocol.SessionUnlock:
		locked := m.Action == protocol.SessionLock
		if m.Target == protocol.NullUser {
			sess.locked = locked
		} else {
			mem := sess.members[m.Target]
			if mem == nil {
				s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
				return keep
			}
			switch {
			case m.Aux == protocol.NullLayer:
				mem.locked = locked
			case locked:
				// A layer operand turns the lock into a layer pin:
				// the target may only work on that one layer.
				mem.layerLock = m.Aux
				if mem.layer != m.Aux {
					mem.layer = protocol.NullLayer
				}
			default:
				mem.layerLock = protocol.NullLayer
			}
		}

	case protocol.SessionMute, protocol.SessionUnmute:
		mem := sess.members[m.Target]
		if mem == nil {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
			return keep
		}
		mem.muted = m.Action == protocol.SessionMute

	case protocol.SessionDelegate:
		if !sess.isMember(m.Target) {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
			return keep
		}
		sess.owner = m.Target

	default:
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}

	s.propagateAll(sess, note, nil)
	return keep
}

// handleInstruction executes a server instruction. Session creation
// is open to every user; the rest is gated on ownership or the
// admin flag.
func (s *Server) handleInstruction(c *Conn, m *protocol.Instruction) verdict {
	switch m.Command {
	case protocol.InstrCreate:
		return s.instrCreate(c, m)
	case protocol.InstrDestroy:
		return s.instrDestroy(c, m)
	case protocol.InstrAlter:
		return s.instrAlter(c, m)
	case protocol.InstrPassword:
		return s.instrPassword(c, m)
	case protocol.InstrAuthenticate:
		return s.instrAuthenticate(c)
	case protocol.InstrShutdown:
		if !c.admin {
			s.sendError(c, protocol.NullSession, protocol.ErrCodeUnauthorized)
			return keep
		}
		s.ack(c, protocol.NullSession, protocol.TypeInstruction)
		s.requestShutdown("admin instruction")
		return keep
	default:
		s.sendError(c, m.SessionID, protocol.ErrCodeInvalidRequest)
		return keep
	}
}

// createPayload is the Instruction data layout for Create and Alter:
// width and height as big-endian uint16, the rest of the bytes the
// title.
func createPayload(data []byte) (width, height uint16, title string, ok bool) {
	if len(data) < 4 {
		return 0, 0, "", false
	}
	width = uint16(data[0])<<8 | uint16(data[1])
	height = uint16(data[2])<<8 | uint16(data[3])
	return width, height, string(data[4:]), true
}

func (s *Server) instrCreate(c *Conn, m *protocol.Instruction) verdict {
	if len(s.sessions) >= s.cfg.Limits.Sessions {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeSessionLimit)
		return keep
	}
	width, height, title, ok := createPayload(m.Data)
	if !ok {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeInvalidRequest)
		return keep
	}
	if int(width) < s.cfg.Limits.MinDimension || int(height) < s.cfg.Limits.MinDimension {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeTooSmall)
		return keep
	}
	if len(title) > s.cfg.Limits.NameLength {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeTooLong)
		return keep
	}
	if s.cfg.Session.UniqueNames && title != "" && s.sessionTitleTaken(title) {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeNotUnique)
		return keep
	}
	limit := m.Aux1
	if limit == 0 || int(limit) > s.cfg.Limits.Users {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeInvalidRequest)
		return keep
	}

	id := s.sessionIDs.Next()
	if id == idpool.None {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeSessionLimit)
		return keep
	}

	sess := newSession(id, title, c.id, width, height, limit, c.level)
	s.sessions[id] = sess
	s.metrics.sessions.Inc()

	s.ack(c, id, protocol.TypeInstruction)
	s.logger.Info("session created", "component", "session",
		"session", id, "owner", c.id, "title", title,
		"width", width, "height", height, "limit", limit)
	return keep
}

func (s *Server) instrDestroy(c *Conn, m *protocol.Instruction) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.owner != c.id && !c.admin {
		s.sendError(c, sess.id, protocol.ErrCodeUnauthorized)
		return keep
	}
	s.ack(c, sess.id, protocol.TypeInstruction)
	s.destroySession(sess, true)
	return keep
}

func (s *Server) instrAlter(c *Conn, m *protocol.Instruction) verdict {
	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.owner != c.id && !c.admin {
		s.sendError(c, sess.id, protocol.ErrCodeUnauthorized)
		return keep
	}
	width, height, title, ok := createPayload(m.Data)
	if !ok {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}
	// The canvas can only grow; members may have drawn to the
	// current edges already.
	if width < sess.width || height < sess.height {
		s.sendError(c, sess.id, protocol.ErrCodeTooSmall)
		return keep
	}
	if len(title) > s.cfg.Limits.NameLength {
		s.sendError(c, sess.id, protocol.ErrCodeTooLong)
		return keep
	}
	if m.Aux1 != 0 {
		if int(m.Aux1) > s.cfg.Limits.Users || int(m.Aux1) < len(sess.members) {
			s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
			return keep
		}
		sess.limit = m.Aux1
	}
	sess.width, sess.height = width, height
	if title != "" {
		if s.cfg.Session.UniqueNames && title != sess.title && s.sessionTitleTaken(title) {
			s.sendError(c, sess.id, protocol.ErrCodeNotUnique)
			return keep
		}
		sess.title = title
	}

	s.ack(c, sess.id, protocol.TypeInstruction)
	s.propagateAll(sess, sess.info(), nil)
	return keep
}

func (s *Server) instrPassword(c *Conn, m *protocol.Instruction) verdict {
	if m.SessionID == protocol.NullSession {
		if !c.admin {
			s.sendError(c, protocol.NullSession, protocol.ErrCodeUnauthorized)
			return keep
		}
		s.password = string(m.Data)
		s.ack(c, protocol.NullSession, protocol.TypeInstruction)
		s.logger.Info("server password changed", "component", "server", "by", c.id)
		return keep
	}

	sess := s.sessionByID(m.SessionID)
	if sess == nil {
		s.sendError(c, m.SessionID, protocol.ErrCodeUnknownSession)
		return keep
	}
	if sess.owner != c.id && !c.admin {
		s.sendError(c, sess.id, protocol.ErrCodeUnauthorized)
		return keep
	}
	sess.password = string(m.Data)
	s.ack(c, sess.id, protocol.TypeInstruction)
	return keep
}

func (s *Server) instrAuthenticate(c *Conn) verdict {
	if s.adminPassword == "" {
		s.sendError(c, protocol.NullSession, protocol.ErrCodeUnauthorized)
		return keep
	}
	if c.admin {
		s.ack(c, protocol.NullSession, protocol.TypeInstruction)
		return keep
	}
	c.seed = newSeed()
	c.pendingAuth = true
	s.send(c, &protocol.PasswordChallenge{Seed: c.seed})
	return keep
}
