package server

import (
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// wants reports whether a connection negotiated the extension a
// message needs. Non-extension traffic goes to everyone.
func wants(c *Conn, msg protocol.Message) bool {
	switch msg.Type() {
	case protocol.TypeChat:
		return c.chat()
	case protocol.TypePalette:
		return c.palette()
	default:
		return true
	}
}

// propagate fans a message out to every member of a session except
// the source (nil excludes nobody). A source that negotiated
// delivery acknowledgements is acked for the message type before the
// fan-out. Queued joiners do not receive the message.
func (s *Server) propagate(sess *Session, msg protocol.Message, source *Conn) {
	if source != nil && source.acks {
		s.ack(source, sess.id, msg.Type())
	}
	for uid, m := range sess.members {
		if source != nil && uid == source.id {
			continue
		}
		if !wants(m.conn, msg) {
			continue
		}
		s.send(m.conn, msg)
	}
}

// propagateAll is propagate including the joiners queued for the
// next barrier, for events they must not miss while waiting.
func (s *Server) propagateAll(sess *Session, msg protocol.Message, source *Conn) {
	s.propagate(sess, msg, source)
	for _, w := range sess.waiting {
		if source != nil && w.id == source.id {
			continue
		}
		if !wants(w, msg) {
			continue
		}
		s.send(w, msg)
	}
}

// ack acknowledges a client request by echoing the message type it
// acted on.
func (s *Server) ack(c *Conn, sessionID uint8, event protocol.MessageType) {
	s.send(c, &protocol.Ack{
		Hdr:   protocol.Hdr{SessionID: sessionID},
		Event: event,
	})
}

// sendError reports a recoverable error scoped to a session.
func (s *Server) sendError(c *Conn, sessionID uint8, code protocol.ErrorCode) {
	s.send(c, &protocol.Error{
		Hdr:  protocol.Hdr{SessionID: sessionID},
		Code: code,
	})
}
