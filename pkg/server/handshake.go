package server

import (
	"time"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// handleHandshake advances a connection that has not reached the
// active state. Exactly one message type is legal per state; anything
// else is a violation and drops the peer.
func (s *Server) handleHandshake(c *Conn, msg protocol.Message) verdict {
	switch c.state {
	case StateInit:
		ident, ok := msg.(*protocol.Identifier)
		if !ok {
			return disconnect(0)
		}
		return s.handleIdentifier(c, ident)
	case StateLoginAuth:
		reply, ok := msg.(*protocol.PasswordReply)
		if !ok {
			return disconnect(0)
		}
		return s.handleServerPassword(c, reply)
	case StateLogin:
		info, ok := msg.(*protocol.UserInfo)
		if !ok || info.Event != protocol.EventLogin {
			return disconnect(0)
		}
		return s.handleLogin(c, info)
	default:
		return disconnect(0)
	}
}

func (s *Server) handleIdentifier(c *Conn, ident *protocol.Identifier) verdict {
	if ident.Ident != protocol.IdentString {
		c.logger.Debug("bad identifier", "ident", ident.Ident)
		return disconnect(0)
	}
	if ident.Revision != protocol.Revision {
		// Not hostile, just incompatible. Drop without ceremony.
		c.logger.Info("protocol revision mismatch", "got", ident.Revision, "want", protocol.Revision)
		return verdict{drop: true, event: protocol.EventDropped, cause: causeClient}
	}

	c.level = ident.Level
	c.acks = ident.Flags&protocol.FlagAckRequest != 0
	c.extensions = ident.Extensions & (protocol.ExtChat | protocol.ExtPalette | protocol.ExtDeflate)

	// Answer with our own identifier so the client learns the
	// agreed extension set.
	s.send(c, &protocol.Identifier{
		Ident:      protocol.IdentString,
		Revision:   protocol.Revision,
		Level:      ident.Level,
		Extensions: c.extensions,
	})

	if s.password != "" {
		c.seed = newSeed()
		s.send(c, &protocol.PasswordChallenge{Seed: c.seed})
		c.state = StateLoginAuth
	} else {
		c.state = StateLogin
	}
	return keep
}

func (s *Server) handleServerPassword(c *Conn, reply *protocol.PasswordReply) verdict {
	ok := s.verify(s.password, c.seed, reply.Digest)
	// A seed is burned by the attempt, pass or fail.
	c.seed = newSeed()
	if !ok {
		// One attempt at the server password; a failure drops the
		// connection.
		c.logger.Info("server password rejected")
		return verdict{
			drop:   true,
			reason: protocol.ErrCodePasswordFailure,
			event:  protocol.EventDropped,
			cause:  causeClient,
		}
	}
	s.send(c, &protocol.Ack{Event: protocol.TypePasswordReply})
	c.state = StateLogin
	return keep
}

func (s *Server) handleLogin(c *Conn, info *protocol.UserInfo) verdict {
	if !s.validName(info.Name) {
		s.send(c, &protocol.Error{Code: protocol.ErrCodeTooLong})
		return keep
	}
	if s.cfg.Session.UniqueNames && s.userNameTaken(info.Name) {
		s.send(c, &protocol.Error{Code: protocol.ErrCodeNotUnique})
		return keep
	}

	c.name = info.Name
	if s.cfg.Admin.LocalhostAdmin && c.local {
		c.admin = true
	}

	c.state = StateActive
	s.metrics.handshakeSeconds.Observe(time.Since(c.connected).Seconds())

	// The login ack is the request echoed back with the assigned id.
	ack := &protocol.UserInfo{
		Hdr:   protocol.Hdr{UserID: c.id},
		Event: protocol.EventLogin,
		Name:  c.name,
	}
	s.send(c, ack)
	s.send(c, s.hostInfo())

	c.logger.Info("logged in", "name", c.name, "admin", c.admin)
	return keep
}

// validName checks a user name or session title against the length
// policy. Names are opaque bytes to the server apart from being
// non-empty and bounded.
func (s *Server) validName(name string) bool {
	return len(name) > 0 && len(name) <= s.cfg.Limits.NameLength
}
