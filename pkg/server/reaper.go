package server

import (
	"time"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// cullIdlers sweeps the registry for connections that overstayed
// their time budget. Handshaking connections always have one; active
// connections only when idle reaping is configured.
//
// The handshake budget adapts to pressure: with more than ten
// handshakes pending each gets a third of the budget, with more than
// twenty a sixth. A trickle of slow clients is tolerable, a flood is
// not allowed to pin the id space.
func (s *Server) cullIdlers() {
	now := time.Now()
	budget := s.cfg.IdleTimeout()

	pending := 0
	for _, c := range s.users {
		if c.state != StateActive && c.state != StateDead {
			pending++
		}
	}

	handshakeBudget := budget
	switch {
	case pending > 20:
		handshakeBudget = budget / 6
	case pending > 10:
		handshakeBudget = budget / 3
	}

	var doomed []*Conn
	for _, c := range s.users {
		switch {
		case c.state == StateDead:
		case c.state != StateActive:
			if now.Sub(c.connected) > handshakeBudget {
				doomed = append(doomed, c)
			}
		case s.cfg.Timeouts.ReapIdlers:
			if now.Sub(c.lastActive) > budget {
				doomed = append(doomed, c)
			}
		}
	}

	for _, c := range doomed {
		c.logger.Info("reaping idle connection", "state", c.state.String())
		s.metrics.reaped.Inc()
		s.removeConn(c, protocol.EventTimedOut, causeReaped)
	}
}
