package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// joinSession admits a user whose subscribe request passed all
// checks. An empty session is joined immediately; otherwise the user
// queues for the next sync barrier so it can receive a canvas
// snapshot consistent with the drawing stream.
func (s *Server) joinSession(c *Conn, sess *Session) {
	// The subscription is accepted here; joiners queued for a barrier
	// get their confirmation before the round completes.
	s.ack(c, sess.id, protocol.TypeSubscribe)

	if len(sess.members) == 0 {
		s.promote(c, sess)
		s.sendBlankCanvas(c, sess)
		return
	}
	sess.waiting = append(sess.waiting, c)
	if !sess.syncing {
		s.raiseBarrier(sess)
	}
}

// sendBlankCanvas stands in for a raster transfer when there is no
// canvas to synchronize: an empty, already-complete chunk.
func (s *Server) sendBlankCanvas(c *Conn, sess *Session) {
	s.send(c, &protocol.Raster{Hdr: protocol.Hdr{SessionID: sess.id}})
}

// raiseBarrier starts a synchronization round: every present member
// must acknowledge a SyncWait before the snapshot source is chosen.
func (s *Server) raiseBarrier(sess *Session) {
	sess.syncing = true
	s.metrics.syncRounds.Inc()

	_, span := s.tracer.Start(context.Background(), "session.sync",
		trace.WithAttributes(
			attribute.Int("session.id", int(sess.id)),
			attribute.Int("session.members", len(sess.members)),
			attribute.Int("session.waiting", len(sess.waiting)),
		))
	sess.syncSpan = span

	for uid, m := range sess.members {
		sess.outstanding[uid] = struct{}{}
		s.send(m.conn, &protocol.SyncWait{Hdr: protocol.Hdr{SessionID: sess.id}})
	}
	s.logger.Debug("sync barrier raised", "component", "sync",
		"session", sess.id, "members", len(sess.members))
}

// barrierAck records one member's SyncWait acknowledgement and
// completes the round when it is the last one.
func (s *Server) barrierAck(sess *Session, uid uint8) {
	if _, ok := sess.outstanding[uid]; !ok {
		return
	}
	delete(sess.outstanding, uid)
	if sess.syncing && len(sess.outstanding) == 0 {
		s.syncPoint(sess)
	}
}

// syncPoint runs when every member has stopped at the barrier. The
// lowest member id becomes the raster source, the queued joiners are
// promoted, and a tunnel is opened from the source to each of them.
func (s *Server) syncPoint(sess *Session) {
	sess.syncing = false
	if sess.syncSpan != nil {
		sess.syncSpan.SetAttributes(attribute.Int("session.promoted", len(sess.waiting)))
		sess.syncSpan.End()
		sess.syncSpan = nil
	}

	// Release the members paused on SyncWait.
	s.propagate(sess, &protocol.Ack{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Event: protocol.TypeSyncWait,
	}, nil)

	joiners := sess.waiting
	sess.waiting = nil
	if len(joiners) == 0 {
		return
	}

	source := sess.lowestMember()
	if source == protocol.NullUser {
		// Everyone left during the round. The joiners start on a
		// blank canvas, no snapshot needed.
		for _, c := range joiners {
			s.promote(c, sess)
			s.sendBlankCanvas(c, sess)
		}
		return
	}

	sess.source = source
	s.send(sess.members[source].conn,
		&protocol.Synchronize{Hdr: protocol.Hdr{SessionID: sess.id}})

	for _, c := range joiners {
		s.promote(c, sess)
		sess.addTunnel(source, c.id)
	}
	s.logger.Debug("sync point", "component", "sync",
		"session", sess.id, "source", source, "joiners", len(joiners))
}

// promote makes a user a full member: announce the join, replay the
// present membership to the joiner, and select the session for them
// if they have none selected.
func (s *Server) promote(c *Conn, sess *Session) {
	join := &protocol.UserInfo{
		Hdr:   protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Event: protocol.EventJoin,
		Name:  c.name,
	}
	s.propagateAll(sess, join, c)

	sess.addMember(c)
	c.subscriptions++

	s.send(c, sess.info())

	// The joiner needs the present members, where they draw and on
	// which layer.
	for uid, other := range sess.members {
		if uid == c.id {
			continue
		}
		s.send(c, &protocol.UserInfo{
			Hdr:   protocol.Hdr{UserID: uid, SessionID: sess.id},
			Event: protocol.EventJoin,
			Mode:  other.mode(),
			Name:  other.conn.name,
		})
		if other.conn.session == sess {
			s.send(c, &protocol.SessionSelect{
				Hdr: protocol.Hdr{UserID: uid, SessionID: sess.id},
			})
		}
		if other.layer != protocol.NullLayer {
			s.send(c, &protocol.LayerSelect{
				Hdr:   protocol.Hdr{UserID: uid, SessionID: sess.id},
				Layer: other.layer,
			})
		}
	}

	if c.session == nil {
		c.session = sess
		s.propagate(sess, &protocol.SessionSelect{
			Hdr: protocol.Hdr{UserID: c.id, SessionID: sess.id},
		}, c)
	}

	c.logger.Info("joined session", "session", sess.id)
}

// tunnelRaster relays a snapshot chunk from its source to every
// receiver still tunneled to it. The last chunk tears the tunnel
// down.
func (s *Server) tunnelRaster(c *Conn, sess *Session, raster *protocol.Raster) verdict {
	targets := sess.tunnelTargets(c.id)
	if len(targets) == 0 {
		s.sendError(c, sess.id, protocol.ErrCodeInvalidRequest)
		return keep
	}

	out := &protocol.Raster{
		Hdr:    protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Offset: raster.Offset,
		Size:   raster.Size,
		Data:   raster.Data,
	}
	for _, uid := range targets {
		if m, ok := sess.members[uid]; ok {
			s.send(m.conn, out)
		}
	}

	if raster.Last() {
		delete(sess.tunnels, c.id)
		if sess.source == c.id {
			sess.source = protocol.NullUser
		}
	}
	return keep
}

// leaveSession removes a user from a session, whether member or
// queued joiner, with all barrier and tunnel bookkeeping. The
// session is destroyed when its last member leaves with nobody
// queued.
func (s *Server) leaveSession(c *Conn, sess *Session, userEvent uint8) {
	if sess.isWaiting(c) {
		sess.dropWaiting(c)
		return
	}
	if !sess.isMember(c.id) {
		return
	}

	// The leaver cannot acknowledge the barrier anymore.
	wasOutstanding := false
	if _, ok := sess.outstanding[c.id]; ok {
		wasOutstanding = true
	}

	// A vanished snapshot source strands its receivers with a
	// partial canvas. They are dropped from the session with a sync
	// failure so they can resubscribe cleanly.
	if targets := sess.tunnelTargets(c.id); len(targets) > 0 {
		delete(sess.tunnels, c.id)
		if sess.source == c.id {
			sess.source = protocol.NullUser
		}
		for _, uid := range targets {
			if m, ok := sess.members[uid]; ok {
				s.sendError(m.conn, sess.id, protocol.ErrCodeSyncFailure)
				s.leaveSession(m.conn, sess, protocol.EventDropped)
			}
		}
	}

	// A vanished receiver may leave its source streaming into the
	// void; tell it to stop.
	for src := range sess.tunnels {
		targets := sess.tunnelTargets(src)
		for _, uid := range targets {
			if uid == c.id {
				if !sess.dropTunnelTarget(src, c.id) {
					if m, ok := sess.members[src]; ok {
						s.send(m.conn, &protocol.Cancel{Hdr: protocol.Hdr{SessionID: sess.id}})
					}
					if sess.source == src {
						sess.source = protocol.NullUser
					}
				}
				break
			}
		}
	}

	sess.removeMember(c.id)
	c.subscriptions--
	if c.session == sess {
		c.session = nil
	}

	s.propagateAll(sess, &protocol.UserInfo{
		Hdr:   protocol.Hdr{UserID: c.id, SessionID: sess.id},
		Event: userEvent,
		Name:  c.name,
	}, c)

	// The session survives its owner, but nobody inherits the seat.
	// A recycled user id must never carry moderation powers over.
	if sess.owner == c.id && userEvent != protocol.EventNone {
		sess.owner = protocol.NullUser
		s.propagateAll(sess, &protocol.SessionEvent{
			Hdr:    protocol.Hdr{SessionID: sess.id},
			Action: protocol.SessionDelegate,
			Target: protocol.NullUser,
		}, nil)
	}

	if wasOutstanding && sess.syncing && len(sess.outstanding) == 0 {
		s.syncPoint(sess)
	}

	if len(sess.members) == 0 {
		if len(sess.waiting) > 0 {
			// The canvas is gone with the last member; the queued
			// joiners start it fresh.
			sess.syncing = false
			joiners := sess.waiting
			sess.waiting = nil
			for _, w := range joiners {
				s.promote(w, sess)
				s.sendBlankCanvas(w, sess)
			}
		} else {
			s.destroySession(sess, false)
		}
	}
}
