package server

import (
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// compressThreshold is the minimum serialized run size before the
// output path tries a Deflate envelope. Small runs cost more to
// wrap than to send raw.
const compressThreshold = 300

// send queues a message for a connection. Output is not written
// immediately: everything queued while handling one loop event is
// serialized as a single run when the loop flushes, so bursts go out
// in one write and can share one compression envelope.
func (s *Server) send(c *Conn, m protocol.Message) {
	if c.state == StateDead || c.outClosed {
		return
	}
	c.queue = append(c.queue, m)
	s.metrics.messagesOut.Inc()
	if !c.dirty {
		c.dirty = true
		s.dirty = append(s.dirty, c)
	}
}

// flushDirty drains every connection that queued output during the
// current loop event. Connections whose writer cannot keep up are
// dropped here; the drop itself may queue leave events to other
// connections, which this pass picks up too.
func (s *Server) flushDirty() {
	for i := 0; i < len(s.dirty); i++ {
		c := s.dirty[i]
		c.dirty = false
		if c.state == StateDead {
			c.queue = c.queue[:0]
			continue
		}
		if !s.flush(c) {
			c.logger.Warn("output overflow")
			s.removeConn(c, protocol.EventDropped, causeOverflow)
		}
	}
	s.dirty = s.dirty[:0]
}

// flush serializes a connection's queued run and hands it to the
// writer. Reports false when the writer queue is full.
func (s *Server) flush(c *Conn) bool {
	if len(c.queue) == 0 {
		return true
	}

	e := protocol.NewEncoder()
	raster := false
	for _, m := range c.queue {
		if m.Type() == protocol.TypeRaster {
			raster = true
		}
		protocol.MarshalTo(e, m)
	}
	c.queue = c.queue[:0]

	chunk := append([]byte(nil), e.Bytes()...)

	// Raster data is already compressed by the sender and would
	// only waste cycles in the envelope.
	if c.deflate() && !raster && len(chunk) > compressThreshold {
		if env, err := protocol.Compress(chunk); err == nil && env != nil {
			chunk = protocol.Marshal(env)
			s.metrics.deflateOut.Inc()
		}
	}

	s.metrics.bytesOut.Add(float64(len(chunk)))
	return c.push(chunk)
}
