package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/probonopd/Drawpile/internal/iobuf"
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// State is the position of a connection in its lifecycle.
type State int

const (
	// StateInit means the connection has not identified itself yet.
	StateInit State = iota

	// StateLoginAuth means the server password challenge is out and
	// the reply is awaited.
	StateLoginAuth

	// StateLogin means the connection is identified (and
	// authenticated, if required) but has not logged in with a name.
	StateLogin

	// StateActive means the handshake is complete and the full
	// message surface is open.
	StateActive

	// StateDead means the connection is being torn down. No further
	// events for it are processed.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoginAuth:
		return "login-auth"
	case StateLogin:
		return "login"
	case StateActive:
		return "active"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Transport carries the framed protocol over some byte transport.
// ReadChunk blocks until bytes arrive; the returned slice is only
// valid until the next call.
type Transport interface {
	ReadChunk() ([]byte, error)
	Write(p []byte) error
	Close() error
	RemoteAddr() net.Addr
}

const (
	// readBufSize is the initial per-connection input buffer size.
	readBufSize = 4096

	// readBufCap is the hard input buffer cap. A peer that gets a
	// single frame queued past this is dropped.
	readBufCap = 1 << 20

	// outQueueLen is the writer channel depth. A peer that falls
	// this many serialized chunks behind is dropped.
	outQueueLen = 64
)

// tcpTransport adapts a net.Conn.
type tcpTransport struct {
	conn net.Conn
	buf  [readBufSize]byte
}

// NewTCPTransport wraps a TCP connection for the relay protocol.
func NewTCPTransport(conn net.Conn) Transport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) ReadChunk() ([]byte, error) {
	n, err := t.conn.Read(t.buf[:])
	if err != nil {
		return nil, err
	}
	return t.buf[:n], nil
}

func (t *tcpTransport) Write(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *tcpTransport) Close() error         { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Conn is one client connection. All fields except the transport and
// the out channel are owned by the control loop; nothing else may
// touch them.
type Conn struct {
	// id is the connection's user id, assigned from the id pool at
	// accept time. Valid for the connection's whole life.
	id uint8

	// cid correlates log lines across goroutines.
	cid uuid.UUID

	transport Transport
	logger    *slog.Logger

	state State
	name  string

	// extensions is the feature set negotiated in the Identifier
	// exchange, masked to what the server supports.
	extensions uint8
	level      uint8
	admin      bool
	local      bool

	// acks is set from the Identifier capability flags: the peer
	// wants every relayed message acknowledged back to it.
	acks bool

	// seed salts the next password digest from this connection.
	seed [protocol.SeedLen]byte

	// session is the currently selected session, nil if none.
	session *Session

	// pendingJoin is the session whose password challenge is out,
	// NullSession when none. pendingAuth marks an outstanding admin
	// authentication challenge.
	pendingJoin uint8
	pendingAuth bool

	// subscriptions counts current session memberships.
	subscriptions int

	lastActive time.Time
	connected  time.Time

	// queue holds loop-enqueued messages awaiting serialization.
	// dirty marks membership in the loop's flush list.
	queue []protocol.Message
	dirty bool

	// out feeds the writer goroutine. Closed exactly once, by the
	// loop, through closeOutput.
	out       chan []byte
	outClosed bool
}

func newConn(id uint8, t Transport, logger *slog.Logger) *Conn {
	cid := uuid.New()
	return &Conn{
		id:        id,
		cid:       cid,
		transport: t,
		logger: logger.With(
			"cid", cid.String(),
			"user", id,
			"addr", t.RemoteAddr().String(),
		),
		state:      StateInit,
		out:        make(chan []byte, outQueueLen),
		lastActive: time.Now(),
		connected:  time.Now(),
	}
}

// chat/palette/deflate report whether the peer negotiated the
// extension.
func (c *Conn) chat() bool    { return c.extensions&protocol.ExtChat != 0 }
func (c *Conn) palette() bool { return c.extensions&protocol.ExtPalette != 0 }
func (c *Conn) deflate() bool { return c.extensions&protocol.ExtDeflate != 0 }

// push hands a serialized chunk to the writer. Returns false when
// the writer queue is full, which the loop treats as a dead peer.
func (c *Conn) push(chunk []byte) bool {
	if c.outClosed {
		return false
	}
	select {
	case c.out <- chunk:
		return true
	default:
		return false
	}
}

// closeOutput stops the writer after it drains what is queued. Loop
// only.
func (c *Conn) closeOutput() {
	if !c.outClosed {
		c.outClosed = true
		close(c.out)
	}
}

// event is what reader goroutines feed the control loop. Either msg
// is set, or err reports why the reader stopped.
type event struct {
	conn *Conn
	msg  protocol.Message
	err  error
}

// readLoop reassembles messages from the transport and forwards them
// to the control loop. It exits on the first transport or protocol
// error, reporting it as the connection's terminal event.
func (c *Conn) readLoop(events chan<- event) {
	buf := iobuf.New(readBufSize, readBufCap)
	var stream protocol.Stream

	fail := func(err error) {
		events <- event{conn: c, err: err}
	}

	for {
		chunk, err := c.transport.ReadChunk()
		if err != nil {
			fail(err)
			return
		}
		if err := buf.Append(chunk); err != nil {
			fail(err)
			return
		}
		for {
			m, n, err := stream.Next(buf.Readable())
			if err != nil {
				fail(err)
				return
			}
			if m == nil {
				break
			}
			buf.CommitRead(n)

			if env, ok := m.(*protocol.Deflate); ok {
				if err := c.expand(env, events); err != nil {
					fail(err)
					return
				}
				continue
			}
			events <- event{conn: c, msg: m}
		}
	}
}

// expand inflates a batch envelope and forwards the contained
// messages in order. The envelope must hold complete frames and may
// not nest.
func (c *Conn) expand(env *protocol.Deflate, events chan<- event) error {
	raw, err := env.Expand()
	if err != nil {
		return err
	}
	var inner protocol.Stream
	for len(raw) > 0 {
		m, n, err := inner.Next(raw)
		if err != nil {
			return err
		}
		if m == nil {
			return protocol.ErrDeflateCorrupt
		}
		if _, nested := m.(*protocol.Deflate); nested {
			return protocol.ErrDeflateCorrupt
		}
		events <- event{conn: c, msg: m}
		raw = raw[n:]
	}
	return nil
}

// writeLoop drains serialized output to the transport, then closes
// it. It owns the transport's write side.
func (c *Conn) writeLoop() {
	for chunk := range c.out {
		if err := c.transport.Write(chunk); err != nil {
			c.logger.Debug("write failed", "error", err)
			break
		}
	}
	// Keep draining so the loop never blocks on a dead writer.
	for range c.out {
	}
	c.transport.Close()
}

// isLoopback reports whether the peer connects from localhost.
func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
