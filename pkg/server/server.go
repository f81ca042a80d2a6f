package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/probonopd/Drawpile/internal/config"
	"github.com/probonopd/Drawpile/internal/idpool"
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// tracerName identifies this package's spans.
const tracerName = "drawpile-srv"

// reapInterval is how often the control loop sweeps for idle
// connections.
const reapInterval = 5 * time.Second

// Server is the relay server. One control loop goroutine owns the
// registry, the sessions and every connection's loop-side state;
// reader and writer goroutines only touch their own transport ends.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer
	verify  Verifier

	events  chan event
	accepts chan Transport
	queries chan query

	users    map[uint8]*Conn
	sessions map[uint8]*Session

	userIDs    *idpool.Pool
	sessionIDs *idpool.Pool

	// dirty lists connections with queued output awaiting flush.
	dirty []*Conn

	// adminPassword mirrors the config but can be rewritten at
	// runtime through the Password instruction.
	adminPassword string
	password      string

	started time.Time

	// quit is closed by the loop on an internally requested
	// shutdown (transient mode, admin instruction).
	quit     chan struct{}
	quitOnce bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVerifier replaces the password check algorithm.
func WithVerifier(v Verifier) Option {
	return func(s *Server) { s.verify = v }
}

// WithRegistry sets the prometheus registry the server's instruments
// register with. Defaults to the global registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Server) { s.metrics = newMetrics(reg) }
}

// New builds a Server from a validated configuration.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        slog.Default(),
		verify:        SHA256Verifier,
		events:        make(chan event, 256),
		accepts:       make(chan Transport, 16),
		queries:       make(chan query),
		users:         make(map[uint8]*Conn),
		sessions:      make(map[uint8]*Session),
		userIDs:       idpool.New(),
		sessionIDs:    idpool.New(),
		password:      cfg.Session.Password,
		adminPassword: cfg.Admin.Password,
		quit:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}
	s.tracer = otel.Tracer(tracerName)
	return s
}

// Run listens and serves until the context is canceled or a shutdown
// is requested from inside (transient mode, admin instruction).
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	defer ln.Close()
	s.logger.Info("listening", "component", "server", "addr", ln.Addr().String())

	var httpSrv *http.Server
	if s.cfg.Listen.HTTP != "" {
		httpSrv = &http.Server{
			Addr:    s.cfg.Listen.HTTP,
			Handler: s.Routes(),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http listener failed", "component", "http", "error", err)
			}
		}()
		s.logger.Info("http listening", "component", "http", "addr", s.cfg.Listen.HTTP)
	}

	go s.acceptLoop(ln)

	s.run(ctx)

	if httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutCtx)
	}
	return nil
}

// Serve registers an already-established transport, for tests and
// embedded use. Safe from any goroutine.
func (s *Server) Serve(t Transport) {
	s.accepts <- t
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.accepts <- NewTCPTransport(conn)
	}
}

// run is the control loop. Everything that reads or writes registry
// or session state happens on this goroutine.
func (s *Server) run(ctx context.Context) {
	s.started = time.Now()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return
		case <-s.quit:
			s.shutdownAll()
			return
		case t := <-s.accepts:
			s.addConn(t)
		case ev := <-s.events:
			s.dispatch(ev)
		case q := <-s.queries:
			q.reply <- s.snapshot()
		case <-ticker.C:
			s.cullIdlers()
		}
		s.flushDirty()
	}
}

// requestShutdown asks the loop to stop after the current event.
func (s *Server) requestShutdown(reason string) {
	if s.quitOnce {
		return
	}
	s.quitOnce = true
	s.logger.Info("shutting down", "component", "server", "reason", reason)
	close(s.quit)
}

func (s *Server) shutdownAll() {
	for _, c := range s.users {
		if c.state != StateDead {
			s.flush(c)
		}
		c.state = StateDead
		c.closeOutput()
		s.metrics.disconnects.WithLabelValues(causeShutdown).Inc()
	}
	s.users = make(map[uint8]*Conn)
	s.sessions = make(map[uint8]*Session)
	s.metrics.connections.Set(0)
	s.metrics.sessions.Set(0)
}

// addConn admits a new transport into the registry and starts its
// reader and writer goroutines.
func (s *Server) addConn(t Transport) {
	if len(s.users) >= s.cfg.Limits.Users {
		s.refuse(t, "server full")
		return
	}
	if !s.cfg.Session.DuplicateConnections && s.haveAddress(t.RemoteAddr()) {
		s.refuse(t, "duplicate connection")
		return
	}
	id := s.userIDs.Next()
	if id == idpool.None {
		s.refuse(t, "id space exhausted")
		return
	}

	c := newConn(id, t, s.logger.With("component", "conn"))
	c.local = isLoopback(t.RemoteAddr())
	s.users[id] = c

	s.metrics.connections.Inc()
	c.logger.Info("connected")

	go c.writeLoop()
	go c.readLoop(s.events)
}

func (s *Server) refuse(t Transport, why string) {
	s.logger.Info("connection refused", "component", "server",
		"addr", t.RemoteAddr().String(), "reason", why)
	t.Close()
}

func (s *Server) haveAddress(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	for _, c := range s.users {
		other, _, err := net.SplitHostPort(c.transport.RemoteAddr().String())
		if err == nil && other == host {
			return true
		}
	}
	return false
}

// dispatch routes one reader event through the state machine.
func (s *Server) dispatch(ev event) {
	c := ev.conn
	if c.state == StateDead {
		return
	}
	if ev.err != nil {
		cause := causeClient
		switch {
		case errors.Is(ev.err, protocol.ErrCorruptBuffer),
			errors.Is(ev.err, protocol.ErrUnknownType),
			errors.Is(ev.err, protocol.ErrDeflateCorrupt):
			cause = causeViolation
			c.logger.Warn("protocol violation", "error", ev.err)
		case !errors.Is(ev.err, io.EOF):
			// Anything but a clean close counts as a transport error.
			cause = causeError
		}
		s.removeConn(c, protocol.EventBrokenPipe, cause)
		return
	}

	c.lastActive = time.Now()
	s.metrics.messagesIn.WithLabelValues(ev.msg.Type().String()).Inc()

	var v verdict
	if c.state == StateActive {
		v = s.handleActive(c, ev.msg)
	} else {
		v = s.handleHandshake(c, ev.msg)
	}
	if v.drop {
		if v.reason != 0 {
			s.send(c, &protocol.Error{Code: v.reason})
		}
		s.removeConn(c, v.event, v.cause)
	}
}

// verdict is a handler's decision about the sending connection.
type verdict struct {
	drop   bool
	reason protocol.ErrorCode // sent to the peer before the drop, 0 for none
	event  uint8              // user event announced to sessions
	cause  string             // disconnects_total label
}

// keep lets the connection continue.
var keep = verdict{}

func disconnect(reason protocol.ErrorCode) verdict {
	return verdict{drop: true, reason: reason, event: protocol.EventViolation, cause: causeViolation}
}

// removeConn tears a connection down: session cascade, id release,
// writer shutdown.
func (s *Server) removeConn(c *Conn, userEvent uint8, cause string) {
	if c.state == StateDead {
		return
	}
	wasActive := c.state == StateActive
	c.state = StateDead

	for _, sess := range s.sessions {
		if sess.isMember(c.id) || sess.isWaiting(c) {
			s.leaveSession(c, sess, userEvent)
		}
	}

	delete(s.users, c.id)
	s.userIDs.Release(c.id)
	// Last words (error codes, kick notices) are already queued;
	// give them to the writer before it shuts down.
	s.flush(c)
	c.closeOutput()

	s.metrics.connections.Dec()
	s.metrics.disconnects.WithLabelValues(cause).Inc()
	c.logger.Info("disconnected", "cause", cause)

	if s.cfg.Session.Transient && wasActive && !s.anyActive() {
		s.requestShutdown("transient: last user left")
	}
}

func (s *Server) anyActive() bool {
	for _, c := range s.users {
		if c.state == StateActive {
			return true
		}
	}
	return false
}

// sessionByID resolves a session id, nil when unknown.
func (s *Server) sessionByID(id uint8) *Session {
	return s.sessions[id]
}

// userName reports whether a display name is already taken.
func (s *Server) userNameTaken(name string) bool {
	for _, c := range s.users {
		if c.state == StateActive && c.name == name {
			return true
		}
	}
	return false
}

func (s *Server) sessionTitleTaken(title string) bool {
	for _, sess := range s.sessions {
		if sess.title == title {
			return true
		}
	}
	return false
}

// destroySession removes a session, notifying and unsubscribing any
// remaining members.
func (s *Server) destroySession(sess *Session, notify bool) {
	for uid := range sess.members {
		m := sess.members[uid]
		if notify {
			s.send(m.conn, &protocol.Error{
				Hdr:  protocol.Hdr{SessionID: sess.id},
				Code: protocol.ErrCodeSessionLost,
			})
		}
		m.conn.subscriptions--
		if m.conn.session == sess {
			m.conn.session = nil
		}
	}
	for _, w := range sess.waiting {
		s.send(w, &protocol.Error{
			Hdr:  protocol.Hdr{SessionID: sess.id},
			Code: protocol.ErrCodeSessionLost,
		})
	}
	delete(s.sessions, sess.id)
	s.sessionIDs.Release(sess.id)
	s.metrics.sessions.Dec()
	s.logger.Info("session destroyed", "component", "session", "session", sess.id, "title", sess.title)
}

// hostInfo summarizes the server for a freshly logged-in user.
func (s *Server) hostInfo() *protocol.HostInfo {
	var req uint8
	if s.cfg.Session.UniqueNames {
		req |= protocol.RequireUniqueNames
	}
	return &protocol.HostInfo{
		Sessions:         uint8(len(s.sessions)),
		SessionLimit:     uint8(s.cfg.Limits.Sessions),
		Users:            uint8(len(s.users)),
		UserLimit:        uint8(s.cfg.Limits.Users),
		NameLenLimit:     uint8(s.cfg.Limits.NameLength),
		MaxSubscriptions: uint8(s.cfg.Limits.Subscriptions),
		Requirements:     req,
		Extensions:       protocol.ExtChat | protocol.ExtPalette | protocol.ExtDeflate,
	}
}
