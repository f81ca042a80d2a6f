package server

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/probonopd/Drawpile/internal/config"
	"github.com/probonopd/Drawpile/pkg/protocol"
)

// fakeAddr satisfies net.Addr for test transports.
type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeTransport stands in for a client socket. Tests never start the
// connection goroutines; they feed events into the loop handlers
// directly and read serialized output from the writer channel.
type fakeTransport struct {
	addr fakeAddr
}

func (f *fakeTransport) ReadChunk() ([]byte, error) { select {} }
func (f *fakeTransport) Write(p []byte) error       { return nil }
func (f *fakeTransport) Close() error               { return nil }
func (f *fakeTransport) RemoteAddr() net.Addr       { return f.addr }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Limits.Sessions = 5
	cfg.Limits.Subscriptions = 5
	cfg.Limits.Users = 20
	cfg.Limits.NameLength = 16
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	s := New(cfg,
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
	)
	return s
}

// connect registers a connection the way the accept path does, minus
// the reader and writer goroutines.
func connect(t *testing.T, s *Server, addr string) *Conn {
	t.Helper()
	id := s.userIDs.Next()
	if id == 0 {
		t.Fatal("user id pool exhausted")
	}
	ft := &fakeTransport{addr: fakeAddr(addr)}
	c := newConn(id, ft, discardLogger())
	c.local = isLoopback(ft.RemoteAddr())
	s.users[id] = c
	return c
}

// deliver runs one message through the loop exactly as dispatch
// would, then flushes output.
func deliver(s *Server, c *Conn, m protocol.Message) {
	s.dispatch(event{conn: c, msg: m})
	s.flushDirty()
}

// recv drains and decodes everything queued to a connection's
// writer, expanding batch envelopes.
func recv(t *testing.T, c *Conn) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for {
		select {
		case chunk, ok := <-c.out:
			if !ok {
				return msgs
			}
			msgs = append(msgs, decodeRun(t, chunk)...)
		default:
			return msgs
		}
	}
}

func decodeRun(t *testing.T, chunk []byte) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	var st protocol.Stream
	for len(chunk) > 0 {
		m, n, err := st.Next(chunk)
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if m == nil {
			t.Fatalf("truncated output run, %d bytes left", len(chunk))
		}
		if env, isEnv := m.(*protocol.Deflate); isEnv {
			raw, err := env.Expand()
			if err != nil {
				t.Fatalf("expand output envelope: %v", err)
			}
			msgs = append(msgs, decodeRun(t, raw)...)
		} else {
			msgs = append(msgs, m)
		}
		chunk = chunk[n:]
	}
	return msgs
}

// firstOf returns the first message of type M in the slice, or fails.
func firstOf[M protocol.Message](t *testing.T, msgs []protocol.Message) M {
	t.Helper()
	for _, m := range msgs {
		if v, ok := m.(M); ok {
			return v
		}
	}
	var zero M
	t.Fatalf("no %T among %d messages", zero, len(msgs))
	return zero
}

func hasType(msgs []protocol.Message, mt protocol.MessageType) bool {
	for _, m := range msgs {
		if m.Type() == mt {
			return true
		}
	}
	return false
}

// login walks a connection through the whole handshake.
func login(t *testing.T, s *Server, c *Conn, name string) {
	t.Helper()
	deliver(s, c, &protocol.Identifier{
		Ident:      protocol.IdentString,
		Revision:   protocol.Revision,
		Extensions: protocol.ExtChat | protocol.ExtPalette,
	})
	if c.state != StateLogin {
		t.Fatalf("state after identifier = %v, want login", c.state)
	}
	recv(t, c)

	deliver(s, c, &protocol.UserInfo{Event: protocol.EventLogin, Name: name})
	if c.state != StateActive {
		t.Fatalf("state after login = %v, want active", c.state)
	}
	out := recv(t, c)
	ack := firstOf[*protocol.UserInfo](t, out)
	if ack.UserID != c.id || ack.Name != name {
		t.Fatalf("login ack = user %d name %q, want %d %q", ack.UserID, ack.Name, c.id, name)
	}
	if !hasType(out, protocol.TypeHostInfo) {
		t.Fatal("no host info after login")
	}
}

// createSession makes c host a fresh session and returns it.
func createSession(t *testing.T, s *Server, c *Conn, title string, w, h uint16, limit uint8) *Session {
	t.Helper()
	data := []byte{byte(w >> 8), byte(w), byte(h >> 8), byte(h)}
	data = append(data, title...)
	deliver(s, c, &protocol.Instruction{
		Command: protocol.InstrCreate,
		Aux1:    limit,
		Data:    data,
	})
	out := recv(t, c)
	ack := firstOf[*protocol.Ack](t, out)
	if ack.Event != protocol.TypeInstruction {
		t.Fatalf("create ack event = %v", ack.Event)
	}
	sess := s.sessionByID(ack.SessionID)
	if sess == nil {
		t.Fatal("created session not in registry")
	}
	return sess
}

func TestHandshake(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:4000")
	login(t, s, c, "Alice")
	if c.name != "Alice" {
		t.Errorf("name = %q", c.name)
	}
	if c.admin {
		t.Error("remote peer must not be admin")
	}
}

func TestHandshakeServerIdentifierReply(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:4000")
	deliver(s, c, &protocol.Identifier{
		Ident:      protocol.IdentString,
		Revision:   protocol.Revision,
		Extensions: protocol.ExtDeflate | 0x80, // unknown high bit
	})
	out := recv(t, c)
	reply := firstOf[*protocol.Identifier](t, out)
	if reply.Extensions != protocol.ExtDeflate {
		t.Errorf("negotiated extensions = %#x, want deflate only", reply.Extensions)
	}
	if !c.deflate() || c.chat() {
		t.Error("connection extension mask wrong")
	}
}

func TestHandshakeRevisionMismatch(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:4000")
	deliver(s, c, &protocol.Identifier{Ident: protocol.IdentString, Revision: protocol.Revision + 1})
	if c.state != StateDead {
		t.Errorf("state = %v, want dead", c.state)
	}
	if _, still := s.users[c.id]; still {
		t.Error("connection still registered")
	}
}

func TestHandshakeWrongMessageIsViolation(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:4000")
	deliver(s, c, &protocol.Chat{Text: "hi"})
	if c.state != StateDead {
		t.Errorf("state = %v, want dead", c.state)
	}
}

func TestHandshakeServerPassword(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Password = "swordfish"
	s := newTestServer(t, cfg)
	c := connect(t, s, "192.0.2.10:4000")

	deliver(s, c, &protocol.Identifier{Ident: protocol.IdentString, Revision: protocol.Revision})
	if c.state != StateLoginAuth {
		t.Fatalf("state = %v, want login-auth", c.state)
	}
	out := recv(t, c)
	challenge := firstOf[*protocol.PasswordChallenge](t, out)

	deliver(s, c, &protocol.PasswordReply{Digest: respond("swordfish", challenge.Seed)})
	if c.state != StateLogin {
		t.Fatalf("state = %v, want login", c.state)
	}
	out = recv(t, c)
	if ack := firstOf[*protocol.Ack](t, out); ack.Event != protocol.TypePasswordReply {
		t.Fatalf("ack event = %v", ack.Event)
	}
}

func TestHandshakeServerPasswordMismatchDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Password = "swordfish"
	s := newTestServer(t, cfg)
	c := connect(t, s, "192.0.2.10:4000")

	deliver(s, c, &protocol.Identifier{Ident: protocol.IdentString, Revision: protocol.Revision})
	challenge := firstOf[*protocol.PasswordChallenge](t, recv(t, c))

	deliver(s, c, &protocol.PasswordReply{Digest: respond("wrong", challenge.Seed)})
	if c.state != StateDead {
		t.Fatalf("state = %v, want dead after failed password", c.state)
	}
	if _, still := s.users[c.id]; still {
		t.Error("connection still registered")
	}
	if e := firstOf[*protocol.Error](t, recv(t, c)); e.Code != protocol.ErrCodePasswordFailure {
		t.Errorf("error code = %v", e.Code)
	}
}

func TestLoginNameValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.NameLength = 5
	cfg.Session.UniqueNames = true
	s := newTestServer(t, cfg)

	a := connect(t, s, "192.0.2.10:4000")
	login(t, s, a, "Alice")

	b := connect(t, s, "192.0.2.11:4000")
	deliver(s, b, &protocol.Identifier{Ident: protocol.IdentString, Revision: protocol.Revision})
	recv(t, b)

	tests := []struct {
		name     string
		attempt  string
		wantCode protocol.ErrorCode
	}{
		{"empty", "", protocol.ErrCodeTooLong},
		{"too_long", "Bartholomew", protocol.ErrCodeTooLong},
		{"taken", "Alice", protocol.ErrCodeNotUnique},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deliver(s, b, &protocol.UserInfo{Event: protocol.EventLogin, Name: tc.attempt})
			if b.state != StateLogin {
				t.Fatalf("state = %v, want still login", b.state)
			}
			out := recv(t, b)
			if e := firstOf[*protocol.Error](t, out); e.Code != tc.wantCode {
				t.Errorf("error = %v, want %v", e.Code, tc.wantCode)
			}
		})
	}

	deliver(s, b, &protocol.UserInfo{Event: protocol.EventLogin, Name: "Bob"})
	if b.state != StateActive {
		t.Fatalf("state = %v, want active", b.state)
	}
}

func TestLocalhostAdminPromotion(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.LocalhostAdmin = true
	s := newTestServer(t, cfg)
	c := connect(t, s, "127.0.0.1:50000")
	login(t, s, c, "root")
	if !c.admin {
		t.Error("loopback peer was not promoted")
	}
}

func TestTransientShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Transient = true
	s := newTestServer(t, cfg)
	c := connect(t, s, "192.0.2.10:4000")
	login(t, s, c, "Alice")

	s.dispatch(event{conn: c, err: net.ErrClosed})
	s.flushDirty()

	select {
	case <-s.quit:
	default:
		t.Error("transient server did not request shutdown after last user left")
	}
}

func TestUserIDRecycling(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:4000")
	login(t, s, a, "Alice")
	id := a.id

	s.dispatch(event{conn: a, err: net.ErrClosed})
	s.flushDirty()

	if s.userIDs.Available() == 0 {
		t.Fatal("id not returned to pool")
	}
	// The freed id goes to the back of the pool, not the front.
	b := connect(t, s, "192.0.2.11:4000")
	if b.id == id {
		t.Errorf("freed id %d reissued immediately", id)
	}
}
