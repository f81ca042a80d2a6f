package server

import (
	"bytes"
	"net"
	"testing"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// joinDirect subscribes a user to an empty session and checks the
// immediate promotion.
func joinDirect(t *testing.T, s *Server, c *Conn, sess *Session) {
	t.Helper()
	deliver(s, c, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	if !sess.isMember(c.id) {
		t.Fatal("user not promoted into empty session")
	}
	out := recv(t, c)
	if ack := firstOf[*protocol.Ack](t, out); ack.Event != protocol.TypeSubscribe {
		t.Fatalf("subscribe ack event = %v", ack.Event)
	}
	if !hasType(out, protocol.TypeSessionInfo) {
		t.Fatal("no session info after join")
	}
}

func TestJoinEmptySessionIsImmediate(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)
	if a.session != sess {
		t.Error("first session was not auto-selected")
	}
}

func TestJoinBarrier(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	b := connect(t, s, "192.0.2.11:1")
	login(t, s, b, "Bob")

	deliver(s, b, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	if sess.isMember(b.id) {
		t.Fatal("joiner promoted before the barrier completed")
	}
	if !sess.isWaiting(b) {
		t.Fatal("joiner not queued")
	}
	aOut := recv(t, a)
	if !hasType(aOut, protocol.TypeSyncWait) {
		t.Fatal("member did not receive the barrier")
	}

	// Alice acknowledges; the round completes with her as source.
	deliver(s, a, &protocol.Ack{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Event: protocol.TypeSyncWait,
	})
	if !sess.isMember(b.id) {
		t.Fatal("joiner not promoted at sync point")
	}
	aOut = recv(t, a)
	if !hasType(aOut, protocol.TypeSynchronize) {
		t.Fatal("raster source did not receive the snapshot order")
	}
	join := firstOf[*protocol.UserInfo](t, aOut)
	if join.Event != protocol.EventJoin || join.UserID != b.id {
		t.Fatalf("join event = %+v", join)
	}

	bOut := recv(t, b)
	if ack := firstOf[*protocol.Ack](t, bOut); ack.Event != protocol.TypeSubscribe {
		t.Fatalf("subscribe ack = %v", ack.Event)
	}
	present := firstOf[*protocol.UserInfo](t, bOut)
	if present.UserID != a.id || present.Event != protocol.EventJoin {
		t.Fatalf("membership replay = %+v", present)
	}
	if sel := firstOf[*protocol.SessionSelect](t, bOut); sel.UserID != a.id {
		t.Fatalf("session select replay from user %d, want %d", sel.UserID, a.id)
	}

	if got := sess.tunnelTargets(a.id); len(got) != 1 || got[0] != b.id {
		t.Fatalf("tunnel targets = %v", got)
	}
}

func TestBarrierReleasesMembers(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	b := connect(t, s, "192.0.2.11:1")
	login(t, s, b, "Bob")
	deliver(s, b, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	recv(t, a)

	deliver(s, a, &protocol.Ack{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Event: protocol.TypeSyncWait,
	})
	released := false
	for _, m := range recv(t, a) {
		if ack, ok := m.(*protocol.Ack); ok && ack.Event == protocol.TypeSyncWait {
			released = true
		}
	}
	if !released {
		t.Fatal("member not released from the barrier after the round completed")
	}
}

func TestSubscribeAckedWhileQueued(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	b := connect(t, s, "192.0.2.11:1")
	login(t, s, b, "Bob")
	deliver(s, b, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	if sess.isMember(b.id) {
		t.Fatal("joiner promoted before the barrier completed")
	}
	// Acceptance is confirmed right away, not at promotion.
	if ack := firstOf[*protocol.Ack](t, recv(t, b)); ack.Event != protocol.TypeSubscribe {
		t.Fatalf("subscribe ack event = %v", ack.Event)
	}
}

func TestEmptyJoinSendsBlankCanvas(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)

	deliver(s, a, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	r := firstOf[*protocol.Raster](t, recv(t, a))
	if r.SessionID != sess.id {
		t.Errorf("raster scoped to session %d, want %d", r.SessionID, sess.id)
	}
	if r.Size != 0 || len(r.Data) != 0 || !r.Last() {
		t.Errorf("placeholder raster = %+v, want empty completed transfer", r)
	}
}

// barrierPair builds the common fixture: Alice hosting with Bob
// tunneled in and the snapshot still pending from Alice.
func barrierPair(t *testing.T, s *Server) (a, b *Conn, sess *Session) {
	t.Helper()
	a = connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess = createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	b = connect(t, s, "192.0.2.11:1")
	login(t, s, b, "Bob")
	deliver(s, b, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	deliver(s, a, &protocol.Ack{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Event: protocol.TypeSyncWait,
	})
	recv(t, a)
	recv(t, b)
	return a, b, sess
}

func TestRasterTunnel(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	first := &protocol.Raster{
		Hdr:    protocol.Hdr{SessionID: sess.id},
		Offset: 0, Size: 8, Data: []byte{1, 2, 3, 4},
	}
	deliver(s, a, first)
	got := firstOf[*protocol.Raster](t, recv(t, b))
	if got.UserID != a.id || !bytes.Equal(got.Data, first.Data) {
		t.Fatalf("relayed raster = %+v", got)
	}
	if len(sess.tunnelTargets(a.id)) != 1 {
		t.Fatal("tunnel closed before the last chunk")
	}

	last := &protocol.Raster{
		Hdr:    protocol.Hdr{SessionID: sess.id},
		Offset: 4, Size: 8, Data: []byte{5, 6, 7, 8},
	}
	deliver(s, a, last)
	if !firstOf[*protocol.Raster](t, recv(t, b)).Last() {
		t.Fatal("receiver did not see the final chunk")
	}
	if len(sess.tunnelTargets(a.id)) != 0 {
		t.Fatal("tunnel not torn down after the last chunk")
	}
	if sess.source != protocol.NullUser {
		t.Fatal("source still marked after transfer")
	}
}

func TestRasterWithoutTunnelIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	deliver(s, a, &protocol.Raster{
		Hdr:  protocol.Hdr{SessionID: sess.id},
		Size: 4, Data: []byte{1, 2, 3, 4},
	})
	if e := firstOf[*protocol.Error](t, recv(t, a)); e.Code != protocol.ErrCodeInvalidRequest {
		t.Errorf("error = %v", e.Code)
	}
}

func TestSourceLeavingBreaksSync(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	// Alice disappears before sending any raster data.
	s.dispatch(event{conn: a, err: net.ErrClosed})
	s.flushDirty()

	bOut := recv(t, b)
	found := false
	for _, m := range bOut {
		if e, ok := m.(*protocol.Error); ok && e.Code == protocol.ErrCodeSyncFailure {
			found = true
		}
	}
	if !found {
		t.Fatal("stranded receiver got no sync failure")
	}
	if sess.isMember(b.id) {
		t.Fatal("stranded receiver kept its membership")
	}
}

func TestReceiverLeavingCancelsSource(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	s.dispatch(event{conn: b, err: net.ErrClosed})
	s.flushDirty()

	if !hasType(recv(t, a), protocol.TypeCancel) {
		t.Fatal("source was not told to stop the transfer")
	}
	if len(sess.tunnelTargets(a.id)) != 0 {
		t.Fatal("tunnel survived its only receiver")
	}
}

func TestSourceCancelStrandsReceivers(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	deliver(s, a, &protocol.Cancel{Hdr: protocol.Hdr{SessionID: sess.id}})
	bOut := recv(t, b)
	if e := firstOf[*protocol.Error](t, bOut); e.Code != protocol.ErrCodeSyncFailure {
		t.Fatalf("error = %v", e.Code)
	}
	if sess.isMember(b.id) {
		t.Fatal("receiver kept membership after cancel")
	}
}

func TestBarrierCompletesWhenAckerLeaves(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	b := connect(t, s, "192.0.2.11:1")
	login(t, s, b, "Bob")
	deliver(s, b, &protocol.Subscribe{Hdr: protocol.Hdr{SessionID: sess.id}})

	// The only member vanishes instead of acknowledging. The canvas
	// is gone, so the joiner starts the session fresh.
	s.dispatch(event{conn: a, err: net.ErrClosed})
	s.flushDirty()

	if !sess.isMember(b.id) {
		t.Fatal("queued joiner not promoted after last member left")
	}
	if sess.syncing {
		t.Fatal("barrier still marked in progress")
	}
	// There is no canvas left to transfer; the joiner still needs a
	// completed placeholder to start drawing.
	if !firstOf[*protocol.Raster](t, recv(t, b)).Last() {
		t.Error("fresh-canvas promotion sent no completed placeholder")
	}
}

func TestOwnerLeaveClearsOwnership(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	// Finish the snapshot first so the tunnel teardown is not in play.
	deliver(s, a, &protocol.Raster{
		Hdr:  protocol.Hdr{SessionID: sess.id},
		Size: 4, Data: []byte{1, 2, 3, 4},
	})
	recv(t, b)

	s.dispatch(event{conn: a, err: net.ErrClosed})
	s.flushDirty()

	if sess.owner != protocol.NullUser {
		t.Errorf("owner = %d after the owner left, want none", sess.owner)
	}
	delegated := false
	for _, m := range recv(t, b) {
		if ev, ok := m.(*protocol.SessionEvent); ok &&
			ev.Action == protocol.SessionDelegate && ev.Target == protocol.NullUser {
			delegated = true
		}
	}
	if !delegated {
		t.Error("remaining members were not told ownership was dropped")
	}
}

func TestStrokeRelay(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	// Owner creates a layer, both select it.
	deliver(s, a, &protocol.LayerEvent{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Layer: 1, Action: protocol.LayerCreate,
	})
	deliver(s, a, &protocol.LayerSelect{Layer: 1})
	deliver(s, b, &protocol.LayerSelect{Layer: 1})
	recv(t, a)
	recv(t, b)

	stroke := &protocol.StrokeInfo{X: 400, Y: 300, Pressure: 200}
	deliver(s, a, stroke)

	got := firstOf[*protocol.StrokeInfo](t, recv(t, b))
	if got.UserID != a.id {
		t.Errorf("relayed stroke claims user %d, want %d", got.UserID, a.id)
	}
	if got.X != 400 || got.Y != 300 || got.Pressure != 200 {
		t.Errorf("stroke altered in transit: %+v", got)
	}
	// Drawing traffic never echoes to the sender, and without the
	// ack capability nothing is acknowledged either.
	aOut := recv(t, a)
	if hasType(aOut, protocol.TypeStrokeInfo) {
		t.Error("stroke echoed back to its sender")
	}
	if hasType(aOut, protocol.TypeAck) {
		t.Error("delivery ack sent without the capability")
	}
}

func TestLockedSessionSwallowsStrokes(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, sess := barrierPair(t, s)

	deliver(s, a, &protocol.LayerEvent{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Layer: 1, Action: protocol.LayerCreate,
	})
	deliver(s, a, &protocol.LayerSelect{Layer: 1})
	deliver(s, b, &protocol.LayerSelect{Layer: 1})
	recv(t, a)
	recv(t, b)

	deliver(s, a, &protocol.SessionEvent{
		Hdr:    protocol.Hdr{SessionID: sess.id},
		Action: protocol.SessionLock,
	})
	if !hasType(recv(t, b), protocol.TypeSessionEvent) {
		t.Fatal("lock event not announced")
	}
	recv(t, a)

	deliver(s, b, &protocol.StrokeInfo{X: 1, Y: 1, Pressure: 1})
	if hasType(recv(t, a), protocol.TypeStrokeInfo) {
		t.Error("stroke relayed despite session lock")
	}
	// The suppression is silent.
	if len(recv(t, b)) != 0 {
		t.Error("locked sender received unexpected traffic")
	}
}

func TestStrokeWithoutLayerIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	deliver(s, a, &protocol.StrokeInfo{X: 1, Y: 1, Pressure: 1})
	if e := firstOf[*protocol.Error](t, recv(t, a)); e.Code != protocol.ErrCodeInvalidLayer {
		t.Errorf("error = %v", e.Code)
	}
}

func TestImpersonationDisconnects(t *testing.T) {
	s := newTestServer(t, nil)
	a, b, _ := barrierPair(t, s)
	deliver(s, b, &protocol.StrokeInfo{
		Hdr: protocol.Hdr{UserID: a.id},
		X:   1, Y: 1,
	})
	if b.state != StateDead {
		t.Error("impersonation attempt tolerated")
	}
}

func TestUnsubscribeDestroysEmptySession(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	login(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	deliver(s, a, &protocol.Unsubscribe{Hdr: protocol.Hdr{SessionID: sess.id}})
	out := recv(t, a)
	if ack := firstOf[*protocol.Ack](t, out); ack.Event != protocol.TypeUnsubscribe {
		t.Fatalf("ack = %v", ack.Event)
	}
	if s.sessionByID(sess.id) != nil {
		t.Error("empty session survived its last member")
	}
	if a.session != nil {
		t.Error("selection still points at destroyed session")
	}
}
