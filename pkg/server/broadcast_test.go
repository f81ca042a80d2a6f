package server

import (
	"testing"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// loginRequestingAcks is login with the delivery-acknowledgement
// capability negotiated in the Identifier exchange.
func loginRequestingAcks(t *testing.T, s *Server, c *Conn, name string) {
	t.Helper()
	deliver(s, c, &protocol.Identifier{
		Ident:    protocol.IdentString,
		Revision: protocol.Revision,
		Flags:    protocol.FlagAckRequest,
	})
	if !c.acks {
		t.Fatal("ack capability not negotiated")
	}
	recv(t, c)

	deliver(s, c, &protocol.UserInfo{Event: protocol.EventLogin, Name: name})
	if c.state != StateActive {
		t.Fatalf("state = %v, want active", c.state)
	}
	recv(t, c)
}

func TestDeliveryAckToSource(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	loginRequestingAcks(t, s, a, "Alice")
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	deliver(s, a, &protocol.LayerEvent{
		Hdr:   protocol.Hdr{SessionID: sess.id},
		Layer: 1, Action: protocol.LayerCreate,
	})
	deliver(s, a, &protocol.LayerSelect{Layer: 1})
	recv(t, a)

	deliver(s, a, &protocol.StrokeInfo{X: 10, Y: 10, Pressure: 50})
	out := recv(t, a)
	if ack := firstOf[*protocol.Ack](t, out); ack.Event != protocol.TypeStrokeInfo {
		t.Errorf("delivery ack event = %v, want StrokeInfo", ack.Event)
	}
	// Acknowledged, never echoed.
	if hasType(out, protocol.TypeStrokeInfo) {
		t.Error("stroke echoed to its sender")
	}
}

func TestDeliveryAckCoversChat(t *testing.T) {
	s := newTestServer(t, nil)
	a := connect(t, s, "192.0.2.10:1")
	deliver(s, a, &protocol.Identifier{
		Ident:      protocol.IdentString,
		Revision:   protocol.Revision,
		Flags:      protocol.FlagAckRequest,
		Extensions: protocol.ExtChat,
	})
	recv(t, a)
	deliver(s, a, &protocol.UserInfo{Event: protocol.EventLogin, Name: "Alice"})
	recv(t, a)
	sess := createSession(t, s, a, "sketch", 800, 600, 4)
	joinDirect(t, s, a, sess)

	deliver(s, a, &protocol.Chat{Hdr: protocol.Hdr{SessionID: sess.id}, Text: "hello"})
	if ack := firstOf[*protocol.Ack](t, recv(t, a)); ack.Event != protocol.TypeChat {
		t.Errorf("delivery ack event = %v, want Chat", ack.Event)
	}
}
