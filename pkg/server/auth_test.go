package server

import (
	"testing"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

func TestSHA256Verifier(t *testing.T) {
	seed := [protocol.SeedLen]byte{0xDE, 0xAD, 0xBE, 0xEF}

	if !SHA256Verifier("secret", seed, respond("secret", seed)) {
		t.Error("matching digest rejected")
	}
	if SHA256Verifier("secret", seed, respond("wrong", seed)) {
		t.Error("wrong secret accepted")
	}

	other := [protocol.SeedLen]byte{1, 2, 3, 4}
	if SHA256Verifier("secret", other, respond("secret", seed)) {
		t.Error("digest for a different seed accepted")
	}

	var empty [protocol.DigestLen]byte
	if SHA256Verifier("secret", seed, empty) {
		t.Error("zero digest accepted")
	}
}

func TestNewSeedVaries(t *testing.T) {
	a, b := newSeed(), newSeed()
	if a == b {
		t.Error("consecutive seeds identical")
	}
}

func TestCustomVerifier(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Password = "anything"
	s := newTestServer(t, cfg)
	// Replace the algorithm with one that accepts everything.
	s.verify = func(string, [protocol.SeedLen]byte, [protocol.DigestLen]byte) bool { return true }

	c := connect(t, s, "192.0.2.10:1")
	deliver(s, c, &protocol.Identifier{Ident: protocol.IdentString, Revision: protocol.Revision})
	recv(t, c)
	deliver(s, c, &protocol.PasswordReply{})
	if c.state != StateLogin {
		t.Errorf("state = %v, want login", c.state)
	}
}
