package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// Verifier checks a password digest against a known secret and the
// seed that was issued with the challenge. Deployments can swap the
// algorithm by configuring a different Verifier on the server.
type Verifier func(secret string, seed [protocol.SeedLen]byte, digest [protocol.DigestLen]byte) bool

// SHA256Verifier is the default password check: the digest must
// equal SHA-256(secret followed by seed). Comparison is constant
// time.
func SHA256Verifier(secret string, seed [protocol.SeedLen]byte, digest [protocol.DigestLen]byte) bool {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(seed[:])
	want := h.Sum(nil)
	return subtle.ConstantTimeCompare(want, digest[:]) == 1
}

// respond computes the digest a client would send for the given
// challenge. Shared by tests and embedded clients.
func respond(secret string, seed [protocol.SeedLen]byte) [protocol.DigestLen]byte {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(seed[:])
	var d [protocol.DigestLen]byte
	copy(d[:], h.Sum(nil))
	return d
}

// newSeed draws a fresh challenge seed. A seed is single use: it is
// regenerated after every reply, verified or not.
func newSeed() [protocol.SeedLen]byte {
	var seed [protocol.SeedLen]byte
	// rand.Read only fails when the platform entropy source is
	// broken, which is not survivable anyway.
	if _, err := rand.Read(seed[:]); err != nil {
		panic(err)
	}
	return seed
}
