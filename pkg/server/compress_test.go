package server

import (
	"testing"

	"github.com/probonopd/Drawpile/pkg/protocol"
)

// rawChunks drains the writer channel without decoding, to inspect
// the wire form.
func rawChunks(c *Conn) [][]byte {
	var chunks [][]byte
	for {
		select {
		case chunk, ok := <-c.out:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		default:
			return chunks
		}
	}
}

func TestOutputRunIsOneChunk(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive

	for i := 0; i < 10; i++ {
		s.send(c, &protocol.StrokeInfo{Hdr: protocol.Hdr{UserID: 1, SessionID: 1}, X: uint16(i)})
	}
	s.flushDirty()

	chunks := rawChunks(c)
	if len(chunks) != 1 {
		t.Fatalf("run went out in %d chunks, want 1", len(chunks))
	}
	msgs := decodeRun(t, chunks[0])
	if len(msgs) != 10 {
		t.Errorf("decoded %d messages, want 10", len(msgs))
	}
}

func TestLargeRunIsCompressedForDeflatePeers(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive
	c.extensions = protocol.ExtDeflate

	// Well past the threshold and highly repetitive.
	for i := 0; i < 100; i++ {
		s.send(c, &protocol.StrokeInfo{Hdr: protocol.Hdr{UserID: 1, SessionID: 1}, X: 5, Y: 5})
	}
	s.flushDirty()

	chunks := rawChunks(c)
	if len(chunks) != 1 {
		t.Fatalf("run went out in %d chunks", len(chunks))
	}
	if protocol.MessageType(chunks[0][0]) != protocol.TypeDeflate {
		t.Fatal("large run not wrapped in a Deflate envelope")
	}
	msgs := decodeRun(t, chunks[0])
	if len(msgs) != 100 {
		t.Errorf("envelope held %d messages, want 100", len(msgs))
	}
}

func TestSmallRunStaysRaw(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive
	c.extensions = protocol.ExtDeflate

	s.send(c, &protocol.StrokeEnd{Hdr: protocol.Hdr{UserID: 1, SessionID: 1}})
	s.flushDirty()

	chunks := rawChunks(c)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if protocol.MessageType(chunks[0][0]) == protocol.TypeDeflate {
		t.Error("tiny run wrapped in an envelope")
	}
}

func TestRasterRunNeverCompressed(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive
	c.extensions = protocol.ExtDeflate

	data := make([]byte, 1024)
	s.send(c, &protocol.Raster{
		Hdr:  protocol.Hdr{UserID: 1, SessionID: 1},
		Size: 1024, Data: data,
	})
	s.flushDirty()

	chunks := rawChunks(c)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if protocol.MessageType(chunks[0][0]) != protocol.TypeRaster {
		t.Error("raster run was re-wrapped")
	}
}

func TestNoCompressionWithoutNegotiation(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive // no deflate extension

	for i := 0; i < 100; i++ {
		s.send(c, &protocol.StrokeInfo{Hdr: protocol.Hdr{UserID: 1, SessionID: 1}})
	}
	s.flushDirty()

	chunks := rawChunks(c)
	if protocol.MessageType(chunks[0][0]) == protocol.TypeDeflate {
		t.Error("envelope sent to a peer that never negotiated deflate")
	}
}

func TestOverflowDropsConnection(t *testing.T) {
	s := newTestServer(t, nil)
	c := connect(t, s, "192.0.2.10:1")
	c.state = StateActive

	// Fill the writer channel with nobody draining it.
	for i := 0; i <= outQueueLen; i++ {
		s.send(c, &protocol.StrokeEnd{Hdr: protocol.Hdr{UserID: 1, SessionID: 1}})
		s.flushDirty()
	}

	if c.state != StateDead {
		t.Error("backed-up connection not dropped")
	}
}
