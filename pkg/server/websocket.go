package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The protocol has its own handshake; browser origin policy
	// adds nothing for non-browser clients and blocks local tools.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport carries the framed protocol over websocket binary
// messages. Frames may span messages; the reassembly is the same
// stream logic the TCP path uses.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWSTransport wraps an upgraded websocket connection.
func NewWSTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadChunk() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			return nil, errors.New("server: text frame on binary protocol")
		}
		// Control frames are handled inside gorilla.
	}
}

func (t *wsTransport) Write(p []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (t *wsTransport) Close() error         { return t.conn.Close() }
func (t *wsTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// handleWS upgrades an HTTP request and hands the connection to the
// control loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "component", "http", "error", err)
		return
	}
	s.Serve(NewWSTransport(conn))
}
