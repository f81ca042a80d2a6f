// Package server implements the drawing relay server.
//
// The server multiplexes many client connections over one control
// loop. Each connection gets a reader goroutine that reassembles
// framed messages from the byte stream and a writer goroutine that
// drains serialized output, but every piece of shared state (the user
// registry, sessions, memberships, sync barriers) is owned by the
// single loop goroutine, so all clients observe session events in one
// total order.
//
// # Connection lifecycle
//
//	accept -> Init -> LoginAuth -> Login -> Active -> Dead
//	               (password)    (name)
//
// A connection must identify itself, pass the optional server
// password challenge and log in with a valid name within the idle
// time budget, or it is reaped. Active connections subscribe to
// sessions, draw, chat and exchange raster data until they
// disconnect or are kicked.
//
// # Join synchronization
//
// A user joining a non-empty session is queued until every present
// member acknowledges a sync barrier. At the barrier the server
// orders one member to snapshot the canvas and tunnels the raster
// data to the queued joiners, then promotes them to members. Drawing
// traffic keeps flowing while the snapshot transfers.
//
// # Transports
//
// The binary protocol runs over plain TCP and, unchanged, over
// websocket binary messages so browser clients can participate.
package server
