package http1

import (
	"github.com/WhileEndless/go-rawserve/pkg/headers"
	"github.com/WhileEndless/go-rawserve/pkg/shutdown"
	"github.com/WhileEndless/go-rawserve/pkg/transport"
	"github.com/WhileEndless/go-rawserve/pkg/typeset"
)

// Upgrade is the state captured when a transaction switches protocols. The
// engine stops speaking http on the transport; ownership of the stream, any
// read-ahead bytes, and the connection's typed state all move here.
type Upgrade struct {
	// Transport is the raw duplex stream, no longer owned by the engine.
	Transport transport.Transport

	// Buffer holds bytes already read past the request head. A protocol
	// implementation must consume these before reading the transport.
	Buffer []byte

	// Method and Path are copied from the request that negotiated the
	// upgrade.
	Method Method
	Path   string

	// RequestHeaders are the negotiating request's headers.
	RequestHeaders *headers.Headers

	// State is the connection's typed state, moved out of the Conn.
	State *typeset.TypeSet

	// Shutdown observes server shutdown so the protocol implementation can
	// wind down with the rest of the server.
	Shutdown *shutdown.Controller

	// Protocol is the first token of the request's Upgrade header.
	Protocol string
}
