package rawserve

import (
	"net"

	"github.com/WhileEndless/go-rawserve/pkg/typeset"
)

// Info describes the server a handler is being initialized into. It is
// passed to Init exactly once, before the first request, and is the only
// place the server-shared state may be mutated.
type Info struct {
	description string
	tcpAddr     *net.TCPAddr
	sharedState *typeset.TypeSet
}

// Description returns a user-displayable description of the server. Do not
// rely on its format.
func (i *Info) Description() string { return i.description }

// TCPAddr returns the bound tcp address, if the server listens on tcp.
func (i *Info) TCPAddr() *net.TCPAddr { return i.tcpAddr }

// SharedState returns the server-shared TypeSet. Values inserted here are
// visible to every Conn through SharedState.
func (i *Info) SharedState() *typeset.TypeSet { return i.sharedState }
