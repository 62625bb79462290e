package rawserve

import (
	"context"
	"fmt"
	"reflect"

	"github.com/WhileEndless/go-rawserve/pkg/http1"
)

// Handler is the unit of request processing. Everything that touches a
// request — endpoints and middleware alike — implements it, and assemblies
// of handlers compose into a single Handler through Sequence.
//
// The optional lifecycle methods are separate interfaces, discovered by
// assertion: BeforeSender, Initer, Upgrader, and Namer.
type Handler interface {
	// Run processes the conn. Composites skip Run for handlers downstream
	// of a halt.
	Run(ctx context.Context, conn *Conn)
}

// BeforeSender is implemented by handlers that want a last chance to mutate
// the response. BeforeSend runs in reverse of Run order, and runs even when
// the conn is halted. Response headers must not be mutated after it returns.
type BeforeSender interface {
	BeforeSend(ctx context.Context, conn *Conn)
}

// Initer is implemented by handlers needing one-time setup before the first
// request. Init may mutate the server-shared state through info.
type Initer interface {
	Init(ctx context.Context, info *Info)
}

// Upgrader is implemented by handlers that take over the transport after a
// 101 response.
type Upgrader interface {
	// HasUpgrade reports whether this handler claims the upgrade.
	HasUpgrade(u *http1.Upgrade) bool

	// ServeUpgrade owns the transport from here on. It is only called when
	// HasUpgrade returned true.
	ServeUpgrade(ctx context.Context, u *http1.Upgrade)
}

// Namer is implemented by handlers with a diagnostic name.
type Namer interface {
	Name() string
}

// Name returns h's diagnostic name, falling back to its type.
func Name(h Handler) string {
	if h == nil {
		return "nil"
	}
	if n, ok := h.(Namer); ok {
		return n.Name()
	}
	return reflect.TypeOf(h).String()
}

// beforeSend dispatches BeforeSend when h implements it.
func beforeSend(ctx context.Context, h Handler, conn *Conn) {
	if bs, ok := h.(BeforeSender); ok {
		bs.BeforeSend(ctx, conn)
	}
}

// initHandler dispatches Init when h implements it.
func initHandler(ctx context.Context, h Handler, info *Info) {
	if i, ok := h.(Initer); ok {
		i.Init(ctx, info)
	}
}

// hasUpgrade dispatches HasUpgrade when h implements it.
func hasUpgrade(h Handler, u *http1.Upgrade) bool {
	if up, ok := h.(Upgrader); ok {
		return up.HasUpgrade(u)
	}
	return false
}

// serveUpgrade dispatches ServeUpgrade when h implements it.
func serveUpgrade(ctx context.Context, h Handler, u *http1.Upgrade) {
	if up, ok := h.(Upgrader); ok {
		up.ServeUpgrade(ctx, u)
	}
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Conn)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, conn *Conn) {
	f(ctx, conn)
}

// Text is a handler that responds 200 with a fixed body.
type Text string

// Run sets the response.
func (t Text) Run(ctx context.Context, conn *Conn) {
	conn.OK(string(t))
}

// Name identifies the body for diagnostics.
func (t Text) Name() string {
	return fmt.Sprintf("Text(%q)", string(t))
}

// StatusHandler is a handler that sets a fixed response status.
type StatusHandler http1.Status

// Run sets the status.
func (s StatusHandler) Run(ctx context.Context, conn *Conn) {
	conn.SetStatus(http1.Status(s))
}

// Name identifies the status for diagnostics.
func (s StatusHandler) Name() string {
	return fmt.Sprintf("StatusHandler(%d)", int(s))
}

// Noop is a handler that does nothing.
type Noop struct{}

// Run does nothing.
func (Noop) Run(ctx context.Context, conn *Conn) {}

// Name identifies the noop.
func (Noop) Name() string { return "Noop" }
