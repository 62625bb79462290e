package rawserve

import (
	"context"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/http1"
)

// Sequence composes handlers into one. What other frameworks call a
// middleware stack is a Sequence here.
//
// Run calls each handler in order, stopping at the first halt. BeforeSend
// calls each handler in reverse order, unconditionally. Init runs in order.
// An upgrade is dispatched to the first handler that claims it. Nil entries
// are no-ops, so handlers can be included conditionally:
//
//	seq := rawserve.Seq(
//		maybeLogger(), // may be nil
//		rawserve.Text("okeydokey"),
//	)
type Sequence struct {
	handlers []Handler
}

// Seq builds a Sequence from handlers.
func Seq(handlers ...Handler) *Sequence {
	return &Sequence{handlers: handlers}
}

// Push appends a handler imperatively.
func (s *Sequence) Push(h Handler) {
	s.handlers = append(s.handlers, h)
}

// Then appends a handler and returns the sequence for chaining.
func (s *Sequence) Then(h Handler) *Sequence {
	s.Push(h)
	return s
}

// Run calls each handler in order. A halt set by any handler stops the
// iteration; handlers already downstream of a halt on entry are skipped
// entirely.
func (s *Sequence) Run(ctx context.Context, conn *Conn) {
	for _, h := range s.handlers {
		if h == nil {
			continue
		}
		if conn.IsHalted() {
			return
		}
		h.Run(ctx, conn)
	}
}

// BeforeSend calls each handler in reverse order, halted or not.
func (s *Sequence) BeforeSend(ctx context.Context, conn *Conn) {
	for i := len(s.handlers) - 1; i >= 0; i-- {
		if s.handlers[i] == nil {
			continue
		}
		beforeSend(ctx, s.handlers[i], conn)
	}
}

// Init calls each handler's Init in order.
func (s *Sequence) Init(ctx context.Context, info *Info) {
	for _, h := range s.handlers {
		if h == nil {
			continue
		}
		initHandler(ctx, h, info)
	}
}

// HasUpgrade reports whether any handler claims the upgrade.
func (s *Sequence) HasUpgrade(u *http1.Upgrade) bool {
	for _, h := range s.handlers {
		if h != nil && hasUpgrade(h, u) {
			return true
		}
	}
	return false
}

// ServeUpgrade dispatches to the first handler that claims the upgrade.
func (s *Sequence) ServeUpgrade(ctx context.Context, u *http1.Upgrade) {
	for _, h := range s.handlers {
		if h != nil && hasUpgrade(h, u) {
			serveUpgrade(ctx, h, u)
			return
		}
	}
}

// Name lists the composed handler names.
func (s *Sequence) Name() string {
	names := make([]string, 0, len(s.handlers))
	for _, h := range s.handlers {
		names = append(names, Name(h))
	}
	return "seq[" + strings.Join(names, ", ") + "]"
}
