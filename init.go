package rawserve

import (
	"context"
	"fmt"
)

// Init runs a one-shot setup function when the server starts, before any
// request. Use it for asynchronous bootstrap that installs values into the
// server-shared state:
//
//	handler := rawserve.Seq(
//		rawserve.NewInit(func(ctx context.Context, info *rawserve.Info) {
//			db := connect(ctx)
//			info.SharedState().Insert(db)
//		}),
//		rawserve.HandlerFunc(func(ctx context.Context, conn *rawserve.Conn) {
//			db, _ := rawserve.SharedState[*DB](conn)
//			conn.OK(db.Greeting())
//		}),
//	)
type Init struct {
	fn   func(ctx context.Context, info *Info)
	done bool
}

// NewInit builds an Init handler around fn.
func NewInit(fn func(ctx context.Context, info *Info)) *Init {
	return &Init{fn: fn}
}

// Init runs the setup function once.
func (i *Init) Init(ctx context.Context, info *Info) {
	if i.done {
		return
	}
	i.done = true
	i.fn(ctx, info)
}

// Run does nothing; Init is setup-only.
func (i *Init) Run(ctx context.Context, conn *Conn) {}

// Name identifies the handler.
func (i *Init) Name() string {
	if i.done {
		return "Init (initialized)"
	}
	return "Init"
}

// SharedStateHandler installs a single value into the server-shared state
// during init. Unlike per-conn state, the value is shared by reference with
// every Conn, so it must be safe for concurrent reads.
type SharedStateHandler struct {
	value any
}

// NewSharedState builds a handler installing value.
func NewSharedState(value any) *SharedStateHandler {
	return &SharedStateHandler{value: value}
}

// Init installs the value.
func (s *SharedStateHandler) Init(ctx context.Context, info *Info) {
	info.SharedState().Insert(s.value)
}

// Run does nothing; the value is available through SharedState.
func (s *SharedStateHandler) Run(ctx context.Context, conn *Conn) {}

// Name identifies the stored type.
func (s *SharedStateHandler) Name() string {
	return fmt.Sprintf("SharedState(%T)", s.value)
}
