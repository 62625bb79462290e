// Package rawserve is a modular http/1.1 server framework built on a
// byte-level protocol engine.
//
// The engine (pkg/http1) owns wire correctness: head parsing, fixed and
// chunked body framing, keep-alive, expect/continue, and protocol upgrades.
// This package layers the handler model on top: a Handler interface with
// optional lifecycle capabilities, Sequence composition with halt and
// reverse-order BeforeSend semantics, and a Server that drives transports
// through the pipeline with graceful shutdown and panic isolation.
//
// A minimal server:
//
//	handler := rawserve.Seq(
//		rawserve.HandlerFunc(func(ctx context.Context, conn *rawserve.Conn) {
//			conn.OK("hello")
//		}),
//	)
//	srv := rawserve.NewServer(handler, rawserve.Options{})
//	ln, _ := net.Listen("tcp", "localhost:8080")
//	srv.Serve(ln)
package rawserve

// Version is the library version. The engine's automatic Server header is
// the bare name "rawserve" and does not include it.
const Version = "0.1.0"
