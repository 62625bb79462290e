package rawserve

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/WhileEndless/go-rawserve/pkg/headers"
	"github.com/WhileEndless/go-rawserve/pkg/http1"
	"github.com/WhileEndless/go-rawserve/pkg/transport"
	"github.com/WhileEndless/go-rawserve/pkg/typeset"
)

// Conn is the handler-facing view of one http transaction. It wraps the
// engine conn with request inspection, response building, typed state, and
// lifecycle helpers.
type Conn struct {
	inner *http1.Conn
}

// WrapConn exposes an engine conn to handler code. The pipeline driver does
// this for every transaction; tests can too.
func WrapConn(inner *http1.Conn) *Conn {
	return &Conn{inner: inner}
}

// Inner returns the engine conn.
func (c *Conn) Inner() *http1.Conn { return c.inner }

// Method returns the request method.
func (c *Conn) Method() http1.Method { return c.inner.Method() }

// Path returns the request path with any querystring removed.
func (c *Conn) Path() string {
	path := c.inner.Path()
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// QueryString returns the portion of the request path after the first '?',
// or "".
func (c *Conn) QueryString() string {
	path := c.inner.Path()
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		return path[idx+1:]
	}
	return ""
}

// Version returns the request http version.
func (c *Conn) Version() http1.Version { return c.inner.Version() }

// RequestHeaders returns the request headers.
func (c *Conn) RequestHeaders() *headers.Headers { return c.inner.RequestHeaders() }

// ResponseHeaders returns the mutable response headers. Do not mutate them
// after BeforeSend has returned.
func (c *Conn) ResponseHeaders() *headers.Headers { return c.inner.ResponseHeaders() }

// Status returns the response status, if set.
func (c *Conn) Status() (http1.Status, bool) { return c.inner.Status() }

// SetStatus sets the response status.
func (c *Conn) SetStatus(status http1.Status) *Conn {
	c.inner.SetStatus(status)
	return c
}

// SetBody sets the response body.
func (c *Conn) SetBody(body *http1.Body) *Conn {
	c.inner.SetResponseBody(body)
	return c
}

// SetBodyString sets an owned-bytes response body.
func (c *Conn) SetBodyString(body string) *Conn {
	return c.SetBody(http1.BodyString(body))
}

// TakeBody removes and returns the response body.
func (c *Conn) TakeBody() *http1.Body { return c.inner.TakeResponseBody() }

// OK responds 200 with the provided body.
func (c *Conn) OK(body string) *Conn {
	return c.SetStatus(http1.StatusOK).SetBodyString(body)
}

// RequestBody returns the streaming request body reader.
func (c *Conn) RequestBody() *http1.ReceivedBody { return c.inner.RequestBody() }

// RequestBodyString reads the whole request body as a string, decoding per
// the request charset and honoring the body length cap.
func (c *Conn) RequestBodyString() (string, error) {
	return c.inner.RequestBody().ReadString()
}

// IsSecure reports whether the transport is encrypted.
func (c *Conn) IsSecure() bool { return c.inner.Secure() }

// PeerIP returns the remote IP, when the transport has one.
func (c *Conn) PeerIP() net.IP {
	addr := c.inner.PeerAddr()
	if addr == nil {
		return nil
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// Halt tells the enclosing composition to stop running downstream handlers.
// BeforeSend still runs for every handler.
func (c *Conn) Halt() *Conn {
	c.inner.SetHalted(true)
	return c
}

// IsHalted reports whether a handler has halted this conn.
func (c *Conn) IsHalted() bool { return c.inner.Halted() }

// State returns the per-conn TypeSet.
func (c *Conn) State() *typeset.TypeSet { return c.inner.State() }

// SetState stores val in the per-conn TypeSet, keyed by its type.
func (c *Conn) SetState(val any) *Conn {
	c.inner.State().Insert(val)
	return c
}

// AfterSend registers fn to run exactly once after the response has been
// flushed, with success=false when the flush failed or never happened.
func (c *Conn) AfterSend(fn func(success bool)) {
	c.inner.AfterSend(fn)
}

// SetMaxRequestBodyLen overrides the request body cap for this conn.
func (c *Conn) SetMaxRequestBodyLen(max int64) {
	c.inner.SetMaxRequestBodyLen(max)
}

// State retrieves per-conn state of type T.
func State[T any](c *Conn) (T, bool) {
	return typeset.Get[T](c.inner.State())
}

// TakeState removes and returns per-conn state of type T.
func TakeState[T any](c *Conn) (T, bool) {
	return typeset.Take[T](c.inner.State())
}

// SharedState retrieves server-shared state of type T, installed during
// init. Shared state is read-only once the server is running.
func SharedState[T any](c *Conn) (T, bool) {
	return typeset.Get[T](c.inner.ServerConfig().SharedState())
}

// CancelOnDisconnect runs fn while watching the transport for a peer
// half-close. If the peer disconnects before fn completes, fn's context is
// canceled and the second return is false.
//
// Detection works by a background one-byte read; any stray byte it observes
// (pipelined data) is stashed back into the connection's read-ahead buffer.
// fn must not read the request body. On transports without read deadlines,
// fn runs with no disconnect detection.
func CancelOnDisconnect[T any](ctx context.Context, c *Conn, fn func(context.Context) T) (T, bool) {
	t := c.inner.Transport()
	deadliner, ok := t.(transport.ReadDeadliner)
	if !ok {
		return fn(ctx), true
	}

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	disconnected := make(chan struct{})
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		var one [1]byte
		for {
			n, err := t.Read(one[:])
			if n > 0 {
				// pipelined bytes belong to the next transaction
				c.inner.ReadAheadBuffer().Extend(one[:n])
				continue
			}
			if isTimeoutErr(err) {
				return // probe canceled
			}
			close(disconnected)
			return
		}
	}()

	result := make(chan T, 1)
	go func() {
		result <- fn(fnCtx)
	}()

	select {
	case value := <-result:
		deadliner.SetReadDeadline(time.Now())
		<-probeDone
		deadliner.SetReadDeadline(time.Time{})
		return value, true
	case <-disconnected:
		cancel()
		var zero T
		return zero, false
	}
}

func isTimeoutErr(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
