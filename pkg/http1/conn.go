package http1

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/go-rawserve/pkg/buffer"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/headers"
	"github.com/WhileEndless/go-rawserve/pkg/timing"
	"github.com/WhileEndless/go-rawserve/pkg/transport"
	"github.com/WhileEndless/go-rawserve/pkg/typeset"
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// serverToken identifies this engine in the automatic Server header.
const serverToken = "rawserve"

// Conn is one http transaction on a transport: the parsed request, the
// response under construction, and everything needed to decide what the
// transport does next.
type Conn struct {
	serverConfig *ServerConfig
	transport    transport.Transport
	buffer       *buffer.Buffer

	method         Method
	path           string
	version        Version
	requestHeaders *headers.Headers

	responseHeaders *headers.Headers
	status          Status // 0 means unset
	responseBody    *Body

	state    *typeset.TypeSet
	halted   bool
	secure   bool
	peerAddr net.Addr

	framing       Framing
	contentLength int64
	requestBody   *ReceivedBody
	maxBodyLen    int64

	expectContinue bool
	continueSent   bool

	keepAlive       bool
	upgradeEligible bool
	upgradeProtocol string

	afterSend      []func(success bool)
	afterSendFired bool

	timer *timing.Timer
}

// newConn reads and parses one request head from t. buf carries bytes
// already read past a previous transaction; nil means a fresh connection.
func newConn(sc *ServerConfig, t transport.Transport, buf *buffer.Buffer) (*Conn, error) {
	if buf == nil {
		buf = buffer.WithCapacity(sc.config.RequestBufferInitialLen)
	}
	conn := &Conn{
		serverConfig:    sc,
		transport:       t,
		buffer:          buf,
		requestHeaders:  headers.New(),
		responseHeaders: headers.New(),
		state:           typeset.New(),
		maxBodyLen:      sc.config.ReceivedBodyMaxLen,
		peerAddr:        transport.PeerAddr(t),
		timer:           timing.NewTimer(),
	}
	if err := conn.readHead(); err != nil {
		return nil, err
	}
	return conn, nil
}

// readHead fills the buffer from the transport until the \r\n\r\n head
// terminator appears, then parses. Bytes after the terminator stay in the
// buffer as the body prefix.
func (c *Conn) readHead() error {
	cfg := c.serverConfig.config
	c.timer.StartHead()
	defer c.timer.EndHead()

	deadlineSet := false
	if cfg.HeadersTimeout > 0 {
		deadlineSet = transport.SetReadDeadline(c.transport, time.Now().Add(cfg.HeadersTimeout))
	}
	if deadlineSet {
		defer transport.SetReadDeadline(c.transport, time.Time{})
	}

	for {
		if idx := bytes.Index(c.buffer.Bytes(), crlfcrlf); idx >= 0 {
			head := c.buffer.Bytes()[:idx+4]
			if len(head) > cfg.HeadMaxLen {
				return errors.HeadersTooLong(cfg.HeadMaxLen)
			}
			err := c.parseHead(head)
			c.buffer.IgnoreFront(idx + 4)
			return err
		}
		if c.buffer.Len() > cfg.HeadMaxLen {
			return errors.HeadersTooLong(cfg.HeadMaxLen)
		}

		length := c.buffer.Len()
		c.buffer.Expand()
		n, err := c.transport.Read(c.buffer.Bytes()[length:])
		c.buffer.Truncate(length + n)

		if err != nil && err != io.EOF {
			if isTimeout(err) {
				return errors.Wrap(errors.KindPartialHead, "read", "headers timeout", err)
			}
			return errors.IO("read", err)
		}
		if n == 0 {
			if c.buffer.IsEmpty() {
				return errors.ClosedByClient()
			}
			return errors.PartialHead()
		}
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

func (c *Conn) parseHead(head []byte) error {
	cfg := c.serverConfig.config

	lines := bytes.Split(head[:len(head)-4], crlf)
	if err := c.parseRequestLine(string(lines[0])); err != nil {
		return err
	}

	if len(lines)-1 > cfg.MaxHeaders {
		return errors.TooManyHeaders(cfg.MaxHeaders)
	}
	for _, line := range lines[1:] {
		if err := c.parseHeaderLine(line); err != nil {
			return err
		}
	}

	return c.validate()
}

func (c *Conn) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return errors.MalformedHeader("request line " + line)
	}

	method, err := ParseMethod(parts[0])
	if err != nil {
		return err
	}
	version, err := ParseVersion(parts[2])
	if err != nil {
		return err
	}

	path := parts[1]
	if path == "" {
		return errors.InvalidPath(path)
	}
	if path[0] != '/' && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return errors.InvalidPath(path)
	}

	c.method = method
	c.path = path
	c.version = version
	return nil
}

func (c *Conn) parseHeaderLine(line []byte) error {
	if len(line) == 0 {
		return errors.MalformedHeader("empty header line")
	}
	if line[0] == ' ' || line[0] == '\t' {
		// obs-fold continuation lines are obsolete and rejected
		return errors.MalformedHeader("folded header line")
	}
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return errors.MalformedHeader(string(line))
	}
	name := string(line[:idx])
	value := strings.Trim(string(line[idx+1:]), " \t")

	if !httpguts.ValidHeaderFieldName(name) {
		return errors.MalformedHeader(name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return errors.MalformedHeader(name + " value")
	}
	c.requestHeaders.AppendParsed(name, headers.Value(value))
	return nil
}

// validate applies the post-parse rules: body framing, mandatory Host,
// expect/continue, close semantics, and upgrade eligibility.
func (c *Conn) validate() error {
	h := c.requestHeaders

	hasTE := h.Has(headers.TransferEncoding)
	chunked := hasTE && h.ContainsToken(headers.TransferEncoding, "chunked")
	if hasTE && !chunked {
		return errors.MalformedHeader("transfer-encoding")
	}

	if cl, ok := h.Get(headers.ContentLength); ok {
		if chunked {
			return errors.MalformedHeader("content-length with chunked transfer-encoding")
		}
		length, err := strconv.ParseUint(strings.TrimSpace(cl), 10, 63)
		if err != nil {
			return errors.MalformedHeader("content-length")
		}
		c.framing = FramingFixed
		c.contentLength = int64(length)
	} else if chunked {
		c.framing = FramingChunked
	} else {
		c.framing = FramingNone
	}

	if c.version == OneDotOne && !h.Has(headers.Host) {
		return errors.HostHeaderMissing()
	}

	// HTTP/1.0 clients that send Expect get their body without the interim
	// response, as if the header were absent.
	c.expectContinue = c.version == OneDotOne && h.Eq(headers.Expect, "100-continue")

	if c.version == OneDotZero {
		c.keepAlive = h.ContainsToken(headers.Connection, "keep-alive")
	} else {
		c.keepAlive = !h.ContainsToken(headers.Connection, "close")
	}

	if h.ContainsToken(headers.Connection, "upgrade") {
		if proto, ok := h.Get(headers.Upgrade); ok {
			c.upgradeEligible = true
			c.upgradeProtocol = firstToken(proto)
		}
	}
	return nil
}

func firstToken(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// Method returns the request method.
func (c *Conn) Method() Method { return c.method }

// Path returns the request path as received.
func (c *Conn) Path() string { return c.path }

// SetPath overrides the request path. Used by rewriting handlers.
func (c *Conn) SetPath(path string) { c.path = path }

// SetMethod overrides the request method. Used by rewriting handlers.
func (c *Conn) SetMethod(m Method) { c.method = m }

// Version returns the request http version.
func (c *Conn) Version() Version { return c.version }

// RequestHeaders returns the parsed request headers.
func (c *Conn) RequestHeaders() *headers.Headers { return c.requestHeaders }

// ResponseHeaders returns the mutable response headers.
func (c *Conn) ResponseHeaders() *headers.Headers { return c.responseHeaders }

// Status returns the response status, if one has been set.
func (c *Conn) Status() (Status, bool) {
	return c.status, c.status != 0
}

// SetStatus sets the response status.
func (c *Conn) SetStatus(status Status) { c.status = status }

// ResponseBody returns the response body, if one has been set.
func (c *Conn) ResponseBody() *Body { return c.responseBody }

// SetResponseBody sets the response body, replacing any previous one.
func (c *Conn) SetResponseBody(body *Body) { c.responseBody = body }

// TakeResponseBody removes and returns the response body.
func (c *Conn) TakeResponseBody() *Body {
	body := c.responseBody
	c.responseBody = nil
	return body
}

// Halted reports whether a handler has halted this conn.
func (c *Conn) Halted() bool { return c.halted }

// SetHalted marks this conn halted.
func (c *Conn) SetHalted(halted bool) { c.halted = halted }

// Secure reports whether the transport is encrypted. The accept-loop owner
// sets this.
func (c *Conn) Secure() bool { return c.secure }

// SetSecure marks the transport encrypted.
func (c *Conn) SetSecure(secure bool) { c.secure = secure }

// PeerAddr returns the remote address, when the transport has one.
func (c *Conn) PeerAddr() net.Addr { return c.peerAddr }

// State returns the per-connection TypeSet.
func (c *Conn) State() *typeset.TypeSet { return c.state }

// ServerConfig returns the shared server configuration.
func (c *Conn) ServerConfig() *ServerConfig { return c.serverConfig }

// Transport returns the underlying transport. Handlers should not read or
// write it directly outside of upgrade implementations.
func (c *Conn) Transport() transport.Transport { return c.transport }

// ReadAheadBuffer exposes the connection's read-ahead buffer. Disconnect
// probes stash stray bytes here.
func (c *Conn) ReadAheadBuffer() *buffer.Buffer { return c.buffer }

// SetMaxRequestBodyLen overrides the request body cap for this conn only.
func (c *Conn) SetMaxRequestBodyLen(max int64) {
	c.maxBodyLen = max
	if c.requestBody != nil {
		c.requestBody.SetMaxLen(max)
	}
}

// RequestBody returns the framed request body reader. The same reader is
// returned on every call.
func (c *Conn) RequestBody() *ReceivedBody {
	if c.requestBody == nil {
		charset := charsetFromContentType(c.requestHeaders.GetStr(headers.ContentType))
		c.requestBody = newReceivedBody(
			c.framing, c.contentLength, c.buffer, c.transport,
			c.maxBodyLen, charset, c.sendContinue,
		)
	}
	return c.requestBody
}

// sendContinue writes the interim 100 response, once, before the first body
// byte is pulled.
func (c *Conn) sendContinue() error {
	if !c.expectContinue || c.continueSent {
		return nil
	}
	c.continueSent = true
	if _, err := c.transport.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n")); err != nil {
		return errors.IO("write", err)
	}
	return nil
}

// AfterSend registers a callback invoked exactly once with a success flag
// after the response has been flushed (or the conn abandoned).
func (c *Conn) AfterSend(fn func(success bool)) {
	c.afterSend = append(c.afterSend, fn)
}

func (c *Conn) fireAfterSend(success bool) {
	if c.afterSendFired {
		return
	}
	c.afterSendFired = true
	for _, fn := range c.afterSend {
		fn(success)
	}
}

// Abandon gives up on this conn without writing a response: after-send
// callbacks fire with failure and the transport closes.
func (c *Conn) Abandon() {
	c.fireAfterSend(false)
	_ = c.transport.Close()
}

// connectionStatus is the engine's next-state decision: exactly one of
// upgrade, next, or close (both nil).
type connectionStatus struct {
	upgrade *Upgrade
	next    func() (*Conn, error)
}

// send finalizes and writes the response, then decides the connection's
// next state.
func (c *Conn) send() (*connectionStatus, error) {
	log := c.serverConfig.logger
	c.timer.EndHandler()

	c.finalizeStatus()

	upgrading := c.status == StatusSwitchingProtocols && c.upgradeEligible
	closeAfterReply := !c.keepAlive || c.serverConfig.shutdown.IsShuttingDown()

	if !upgrading && !closeAfterReply {
		if reusable := c.prepareKeepAlive(); !reusable {
			closeAfterReply = true
		}
	}

	c.timer.StartWrite()
	err := c.writeResponse(closeAfterReply)
	c.timer.EndWrite()
	c.fireAfterSend(err == nil)
	if err != nil {
		log.Error("response write failed", zap.Error(err))
		_ = c.transport.Close()
		return nil, err
	}

	log.Debug("request complete",
		zap.String("method", c.method.String()),
		zap.String("path", c.path),
		zap.Int("status", int(c.status)),
		zap.Stringer("timing", c.timer.Metrics()),
	)

	switch {
	case upgrading:
		return &connectionStatus{upgrade: c.intoUpgrade()}, nil
	case closeAfterReply:
		_ = c.transport.Close()
		return &connectionStatus{}, nil
	default:
		sc, t, buf := c.serverConfig, c.transport, c.buffer
		return &connectionStatus{next: func() (*Conn, error) {
			return newConn(sc, t, buf)
		}}, nil
	}
}

// finalizeStatus applies the engine defaults: a body with no status is a
// 200, and no status with no body synthesizes an empty 404.
func (c *Conn) finalizeStatus() {
	if c.status != 0 {
		return
	}
	if c.responseBody != nil {
		c.status = StatusOK
	} else {
		c.status = StatusNotFound
	}
}

// prepareKeepAlive decides whether the transport can serve another request,
// draining any unread request body within the configured budget. It reports
// false when the connection state cannot be reused.
func (c *Conn) prepareKeepAlive() bool {
	if c.framing == FramingNone {
		return true
	}

	// A client that asked for 100-continue and never got it may or may not
	// send the body; the wire position is unknowable, so close.
	if c.expectContinue && !c.continueSent {
		if c.requestBody == nil || !c.requestBody.Started() {
			return false
		}
	}

	body := c.RequestBody()
	if body.Consumed() {
		return true
	}

	discarded, err := body.Drain(c.serverConfig.config.DrainMaxLen)
	if err != nil {
		c.serverConfig.logger.Debug("request body drain abandoned",
			zap.Int64("discarded", discarded), zap.Error(err))
		return false
	}
	return true
}

// writeResponse encodes the head and body. Automatic headers are inserted
// only when absent.
func (c *Conn) writeResponse(closeAfterReply bool) error {
	h := c.responseHeaders

	if !h.Has(headers.Date) {
		h.AppendParsed(headers.Date, headers.Value(time.Now().UTC().Format(dateFormat)))
	}
	if !h.Has(headers.Server) {
		h.AppendParsed(headers.Server, headers.Value(serverToken))
	}

	chunked := false
	bodyAllowed := c.status.bodyAllowed()
	switch {
	case !bodyAllowed:
		h.Remove(headers.ContentLength)
		h.Remove(headers.TransferEncoding)
	case c.responseBody == nil:
		if !h.Has(headers.ContentLength) {
			h.AppendParsed(headers.ContentLength, headers.Value("0"))
		}
	default:
		if length, known := c.responseBody.Len(); known {
			h.Remove(headers.TransferEncoding)
			if !h.Has(headers.ContentLength) {
				h.AppendParsed(headers.ContentLength, headers.Value(strconv.FormatInt(length, 10)))
			}
		} else {
			chunked = true
			h.Remove(headers.ContentLength)
			if !h.ContainsToken(headers.TransferEncoding, "chunked") {
				h.AppendParsed(headers.TransferEncoding, headers.Value("chunked"))
			}
		}
	}

	if closeAfterReply {
		if !h.ContainsToken(headers.Connection, "close") {
			h.Remove(headers.Connection)
			h.AppendParsed(headers.Connection, headers.Value("close"))
		}
	} else if c.version == OneDotZero {
		if !h.Has(headers.Connection) {
			h.AppendParsed(headers.Connection, headers.Value("keep-alive"))
		}
	}

	w := bufio.NewWriterSize(c.transport, c.serverConfig.config.ResponseBufferLen)

	if _, err := w.WriteString("HTTP/1.1 " + strconv.Itoa(int(c.status)) + " " + c.status.Phrase() + "\r\n"); err != nil {
		return errors.IO("write", err)
	}
	if _, err := h.WriteTo(w); err != nil {
		return errors.IO("write", err)
	}
	if _, err := w.Write(crlf); err != nil {
		return errors.IO("write", err)
	}

	if err := c.writeBody(w, chunked, bodyAllowed); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return errors.IO("write", err)
	}
	return nil
}

func (c *Conn) writeBody(w *bufio.Writer, chunked, bodyAllowed bool) error {
	if c.responseBody == nil || !bodyAllowed {
		return nil
	}
	// HEAD responses carry the framing headers of the would-be body but no
	// body bytes.
	if c.method == HEAD {
		return nil
	}

	if owned := c.responseBody.Bytes(); owned != nil && !chunked {
		if _, err := w.Write(owned); err != nil {
			return errors.IO("write", err)
		}
		return nil
	}

	var src io.Reader
	var expect int64 = -1
	if chunked {
		src = NewChunkedEncoder(c.responseBody.Reader())
	} else {
		expect, _ = c.responseBody.Len()
		src = io.LimitReader(c.responseBody.Reader(), expect)
	}

	var written int64
	buf := make([]byte, c.serverConfig.config.ResponseBufferLen)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return errors.IO("write", werr)
			}
		}
		if err == io.EOF {
			if expect >= 0 && written != expect {
				// the declared Content-Length is already on the wire; a
				// short body would desynchronize the client
				return errors.New(errors.KindIO, "write", "response body shorter than its declared length")
			}
			return nil
		}
		if err != nil {
			return errors.IO("read", err)
		}
	}
}

// intoUpgrade moves the transport, residual buffer, and typed state out of
// this conn.
func (c *Conn) intoUpgrade() *Upgrade {
	return &Upgrade{
		Transport:      c.transport,
		Buffer:         c.buffer.TakeBytes(),
		Method:         c.method,
		Path:           c.path,
		RequestHeaders: c.requestHeaders,
		State:          c.state,
		Shutdown:       c.serverConfig.shutdown,
		Protocol:       c.upgradeProtocol,
	}
}

// StartHandlerTimer marks handler start for request timing.
func (c *Conn) StartHandlerTimer() { c.timer.StartHandler() }
