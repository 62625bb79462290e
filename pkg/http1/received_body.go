package http1

import (
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/WhileEndless/go-rawserve/pkg/buffer"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// Framing describes how a request body is delimited on the wire.
type Framing int

const (
	// FramingNone means no body is expected.
	FramingNone Framing = iota
	// FramingFixed means exactly ContentLength bytes follow the head.
	FramingFixed
	// FramingChunked means RFC 7230 chunked transfer coding.
	FramingChunked
)

type bodyState int

const (
	stateStart bodyState = iota
	stateFixed
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateTrailers
	stateEnd
)

// maxChunkLineLen bounds chunk size lines and trailer lines.
const maxChunkLineLen = 4096

// ReceivedBody is a reader over a framed request body. It drains the
// connection's read-ahead buffer before touching the transport, enforces a
// configurable maximum length, and leaves any bytes past the body end in the
// buffer for the next request head.
type ReceivedBody struct {
	framing       Framing
	contentLength int64
	buffer        *buffer.Buffer
	transport     io.Reader

	state          bodyState
	fixedIndex     int64
	chunkRemaining int64

	maxLen        int64
	bytesReturned int64

	charset string

	// onFirstRead fires once, before the first byte is pulled. The engine
	// uses it to send the deferred 100 Continue.
	onFirstRead func() error
	started     bool
}

func newReceivedBody(framing Framing, contentLength int64, buf *buffer.Buffer, transport io.Reader, maxLen int64, charset string, onFirstRead func() error) *ReceivedBody {
	return &ReceivedBody{
		framing:       framing,
		contentLength: contentLength,
		buffer:        buf,
		transport:     transport,
		maxLen:        maxLen,
		charset:       charset,
		onFirstRead:   onFirstRead,
	}
}

// ContentLength returns the declared length and whether one was declared.
// Chunked and absent bodies have no declared length.
func (rb *ReceivedBody) ContentLength() (int64, bool) {
	if rb.framing == FramingFixed {
		return rb.contentLength, true
	}
	return 0, false
}

// Started reports whether any read has begun.
func (rb *ReceivedBody) Started() bool {
	return rb.started
}

// Consumed reports whether the body has been read through its end.
func (rb *ReceivedBody) Consumed() bool {
	return rb.state == stateEnd
}

// SetMaxLen overrides the maximum number of body bytes this reader will
// produce.
func (rb *ReceivedBody) SetMaxLen(max int64) {
	rb.maxLen = max
}

// Read implements io.Reader over the framed body contents.
func (rb *ReceivedBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !rb.started {
		rb.started = true
		if rb.onFirstRead != nil {
			if err := rb.onFirstRead(); err != nil {
				return 0, err
			}
		}
	}

	for {
		switch rb.state {
		case stateStart:
			switch rb.framing {
			case FramingNone:
				rb.state = stateEnd
			case FramingFixed:
				if rb.contentLength == 0 {
					rb.state = stateEnd
				} else {
					rb.state = stateFixed
				}
			case FramingChunked:
				rb.state = stateChunkSize
			}

		case stateEnd:
			return 0, io.EOF

		case stateFixed:
			return rb.readFixed(p)

		case stateChunkSize:
			if err := rb.parseChunkSize(); err != nil {
				return 0, err
			}

		case stateChunkData:
			return rb.readChunkData(p)

		case stateChunkCRLF:
			if err := rb.consumeCRLF(); err != nil {
				return 0, err
			}
			rb.state = stateChunkSize

		case stateTrailers:
			if err := rb.discardTrailers(); err != nil {
				return 0, err
			}
			rb.state = stateEnd
		}
	}
}

// readSource pulls bytes from the read-ahead buffer first, then the
// transport.
func (rb *ReceivedBody) readSource(p []byte) (int, error) {
	if !rb.buffer.IsEmpty() {
		n := copy(p, rb.buffer.Bytes())
		rb.buffer.IgnoreFront(n)
		return n, nil
	}
	n, err := rb.transport.Read(p)
	if err != nil && err != io.EOF {
		return n, errors.IO("read", err)
	}
	return n, nil
}

func (rb *ReceivedBody) readByte() (byte, error) {
	var one [1]byte
	n, err := rb.readSource(one[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.BodyIncomplete()
	}
	return one[0], nil
}

func (rb *ReceivedBody) readFixed(p []byte) (int, error) {
	remaining := rb.contentLength - rb.fixedIndex
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := rb.readSource(p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.BodyIncomplete()
	}
	rb.fixedIndex += int64(n)
	if rb.fixedIndex == rb.contentLength {
		rb.state = stateEnd
	}
	return rb.account(n)
}

func (rb *ReceivedBody) readChunkData(p []byte) (int, error) {
	if int64(len(p)) > rb.chunkRemaining {
		p = p[:rb.chunkRemaining]
	}
	n, err := rb.readSource(p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.BodyIncomplete()
	}
	rb.chunkRemaining -= int64(n)
	if rb.chunkRemaining == 0 {
		rb.state = stateChunkCRLF
	}
	return rb.account(n)
}

// account tracks returned bytes against the configured maximum.
func (rb *ReceivedBody) account(n int) (int, error) {
	rb.bytesReturned += int64(n)
	if rb.maxLen > 0 && rb.bytesReturned > rb.maxLen {
		return 0, errors.BodyTooLong(rb.maxLen)
	}
	return n, nil
}

// parseChunkSize reads a "<hex-size>[;extensions]\r\n" line and transitions
// to data, trailer, or error state.
func (rb *ReceivedBody) parseChunkSize() error {
	line, err := rb.readLine()
	if err != nil {
		return err
	}
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = strings.TrimRight(line, " \t")
	size, err := parseHexUint(line)
	if err != nil {
		return errors.InvalidChunkSize(line)
	}
	if size == 0 {
		rb.state = stateTrailers
	} else {
		rb.chunkRemaining = int64(size)
		rb.state = stateChunkData
	}
	return nil
}

// readLine reads up to and including CRLF, returning the line without it.
func (rb *ReceivedBody) readLine() (string, error) {
	var line []byte
	for {
		b, err := rb.readByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			if len(line) == 0 || line[len(line)-1] != '\r' {
				return "", errors.InvalidChunkSize("bare LF in framing line")
			}
			return string(line[:len(line)-1]), nil
		}
		line = append(line, b)
		if len(line) > maxChunkLineLen {
			return "", errors.InvalidChunkSize("framing line too long")
		}
	}
}

func (rb *ReceivedBody) consumeCRLF() error {
	cr, err := rb.readByte()
	if err != nil {
		return err
	}
	lf, err := rb.readByte()
	if err != nil {
		return err
	}
	if cr != '\r' || lf != '\n' {
		return errors.InvalidChunkSize("missing CRLF after chunk data")
	}
	return nil
}

// discardTrailers consumes trailer lines until the blank line that ends the
// body.
func (rb *ReceivedBody) discardTrailers() error {
	for {
		line, err := rb.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// ReadBytes exhausts the body into a byte slice, honoring the maximum
// length. A declared length already past the maximum fails before any
// transport byte is drained.
func (rb *ReceivedBody) ReadBytes() ([]byte, error) {
	if length, ok := rb.ContentLength(); ok && rb.maxLen > 0 && length > rb.maxLen {
		return nil, errors.BodyTooLong(rb.maxLen)
	}

	var out []byte
	if length, ok := rb.ContentLength(); ok {
		out = make([]byte, 0, length)
	}
	buf := make([]byte, 8*1024)
	for {
		n, err := rb.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadString exhausts the body and decodes it using the request's declared
// character encoding. Decoding never fails; invalid bytes become U+FFFD.
func (rb *ReceivedBody) ReadString() (string, error) {
	raw, err := rb.ReadBytes()
	if err != nil {
		return "", err
	}
	return decodeCharset(raw, rb.charset), nil
}

// Drain discards the unread remainder of the body, up to budget bytes.
// It returns the number of bytes discarded; exceeding the budget or hitting
// a framing error leaves the transaction unusable for keep-alive.
func (rb *ReceivedBody) Drain(budget int64) (int64, error) {
	var discarded int64
	buf := make([]byte, 8*1024)
	for {
		limit := int64(len(buf))
		if remaining := budget - discarded + 1; remaining < limit {
			limit = remaining
		}
		n, err := rb.Read(buf[:limit])
		discarded += int64(n)
		if discarded > budget {
			return discarded, errors.BodyTooLong(budget)
		}
		if err == io.EOF {
			return discarded, nil
		}
		if err != nil {
			return discarded, err
		}
	}
}

// charsetFromContentType extracts the charset parameter of a Content-Type
// header value, or "" when absent.
func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// decodeCharset decodes raw bytes using the named character encoding,
// defaulting to utf-8. Unknown encodings fall back to utf-8; invalid input
// bytes are replaced with U+FFFD.
func decodeCharset(raw []byte, charset string) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return strings.ToValidUTF8(string(raw), "�")
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(decoded)
}

// parseHexUint parses a chunk size line.
func parseHexUint(s string) (uint64, error) {
	if s == "" {
		return 0, errors.InvalidChunkSize("empty size line")
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, errors.InvalidChunkSize("invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.InvalidChunkSize("chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}
