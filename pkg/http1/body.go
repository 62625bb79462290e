package http1

import (
	"bytes"
	"io"
)

// Body is a writable response body. It is one of three shapes: owned bytes,
// a reader with a known length, or a reader of unknown length. Known-length
// bodies produce a Content-Length header on the wire; unknown-length bodies
// are sent with Transfer-Encoding: chunked.
type Body struct {
	owned  []byte
	reader io.Reader
	length int64 // -1 when unknown
}

// BodyBytes builds a Body owning the provided bytes.
func BodyBytes(b []byte) *Body {
	return &Body{owned: b, length: int64(len(b))}
}

// BodyString builds a Body owning the provided string.
func BodyString(s string) *Body {
	return BodyBytes([]byte(s))
}

// BodyReader builds a Body streaming exactly length bytes from r.
func BodyReader(r io.Reader, length int64) *Body {
	return &Body{reader: r, length: length}
}

// BodyStreaming builds a Body of unknown length from r. It is chunked on
// the wire.
func BodyStreaming(r io.Reader) *Body {
	return &Body{reader: r, length: -1}
}

// Len returns the body length and whether it is known.
func (b *Body) Len() (int64, bool) {
	if b.length < 0 {
		return 0, false
	}
	return b.length, true
}

// Bytes returns the owned bytes, or nil for streaming bodies.
func (b *Body) Bytes() []byte {
	return b.owned
}

// Reader returns a reader over the body contents.
func (b *Body) Reader() io.Reader {
	if b.reader != nil {
		return b.reader
	}
	return bytes.NewReader(b.owned)
}

// encoder returns the wire encoding of the body: the plain reader for
// known-length bodies, a chunked encoder otherwise.
func (b *Body) encoder() io.Reader {
	if _, known := b.Len(); known {
		return b.Reader()
	}
	return NewChunkedEncoder(b.Reader())
}
