package http1

import (
	"io"
	"strings"
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/buffer"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

func fixedBody(input string, maxLen int64) *ReceivedBody {
	return newReceivedBody(FramingFixed, int64(len(input)), buffer.WithCapacity(16),
		strings.NewReader(input), maxLen, "", nil)
}

func chunkedBody(wire string, maxLen int64) *ReceivedBody {
	return newReceivedBody(FramingChunked, 0, buffer.WithCapacity(16),
		strings.NewReader(wire), maxLen, "", nil)
}

func readWithBuffersOfSize(t *testing.T, r io.Reader, size int) (string, error) {
	t.Helper()
	var out []byte
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
	}
}

func TestFixedLengthEverySize(t *testing.T) {
	for size := 3; size < 50; size++ {
		for _, input := range []string{"12345abcdef", "MozillaDeveloperNetwork", ""} {
			out, err := readWithBuffersOfSize(t, fixedBody(input, 0), size)
			if err != nil {
				t.Fatalf("size %d input %q: %v", size, input, err)
			}
			if out != input {
				t.Fatalf("size %d: expected %q, got %q", size, input, out)
			}
		}

		_, err := readWithBuffersOfSize(t, fixedBody("MozillaDeveloperNetwork", 5), size)
		if !errors.IsKind(err, errors.KindBodyTooLong) {
			t.Fatalf("size %d: expected body-too-long, got %v", size, err)
		}
	}
}

func TestFixedLengthDrainsBufferBeforeTransport(t *testing.T) {
	buf := buffer.WithCapacity(16)
	buf.Extend([]byte("pre"))
	rb := newReceivedBody(FramingFixed, 8, buf, strings.NewReader("fix-rest"), 0, "", nil)

	out, err := rb.ReadBytes()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(out) != "prefix-r" {
		t.Fatalf("expected %q, got %q", "prefix-r", out)
	}
	if !rb.Consumed() {
		t.Fatalf("expected body consumed")
	}
}

func TestFixedLengthShortConnectionFails(t *testing.T) {
	rb := newReceivedBody(FramingFixed, 10, buffer.WithCapacity(16),
		strings.NewReader("only4"), 0, "", nil)
	_, err := rb.ReadBytes()
	if !errors.IsKind(err, errors.KindBodyIncomplete) {
		t.Fatalf("expected body-incomplete, got %v", err)
	}
}

func TestChunkedEverySize(t *testing.T) {
	wire := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	for size := 3; size < 50; size++ {
		out, err := readWithBuffersOfSize(t, chunkedBody(wire, 0), size)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if out != "hello world" {
			t.Fatalf("size %d: expected %q, got %q", size, "hello world", out)
		}
	}
}

func TestChunkedZeroLengthBody(t *testing.T) {
	buf := buffer.WithCapacity(16)
	rb := newReceivedBody(FramingChunked, 0, buf,
		strings.NewReader("0\r\n\r\nGET / HTTP/1.1\r\n"), 0, "", nil)

	out, err := rb.ReadBytes()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty body, got %q", out)
	}

	// The terminator was consumed and nothing more: the transport is
	// positioned at the next request.
	rest, _ := io.ReadAll(rb.transport)
	if string(rest) != "GET / HTTP/1.1\r\n" {
		t.Fatalf("next request bytes consumed: %q", rest)
	}
}

func TestChunkedExtensionsAndTrailersDiscarded(t *testing.T) {
	wire := "5;ext=1\r\nhello\r\n0\r\nTrailer-One: a\r\nTrailer-Two: b\r\n\r\n"
	rb := chunkedBody(wire, 0)
	out, err := rb.ReadBytes()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}
	if !rb.Consumed() {
		t.Fatalf("expected body consumed through trailers")
	}
}

func TestChunkedMalformed(t *testing.T) {
	cases := []string{
		"zz\r\nhello\r\n0\r\n\r\n",  // bad hex
		"5\r\nhelloXX0\r\n\r\n",     // missing CRLF after data
		"5\nhello\r\n0\r\n\r\n",     // bare LF in size line
		"\r\nhello\r\n0\r\n\r\n",    // empty size line
		"fffffffffffffffff\r\n0\r\n", // 17 hex digits
	}
	for _, wire := range cases {
		_, err := chunkedBody(wire, 0).ReadBytes()
		if !errors.IsKind(err, errors.KindInvalidChunkSize) {
			t.Fatalf("wire %q: expected invalid-chunk-size, got %v", wire, err)
		}
	}
}

func TestChunkedIncomplete(t *testing.T) {
	_, err := chunkedBody("5\r\nhel", 0).ReadBytes()
	if !errors.IsKind(err, errors.KindBodyIncomplete) {
		t.Fatalf("expected body-incomplete, got %v", err)
	}
}

func TestReadBytesRejectsOversizedDeclaredLengthUpfront(t *testing.T) {
	// The transport reader panics on use to prove nothing is drained.
	rb := newReceivedBody(FramingFixed, 100, buffer.WithCapacity(16),
		panicReader{}, 10, "", nil)
	_, err := rb.ReadBytes()
	if !errors.IsKind(err, errors.KindBodyTooLong) {
		t.Fatalf("expected body-too-long, got %v", err)
	}
}

type panicReader struct{}

func (panicReader) Read([]byte) (int, error) {
	panic("transport must not be read")
}

func TestChunkedMaxLen(t *testing.T) {
	wire := "14\r\nthis is twenty bytes\r\n0\r\n\r\n"
	_, err := chunkedBody(wire, 10).ReadBytes()
	if !errors.IsKind(err, errors.KindBodyTooLong) {
		t.Fatalf("expected body-too-long, got %v", err)
	}
}

func TestReadStringCharset(t *testing.T) {
	// "héllo" in latin-1
	raw := string([]byte{'h', 0xe9, 'l', 'l', 'o'})

	rb := newReceivedBody(FramingFixed, int64(len(raw)), buffer.WithCapacity(16),
		strings.NewReader(raw), 0, "iso-8859-1", nil)
	out, err := rb.ReadString()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out != "héllo" {
		t.Fatalf("expected decoded latin-1, got %q", out)
	}

	// Invalid utf-8 never fails; bad bytes become U+FFFD.
	rb = newReceivedBody(FramingFixed, int64(len(raw)), buffer.WithCapacity(16),
		strings.NewReader(raw), 0, "", nil)
	out, err = rb.ReadString()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(out, "�") {
		t.Fatalf("expected replacement character, got %q", out)
	}
}

func TestOnFirstReadFiresOnce(t *testing.T) {
	calls := 0
	rb := newReceivedBody(FramingFixed, 4, buffer.WithCapacity(16),
		strings.NewReader("body"), 0, "", func() error {
			calls++
			return nil
		})

	if rb.Started() {
		t.Fatalf("expected not started before first read")
	}
	if _, err := rb.ReadBytes(); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one first-read callback, got %d", calls)
	}
	if !rb.Started() {
		t.Fatalf("expected started")
	}
}

func TestDrain(t *testing.T) {
	rb := fixedBody("leftover bytes", 0)
	discarded, err := rb.Drain(1024)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if discarded != 14 {
		t.Fatalf("expected 14 discarded, got %d", discarded)
	}
	if !rb.Consumed() {
		t.Fatalf("expected body consumed after drain")
	}

	rb = fixedBody(strings.Repeat("x", 100), 0)
	if _, err := rb.Drain(10); err == nil {
		t.Fatalf("expected drain budget error")
	}
}
