package http1

import (
	"fmt"
	"io"
	"math"
)

// ChunkedEncoder wraps a reader and emits its bytes as RFC 7230 chunked
// transfer coding: each Read produces one complete chunk, and a terminating
// 0\r\n\r\n once the inner reader is exhausted.
type ChunkedEncoder struct {
	reader io.Reader
	done   bool
}

// NewChunkedEncoder creates a ChunkedEncoder over reader.
func NewChunkedEncoder(reader io.Reader) *ChunkedEncoder {
	return &ChunkedEncoder{reader: reader}
}

func (e *ChunkedEncoder) Read(p []byte) (int, error) {
	if e.done {
		return 0, io.EOF
	}

	n, err := e.reader.Read(p[:maxChunkPayload(len(p))])
	if err != nil && err != io.EOF {
		return 0, err
	}
	if n == 0 {
		// the terminator chunk: 0\r\n\r\n
		e.done = true
	}

	start := fmt.Sprintf("%X\r\n", n)
	startLen := len(start)
	total := n + startLen + 2
	copy(p[startLen:total-2], p[:n])
	copy(p[:startLen], start)
	copy(p[total-2:total], "\r\n")
	return total, nil
}

// maxChunkPayload computes how many content bytes a chunk may carry so that
// the payload plus its worst-case hex size line and two CRLFs never overflow
// a buffer of bufLen bytes.
func maxChunkPayload(bufLen int) int {
	if bufLen < 6 {
		// one content byte needs five framing bytes: 1\r\n_\r\n
		panic(fmt.Sprintf("chunk buffers of length %d are too small", bufLen))
	}

	remaining := float64(bufLen - 4)

	// the number of hex digits the size of remaining bytes might take
	hexFraming := math.Log2(remaining) / 4

	return int(remaining - math.Ceil(hexFraming))
}
