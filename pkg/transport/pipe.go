package transport

import (
	"io"
	"os"
	"sync"
	"time"
)

// Pipe is one end of an in-memory duplex stream. It exists for tests: it
// implements Transport plus read deadlines, so engine behavior that depends
// on timeouts and half-closes can be exercised without sockets.
type Pipe struct {
	read  *pipeHalf
	write *pipeHalf
}

// NewPipe creates a connected pair of pipe ends. Bytes written to one end
// are read from the other.
func NewPipe() (*Pipe, *Pipe) {
	a := newPipeHalf()
	b := newPipeHalf()
	return &Pipe{read: a, write: b}, &Pipe{read: b, write: a}
}

func (p *Pipe) Read(buf []byte) (int, error) {
	return p.read.Read(buf)
}

func (p *Pipe) Write(buf []byte) (int, error) {
	return p.write.Write(buf)
}

// Close closes both directions. Pending and future reads on the peer observe
// EOF once the buffered bytes drain.
func (p *Pipe) Close() error {
	p.write.CloseWrite()
	p.read.CloseRead()
	return nil
}

// CloseWrite half-closes the outgoing direction, as a peer shutdown(SHUT_WR)
// would.
func (p *Pipe) CloseWrite() {
	p.write.CloseWrite()
}

// SetReadDeadline applies a deadline to blocked and future reads.
func (p *Pipe) SetReadDeadline(t time.Time) error {
	p.read.SetReadDeadline(t)
	return nil
}

type pipeHalf struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []byte
	closed   bool
	deadline time.Time
	timer    *time.Timer
}

func newPipeHalf() *pipeHalf {
	h := &pipeHalf{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *pipeHalf) Read(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if len(h.data) > 0 {
			n := copy(buf, h.data)
			h.data = h.data[n:]
			return n, nil
		}
		if h.closed {
			return 0, io.EOF
		}
		if !h.deadline.IsZero() && !time.Now().Before(h.deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		h.cond.Wait()
	}
}

func (h *pipeHalf) Write(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, io.ErrClosedPipe
	}
	h.data = append(h.data, buf...)
	h.cond.Broadcast()
	return len(buf), nil
}

func (h *pipeHalf) CloseWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}

func (h *pipeHalf) CloseRead() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.data = nil
	h.cond.Broadcast()
}

func (h *pipeHalf) SetReadDeadline(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deadline = t
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if !t.IsZero() {
		if d := time.Until(t); d > 0 {
			h.timer = time.AfterFunc(d, h.cond.Broadcast)
		}
	}
	h.cond.Broadcast()
}
