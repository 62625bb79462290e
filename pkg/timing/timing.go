// Package timing provides performance measurement for request handling phases.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures timing for one request-response transaction.
type Metrics struct {
	// HeadRead is the time spent reading and parsing the request head
	HeadRead time.Duration `json:"head_read"`

	// Handler is the time spent inside the handler pipeline
	Handler time.Duration `json:"handler"`

	// Write is the time spent encoding and flushing the response
	Write time.Duration `json:"write"`

	// TotalTime is the total transaction time
	TotalTime time.Duration `json:"total_time"`
}

// Timer helps measure request phase timings.
type Timer struct {
	start        time.Time
	headStart    time.Time
	headEnd      time.Time
	handlerStart time.Time
	handlerEnd   time.Time
	writeStart   time.Time
	writeEnd     time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHead marks the beginning of head reading.
func (t *Timer) StartHead() { t.headStart = time.Now() }

// EndHead marks the end of head reading.
func (t *Timer) EndHead() { t.headEnd = time.Now() }

// StartHandler marks the beginning of the handler pipeline.
func (t *Timer) StartHandler() { t.handlerStart = time.Now() }

// EndHandler marks the end of the handler pipeline.
func (t *Timer) EndHandler() { t.handlerEnd = time.Now() }

// StartWrite marks the beginning of the response write.
func (t *Timer) StartWrite() { t.writeStart = time.Now() }

// EndWrite marks the end of the response write.
func (t *Timer) EndWrite() { t.writeEnd = time.Now() }

func phase(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// Metrics returns the measured durations.
func (t *Timer) Metrics() Metrics {
	return Metrics{
		HeadRead:  phase(t.headStart, t.headEnd),
		Handler:   phase(t.handlerStart, t.handlerEnd),
		Write:     phase(t.writeStart, t.writeEnd),
		TotalTime: time.Since(t.start),
	}
}

// String renders the metrics compactly for logs.
func (m Metrics) String() string {
	return fmt.Sprintf("head=%s handler=%s write=%s total=%s",
		m.HeadRead, m.Handler, m.Write, m.TotalTime)
}
