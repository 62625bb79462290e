package rawserve

import (
	"context"
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/http1"
)

// recorder is a test handler that records its lifecycle calls.
type recorder struct {
	id    string
	log   *[]string
	halts bool
}

func (r *recorder) Run(ctx context.Context, conn *Conn) {
	*r.log = append(*r.log, "run:"+r.id)
	if r.halts {
		conn.Halt()
	}
}

func (r *recorder) BeforeSend(ctx context.Context, conn *Conn) {
	*r.log = append(*r.log, "before:"+r.id)
}

func (r *recorder) Init(ctx context.Context, info *Info) {
	*r.log = append(*r.log, "init:"+r.id)
}

func (r *recorder) Name() string { return r.id }

func assertLog(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSequenceRunOrderAndBeforeSendReverse(t *testing.T) {
	var log []string
	seq := Seq(
		&recorder{id: "a", log: &log},
		&recorder{id: "b", log: &log},
		&recorder{id: "c", log: &log},
	)

	resp := serveWire(t, seq, Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp == "" {
		t.Fatalf("expected a response")
	}

	assertLog(t, log,
		"init:a", "init:b", "init:c",
		"run:a", "run:b", "run:c",
		"before:c", "before:b", "before:a",
	)
}

func TestHaltStopsRunButNotBeforeSend(t *testing.T) {
	var log []string
	seq := Seq(
		&recorder{id: "a", log: &log, halts: true},
		&recorder{id: "b", log: &log},
	)

	serveWire(t, seq, Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	assertLog(t, log,
		"init:a", "init:b",
		"run:a",
		"before:b", "before:a",
	)
}

func TestNestedSequenceHaltIsCompositionLocal(t *testing.T) {
	var log []string
	inner := Seq(
		&recorder{id: "inner-a", log: &log, halts: true},
		&recorder{id: "inner-b", log: &log},
	)
	outer := Seq(
		inner,
		&recorder{id: "outer", log: &log},
	)

	serveWire(t, outer, Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	// The halt set inside the inner sequence also stops the outer
	// iteration, but every before-send still runs, in reverse.
	assertLog(t, log,
		"init:inner-a", "init:inner-b", "init:outer",
		"run:inner-a",
		"before:outer", "before:inner-b", "before:inner-a",
	)
}

func TestNilHandlersAreNoOps(t *testing.T) {
	var log []string
	seq := Seq(
		nil,
		&recorder{id: "a", log: &log},
		nil,
	)

	serveWire(t, seq, Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	assertLog(t, log, "init:a", "run:a", "before:a")
}

func TestSequenceInitInOrder(t *testing.T) {
	var log []string
	seq := Seq(
		&recorder{id: "a", log: &log},
		&recorder{id: "b", log: &log},
	)

	serveWire(t, seq, Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if log[0] != "init:a" || log[1] != "init:b" {
		t.Fatalf("expected init in order, got %v", log)
	}
}

func TestTextHandler(t *testing.T) {
	resp := serveWire(t, Text("okeydokey"), Options{}, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if !contains(resp, "HTTP/1.1 200 OK\r\n") || !contains(resp, "okeydokey") {
		t.Fatalf("expected text response, got %q", resp)
	}
}

func TestStatusHandler(t *testing.T) {
	resp := serveWire(t, StatusHandler(http1.StatusImATeapot), Options{},
		"GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if !contains(resp, "HTTP/1.1 418 ") {
		t.Fatalf("expected 418, got %q", resp)
	}
}

func TestSequenceName(t *testing.T) {
	seq := Seq(Text("hi"), Noop{}, nil)
	want := `seq[Text("hi"), Noop, nil]`
	if seq.Name() != want {
		t.Fatalf("expected %q, got %q", want, seq.Name())
	}
}
