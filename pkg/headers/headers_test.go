package headers

import (
	"bytes"
	"strings"
	"testing"
)

func TestCaseInsensitiveAccess(t *testing.T) {
	h := New()
	if err := h.Insert("Content-Type", "text/plain"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	for _, name := range []string{"content-type", "CONTENT-TYPE", "Content-Type", "cOnTeNt-TyPe"} {
		v, ok := h.Get(name)
		if !ok || v != "text/plain" {
			t.Fatalf("lookup %q failed: %q %v", name, v, ok)
		}
	}
	if !h.Has("content-TYPE") {
		t.Fatalf("expected Has to be case-insensitive")
	}
}

func TestInsertReplacesAppendAdds(t *testing.T) {
	h := New()
	h.Append("Set-Cookie", "a=1")
	h.Append("set-cookie", "b=2")
	if got := len(h.GetAll("Set-Cookie")); got != 2 {
		t.Fatalf("expected 2 values, got %d", got)
	}

	h.Insert("Set-Cookie", "c=3")
	all := h.GetAll("SET-COOKIE")
	if len(all) != 1 || all[0].String() != "c=3" {
		t.Fatalf("expected insert to replace, got %v", all)
	}

	h.Remove("set-Cookie")
	if h.Has("Set-Cookie") {
		t.Fatalf("expected remove to delete all values")
	}
}

func TestSetterValidation(t *testing.T) {
	h := New()

	if err := h.Insert("X-Héader", "v"); err == nil {
		t.Fatalf("expected non-ASCII name to be rejected")
	}
	if err := h.Insert("Bad\r\nName", "v"); err == nil {
		t.Fatalf("expected CRLF in name to be rejected")
	}
	if err := h.Insert("X-Ok", "bad\r\nvalue"); err == nil {
		t.Fatalf("expected CRLF in value to be rejected")
	}
	if err := h.Insert("X-Ok", "bad\x00value"); err == nil {
		t.Fatalf("expected control byte in value to be rejected")
	}
	if err := h.Insert("", "v"); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no headers after rejected inserts, got %d", h.Len())
	}
}

func TestContainsToken(t *testing.T) {
	h := New()
	h.Insert("Connection", "keep-alive, Upgrade")

	if !h.ContainsToken("connection", "upgrade") {
		t.Fatalf("expected token match for upgrade")
	}
	if !h.ContainsToken("Connection", "keep-alive") {
		t.Fatalf("expected token match for keep-alive")
	}
	if h.ContainsToken("Connection", "close") {
		t.Fatalf("did not expect token match for close")
	}
	if h.ContainsToken("Upgrade", "websocket") {
		t.Fatalf("did not expect match on absent header")
	}
}

func TestStableIterationOrder(t *testing.T) {
	h := New()
	h.Insert("B-Header", "b")
	h.Insert("A-Header", "a")
	h.Append("C-Header", "c1")
	h.Append("C-Header", "c2")

	var names []string
	h.Each(func(name string, values []Value) {
		names = append(names, name)
	})
	want := []string{"B-Header", "A-Header", "C-Header"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}

	// The same order every time within one instance.
	var again []string
	h.Each(func(name string, values []Value) {
		again = append(again, name)
	})
	for i := range names {
		if names[i] != again[i] {
			t.Fatalf("iteration order not stable: %v vs %v", names, again)
		}
	}
}

func TestWriteToRoundTrip(t *testing.T) {
	h := New()
	h.Insert("Host", "example.com")
	h.Append("Set-Cookie", "a=1")
	h.Append("Set-Cookie", "b=2")

	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Parse it back the way the engine does and compare modulo order.
	parsed := New()
	for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n") {
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("bad serialized line %q", line)
		}
		parsed.AppendParsed(name, Value(value))
	}

	if v := parsed.GetStr("host"); v != "example.com" {
		t.Fatalf("round trip lost host: %q", v)
	}
	cookies := parsed.GetAll("set-cookie")
	if len(cookies) != 2 || cookies[0].String() != "a=1" || cookies[1].String() != "b=2" {
		t.Fatalf("round trip lost cookies: %v", cookies)
	}
}

func TestValueBytes(t *testing.T) {
	raw := Value([]byte{0xff, 0xfe})
	if raw.IsUTF8() {
		t.Fatalf("expected invalid utf8")
	}
	ok := Value("héllo")
	if !ok.IsUTF8() {
		t.Fatalf("expected valid utf8")
	}
	if ok.String() != "héllo" {
		t.Fatalf("expected lossless string conversion")
	}
}

func TestClone(t *testing.T) {
	h := New()
	h.Insert("X-One", "1")
	clone := h.Clone()
	clone.Insert("X-One", "2")
	if v := h.GetStr("X-One"); v != "1" {
		t.Fatalf("clone mutated original: %q", v)
	}
}
