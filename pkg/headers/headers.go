// Package headers provides a case-insensitive multimap of http header names
// to one-or-many values.
package headers

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// Value is a single header value. Values are raw bytes on the wire; most are
// also valid utf-8.
type Value []byte

// String returns the value as a string. The conversion is lossless even for
// non-utf8 values.
func (v Value) String() string {
	return string(v)
}

// IsUTF8 reports whether the value is valid utf-8.
func (v Value) IsUTF8() bool {
	return utf8.Valid(v)
}

type field struct {
	name   string // display name as first inserted
	values []Value
}

// Headers is a multimap from header name to values. Name comparisons are
// ASCII-case-insensitive. Iteration order is unspecified but stable within a
// single instance (first-insertion order).
type Headers struct {
	fields map[string]*field
	order  []string // lowercased keys, first-insertion order
}

// New creates an empty Headers.
func New() *Headers {
	return &Headers{}
}

func normalize(name string) string {
	return strings.ToLower(name)
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7f {
			return false
		}
	}
	return httpguts.ValidHeaderFieldName(name)
}

func validValue(value []byte) bool {
	return httpguts.ValidHeaderFieldValue(string(value))
}

func (h *Headers) lookup(name string) *field {
	if h.fields == nil {
		return nil
	}
	return h.fields[normalize(name)]
}

func (h *Headers) appendRaw(name string, value Value) {
	key := normalize(name)
	if h.fields == nil {
		h.fields = make(map[string]*field)
	}
	f, ok := h.fields[key]
	if !ok {
		f = &field{name: name}
		h.fields[key] = f
		h.order = append(h.order, key)
	}
	f.values = append(f.values, value)
}

// Insert sets name to exactly one value, replacing any existing values.
// Non-ASCII names and CR/LF/control bytes in names or values are rejected.
func (h *Headers) Insert(name, value string) error {
	return h.InsertValue(name, Value(value))
}

// InsertValue sets name to exactly one raw value, replacing any existing
// values.
func (h *Headers) InsertValue(name string, value Value) error {
	if !validName(name) {
		return errors.MalformedHeader(name)
	}
	if !validValue(value) {
		return errors.MalformedHeader(name + " value")
	}
	h.Remove(name)
	h.appendRaw(name, value)
	return nil
}

// Append adds a value for name, keeping any existing values.
func (h *Headers) Append(name, value string) error {
	return h.AppendValue(name, Value(value))
}

// AppendValue adds a raw value for name, keeping any existing values.
func (h *Headers) AppendValue(name string, value Value) error {
	if !validName(name) {
		return errors.MalformedHeader(name)
	}
	if !validValue(value) {
		return errors.MalformedHeader(name + " value")
	}
	h.appendRaw(name, value)
	return nil
}

// AppendParsed adds a value that has already been validated during wire
// parsing, bypassing the setter checks.
func (h *Headers) AppendParsed(name string, value Value) {
	h.appendRaw(name, value)
}

// Remove deletes all values for name.
func (h *Headers) Remove(name string) {
	key := normalize(name)
	if _, ok := h.fields[key]; !ok {
		return
	}
	delete(h.fields, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Get returns the first value for name.
func (h *Headers) Get(name string) (string, bool) {
	f := h.lookup(name)
	if f == nil || len(f.values) == 0 {
		return "", false
	}
	return f.values[0].String(), true
}

// GetStr returns the first value for name, or "" when absent.
func (h *Headers) GetStr(name string) string {
	v, _ := h.Get(name)
	return v
}

// GetAll returns every value for name.
func (h *Headers) GetAll(name string) []Value {
	f := h.lookup(name)
	if f == nil {
		return nil
	}
	return f.values
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	return h.lookup(name) != nil
}

// Eq reports whether the first value for name equals value,
// ASCII-case-insensitively.
func (h *Headers) Eq(name, value string) bool {
	v, ok := h.Get(name)
	return ok && strings.EqualFold(v, value)
}

// ContainsToken reports whether any comma-separated token of any value for
// name equals token, case-insensitively and with surrounding whitespace
// ignored. Used for Connection: upgrade / keep-alive / close detection.
func (h *Headers) ContainsToken(name, token string) bool {
	f := h.lookup(name)
	if f == nil {
		return false
	}
	values := make([]string, len(f.values))
	for i, v := range f.values {
		values[i] = v.String()
	}
	return httpguts.HeaderValuesContainsToken(values, token)
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	return len(h.order)
}

// Each calls fn for every (name, values) pair in this instance's stable
// order.
func (h *Headers) Each(fn func(name string, values []Value)) {
	for _, key := range h.order {
		f := h.fields[key]
		fn(f.name, f.values)
	}
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	out := New()
	h.Each(func(name string, values []Value) {
		for _, v := range values {
			out.appendRaw(name, append(Value(nil), v...))
		}
	})
	return out
}

// WriteTo serializes the headers in wire format, one "Name: value\r\n" line
// per value. It does not write the terminating blank line.
func (h *Headers) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, key := range h.order {
		f := h.fields[key]
		for _, v := range f.values {
			line := make([]byte, 0, len(f.name)+len(v)+4)
			line = append(line, f.name...)
			line = append(line, ':', ' ')
			line = append(line, v...)
			line = append(line, '\r', '\n')
			n, err := w.Write(line)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
