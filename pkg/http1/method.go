package http1

import "github.com/WhileEndless/go-rawserve/pkg/errors"

// Method is an http request method. The set is closed; unrecognized tokens
// are a parse error, not a Method value.
type Method string

const (
	CONNECT Method = "CONNECT"
	DELETE  Method = "DELETE"
	GET     Method = "GET"
	HEAD    Method = "HEAD"
	OPTIONS Method = "OPTIONS"
	PATCH   Method = "PATCH"
	POST    Method = "POST"
	PUT     Method = "PUT"
	TRACE   Method = "TRACE"
)

var knownMethods = map[string]Method{
	"CONNECT": CONNECT,
	"DELETE":  DELETE,
	"GET":     GET,
	"HEAD":    HEAD,
	"OPTIONS": OPTIONS,
	"PATCH":   PATCH,
	"POST":    POST,
	"PUT":     PUT,
	"TRACE":   TRACE,
}

// ParseMethod parses a request-line method token.
func ParseMethod(token string) (Method, error) {
	if m, ok := knownMethods[token]; ok {
		return m, nil
	}
	return "", errors.UnrecognizedMethod(token)
}

func (m Method) String() string {
	return string(m)
}
