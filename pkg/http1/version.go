package http1

import "github.com/WhileEndless/go-rawserve/pkg/errors"

// Version is an http protocol version. The engine itself only speaks
// OneDotZero and OneDotOne; the other members exist so parsed versions can
// be represented before rejection.
type Version string

const (
	ZeroDotNine  Version = "HTTP/0.9"
	OneDotZero   Version = "HTTP/1.0"
	OneDotOne    Version = "HTTP/1.1"
	TwoDotZero   Version = "HTTP/2"
	ThreeDotZero Version = "HTTP/3"
)

// ParseVersion parses a request-line version token, restricting to the
// versions the engine speaks.
func ParseVersion(token string) (Version, error) {
	switch token {
	case "HTTP/1.0":
		return OneDotZero, nil
	case "HTTP/1.1":
		return OneDotOne, nil
	case "HTTP/0.9", "HTTP/2", "HTTP/2.0", "HTTP/3", "HTTP/3.0":
		return "", errors.UnsupportedVersion(token)
	default:
		return "", errors.MalformedHeader("http version " + token)
	}
}

func (v Version) String() string {
	return string(v)
}
