package http1

import (
	"go.uber.org/zap"

	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/shutdown"
	"github.com/WhileEndless/go-rawserve/pkg/transport"
	"github.com/WhileEndless/go-rawserve/pkg/typeset"
)

// ServerConfig is the shared, engine-driving configuration: tunables, the
// graceful shutdown controller, server-shared typed state, and the logger.
// One instance is shared by every connection of a server; after the server
// starts, the shared state is read-only.
type ServerConfig struct {
	config      Config
	shutdown    *shutdown.Controller
	sharedState *typeset.TypeSet
	logger      *zap.Logger
}

// NewServerConfig builds a ServerConfig, filling config zero values with
// defaults. A nil logger means no logging.
func NewServerConfig(config Config, logger *zap.Logger) *ServerConfig {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerConfig{
		config:      config.withDefaults(),
		shutdown:    shutdown.New(),
		sharedState: typeset.New(),
		logger:      logger,
	}
}

// Config returns the engine tunables.
func (sc *ServerConfig) Config() Config {
	return sc.config
}

// Shutdown returns the graceful shutdown controller.
func (sc *ServerConfig) Shutdown() *shutdown.Controller {
	return sc.shutdown
}

// SharedState returns the server-shared TypeSet. Mutate it only before the
// server starts handling connections.
func (sc *ServerConfig) SharedState() *typeset.TypeSet {
	return sc.sharedState
}

// Logger returns the configured logger.
func (sc *ServerConfig) Logger() *zap.Logger {
	return sc.logger
}

// ShutDown begins graceful shutdown and returns its completion.
func (sc *ServerConfig) ShutDown() *shutdown.Completion {
	return sc.shutdown.ShutDown()
}

// Run performs http on the provided transport, applying fn to every
// distinct request-response transaction. fn may run any number of times,
// depending on whether the client reuses the connection.
//
// It returns a non-nil Upgrade when the final transaction negotiated a
// protocol switch; deciding whether anything claims it is the caller's
// business.
func (sc *ServerConfig) Run(t transport.Transport, fn func(*Conn) *Conn) (*Upgrade, error) {
	guard := sc.shutdown.Guard()
	defer guard.Release()

	conn, err := newConn(sc, t, nil)
	for {
		if err != nil {
			return nil, sc.headError(t, err)
		}

		conn.StartHandlerTimer()
		var status *connectionStatus
		status, err = fn(conn).send()
		if err != nil {
			return nil, err
		}

		switch {
		case status.upgrade != nil:
			return status.upgrade, nil
		case status.next != nil:
			if sc.shutdown.IsShuttingDown() {
				// Stop taking new requests on this transport.
				_ = t.Close()
				return nil, nil
			}
			conn, err = status.next()
		default:
			return nil, nil
		}
	}
}

// headError disposes of a failed head parse: benign closes are swallowed,
// protocol violations get a minimal error response when one is possible,
// and the transport always closes.
func (sc *ServerConfig) headError(t transport.Transport, err error) error {
	defer t.Close()

	switch errors.GetKind(err) {
	case errors.KindClosedByClient:
		sc.logger.Debug("connection closed by client")
		return nil
	case errors.KindPartialHead:
		sc.logger.Debug("partial head", zap.Error(err))
		return nil
	case errors.KindHeadersTooLong:
		sc.logger.Warn("head too long", zap.Error(err))
		writeMinimalResponse(t, StatusHeaderFieldsTooLarge)
	case errors.KindTooManyHeaders:
		sc.logger.Warn("too many headers", zap.Error(err))
		writeMinimalResponse(t, StatusHeaderFieldsTooLarge)
	case errors.KindMalformedHeader, errors.KindInvalidPath, errors.KindUnrecognizedMethod:
		sc.logger.Warn("malformed request", zap.Error(err))
		writeMinimalResponse(t, StatusBadRequest)
	case errors.KindHostHeaderMissing:
		sc.logger.Warn("host header missing", zap.Error(err))
		writeMinimalResponse(t, StatusBadRequest)
	case errors.KindUnsupportedVersion:
		sc.logger.Warn("unsupported http version", zap.Error(err))
		writeMinimalResponse(t, StatusHTTPVersionNotSupported)
	default:
		sc.logger.Error("transport error", zap.Error(err))
	}
	return err
}

// writeMinimalResponse emits a bare error response before a protocol-level
// close. Write failures are irrelevant; the connection is closing anyway.
func writeMinimalResponse(t transport.Transport, status Status) {
	head := "HTTP/1.1 " + status.String() + "\r\n" +
		"Connection: close\r\nContent-Length: 0\r\n\r\n"
	_, _ = t.Write([]byte(head))
}
