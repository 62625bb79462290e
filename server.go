package rawserve

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WhileEndless/go-rawserve/pkg/http1"
	"github.com/WhileEndless/go-rawserve/pkg/runtime"
	"github.com/WhileEndless/go-rawserve/pkg/transport"
)

// Options configures a Server. The zero value is usable.
type Options struct {
	// Config tunes the protocol engine.
	Config http1.Config

	// Logger receives engine and server logs. Nil means no logging.
	Logger *zap.Logger

	// Runtime schedules per-connection tasks and timers. Nil means
	// goroutines and std timers.
	Runtime runtime.Runtime

	// ShutdownGrace bounds how long Shutdown waits for in-flight requests.
	// Zero means unbounded.
	ShutdownGrace time.Duration
}

// Server drives the engine over accepted connections: one task per
// transport, handler init before the first request, panic isolation per
// connection, and graceful shutdown.
type Server struct {
	handler      Handler
	serverConfig *http1.ServerConfig
	rt           runtime.Runtime
	logger       *zap.Logger
	grace        time.Duration

	initOnce sync.Once

	mu        sync.Mutex
	listeners []net.Listener
}

// NewServer builds a Server around handler.
func NewServer(handler Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := opts.Runtime
	if rt == nil {
		rt = runtime.Default()
	}
	return &Server{
		handler:      handler,
		serverConfig: http1.NewServerConfig(opts.Config, logger),
		rt:           rt,
		logger:       logger,
		grace:        opts.ShutdownGrace,
	}
}

// ServerConfig returns the shared engine configuration.
func (s *Server) ServerConfig() *http1.ServerConfig { return s.serverConfig }

// Serve accepts connections from ln until the listener closes or shutdown
// begins. It is safe to call from multiple goroutines with distinct
// listeners.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.initialize(ln.Addr())

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		select {
		case <-s.serverConfig.Shutdown().Signal():
			ln.Close()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.serverConfig.Shutdown().IsShuttingDown() {
					return nil
				}
				return err
			}
			t := transport.FromConn(conn)
			s.rt.Spawn(func() {
				s.ServeTransport(context.Background(), t, false)
			})
		}
	})

	return g.Wait()
}

// initialize runs handler Init exactly once across all listeners.
func (s *Server) initialize(addr net.Addr) {
	s.initOnce.Do(func() {
		info := &Info{
			description: "rawserve (" + addr.String() + ")",
			sharedState: s.serverConfig.SharedState(),
		}
		if tcp, ok := addr.(*net.TCPAddr); ok {
			info.tcpAddr = tcp
		}
		initHandler(context.Background(), s.handler, info)
		s.logger.Debug("handler initialized", zap.String("handler", Name(s.handler)))
	})
}

// ServeTransport performs http on one transport through the full pipeline:
// per-request handler run, reverse-order before-send, response write, and
// keep-alive or upgrade handoff. secure marks conns on this transport as
// encrypted; the accept-loop owner decides that.
//
// Use it directly for transports that do not come from a net.Listener.
func (s *Server) ServeTransport(ctx context.Context, t transport.Transport, secure bool) {
	s.initializeDirect()

	upgrade, err := s.serverConfig.Run(t, func(inner *http1.Conn) *http1.Conn {
		inner.SetSecure(secure)
		conn := WrapConn(inner)
		s.runHandler(ctx, conn)
		return inner
	})
	if err != nil {
		// the engine has already logged and closed per the error kind
		return
	}
	if upgrade == nil {
		return
	}

	if !hasUpgrade(s.handler, upgrade) {
		s.logger.Error("101 response with no handler claiming the upgrade",
			zap.String("protocol", upgrade.Protocol))
		_ = upgrade.Transport.Close()
		return
	}
	serveUpgrade(ctx, s.handler, upgrade)
}

// initializeDirect covers direct ServeTransport use, where no listener
// address is available.
func (s *Server) initializeDirect() {
	s.initOnce.Do(func() {
		info := &Info{
			description: "rawserve",
			sharedState: s.serverConfig.SharedState(),
		}
		initHandler(context.Background(), s.handler, info)
	})
}

// runHandler runs the handler pipeline for one conn with a panic boundary:
// a panicking Run produces a bodiless 500, and BeforeSend still runs.
func (s *Server) runHandler(ctx context.Context, conn *Conn) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panicked", zap.Any("panic", r),
					zap.String("path", conn.Path()))
				conn.TakeBody()
				conn.SetStatus(http1.StatusInternalServerError)
			}
		}()
		s.handler.Run(ctx, conn)
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("before-send panicked", zap.Any("panic", r),
					zap.String("path", conn.Path()))
				if _, ok := conn.Status(); !ok {
					conn.SetStatus(http1.StatusInternalServerError)
				}
			}
		}()
		beforeSend(ctx, s.handler, conn)
	}()
}

// Shutdown begins graceful shutdown: listeners stop accepting, keep-alive
// transports stop taking new requests, and in-flight requests run to
// completion bounded by the configured grace.
func (s *Server) Shutdown(ctx context.Context) error {
	completion := s.serverConfig.ShutDown()

	if s.grace > 0 {
		graceCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.rt.Spawn(func() {
			if err := s.rt.Sleep(graceCtx, s.grace); err == nil {
				cancel()
			}
		})
		ctx = graceCtx
	}
	err := completion.Wait(ctx)
	if err != nil {
		s.logger.Warn("shutdown grace expired with requests in flight", zap.Error(err))
	}
	return err
}

// Close immediately closes every listener, aggregating errors.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, ln := range s.listeners {
		err = multierr.Append(err, ln.Close())
	}
	s.listeners = nil
	return err
}
