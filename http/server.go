package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/freekieb7/quarry/dump"
	"github.com/freekieb7/quarry/filesystem"
	"github.com/freekieb7/quarry/metrics"
	"github.com/freekieb7/quarry/websocket"
	"github.com/google/uuid"
)

var ErrServerClosed = errors.New("http: server closed")

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64

	maxAcceptBackoff = time.Second
)

type Config struct {
	Addr             string
	Mode             ServerMode
	Workers          int
	QueueSize        int
	KeepAlive        bool
	KeepAliveTimeout time.Duration
	// Greeting is sent as a text frame right after a WebSocket upgrade.
	Greeting   string
	Filesystem filesystem.Filesystem
	Sink       dump.Sink
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Server struct {
	addr             string
	keepAlive        bool
	keepAliveTimeout time.Duration
	greeting         string

	responder Responder
	pool      *WorkerPool
	logger    *slog.Logger
	metrics   *metrics.Metrics

	baseCtx  context.Context
	mu       sync.Mutex
	listener net.Listener
	ready    atomic.Bool
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = DefaultKeepAliveTimeout
	}

	responder, err := NewResponder(cfg.Mode, ResponderConfig{
		Filesystem: cfg.Filesystem,
		Sink:       cfg.Sink,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	pool, err := NewWorkerPool(cfg.Workers, cfg.QueueSize, cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Server{
		addr:             cfg.Addr,
		keepAlive:        cfg.KeepAlive,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		greeting:         cfg.Greeting,
		responder:        responder,
		pool:             pool,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		baseCtx:          context.Background(),
	}, nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp4", s.addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener and hands each one to the worker
// pool. It returns ErrServerClosed once ctx is done or Shutdown is called.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	s.ready.Store(true)
	defer s.ready.Store(false)

	s.logger.Info("listening", "addr", listener.Addr().String())

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			if isTemporaryAcceptError(err) {
				backoff = max(5*time.Millisecond, min(backoff*2, maxAcceptBackoff))
				s.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				s.metrics.AcceptRetry()
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ErrServerClosed
				}
				continue
			}

			return fmt.Errorf("http: accept: %w", err)
		}
		backoff = 0

		if err := s.pool.Submit(ctx, func() { s.ServeConn(conn) }); err != nil {
			conn.Close()
			if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
				return ErrServerClosed
			}
			return err
		}
	}
}

// isTemporaryAcceptError reports whether Accept may succeed later: the
// process ran out of descriptors or buffers, or a client reset before the
// handshake finished.
func isTemporaryAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}

// Ready reports whether the server is accepting connections.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

type connState uint8

const (
	stateIdle connState = iota
	stateReading
	stateParsing
	stateResponding
	stateClosed
)

func (cs connState) String() string {
	switch cs {
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateParsing:
		return "parsing"
	case stateResponding:
		return "responding"
	}
	return "closed"
}

// ServeConn runs the keep-alive loop for one connection and closes it when
// done. After a successful upgrade the connection stays in the WebSocket
// frame loop until it ends.
func (s *Server) ServeConn(conn net.Conn) {
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	logger := s.logger.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	logger.Debug("connection opened")

	state := stateIdle
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("closing connection error", "error", err)
		}
		logger.Debug("connection closed", "state", state.String())
	}()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	keepAlive := s.keepAliveHeader()
	buf := make([]byte, ReadBufferSize)
	lastActivity := time.Now()

	for {
		state = stateReading
		if err := conn.SetReadDeadline(lastActivity.Add(s.keepAliveTimeout)); err != nil {
			logger.Error("setting read deadline failed", "error", err)
			return
		}

		n, err := conn.Read(buf)
		if n == 0 {
			var netErr net.Error
			switch {
			case err == nil, errors.Is(err, io.EOF):
				state = stateResponding
				s.write(conn, logger, ServerError(0))
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("keep-alive timeout")
			default:
				logger.Error("reading request failed", "error", err)
			}
			state = stateClosed
			return
		}
		raw := buf[:n]

		state = stateParsing
		req, err := ParseRequest(raw)
		if err != nil {
			s.metrics.ParseError()
			logger.Warn("parsing request failed", "error", err)

			state = stateResponding
			if !s.write(conn, logger, ServerError(keepAlive)) || !s.keepAlive {
				state = stateClosed
				return
			}
			lastActivity = time.Now()
			state = stateIdle
			continue
		}

		state = stateResponding
		if IsUpgradeRequest(req) {
			if s.upgrade(ctx, conn, logger, req, keepAlive) {
				state = stateClosed
				return
			}
		} else if !s.respond(ctx, conn, logger, raw, req, keepAlive) {
			state = stateClosed
			return
		}

		if !s.keepAlive {
			state = stateClosed
			return
		}
		lastActivity = time.Now()
		state = stateIdle
	}
}

// keepAliveHeader is the duration announced to clients, zero when the
// connection closes after every response.
func (s *Server) keepAliveHeader() time.Duration {
	if !s.keepAlive {
		return 0
	}
	return s.keepAliveTimeout
}

func (s *Server) respond(ctx context.Context, conn net.Conn, logger *slog.Logger, raw []byte, req *Request, keepAlive time.Duration) bool {
	started := time.Now()
	spanCtx, span := startRequestSpan(ctx, "http.request", req)

	resp := s.responder.Respond(spanCtx, raw, req, keepAlive)
	code := resp.Status()
	ok := s.write(conn, logger, resp)

	endRequestSpan(spanCtx, span, code, started)
	logger.Debug("request handled", "method", req.Method.String(), "path", req.Path, "status", code)
	return ok
}

// upgrade negotiates the WebSocket handshake and runs the frame loop. It
// reports whether the connection is finished.
func (s *Server) upgrade(ctx context.Context, conn net.Conn, logger *slog.Logger, req *Request, keepAlive time.Duration) bool {
	started := time.Now()
	spanCtx, span := startRequestSpan(ctx, "websocket.upgrade", req)

	resp, err := Negotiate(req, keepAlive)
	if err != nil {
		logger.Warn("websocket handshake failed", "error", err)
		errResp := ServerError(keepAlive)
		ok := s.write(conn, logger, errResp)
		endRequestSpan(spanCtx, span, errResp.Status(), started)
		return !ok || !s.keepAlive
	}

	ok := s.write(conn, logger, resp)
	endRequestSpan(spanCtx, span, resp.Status(), started)
	if !ok {
		return true
	}

	s.metrics.Upgrade()
	logger.Debug("connection upgraded to websocket")

	if err := conn.SetDeadline(time.Time{}); err != nil {
		logger.Error("clearing deadline failed", "error", err)
		return true
	}

	err = websocket.Serve(ctx, conn, s.responder, websocket.Options{
		IdleTimeout: s.keepAliveTimeout,
		KeepAlive:   s.keepAlive,
		Greeting:    s.greeting,
		Logger:      logger,
		Metrics:     s.metrics,
	})
	if err != nil && !websocket.IsProtocolViolation(err) {
		logger.Error("websocket connection failed", "error", err)
	}

	return true
}

func (s *Server) write(conn net.Conn, logger *slog.Logger, resp *Response) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(s.keepAliveTimeout)); err != nil {
		logger.Error("setting write deadline failed", "error", err)
		return false
	}

	code := resp.Status()
	if _, err := resp.WriteTo(conn); err != nil {
		logger.Debug("writing response failed", "status", code, "error", err)
		return false
	}

	s.metrics.Response(code)
	return true
}

// Shutdown stops accepting connections and waits until every queued and
// running connection has finished or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("closing listener failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
