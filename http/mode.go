package http

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/freekieb7/quarry/dump"
	"github.com/freekieb7/quarry/filesystem"
	"github.com/freekieb7/quarry/websocket"
)

var (
	ErrProxyNotImplemented = errors.New("http: proxy mode is not implemented")
	ErrUnknownMode         = errors.New("http: unknown server mode")
)

type ServerMode uint8

const (
	ModeDebug ServerMode = iota
	ModeServeFile
	ModeDumpRequest
	ModeProxy
)

func (m ServerMode) String() string {
	switch m {
	case ModeDebug:
		return "debug"
	case ModeServeFile:
		return "serve-file"
	case ModeDumpRequest:
		return "dump-request"
	case ModeProxy:
		return "proxy"
	}
	return "unknown"
}

func ParseServerMode(name string) (ServerMode, error) {
	for _, m := range []ServerMode{ModeDebug, ModeServeFile, ModeDumpRequest, ModeProxy} {
		if strings.EqualFold(name, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// Responder composes the response for one parsed request and handles the
// messages of connections upgraded while it is active.
type Responder interface {
	websocket.Handler
	Respond(ctx context.Context, raw []byte, req *Request, keepAlive time.Duration) *Response
}

type ResponderConfig struct {
	// Filesystem is the document root for ModeServeFile.
	Filesystem filesystem.Filesystem
	// Sink receives raw requests in ModeDumpRequest.
	Sink   dump.Sink
	Logger *slog.Logger
}

// NewResponder selects the responder for mode once, at startup.
func NewResponder(mode ServerMode, cfg ResponderConfig) (Responder, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch mode {
	case ModeDebug:
		return debugResponder{}, nil
	case ModeServeFile:
		if cfg.Filesystem == nil {
			cfg.Filesystem = filesystem.NewLocalFileSystem(".")
		}
		return serveFileResponder{fs: cfg.Filesystem, logger: cfg.Logger}, nil
	case ModeDumpRequest:
		if cfg.Sink == nil {
			cfg.Sink = dump.NewFileSink(dump.DefaultPath)
		}
		return dumpResponder{sink: cfg.Sink, logger: cfg.Logger}, nil
	case ModeProxy:
		return nil, ErrProxyNotImplemented
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
}

type debugResponder struct{}

func (debugResponder) Respond(ctx context.Context, raw []byte, req *Request, keepAlive time.Duration) *Response {
	return headerListing(req, keepAlive)
}

func (debugResponder) HandleMessage(ctx context.Context, conn *websocket.Conn, opcode websocket.Opcode, payload []byte) error {
	return websocket.Echo(ctx, conn, opcode, payload)
}

// headerListing renders every request header as HTML, sorted by name.
func headerListing(req *Request, keepAlive time.Duration) *Response {
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var body strings.Builder
	body.WriteString("<html>")
	for _, name := range names {
		fmt.Fprintf(&body, "Header Name: %s <br/>Header Content: %s <br/><br/>",
			html.EscapeString(name), html.EscapeString(req.Headers[name]))
	}
	body.WriteString("</html>")

	return NewResponse().
		SetStatus(StatusOK).
		AddDefaultHeaders(keepAlive).
		SetBody([]byte(body.String()))
}

type dumpResponder struct {
	sink   dump.Sink
	logger *slog.Logger
}

func (d dumpResponder) Respond(ctx context.Context, raw []byte, req *Request, keepAlive time.Duration) *Response {
	if err := d.sink.Store(ctx, raw); err != nil {
		d.logger.Error("storing request dump failed", "error", err)
	}
	return headerListing(req, keepAlive)
}

func (d dumpResponder) HandleMessage(ctx context.Context, conn *websocket.Conn, opcode websocket.Opcode, payload []byte) error {
	if err := d.sink.Store(ctx, payload); err != nil {
		d.logger.Error("storing message dump failed", "error", err)
	}
	return conn.WriteMessage(opcode, payload)
}

type serveFileResponder struct {
	fs     filesystem.Filesystem
	logger *slog.Logger
}

func (s serveFileResponder) Respond(ctx context.Context, raw []byte, req *Request, keepAlive time.Duration) *Response {
	if req.Method != MethodGet {
		return errorResponse(StatusMethodNotAllowed, keepAlive)
	}

	exists, err := s.fs.FileExists(req.Path)
	switch {
	case errors.Is(err, filesystem.ErrForbiddenPath), errors.Is(err, filesystem.ErrInvalidPath):
		return errorResponse(StatusForbidden, keepAlive)
	case err != nil, !exists:
		return errorResponse(StatusNotFound, keepAlive)
	}

	content, err := s.fs.ReadFile(req.Path)
	switch {
	case errors.Is(err, filesystem.ErrFileNotFound):
		return errorResponse(StatusNotFound, keepAlive)
	case err != nil:
		s.logger.Error("reading file failed", "path", req.Path, "error", err)
		return ServerError(keepAlive)
	}

	return NewResponse().
		SetStatus(StatusOK).
		AddDefaultHeaders(keepAlive).
		SetBody(content)
}

func (serveFileResponder) HandleMessage(ctx context.Context, conn *websocket.Conn, opcode websocket.Opcode, payload []byte) error {
	return websocket.Echo(ctx, conn, opcode, payload)
}

func errorResponse(code uint16, keepAlive time.Duration) *Response {
	return NewResponse().
		SetStatus(code).
		AddDefaultHeaders(keepAlive).
		SetBody([]byte(StatusText(code)))
}
