package http

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/freekieb7/quarry/filesystem"
	"github.com/freekieb7/quarry/test"
)

func parse(t *testing.T, msg string) *Request {
	t.Helper()

	req, err := ParseRequest([]byte(msg))
	test.NoError(t, err)
	return req
}

func composed(t *testing.T, resp *Response) (uint16, string) {
	t.Helper()

	out := string(resp.Bytes())
	_, body, _ := strings.Cut(out, "\r\n\r\n")
	return resp.Status(), body
}

func TestParseServerMode(t *testing.T) {
	for _, m := range []ServerMode{ModeDebug, ModeServeFile, ModeDumpRequest, ModeProxy} {
		parsed, err := ParseServerMode(m.String())
		test.NoError(t, err)
		test.Equal(t, m, parsed)
	}

	_, err := ParseServerMode("echo")
	test.ErrorIs(t, err, ErrUnknownMode)
}

func TestNewResponderProxy(t *testing.T) {
	_, err := NewResponder(ModeProxy, ResponderConfig{})
	test.ErrorIs(t, err, ErrProxyNotImplemented)
}

func TestDebugResponder(t *testing.T) {
	responder, err := NewResponder(ModeDebug, ResponderConfig{})
	test.NoError(t, err)

	req := parse(t, "GET / HTTP/1.1\r\nHost: localhost\r\nAccept: <b>\r\n\r\n")
	code, body := composed(t, responder.Respond(context.Background(), nil, req, DefaultKeepAliveTimeout))

	test.Equal(t, StatusOK, code)
	expected := "<html>" +
		"Header Name: Accept <br/>Header Content: &lt;b&gt; <br/><br/>" +
		"Header Name: Host <br/>Header Content: localhost <br/><br/>" +
		"</html>"
	test.Equal(t, expected, body)
}

type recordingSink struct {
	stored [][]byte
	err    error
}

func (s *recordingSink) Store(ctx context.Context, raw []byte) error {
	s.stored = append(s.stored, append([]byte(nil), raw...))
	return s.err
}

func TestDumpResponder(t *testing.T) {
	sink := &recordingSink{}
	responder, err := NewResponder(ModeDumpRequest, ResponderConfig{Sink: sink})
	test.NoError(t, err)

	raw := []byte("POST /dump HTTP/1.1\r\nX-Test: yes\r\n\r\n")
	code, body := composed(t, responder.Respond(context.Background(), raw, parse(t, string(raw)), 0))

	test.Equal(t, StatusOK, code)
	if !strings.Contains(body, "Header Name: X-Test") {
		t.Errorf("Expected header listing, got %q", body)
	}
	if len(sink.stored) != 1 || string(sink.stored[0]) != string(raw) {
		t.Errorf("Expected raw request to be stored, got %q", sink.stored)
	}
}

func TestDumpResponderSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	responder, err := NewResponder(ModeDumpRequest, ResponderConfig{Sink: sink})
	test.NoError(t, err)

	code, _ := composed(t, responder.Respond(context.Background(), []byte("GET / HTTP/1.1\r\n\r\n"), parse(t, "GET / HTTP/1.1\r\n\r\n"), 0))
	test.Equal(t, StatusOK, code)
}

func TestServeFileResponder(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hello</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	responder, err := NewResponder(ModeServeFile, ResponderConfig{Filesystem: filesystem.NewLocalFileSystem(root)})
	test.NoError(t, err)

	tests := []struct {
		name string
		line string
		code uint16
		body string
	}{
		{"existing file", "GET /index.html HTTP/1.1", StatusOK, "<h1>hello</h1>"},
		{"parent traversal", "GET /../etc/passwd HTTP/1.1", StatusForbidden, "Forbidden"},
		{"dot segment", "GET /./secret HTTP/1.1", StatusForbidden, "Forbidden"},
		{"missing file", "GET /missing.html HTTP/1.1", StatusNotFound, "Not Found"},
		{"directory", "GET /docs HTTP/1.1", StatusNotFound, "Not Found"},
		{"binary file", "GET /blob.bin HTTP/1.1", StatusInternalServerError, "server error"},
		{"post", "POST /index.html HTTP/1.1", StatusMethodNotAllowed, "Method Not Allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parse(t, tt.line+"\r\n\r\n")
			resp := responder.Respond(context.Background(), nil, req, DefaultKeepAliveTimeout)

			out := string(resp.Bytes())
			test.Equal(t, tt.code, resp.Status())

			_, body, _ := strings.Cut(out, "\r\n\r\n")
			test.Equal(t, tt.body, body)
			if !strings.Contains(out, "Content-Length: "+strconv.Itoa(len(tt.body))+"\r\n") {
				t.Errorf("Expected Content-Length %d, got %q", len(tt.body), out)
			}
		})
	}
}
