package http

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyRequest         = errors.New("http: empty request")
	ErrMalformedRequestLine = errors.New("http: malformed request line")
	ErrInvalidVersion       = errors.New("http: invalid protocol version")
)

// IsParseError reports whether err came from ParseRequest.
func IsParseError(err error) bool {
	return errors.Is(err, ErrEmptyRequest) ||
		errors.Is(err, ErrMalformedRequestLine) ||
		errors.Is(err, ErrInvalidVersion)
}

const formContentType = "application/x-www-form-urlencoded"

type Method uint8

const (
	MethodInvalid Method = iota
	MethodGet
	MethodPost
	MethodOptions
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodConnect
)

var methods = map[string]Method{
	"GET":     MethodGet,
	"POST":    MethodPost,
	"OPTIONS": MethodOptions,
	"HEAD":    MethodHead,
	"PUT":     MethodPut,
	"DELETE":  MethodDelete,
	"TRACE":   MethodTrace,
	"CONNECT": MethodConnect,
}

// ParseMethod maps a method token to a Method. Unknown tokens are
// MethodInvalid, not an error.
func ParseMethod(token string) Method {
	if m, ok := methods[token]; ok {
		return m
	}
	return MethodInvalid
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodOptions:
		return "OPTIONS"
	case MethodHead:
		return "HEAD"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodTrace:
		return "TRACE"
	case MethodConnect:
		return "CONNECT"
	}
	return "INVALID"
}

// Request is the result of parsing the bytes of a single read.
type Request struct {
	Version float64
	Method  Method
	Path    string
	Headers Headers
	// Body is only filled for form encoded POST requests.
	Body string
}

// lineScanner walks a buffer line by line without modifying it. Lines end
// in "\n" with an optional preceding "\r".
type lineScanner struct {
	buf []byte
	pos int
}

func (s *lineScanner) next() ([]byte, bool) {
	if s.pos >= len(s.buf) {
		return nil, false
	}

	var line []byte
	if end := bytes.IndexByte(s.buf[s.pos:], '\n'); end >= 0 {
		line = s.buf[s.pos : s.pos+end]
		s.pos += end + 1
	} else {
		line = s.buf[s.pos:]
		s.pos = len(s.buf)
	}

	return bytes.TrimSuffix(line, []byte("\r")), true
}

func (s *lineScanner) rest() []byte {
	return s.buf[s.pos:]
}

// ParseRequest parses one request from buf. Requests split over several
// reads are not reassembled.
func ParseRequest(buf []byte) (*Request, error) {
	scanner := lineScanner{buf: buf}

	line, ok := scanner.next()
	if !ok {
		return nil, ErrEmptyRequest
	}

	req := &Request{Headers: Headers{}}
	if err := req.parseRequestLine(line); err != nil {
		return nil, err
	}

	blankLine := false
	for {
		line, ok := scanner.next()
		if !ok {
			break
		}
		if len(line) == 0 {
			blankLine = true
			break
		}

		name, value, _ := bytes.Cut(line, []byte(":"))
		req.Headers[string(bytes.TrimSpace(name))] = string(bytes.TrimSpace(value))
	}

	if blankLine && req.Method == MethodPost && req.isForm() {
		req.Body = string(scanner.rest())
	}

	return req, nil
}

// parseRequestLine splits "METHOD PATH HTTP/VERSION". The method ends at
// the first slash and the path ends where the protocol starts.
func (req *Request) parseRequestLine(line []byte) error {
	slash := bytes.IndexByte(line, '/')
	if slash < 0 {
		return fmt.Errorf("%w: no path in %q", ErrMalformedRequestLine, line)
	}
	req.Method = ParseMethod(string(bytes.TrimSpace(line[:slash])))

	rest := line[slash:]
	proto := bytes.LastIndex(rest, protocolPrefix)
	if proto < 0 {
		return fmt.Errorf("%w: no protocol in %q", ErrMalformedRequestLine, line)
	}
	req.Path = string(bytes.TrimSpace(rest[:proto]))
	if req.Path == "" {
		return fmt.Errorf("%w: empty path in %q", ErrMalformedRequestLine, line)
	}

	version := string(bytes.TrimSpace(rest[proto+len(protocolPrefix):]))
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	req.Version = v

	return nil
}

func (req *Request) isForm() bool {
	contentType, ok := req.Headers.Get("Content-Type")
	if !ok {
		return false
	}

	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), formContentType)
}
