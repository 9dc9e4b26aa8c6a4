package http

import (
	"strings"
	"time"
)

const (
	ServerName              = "quarry"
	ReadBufferSize          = 2048
	DefaultKeepAliveTimeout = 7 * time.Second
)

var (
	protocolHttp11 = []byte("HTTP/1.1")
	protocolPrefix = []byte("HTTP/")
	crlf           = []byte("\r\n")
)

// Headers maps header names, exactly as received, to their value. A name
// seen twice keeps the last value.
type Headers map[string]string

// Get looks a header up by exact name first and falls back to a case
// insensitive match.
func (h Headers) Get(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}

	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}

	return "", false
}

// hasToken reports whether a comma separated header value contains token,
// ignoring case.
func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
