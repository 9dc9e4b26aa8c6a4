package http

import (
	"bytes"
	"io"
	"strconv"
	"time"
)

const serverErrorBody = "server error"

// Response is a draft that is filled in call order and consumed by Bytes.
// Setting the status or body twice, or touching the draft after Bytes, is
// a programming error and panics.
type Response struct {
	code      uint16
	statusSet bool
	headers   bytes.Buffer
	body      []byte
	bodySet   bool
	finalized bool
}

func NewResponse() *Response {
	return &Response{}
}

func (resp *Response) SetStatus(code uint16) *Response {
	resp.mustBeOpen()
	if resp.statusSet {
		panic("http: response status set twice")
	}

	resp.code = code
	resp.statusSet = true
	return resp
}

// Status returns the status code, 200 when none was set.
func (resp *Response) Status() uint16 {
	if !resp.statusSet {
		return StatusOK
	}
	return resp.code
}

func (resp *Response) AddHeader(name, value string) *Response {
	resp.mustBeOpen()

	resp.headers.WriteString(name)
	resp.headers.WriteString(": ")
	resp.headers.WriteString(value)
	resp.headers.Write(crlf)
	return resp
}

// AddDefaultHeaders appends the headers every response carries. A zero
// keepAlive announces that the connection will be closed.
func (resp *Response) AddDefaultHeaders(keepAlive time.Duration) *Response {
	resp.addBaseHeaders()
	if keepAlive > 0 {
		resp.AddHeader("Keep-Alive", keepAlive.String())
	} else {
		resp.AddHeader("Connection", "close")
	}
	return resp
}

func (resp *Response) addBaseHeaders() {
	resp.AddHeader("Server", ServerName)
	resp.AddHeader("Content-Type", "text/html")
	resp.AddHeader("Accept-Ranges", "bytes")
	resp.AddHeader("Cache-Control", "no-cache")
}

func (resp *Response) SetBody(body []byte) *Response {
	resp.mustBeOpen()
	if resp.bodySet {
		panic("http: response body set twice")
	}

	resp.body = body
	resp.bodySet = true
	return resp
}

// Bytes serializes the draft: status line, headers, Content-Length, the
// blank line and the body. Informational and 204 responses carry neither
// Content-Length nor a body.
func (resp *Response) Bytes() []byte {
	resp.mustBeOpen()
	resp.finalized = true

	code := resp.Status()
	hasBody := bodyAllowed(code)

	var out bytes.Buffer
	out.Grow(64 + resp.headers.Len() + len(resp.body))

	out.Write(protocolHttp11)
	out.WriteByte(' ')
	out.WriteString(strconv.Itoa(int(code)))
	out.WriteByte(' ')
	out.WriteString(StatusText(code))
	out.Write(crlf)

	out.Write(resp.headers.Bytes())
	if hasBody {
		out.WriteString("Content-Length: ")
		out.WriteString(strconv.Itoa(len(resp.body)))
		out.Write(crlf)
	}
	out.Write(crlf)

	if hasBody {
		out.Write(resp.body)
	}
	return out.Bytes()
}

// bodyAllowed reports whether a response with this code may carry a body
// and a Content-Length header (RFC 9110, 8.6).
func bodyAllowed(code uint16) bool {
	return code >= 200 && code != StatusNoContent
}

func (resp *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(resp.Bytes())
	return int64(n), err
}

func (resp *Response) mustBeOpen() {
	if resp.finalized {
		panic("http: response used after serialization")
	}
}

// ServerError is the generic response for requests that could not be
// handled.
func ServerError(keepAlive time.Duration) *Response {
	return NewResponse().
		SetStatus(StatusInternalServerError).
		AddDefaultHeaders(keepAlive).
		SetBody([]byte(serverErrorBody))
}
