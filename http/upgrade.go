package http

import (
	"errors"
	"time"

	"github.com/freekieb7/quarry/websocket"
)

var ErrMissingWebSocketKey = errors.New("http: missing Sec-WebSocket-Key")

// IsUpgradeRequest reports whether req asks for a version 13 WebSocket.
func IsUpgradeRequest(req *Request) bool {
	connection, ok := req.Headers.Get("Connection")
	if !ok || !hasToken(connection, "upgrade") {
		return false
	}

	version, ok := req.Headers.Get("Sec-WebSocket-Version")
	return ok && version == "13"
}

// Negotiate builds the 101 response for an upgrade request. The
// connection header of the default set is replaced by the upgrade one.
func Negotiate(req *Request, keepAlive time.Duration) (*Response, error) {
	key, ok := req.Headers.Get("Sec-WebSocket-Key")
	if !ok || key == "" {
		return nil, ErrMissingWebSocketKey
	}

	resp := NewResponse().SetStatus(StatusSwitchingProtocols)
	resp.addBaseHeaders()
	if keepAlive > 0 {
		resp.AddHeader("Keep-Alive", keepAlive.String())
	}

	return resp.
		AddHeader("Sec-WebSocket-Accept", websocket.AcceptKey(key)).
		AddHeader("Connection", "Upgrade").
		AddHeader("Upgrade", "websocket"), nil
}
