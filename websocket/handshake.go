package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

// GUID is appended to the client key before hashing (RFC 6455 section 1.3).
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for a Sec-WebSocket-Key.
func AcceptKey(key string) string {
	hash := sha1.Sum([]byte(strings.TrimSpace(key) + GUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}
