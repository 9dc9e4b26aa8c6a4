// Package websocket implements the RFC 6455 single-frame codec and the
// server side frame loop that takes over a connection after an upgrade.
package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode is the decoded meaning of the 4-bit opcode field.
type Opcode uint8

const (
	OpcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	OpcodeNonControl // reserved 0x3-0x7
	OpcodeConnectionClose
	OpcodePing
	OpcodePong
	OpcodeFutureControl // reserved 0xB-0xF
	OpcodeInvalid
)

const (
	finBit  byte = 0x80
	rsv1Bit byte = 0x40
	rsv2Bit byte = 0x20
	rsv3Bit byte = 0x10
	opMask  byte = 0x0f
	maskBit byte = 0x80
	lenMask byte = 0x7f

	len16Marker = 126
	len64Marker = 127
)

// Size limits. Frames above MaxPayloadSize are rejected before any
// payload is buffered.
const (
	MaxControlPayloadSize = 125
	MaxPayloadSize        = 16 * 1024 * 1024
)

var (
	ErrIncompleteFrame     = errors.New("websocket: incomplete frame")
	ErrFrameLengthMismatch = errors.New("websocket: payload length does not match header")
	ErrFrameTooLarge       = errors.New("websocket: frame too large")
	ErrInvalidLength       = errors.New("websocket: invalid payload length encoding")
	ErrUnmaskedFrame       = errors.New("websocket: client frame is not masked")
	ErrMaskedServerFrame   = errors.New("websocket: server frames must not be masked")
	ErrReservedBits        = errors.New("websocket: reserved bits set")
	ErrUnsupportedOpcode   = errors.New("websocket: unsupported opcode")
	ErrFragmentedMessage   = errors.New("websocket: fragmented messages are not supported")
	ErrControlFrame        = errors.New("websocket: invalid control frame")
	ErrInvalidCloseCode    = errors.New("websocket: invalid close code")
)

// IsProtocolViolation reports whether err means the peer broke the framing
// rules. Such connections are closed; only a bad close frame is answered.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrUnmaskedFrame) ||
		errors.Is(err, ErrFrameLengthMismatch) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrReservedBits) ||
		errors.Is(err, ErrUnsupportedOpcode) ||
		errors.Is(err, ErrControlFrame) ||
		errors.Is(err, ErrInvalidCloseCode)
}

func opcodeFromCode(code byte) Opcode {
	switch {
	case code == 0x0:
		return OpcodeContinuation
	case code == 0x1:
		return OpcodeText
	case code == 0x2:
		return OpcodeBinary
	case code >= 0x3 && code <= 0x7:
		return OpcodeNonControl
	case code == 0x8:
		return OpcodeConnectionClose
	case code == 0x9:
		return OpcodePing
	case code == 0xA:
		return OpcodePong
	case code >= 0xB && code <= 0xF:
		return OpcodeFutureControl
	}
	return OpcodeInvalid
}

// Code returns the wire value of the opcode. Reserved and invalid opcodes
// have no single wire value and report false.
func (o Opcode) Code() (byte, bool) {
	switch o {
	case OpcodeContinuation:
		return 0x0, true
	case OpcodeText:
		return 0x1, true
	case OpcodeBinary:
		return 0x2, true
	case OpcodeConnectionClose:
		return 0x8, true
	case OpcodePing:
		return 0x9, true
	case OpcodePong:
		return 0xA, true
	}
	return 0, false
}

func (o Opcode) IsControl() bool {
	return o == OpcodeConnectionClose || o == OpcodePing || o == OpcodePong || o == OpcodeFutureControl
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeNonControl:
		return "non-control"
	case OpcodeConnectionClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	case OpcodeFutureControl:
		return "future-control"
	}
	return "invalid"
}

// Frame is a single WebSocket frame. Payload is always unmasked.
type Frame struct {
	Fin           bool
	Rsv1          bool
	Rsv2          bool
	Rsv3          bool
	Opcode        Opcode
	Masked        bool
	PayloadLength uint64
	MaskKey       [4]byte
	Payload       []byte
}

// NewFrame returns a final, unmasked frame ready to be sent by the server.
func NewFrame(opcode Opcode, payload []byte) *Frame {
	return &Frame{
		Fin:           true,
		Opcode:        opcode,
		PayloadLength: uint64(len(payload)),
		Payload:       payload,
	}
}

// parseHeader decodes everything up to the payload and returns the header
// length in bytes.
func parseHeader(b []byte, frame *Frame) (int, error) {
	if len(b) < 2 {
		return 0, ErrIncompleteFrame
	}

	frame.Fin = b[0]&finBit != 0
	frame.Rsv1 = b[0]&rsv1Bit != 0
	frame.Rsv2 = b[0]&rsv2Bit != 0
	frame.Rsv3 = b[0]&rsv3Bit != 0
	frame.Opcode = opcodeFromCode(b[0] & opMask)
	frame.Masked = b[1]&maskBit != 0

	pos := 2
	switch base := b[1] & lenMask; base {
	case len16Marker:
		if len(b) < pos+2 {
			return 0, ErrIncompleteFrame
		}
		frame.PayloadLength = uint64(binary.BigEndian.Uint16(b[pos:]))
		pos += 2
	case len64Marker:
		if len(b) < pos+8 {
			return 0, ErrIncompleteFrame
		}
		frame.PayloadLength = binary.BigEndian.Uint64(b[pos:])
		if frame.PayloadLength>>63 != 0 {
			return 0, ErrInvalidLength
		}
		pos += 8
	default:
		frame.PayloadLength = uint64(base)
	}

	if frame.Masked {
		if len(b) < pos+4 {
			return 0, ErrIncompleteFrame
		}
		copy(frame.MaskKey[:], b[pos:pos+4])
		pos += 4
	}

	return pos, nil
}

// FrameSize returns the total size of the frame starting at b[0], header
// included. It reports ErrIncompleteFrame while the header itself is still
// incomplete, so callers can keep buffering.
func FrameSize(b []byte) (int, error) {
	var frame Frame
	headerLen, err := parseHeader(b, &frame)
	if err != nil {
		return 0, err
	}

	if frame.PayloadLength > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frame.PayloadLength)
	}

	return headerLen + int(frame.PayloadLength), nil
}

// Decode parses exactly one frame. The payload following the header must
// be exactly as long as the header declares. The input is never modified;
// the returned payload is an unmasked copy.
func Decode(b []byte) (*Frame, error) {
	frame := &Frame{}
	headerLen, err := parseHeader(b, frame)
	if err != nil {
		return nil, err
	}

	rest := b[headerLen:]
	if uint64(len(rest)) != frame.PayloadLength {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrFrameLengthMismatch, frame.PayloadLength, len(rest))
	}

	frame.Payload = make([]byte, len(rest))
	copy(frame.Payload, rest)
	if frame.Masked {
		maskBytes(frame.MaskKey, frame.Payload)
	}

	return frame, nil
}

// Encode serializes a server frame. Masked frames, reserved bits and
// opcodes without a wire value are rejected.
func Encode(frame *Frame) ([]byte, error) {
	if frame.Masked {
		return nil, ErrMaskedServerFrame
	}
	if frame.Rsv1 || frame.Rsv2 || frame.Rsv3 {
		return nil, ErrReservedBits
	}
	code, ok := frame.Opcode.Code()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, frame.Opcode)
	}

	payloadLen := len(frame.Payload)
	headerLen := 2
	switch {
	case payloadLen > 0xffff:
		headerLen += 8
	case payloadLen >= len16Marker:
		headerLen += 2
	}

	buf := make([]byte, headerLen+payloadLen)
	buf[0] = code
	if frame.Fin {
		buf[0] |= finBit
	}

	switch headerLen {
	case 2:
		buf[1] = byte(payloadLen)
	case 4:
		buf[1] = len16Marker
		binary.BigEndian.PutUint16(buf[2:], uint16(payloadLen))
	default:
		buf[1] = len64Marker
		binary.BigEndian.PutUint64(buf[2:], uint64(payloadLen))
	}

	copy(buf[headerLen:], frame.Payload)
	return buf, nil
}

func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}
