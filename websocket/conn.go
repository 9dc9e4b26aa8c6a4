package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/freekieb7/quarry/metrics"
)

const (
	DefaultIdleTimeout = 7 * time.Second
	readBufferSize     = 2048
)

// Close status codes (RFC 6455 section 7.4.1).
const (
	CloseNormal          uint16 = 1000
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
)

// Handler receives the payload of every complete text or binary message.
type Handler interface {
	HandleMessage(ctx context.Context, conn *Conn, opcode Opcode, payload []byte) error
}

type HandlerFunc func(ctx context.Context, conn *Conn, opcode Opcode, payload []byte) error

func (f HandlerFunc) HandleMessage(ctx context.Context, conn *Conn, opcode Opcode, payload []byte) error {
	return f(ctx, conn, opcode, payload)
}

// Echo sends every message back with the same opcode.
var Echo = HandlerFunc(func(ctx context.Context, conn *Conn, opcode Opcode, payload []byte) error {
	return conn.WriteMessage(opcode, payload)
})

type Options struct {
	// IdleTimeout closes the connection when no frame arrives in time.
	IdleTimeout time.Duration
	// KeepAlive false closes the connection after the first handled frame.
	KeepAlive bool
	// Greeting is sent as a text frame right after the upgrade when set.
	Greeting string
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Conn is the server end of an upgraded connection. It is owned by the
// goroutine running Serve.
type Conn struct {
	conn    net.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) WriteFrame(frame *Frame) error {
	b, err := Encode(frame)
	if err != nil {
		return err
	}

	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}

	c.metrics.Frame("out", frame.Opcode.String())
	return nil
}

func (c *Conn) WriteMessage(opcode Opcode, payload []byte) error {
	return c.WriteFrame(NewFrame(opcode, payload))
}

func (c *Conn) WriteClose(code uint16, reason string) error {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)

	return c.WriteFrame(NewFrame(OpcodeConnectionClose, payload))
}

// Serve runs the frame loop until the peer closes, the idle timeout
// expires or a protocol violation occurs. The caller owns conn and closes
// it once Serve returns.
func Serve(ctx context.Context, conn net.Conn, handler Handler, opts Options) error {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conn{
		conn:    conn,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	if opts.Greeting != "" {
		if err := c.WriteMessage(OpcodeText, []byte(opts.Greeting)); err != nil {
			return err
		}
	}

	buf := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)
	lastActivity := time.Now()

	for {
		for {
			size, err := FrameSize(buf)
			if errors.Is(err, ErrIncompleteFrame) || (err == nil && len(buf) < size) {
				break
			}
			if err != nil {
				return c.violation(err)
			}

			frame, err := Decode(buf[:size])
			if err != nil {
				return c.violation(err)
			}
			buf = append(buf[:0], buf[size:]...)
			lastActivity = time.Now()

			done, err := c.dispatch(ctx, handler, frame)
			if err != nil {
				if IsProtocolViolation(err) {
					return c.violation(err)
				}
				return err
			}
			if done || !opts.KeepAlive {
				return nil
			}
		}

		if err := conn.SetReadDeadline(lastActivity.Add(opts.IdleTimeout)); err != nil {
			return fmt.Errorf("websocket: set deadline: %w", err)
		}

		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger.Debug("websocket idle timeout", "remote", conn.RemoteAddr())
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("websocket: read: %w", err)
		}
	}
}

func (c *Conn) violation(err error) error {
	c.metrics.ProtocolViolation()
	c.logger.Warn("websocket protocol violation", "remote", c.conn.RemoteAddr(), "error", err)
	return err
}

// dispatch handles one decoded client frame and reports whether the
// connection is finished.
func (c *Conn) dispatch(ctx context.Context, handler Handler, frame *Frame) (bool, error) {
	c.metrics.Frame("in", frame.Opcode.String())

	if !frame.Masked {
		return true, ErrUnmaskedFrame
	}
	if frame.Rsv1 || frame.Rsv2 || frame.Rsv3 {
		return true, ErrReservedBits
	}
	if frame.Opcode.IsControl() && (!frame.Fin || len(frame.Payload) > MaxControlPayloadSize) {
		return true, ErrControlFrame
	}

	switch frame.Opcode {
	case OpcodeText, OpcodeBinary:
		if !frame.Fin {
			return true, c.rejectFragment()
		}
		return false, handler.HandleMessage(ctx, c, frame.Opcode, frame.Payload)
	case OpcodeContinuation:
		return true, c.rejectFragment()
	case OpcodePing:
		return false, c.WriteMessage(OpcodePong, frame.Payload)
	case OpcodePong:
		return false, nil
	case OpcodeConnectionClose:
		code := CloseNormal
		if len(frame.Payload) == 1 {
			return true, c.rejectClose(ErrInvalidCloseCode)
		}
		if len(frame.Payload) >= 2 {
			code = binary.BigEndian.Uint16(frame.Payload)
			if !validCloseCode(code) {
				return true, c.rejectClose(fmt.Errorf("%w: %d", ErrInvalidCloseCode, code))
			}
		}
		if err := c.WriteClose(code, ""); err != nil {
			c.logger.Debug("websocket close reply failed", "error", err)
		}
		return true, nil
	}

	return true, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, frame.Opcode)
}

func (c *Conn) rejectClose(cause error) error {
	if err := c.WriteClose(CloseProtocolError, ""); err != nil {
		c.logger.Debug("websocket close reply failed", "error", err)
	}
	return cause
}

// validCloseCode reports whether a peer may send code in a close frame.
// 1005, 1006 and 1015 are reserved for local use, 1016-2999 are unassigned.
func validCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

func (c *Conn) rejectFragment() error {
	if err := c.WriteClose(CloseUnsupportedData, "fragmented messages are not supported"); err != nil {
		return err
	}
	return ErrFragmentedMessage
}
