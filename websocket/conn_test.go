package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

var testKey = [4]byte{0x37, 0xfa, 0x21, 0x3d}

func startServe(t *testing.T, handler Handler, opts Options) (net.Conn, <-chan error) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), serverConn, handler, opts)
	}()

	return clientConn, done
}

func readFrame(t *testing.T, conn net.Conn) *Frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}

	raw := header
	switch header[1] & lenMask {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(conn, ext); err != nil {
			t.Fatalf("read length: %v", err)
		}
		raw = append(raw, ext...)
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(conn, ext); err != nil {
			t.Fatalf("read length: %v", err)
		}
		raw = append(raw, ext...)
	}

	size, err := FrameSize(raw)
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, size-len(raw))
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}

	frame, err := Decode(append(raw, payload...))
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestServeEchoesText(t *testing.T) {
	client, _ := startServe(t, Echo, Options{KeepAlive: true})

	if _, err := client.Write(clientFrame(0x1, true, []byte("hello"), testKey)); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, client)
	if frame.Opcode != OpcodeText {
		t.Errorf("expected text frame, got %s", frame.Opcode)
	}
	if frame.Masked {
		t.Error("server frame must not be masked")
	}
	if string(frame.Payload) != "hello" {
		t.Errorf("expected hello, got %q", frame.Payload)
	}
}

func TestServeSendsGreeting(t *testing.T) {
	client, _ := startServe(t, Echo, Options{KeepAlive: true, Greeting: "welcome"})

	frame := readFrame(t, client)
	if string(frame.Payload) != "welcome" {
		t.Errorf("expected welcome, got %q", frame.Payload)
	}
}

func TestServeHandlesSplitFrames(t *testing.T) {
	client, _ := startServe(t, Echo, Options{KeepAlive: true})

	raw := clientFrame(0x2, true, make([]byte, 3000), testKey)
	go func() {
		client.Write(raw[:3])
		client.Write(raw[3:1500])
		client.Write(raw[1500:])
	}()

	frame := readFrame(t, client)
	if len(frame.Payload) != 3000 {
		t.Errorf("expected 3000 byte payload, got %d", len(frame.Payload))
	}
}

func TestServeAnswersPing(t *testing.T) {
	client, _ := startServe(t, Echo, Options{KeepAlive: true})

	if _, err := client.Write(clientFrame(0x9, true, []byte("are you there"), testKey)); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, client)
	if frame.Opcode != OpcodePong {
		t.Errorf("expected pong, got %s", frame.Opcode)
	}
	if string(frame.Payload) != "are you there" {
		t.Errorf("expected ping payload echoed, got %q", frame.Payload)
	}
}

func TestServeClose(t *testing.T) {
	client, done := startServe(t, Echo, Options{KeepAlive: true})

	payload := binary.BigEndian.AppendUint16(nil, 1001)
	if _, err := client.Write(clientFrame(0x8, true, payload, testKey)); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, client)
	if frame.Opcode != OpcodeConnectionClose {
		t.Fatalf("expected close frame, got %s", frame.Opcode)
	}
	if code := binary.BigEndian.Uint16(frame.Payload); code != 1001 {
		t.Errorf("expected close code 1001, got %d", code)
	}

	if err := waitDone(t, done); err != nil {
		t.Errorf("expected clean close, got %v", err)
	}
}

func TestServeCloseInvalidCode(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"one byte", []byte{0x03}},
		{"below range", binary.BigEndian.AppendUint16(nil, 999)},
		{"reserved 1004", binary.BigEndian.AppendUint16(nil, 1004)},
		{"no status 1005", binary.BigEndian.AppendUint16(nil, 1005)},
		{"abnormal 1006", binary.BigEndian.AppendUint16(nil, 1006)},
		{"tls 1015", binary.BigEndian.AppendUint16(nil, 1015)},
		{"unassigned 2000", binary.BigEndian.AppendUint16(nil, 2000)},
		{"above range", binary.BigEndian.AppendUint16(nil, 5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, done := startServe(t, Echo, Options{KeepAlive: true})

			go client.Write(clientFrame(0x8, true, tt.payload, testKey))

			frame := readFrame(t, client)
			if frame.Opcode != OpcodeConnectionClose {
				t.Fatalf("expected close frame, got %s", frame.Opcode)
			}
			if code := binary.BigEndian.Uint16(frame.Payload); code != CloseProtocolError {
				t.Errorf("expected close code %d, got %d", CloseProtocolError, code)
			}

			if err := waitDone(t, done); !errors.Is(err, ErrInvalidCloseCode) {
				t.Errorf("expected ErrInvalidCloseCode, got %v", err)
			}
		})
	}
}

func TestValidCloseCode(t *testing.T) {
	for _, code := range []uint16{1000, 1001, 1003, 1007, 1011, 3000, 4999} {
		if !validCloseCode(code) {
			t.Errorf("expected %d to be valid", code)
		}
	}
	for _, code := range []uint16{0, 999, 1004, 1005, 1006, 1015, 1016, 2999, 5000} {
		if validCloseCode(code) {
			t.Errorf("expected %d to be invalid", code)
		}
	}
}

func TestServeRejectsUnmaskedFrame(t *testing.T) {
	client, done := startServe(t, Echo, Options{KeepAlive: true})

	raw, err := Encode(NewFrame(OpcodeText, []byte("bare")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(raw); err != nil {
		t.Fatal(err)
	}

	if err := waitDone(t, done); !errors.Is(err, ErrUnmaskedFrame) {
		t.Errorf("expected ErrUnmaskedFrame, got %v", err)
	}
}

func TestServeRejectsFragments(t *testing.T) {
	client, done := startServe(t, Echo, Options{KeepAlive: true})

	go client.Write(clientFrame(0x1, false, []byte("part"), testKey))

	frame := readFrame(t, client)
	if frame.Opcode != OpcodeConnectionClose {
		t.Fatalf("expected close frame, got %s", frame.Opcode)
	}
	if code := binary.BigEndian.Uint16(frame.Payload); code != CloseUnsupportedData {
		t.Errorf("expected close code %d, got %d", CloseUnsupportedData, code)
	}

	if err := waitDone(t, done); !errors.Is(err, ErrFragmentedMessage) {
		t.Errorf("expected ErrFragmentedMessage, got %v", err)
	}
}

func TestServeIdleTimeout(t *testing.T) {
	_, done := startServe(t, Echo, Options{KeepAlive: true, IdleTimeout: 50 * time.Millisecond})

	if err := waitDone(t, done); err != nil {
		t.Errorf("expected idle close without error, got %v", err)
	}
}

func TestServeWithoutKeepAliveStopsAfterFirstFrame(t *testing.T) {
	client, done := startServe(t, Echo, Options{})

	go client.Write(clientFrame(0x1, true, []byte("once"), testKey))

	frame := readFrame(t, client)
	if string(frame.Payload) != "once" {
		t.Errorf("expected once, got %q", frame.Payload)
	}

	if err := waitDone(t, done); err != nil {
		t.Errorf("expected clean close, got %v", err)
	}
}

func TestServePropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	handler := HandlerFunc(func(ctx context.Context, conn *Conn, opcode Opcode, payload []byte) error {
		return boom
	})
	client, done := startServe(t, handler, Options{KeepAlive: true})

	if _, err := client.Write(clientFrame(0x2, true, []byte{1}, testKey)); err != nil {
		t.Fatal(err)
	}

	if err := waitDone(t, done); !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}
