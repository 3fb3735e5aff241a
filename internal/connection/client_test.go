package connection

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    Address
		wantErr bool
	}{
		{uri: "fkt://localhost:6789", want: Address{Scheme: "fkt", Host: "localhost", Port: 6789}},
		{uri: "fkt://127.0.0.1:12345", want: Address{Scheme: "fkt", Host: "127.0.0.1", Port: 12345}},
		{uri: "ws://relay.example.com:8080", want: Address{Scheme: "ws", Host: "relay.example.com", Port: 8080}},
		{uri: "bad-uri", wantErr: true},
		{uri: "", wantErr: true},
		{uri: "http://localhost:6789", wantErr: true},
		{uri: "fkt://localhost:80", wantErr: true},
		{uri: "fkt://localhost:123456", wantErr: true},
		{uri: "fkt://localhost:99999", wantErr: true},
		{uri: "fkt://:6789", wantErr: true},
		{uri: "fkt://local host:6789", wantErr: true},
		{uri: "fkt://localhost", wantErr: true},
		{uri: "fkt://abc:6789", want: Address{Scheme: "fkt", Host: "abc", Port: 6789}},
		{uri: "fkt://a:6789", wantErr: true},
		{uri: "ws://ab:6789", wantErr: true},
		{uri: "fkt://-host:6789", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURI) {
					t.Fatalf("expected ErrInvalidURI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.String() != tt.uri {
				t.Errorf("String() = %q, want %q", got.String(), tt.uri)
			}
		})
	}
}

func TestStreamConn_RoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ca := NewStreamConn(a, Config{})
	cb := NewStreamConn(b, Config{})
	defer ca.Close()
	defer cb.Close()

	frames := [][]byte{
		[]byte("eyJldmVudCI6InBpbmcifQ=="),
		[]byte("x"),
		[]byte(strings.Repeat("a", 70000)),
	}

	go func() {
		for _, f := range frames {
			if err := ca.WriteFrame(f); err != nil {
				t.Errorf("WriteFrame failed: %v", err)
				return
			}
		}
	}()

	for i, want := range frames {
		got, err := cb.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if string(got) != string(want) {
			t.Errorf("frame %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}

	if cb.Transport() != TransportStream {
		t.Errorf("Transport = %q", cb.Transport())
	}
}

func TestStreamConn_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		header  uint32
		wantErr error
	}{
		{"zero length", 0, ErrEmptyFrame},
		{"oversize", 1025, ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			defer a.Close()
			conn := NewStreamConn(b, Config{MaxFrameSize: 1024})
			defer conn.Close()

			go func() {
				var h [4]byte
				binary.BigEndian.PutUint32(h[:], tt.header)
				a.Write(h[:])
			}()

			if _, err := conn.ReadFrame(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStreamConn_WriteAfterClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewStreamConn(a, Config{})

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := conn.WriteFrame([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestStreamConn_ReadDeadline(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	conn := NewStreamConn(b, Config{})
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, err := conn.ReadFrame()

	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("expected timeout error, got %v", err)
	}
}

// mockWSServer creates a test WebSocket server that echoes frames back.
func mockWSServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/relay" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		conn := NewWSConn(ws, Config{}, nil)
		defer conn.Close()

		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			if err := conn.WriteFrame(frame); err != nil {
				return
			}
		}
	}))
}

func serverAddress(t *testing.T, server *httptest.Server, scheme string) Address {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	if err != nil {
		t.Fatalf("split %q: %v", server.URL, err)
	}
	p, _ := strconv.Atoi(port)
	return Address{Scheme: scheme, Host: host, Port: p}
}

func TestDial_WebSocket(t *testing.T) {
	server := mockWSServer(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, serverAddress(t, server, SchemeWebSocket), Config{}, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if conn.Transport() != TransportWebSocket {
		t.Errorf("Transport = %q", conn.Transport())
	}

	if err := conn.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want hello", got)
	}
}

func TestDial_Stream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		conn := NewStreamConn(c, Config{})
		defer conn.Close()
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		conn.WriteFrame(frame)
	}()

	tcp := ln.Addr().(*net.TCPAddr)
	addr := Address{Scheme: SchemeStream, Host: "127.0.0.1", Port: tcp.Port}

	conn, err := Dial(context.Background(), addr, Config{}, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteFrame([]byte("ping")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("got %q, want ping", got)
	}
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := Address{Scheme: SchemeStream, Host: "127.0.0.1", Port: port}
	if _, err := Dial(context.Background(), addr, Config{DialTimeout: time.Second}, nil); err == nil {
		t.Fatal("expected dial error on closed port")
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), Address{Scheme: "udp", Host: "x", Port: 1234}, Config{}, nil)
	if !errors.Is(err, ErrInvalidURI) {
		t.Errorf("expected ErrInvalidURI, got %v", err)
	}
}
