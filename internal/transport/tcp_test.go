package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

// startPrinter accepts a single connection and reports everything it reads
func startPrinter(t *testing.T) (Endpoint, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}, received
}

func closedPort(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return Endpoint{Host: "127.0.0.1", Port: port}
}

func params(ep Endpoint) Params {
	return Params{Endpoint: ep, ConnectTimeout: time.Second, WriteTimeout: time.Second}
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// scriptedConn is a net.Conn whose Write results come from a script
type scriptedConn struct {
	net.Conn
	writes  []writeResult
	written bytes.Buffer
	closed  bool
}

type writeResult struct {
	n   int
	err error
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	if len(c.writes) == 0 {
		c.written.Write(p)
		return len(p), nil
	}
	r := c.writes[0]
	c.writes = c.writes[1:]
	if r.n > len(p) {
		r.n = len(p)
	}
	c.written.Write(p[:r.n])
	return r.n, r.err
}

func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func (c *scriptedConn) Close() error {
	c.closed = true
	return errors.New("connection reset by peer")
}

func TestProbeSuccess(t *testing.T) {
	ep, _ := startPrinter(t)
	client := NewClient(nil, nil)

	if err := client.Probe(context.Background(), ep, time.Second); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
}

func TestProbeRefused(t *testing.T) {
	ep := closedPort(t)
	client := NewClient(nil, nil)

	err := client.Probe(context.Background(), ep, time.Second)
	if KindOf(err) != KindConnectionRefused {
		t.Fatalf("kind = %s, want %s (err %v)", KindOf(err), KindConnectionRefused, err)
	}
	if !strings.Contains(err.Error(), ep.String()) {
		t.Errorf("detail %q does not name %s", err.Error(), ep)
	}
	if !strings.HasPrefix(err.Error(), "No se pudo conectar a ") {
		t.Errorf("unexpected detail %q", err.Error())
	}
}

func TestProbeTimeout(t *testing.T) {
	blocking := dialFunc(func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ctx.Err()}
	})
	client := NewClient(blocking, nil)
	ep := Endpoint{Host: "192.168.1.50", Port: 9100}

	start := time.Now()
	err := client.Probe(context.Background(), ep, 50*time.Millisecond)
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want %s (err %v)", KindOf(err), KindTimeout, err)
	}
	if err.Error() != "Timeout al conectar a 192.168.1.50:9100" {
		t.Errorf("detail = %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %s, deadline not honoured", elapsed)
	}
}

func TestProbeUnknownDialError(t *testing.T) {
	failing := dialFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("no such host")
	})
	err := NewClient(failing, nil).Probe(context.Background(), Endpoint{Host: "printer.local", Port: 9100}, time.Second)
	if KindOf(err) != KindUnknown {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindUnknown)
	}
	if !strings.HasPrefix(err.Error(), "Error de conexión: ") {
		t.Errorf("detail = %q", err.Error())
	}
}

func TestRefusedViaSyscallError(t *testing.T) {
	refusing := dialFunc(func(_ context.Context, network, _ string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	})
	err := NewClient(refusing, nil).Probe(context.Background(), Endpoint{Host: "192.168.1.50", Port: 9100}, time.Second)
	if KindOf(err) != KindConnectionRefused {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindConnectionRefused)
	}
	if err.Error() != "No se pudo conectar a 192.168.1.50:9100" {
		t.Errorf("detail = %q", err.Error())
	}
}

func TestSendDeliversExactBytes(t *testing.T) {
	ep, received := startPrinter(t)
	client := NewClient(nil, nil)
	payload := []byte("Hola\n")

	if err := client.Send(context.Background(), params(ep), payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, []byte{0x48, 0x6F, 0x6C, 0x61, 0x0A}) {
			t.Errorf("printer got % X", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestSendLargePayload(t *testing.T) {
	ep, received := startPrinter(t)
	payload := bytes.Repeat([]byte{0xAA, 0x55}, 256*1024)

	if err := NewClient(nil, nil).Send(context.Background(), params(ep), payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := <-received
	if !bytes.Equal(got, payload) {
		t.Errorf("printer got %d bytes, want %d", len(got), len(payload))
	}
}

func TestSendIgnoresCloseError(t *testing.T) {
	conn := &scriptedConn{}
	dialer := dialFunc(func(context.Context, string, string) (net.Conn, error) { return conn, nil })

	err := NewClient(dialer, nil).Send(context.Background(), params(Endpoint{Host: "10.0.0.9", Port: 9100}), []byte{0x1B, 0x70, 0x00, 0x19, 0xFA})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !conn.closed {
		t.Error("connection was not closed")
	}
}

func TestSendRetriesPartialWrites(t *testing.T) {
	conn := &scriptedConn{writes: []writeResult{{n: 2}, {n: 1}}}
	dialer := dialFunc(func(context.Context, string, string) (net.Conn, error) { return conn, nil })

	payload := []byte("abcdef")
	if err := NewClient(dialer, nil).Send(context.Background(), params(Endpoint{Host: "h", Port: 9100}), payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !bytes.Equal(conn.written.Bytes(), payload) {
		t.Errorf("written = %q, want %q", conn.written.Bytes(), payload)
	}
}

func TestSendWriteErrors(t *testing.T) {
	tests := []struct {
		name   string
		writes []writeResult
		want   Kind
	}{
		{"partial then reset", []writeResult{{n: 3, err: syscall.ECONNRESET}}, KindIOError},
		{"zero-byte write", []writeResult{{n: 2}, {n: 0}}, KindIOError},
		{"deadline", []writeResult{{n: 1, err: os.ErrDeadlineExceeded}}, KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptedConn{writes: tt.writes}
			dialer := dialFunc(func(context.Context, string, string) (net.Conn, error) { return conn, nil })

			err := NewClient(dialer, nil).Send(context.Background(), params(Endpoint{Host: "h", Port: 9100}), []byte("abcdefgh"))
			if KindOf(err) != tt.want {
				t.Fatalf("kind = %s, want %s (err %v)", KindOf(err), tt.want, err)
			}
			if !conn.closed {
				t.Error("connection must be closed on error paths")
			}
		})
	}
}

func TestSendShortWriteDetail(t *testing.T) {
	conn := &scriptedConn{writes: []writeResult{{n: 0}}}
	dialer := dialFunc(func(context.Context, string, string) (net.Conn, error) { return conn, nil })

	err := NewClient(dialer, nil).Send(context.Background(), params(Endpoint{Host: "h", Port: 9100}), []byte("x"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	client := NewClient(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"empty host", client.Send(ctx, params(Endpoint{Host: " ", Port: 9100}), []byte("x"))},
		{"bad port", client.Send(ctx, params(Endpoint{Host: "h", Port: 70000}), []byte("x"))},
		{"empty data", client.Send(ctx, params(Endpoint{Host: "h", Port: 9100}), nil)},
		{"zero timeout", client.Send(ctx, Params{Endpoint: Endpoint{Host: "h", Port: 9100}, WriteTimeout: time.Second}, []byte("x"))},
		{"timeout too long", client.Probe(ctx, Endpoint{Host: "h", Port: 9100}, time.Minute)},
	}

	for _, tt := range tests {
		if KindOf(tt.err) != KindInvalidArgument {
			t.Errorf("%s: kind = %s, want %s", tt.name, KindOf(tt.err), KindInvalidArgument)
		}
	}
}

func TestEndpointFormatting(t *testing.T) {
	ep := Endpoint{Host: "192.168.1.50", Port: 9100}
	if ep.String() != "192.168.1.50:9100" {
		t.Errorf("String() = %q", ep.String())
	}
	v6 := Endpoint{Host: "fe80::1", Port: 9100}
	if v6.Address() != "[fe80::1]:9100" {
		t.Errorf("Address() = %q", v6.Address())
	}
}
