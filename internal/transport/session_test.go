package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

// startPeer accepts one connection and hands it to serve.
func startPeer(t *testing.T, serve func(conn net.Conn)) Options {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		serve(conn)
	}()

	host, portText, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portText)

	return Options{Address: host, Port: port, Timeout: time.Second}
}

func dialPeer(t *testing.T, opts Options) *Session {
	t.Helper()

	s, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestExchangeReassemblesPartialDeliveries(t *testing.T) {
	resp := mustEncode(t, cti.CmdChannelInfoFeedback, cti.ChannelStatus{Channel: 1, Voltage: 3.7}.Values())
	req := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(1))

	opts := startPeer(t, func(conn net.Conn) {
		if _, err := ReadFrame(conn, 4096, DefaultMaxFrameSize); err != nil {
			return
		}
		for _, part := range [][]byte{resp[:10], resp[10:15], resp[15:]} {
			if _, err := conn.Write(part); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	s := dialPeer(t, opts)
	got, err := s.Exchange(context.Background(), req)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !bytes.Equal(got, resp) {
		t.Fatalf("response mismatch: got %d bytes, want %d", len(got), len(resp))
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after exchange, got %s", s.State())
	}
}

func TestExchangeTimeout(t *testing.T) {
	req := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(1))
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	opts := startPeer(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 4096, DefaultMaxFrameSize)
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
	opts.Timeout = 100 * time.Millisecond

	s := dialPeer(t, opts)
	start := time.Now()
	_, err := s.Exchange(context.Background(), req)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Command != cti.CmdChannelInfo {
		t.Fatalf("expected command %s, got %s", cti.CmdChannelInfo, timeoutErr.Command)
	}
	if elapsed < 80*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Fatalf("expected timeout near 100ms, got %s", elapsed)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed session after timeout, got %s", s.State())
	}
	if _, err := s.Exchange(context.Background(), req); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if !Reconnectable(err) {
		t.Fatalf("expected timeout to be reconnectable")
	}
}

func TestExchangeContextDeadlineWins(t *testing.T) {
	req := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(1))
	opts := startPeer(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 4096, DefaultMaxFrameSize)
		time.Sleep(500 * time.Millisecond)
	})
	opts.Timeout = 5 * time.Second

	s := dialPeer(t, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Exchange(ctx, req)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected context deadline to bound the exchange")
	}
}

func TestExchangePeerClosed(t *testing.T) {
	req := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(1))
	opts := startPeer(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 4096, DefaultMaxFrameSize)
		_, _ = conn.Write(req[:8])
	})

	s := dialPeer(t, opts)
	_, err := s.Exchange(context.Background(), req)
	var closed *ConnectionClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected ConnectionClosedError, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", s.State())
	}
}

func TestExchangeOverflowClosesSession(t *testing.T) {
	resp := mustEncode(t, cti.CmdLoginFeedback, cti.LoginFeedback{Result: cti.LoginSuccess}.Values())
	req := mustEncode(t, cti.CmdLogin, cti.LoginRequest("u", "p"))
	opts := startPeer(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 4096, DefaultMaxFrameSize)
		_, _ = conn.Write(resp)
	})
	opts.MaxFrameSize = 2048

	s := dialPeer(t, opts)
	_, err := s.Exchange(context.Background(), req)
	var overflow *BufferOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected BufferOverflowError, got %v", err)
	}
	if Reconnectable(err) {
		t.Fatalf("expected overflow not to be reconnectable")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", s.State())
	}
}

func TestExchangeBusy(t *testing.T) {
	req := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(1))
	resp := mustEncode(t, cti.CmdChannelInfoFeedback, cti.ChannelStatus{Channel: 1}.Values())
	received := make(chan struct{})
	release := make(chan struct{})

	opts := startPeer(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 4096, DefaultMaxFrameSize)
		close(received)
		<-release
		_, _ = conn.Write(resp)
	})

	s := dialPeer(t, opts)
	errs := make(chan error, 1)
	go func() {
		_, err := s.Exchange(context.Background(), req)
		errs <- err
	}()

	<-received
	if _, err := s.Exchange(context.Background(), req); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	close(release)
	if err := <-errs; err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected busy rejection to leave session usable, got %s", s.State())
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	_, err = Dial(context.Background(), Options{Address: "127.0.0.1", Port: addr.Port, Timeout: 500 * time.Millisecond})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !Reconnectable(err) {
		t.Fatalf("expected dial failure to be reconnectable")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	opts := startPeer(t, func(conn net.Conn) {
		time.Sleep(50 * time.Millisecond)
	})

	s := dialPeer(t, opts)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
}
