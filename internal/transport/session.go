package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

// Session is one TCP connection to an instrument carrying strictly
// alternating request/response exchanges.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	conn  net.Conn
	state State
}

// Dial connects to opts.Target().
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	target := opts.Target()
	logger := transportLogger(opts.Logger, "target", target)

	if opts.Address == "" {
		logger.Warn("connect failed: address is empty")

		return nil, &ConnectionError{Op: "dial", Target: target, Err: errors.New("address is empty")}
	}
	if opts.MsgBufferSize < RecommendedMsgBufferSize {
		logger.Warn("msg buffer size below recommended minimum", "msg_buffer_size", opts.MsgBufferSize, "recommended", RecommendedMsgBufferSize)
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return nil, &ConnectionError{Op: "dial", Target: target, Err: err}
	}
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return newSession(conn, opts, logger), nil
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, opts Options) *Session {
	opts = opts.withDefaults()

	return newSession(conn, opts, transportLogger(opts.Logger, "remote", conn.RemoteAddr().String()))
}

func newSession(conn net.Conn, opts Options, logger *slog.Logger) *Session {
	return &Session{opts: opts, logger: logger, conn: conn, state: StateIdle}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Target() string {
	return s.opts.Target()
}

// Exchange writes req and returns the next complete frame. Any failure other
// than ErrSessionBusy closes the session.
func (s *Session) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()

		return nil, ErrSessionClosed
	case StateAwaitingResponse:
		s.mu.Unlock()

		return nil, ErrSessionBusy
	}
	s.state = StateAwaitingResponse
	conn := s.conn
	s.mu.Unlock()

	cmd := requestCommand(req)
	logger := s.logger.With("command", cmd.String())

	timeout := s.opts.Timeout
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
		timeout = time.Until(d)
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	start := time.Now()
	if _, err := conn.Write(req); err != nil {
		return nil, s.fail(ctx, logger, cmd, timeout, "write", err)
	}
	logger.Debug("request sent", "len", len(req))

	resp, err := ReadFrame(conn, s.opts.MsgBufferSize, s.opts.MaxFrameSize)
	if err != nil {
		return nil, s.fail(ctx, logger, cmd, timeout, "read", err)
	}
	logger.Debug("response received", "len", len(resp), "elapsed", time.Since(start))

	s.mu.Lock()
	if s.state == StateAwaitingResponse {
		s.state = StateIdle
	}
	s.mu.Unlock()

	return resp, nil
}

func (s *Session) fail(ctx context.Context, logger *slog.Logger, cmd cti.Command, timeout time.Duration, op string, err error) error {
	s.mu.Lock()
	closedByUser := s.state == StateClosed
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()
	_ = conn.Close()

	var netErr net.Error
	var framingErr *cti.FramingError
	var overflowErr *BufferOverflowError
	var closedErr *ConnectionClosedError
	switch {
	case closedByUser:
		err = ErrSessionClosed
	case errors.Is(ctx.Err(), context.Canceled):
		err = fmt.Errorf("transport: exchange %s: %w", cmd, ctx.Err())
	case errors.As(err, &netErr) && netErr.Timeout(), errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = &TimeoutError{Command: cmd, After: timeout}
	case errors.As(err, &framingErr), errors.As(err, &overflowErr), errors.As(err, &closedErr):
	default:
		err = &ConnectionError{Op: op, Target: s.opts.Target(), Err: err}
	}
	logger.Warn("exchange failed, session closed", "error", err)

	return err
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()

		return nil
	}
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)

		return err
	}
	s.logger.Info("closed")

	return nil
}

func requestCommand(req []byte) cti.Command {
	if len(req) < cti.PayloadOffset {
		return 0
	}

	return cti.Command(binary.LittleEndian.Uint32(req[12:]))
}
