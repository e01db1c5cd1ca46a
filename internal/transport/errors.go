package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

var (
	// ErrSessionBusy is returned when an exchange starts while another is in
	// flight. The session stays usable.
	ErrSessionBusy = errors.New("transport: exchange already in progress")
	// ErrSessionClosed is returned by exchanges on a closed session.
	ErrSessionClosed = errors.New("transport: session closed")
)

// ConnectionError reports a failed dial or an I/O failure on the socket.
type ConnectionError struct {
	Op     string
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an exchange that did not complete before its deadline.
type TimeoutError struct {
	Command cti.Command
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Command == 0 {
		return fmt.Sprintf("transport: no response after %s", e.After)
	}

	return fmt.Sprintf("transport: no response to %s after %s", e.Command, e.After)
}

// Timeout lets TimeoutError satisfy net.Error style checks.
func (e *TimeoutError) Timeout() bool {
	return true
}

// ConnectionClosedError reports a peer that closed the connection before a
// full frame arrived.
type ConnectionClosedError struct {
	Received int
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("transport: connection closed by peer after %d bytes", e.Received)
}

// BufferOverflowError reports a frame whose declared length exceeds the
// configured frame cap.
type BufferOverflowError struct {
	Declared int
	Limit    int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("transport: declared frame of %d bytes exceeds the %d byte limit", e.Declared, e.Limit)
}

// Reconnectable reports whether err leaves a stale connection that a fresh
// session can recover from.
func Reconnectable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}

	var timeoutErr *TimeoutError
	var closedErr *ConnectionClosedError
	var connErr *ConnectionError

	return errors.As(err, &timeoutErr) || errors.As(err, &closedErr) || errors.As(err, &connErr)
}
