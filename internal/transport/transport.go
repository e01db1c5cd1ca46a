package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultTimeout       = 3 * time.Second
	DefaultMsgBufferSize = 4096
	DefaultMaxFrameSize  = 65536
	// RecommendedMsgBufferSize is the smallest receive chunk that does not
	// split typical feedback frames into many reads.
	RecommendedMsgBufferSize = 1024
)

// Exchanger sends one request frame and returns one response frame.
type Exchanger interface {
	Exchange(ctx context.Context, req []byte) ([]byte, error)
	Close() error
}

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Address       string
	Port          int
	Timeout       time.Duration
	MsgBufferSize int
	MaxFrameSize  int
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MsgBufferSize <= 0 {
		o.MsgBufferSize = DefaultMsgBufferSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}

	return o
}

// Target returns host:port.
func (o Options) Target() string {
	return net.JoinHostPort(o.Address, strconv.Itoa(o.Port))
}
