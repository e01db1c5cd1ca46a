// Package spoofer emulates the CTI server side of an instrument for tests
// and local development. It answers every request with a canned response and
// keeps no state between calls apart from harness fixtures.
package spoofer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/transport"
)

const (
	DefaultAddress     = "127.0.0.1:9031"
	DefaultNumChannels = 16
	DefaultSerial      = "SPOOF-0001"
)

// Frame outcomes reported to a FrameObserver.
const (
	OutcomeOK            = "ok"
	OutcomeProtocolError = "protocol_error"
	OutcomeDropped       = "dropped"
)

// FrameObserver counts inbound frames.
type FrameObserver interface {
	ObserveFrame(cmd cti.Command, outcome string)
}

// Config configures a Spoofer. Zero values fall back to defaults.
type Config struct {
	Address      string
	NumChannels  int
	SerialNumber string
	// Username and Password are checked on login when Username is set.
	Username      string
	Password      string
	ResponseDelay time.Duration
	MsgBufferSize int
	MaxFrameSize  int
	Logger        *slog.Logger
	Observer      FrameObserver
	Codec         *cti.Codec
}

// Spoofer is a CTI protocol emulator.
type Spoofer struct {
	cfg    Config
	codec  *cti.Codec
	logger *slog.Logger

	fixturesMu sync.RWMutex
	fixtures   map[int]cti.ChannelStatus

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config) *Spoofer {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.NumChannels <= 0 {
		cfg.NumChannels = DefaultNumChannels
	}
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = DefaultSerial
	}
	if cfg.MsgBufferSize <= 0 {
		cfg.MsgBufferSize = transport.DefaultMsgBufferSize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = transport.DefaultMaxFrameSize
	}
	codec := cfg.Codec
	if codec == nil {
		codec = cti.NewCodec(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Spoofer{
		cfg:      cfg,
		codec:    codec,
		logger:   logger.With("component", "spoofer"),
		fixtures: make(map[int]cti.ChannelStatus),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// DefaultChannelStatus is the fixture served for channels without one.
func DefaultChannelStatus(channel int) cti.ChannelStatus {
	return cti.ChannelStatus{
		Channel: channel,
		Status:  cti.StatusIdle,
		State:   cti.RunStateIdle,
		Voltage: 3.7,
		Current: 0,
	}
}

// Start listens on the configured address and serves until ctx is done or
// Close is called.
func (s *Spoofer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()

		return net.ErrClosed
	}
	s.listener = l
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.Serve(l); err != nil {
			s.logger.Error("serve stopped", "error", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return nil
}

// Serve accepts connections on l until Close is called.
func (s *Spoofer) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()

		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("listening", "addr", l.Addr().String(), "channels", s.cfg.NumChannels)
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()

			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listening address once serving started.
func (s *Spoofer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Spoofer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}
	s.closed = true
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stopped")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// SetChannelStatus replaces the fixture served for a 1-based channel.
func (s *Spoofer) SetChannelStatus(channel int, status cti.ChannelStatus) error {
	if channel < 1 || channel > s.cfg.NumChannels {
		return fmt.Errorf("channel %d out of range 1..%d", channel, s.cfg.NumChannels)
	}
	status.Channel = channel
	if state, ok := status.Status.RunState(); ok {
		status.State = state
	} else {
		return fmt.Errorf("unknown status code %d", status.Status)
	}

	s.fixturesMu.Lock()
	defer s.fixturesMu.Unlock()
	s.fixtures[channel] = status

	return nil
}

// ChannelStatus returns the fixture served for a 1-based channel.
func (s *Spoofer) ChannelStatus(channel int) cti.ChannelStatus {
	s.fixturesMu.RLock()
	defer s.fixturesMu.RUnlock()

	if st, ok := s.fixtures[channel]; ok {
		return st
	}

	return DefaultChannelStatus(channel)
}

func (s *Spoofer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Spoofer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)

	return true
}

func (s *Spoofer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}
