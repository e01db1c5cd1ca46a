// Package poller reads channel status on a fixed interval and fans the
// readings out over the bus. Reads never change instrument state, so the
// poller reconnects on stale sessions instead of failing.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/batterylab/ctigo/internal/bus"
	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/cycler"
	"github.com/batterylab/ctigo/internal/transport"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Source is the read path the poller drives. *cycler.Cycler satisfies it.
type Source interface {
	ReadChannelStatus(ctx context.Context, channel int) (cti.ChannelStatus, error)
	Reconnect(ctx context.Context) error
}

// ReadingObserver receives every successful reading and reconnect attempt.
type ReadingObserver interface {
	ObserveReading(st cti.ChannelStatus, at time.Time)
	IncReconnects()
}

type Config struct {
	Channels       []int
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RunID tags published readings. A random one is generated when empty.
	RunID    string
	Target   string
	Logger   *slog.Logger
	Bus      bus.MessageBus
	Observer ReadingObserver
}

type Poller struct {
	cfg    Config
	src    Source
	logger *slog.Logger
	now    func() time.Time
	states map[int]cti.RunState
}

func New(src Source, cfg Config) (*Poller, error) {
	if src == nil {
		return nil, errors.New("poller: source is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("poller: bus is required")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("poller: no channels to poll")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.InitialBackoff)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "poller")
	}

	return &Poller{
		cfg:    cfg,
		src:    src,
		logger: logger,
		now:    time.Now,
		states: make(map[int]cti.RunState),
	}, nil
}

func (p *Poller) RunID() string {
	return p.cfg.RunID
}

// Run polls until ctx is done, reconnecting stale sessions.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling", "run_id", p.cfg.RunID, "channels", p.cfg.Channels, "interval", p.cfg.Interval)
	p.publishConnStatus(bus.ConnectionStateConnected, nil)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil || !p.reconnect(ctx, err) {
				return
			}
		}

		select {
		case <-ctx.Done():
			p.publishConnStatus(bus.ConnectionStateDisconnected, nil)

			return
		case <-ticker.C:
		}
	}
}

// PollOnce reads every configured channel once. Per-channel rejections are
// logged and skipped; a stale session aborts the pass.
func (p *Poller) PollOnce(ctx context.Context) error {
	for _, ch := range p.cfg.Channels {
		st, err := p.src.ReadChannelStatus(ctx, ch)
		if err != nil {
			if ctx.Err() != nil || transport.Reconnectable(err) {
				return err
			}
			p.handleReadError(ch, err)

			continue
		}
		p.record(st)
	}

	return nil
}

func (p *Poller) record(st cti.ChannelStatus) {
	at := p.now()
	p.cfg.Bus.Publish(bus.TopicReading, bus.Reading{RunID: p.cfg.RunID, At: at, Status: st})
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveReading(st, at)
	}

	prev, seen := p.states[st.Channel]
	p.states[st.Channel] = st.State
	if st.State == cti.RunStateFault && (!seen || prev != cti.RunStateFault) {
		p.logger.Warn("channel fault", "channel", st.Channel, "status", st.Status.String())
		p.alert(bus.AlertFault, st.Channel,
			fmt.Sprintf("Channel %d fault", st.Channel),
			fmt.Sprintf("status %s, test %q, %.3f V, %.3f A", st.Status, st.TestName, st.Voltage, st.Current))
	}
}

func (p *Poller) handleReadError(ch int, err error) {
	var rejected *cycler.ProtocolRejectedError
	if errors.As(err, &rejected) {
		p.logger.Warn("read rejected by peer", "channel", ch, "reason", rejected.Reason.String())
		p.alert(bus.AlertProtocolError, ch, fmt.Sprintf("Channel %d read rejected", ch), err.Error())

		return
	}
	p.logger.Warn("read channel status failed", "channel", ch, "error", err)
}

// reconnect retries with capped exponential backoff until it succeeds, ctx
// ends or the failure is one a new session cannot fix, such as rejected
// credentials. It reports whether polling should continue.
func (p *Poller) reconnect(ctx context.Context, cause error) bool {
	p.logger.Warn("session lost, reconnecting", "error", cause)
	p.publishConnStatus(bus.ConnectionStateReconnecting, cause)
	p.alert(bus.AlertDisconnect, 0, "Instrument connection lost", cause.Error())

	backoff := p.cfg.InitialBackoff
	for {
		if !sleepWithContext(ctx, backoff) {
			return false
		}
		if p.cfg.Observer != nil {
			p.cfg.Observer.IncReconnects()
		}
		err := p.src.Reconnect(ctx)
		if err == nil {
			p.publishConnStatus(bus.ConnectionStateConnected, nil)

			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if !transport.Reconnectable(err) {
			p.stop(err)

			return false
		}
		p.logger.Error("reconnect failed", "error", err, "next_attempt_in", backoff)
		p.publishConnStatus(bus.ConnectionStateReconnecting, err)
		backoff = min(backoff*2, p.cfg.MaxBackoff)
	}
}

// stop gives up on the instrument after a failure that retrying would repeat.
func (p *Poller) stop(err error) {
	title := "Instrument reconnect failed"
	var authErr *cycler.AuthenticationError
	if errors.As(err, &authErr) {
		title = "Instrument login rejected"
	}
	p.logger.Error("giving up on instrument, polling stopped", "error", err)
	p.alert(bus.AlertDisconnect, 0, title, err.Error())
	p.publishConnStatus(bus.ConnectionStateDisconnected, err)
}

func (p *Poller) alert(kind bus.AlertKind, channel int, title, message string) {
	p.cfg.Bus.Publish(bus.TopicAlert, bus.Alert{
		Kind:    kind,
		Channel: channel,
		Title:   title,
		Message: message,
		At:      p.now(),
	})
}

func (p *Poller) publishConnStatus(state bus.ConnectionState, err error) {
	status := bus.ConnectionStatus{
		State:     state,
		Target:    p.cfg.Target,
		Timestamp: p.now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	p.cfg.Bus.Publish(bus.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
