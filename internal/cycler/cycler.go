package cycler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
	"github.com/batterylab/ctigo/internal/transport"
)

const (
	DefaultCyclerPort  = 9031
	DefaultChannelPort = 9032
)

// Exchange outcomes reported to an Observer.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Credentials identify the CTI user. They are only placed in login requests.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("{Username:%s Password:[REDACTED]}", c.Username)
}

func (c Credentials) GoString() string {
	return c.String()
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username), slog.String("password", "[REDACTED]"))
}

// CyclerConfig is the connection setup for one instrument.
type CyclerConfig struct {
	Address       string
	Port          int
	Timeout       time.Duration
	MsgBufferSize int
	MaxFrameSize  int
}

func (c CyclerConfig) transportOptions(logger *slog.Logger) transport.Options {
	port := c.Port
	if port == 0 {
		port = DefaultCyclerPort
	}

	return transport.Options{
		Address:       c.Address,
		Port:          port,
		Timeout:       c.Timeout,
		MsgBufferSize: c.MsgBufferSize,
		MaxFrameSize:  c.MaxFrameSize,
		Logger:        logger,
	}
}

// Observer receives one call per completed or failed exchange.
type Observer interface {
	ObserveExchange(cmd cti.Command, outcome string, elapsed time.Duration)
}

type options struct {
	logger   *slog.Logger
	observer Observer
	codec    *cti.Codec
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithCodec selects a field table other than the built-in one.
func WithCodec(codec *cti.Codec) Option {
	return func(o *options) { o.codec = codec }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, apply := range opts {
		apply(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.codec == nil {
		o.codec = cti.NewCodec(nil)
	}

	return o
}

// Cycler is a logged-in connection to one instrument. Calls are serialized;
// the protocol allows one outstanding request per connection.
type Cycler struct {
	creds    Credentials
	cfg      *CyclerConfig
	codec    *cti.Codec
	base     *slog.Logger
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	exchanger transport.Exchanger
	login     cti.LoginFeedback
}

// Dial connects to the instrument and logs in.
func Dial(ctx context.Context, cfg CyclerConfig, creds Credentials, opts ...Option) (*Cycler, error) {
	o := buildOptions(opts)
	session, err := transport.Dial(ctx, cfg.transportOptions(o.logger))
	if err != nil {
		return nil, err
	}

	c := newCycler(session, creds, o)
	c.cfg = &cfg
	if err := c.doLogin(ctx); err != nil {
		_ = session.Close()

		return nil, err
	}

	return c, nil
}

// New logs in over an existing exchanger.
func New(ctx context.Context, exchanger transport.Exchanger, creds Credentials, opts ...Option) (*Cycler, error) {
	c := newCycler(exchanger, creds, buildOptions(opts))
	if err := c.doLogin(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func newCycler(exchanger transport.Exchanger, creds Credentials, o options) *Cycler {
	return &Cycler{
		creds:     creds,
		codec:     o.codec,
		base:      o.logger,
		logger:    o.logger.With("component", "cycler"),
		observer:  o.observer,
		exchanger: exchanger,
	}
}

func (c *Cycler) doLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loginLocked(ctx)
}

func (c *Cycler) loginLocked(ctx context.Context) error {
	v, err := c.exchangeLocked(ctx, cti.CmdLogin, cti.LoginRequest(c.creds.Username, c.creds.Password))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	fb := cti.LoginFeedbackFromValues(v)
	switch fb.Result {
	case cti.LoginSuccess:
		c.logger.Info("logged in", "serial", fb.SerialNumber, "channels", fb.NumChannels, "credentials", c.creds)
	case cti.LoginAlreadyLoggedIn:
		c.logger.Warn("already logged in", "serial", fb.SerialNumber, "channels", fb.NumChannels)
	default:
		c.logger.Error("login rejected", "result", fb.Result.String(), "credentials", c.creds)

		return &AuthenticationError{Result: fb.Result, Username: c.creds.Username}
	}
	c.login = fb

	return nil
}

// LoginFeedback returns what the instrument reported at login.
func (c *Cycler) LoginFeedback() cti.LoginFeedback {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.login
}

// NumChannels is the channel count reported at login.
func (c *Cycler) NumChannels() int {
	return c.LoginFeedback().NumChannels
}

func (c *Cycler) checkChannel(channel int) error {
	n := c.NumChannels()
	if channel < 1 || channel > n {
		return &InvalidChannelError{Channel: channel, NumChannels: n}
	}

	return nil
}

// ReadChannelStatus reads the status of one 1-based channel.
func (c *Cycler) ReadChannelStatus(ctx context.Context, channel int) (cti.ChannelStatus, error) {
	if err := c.checkChannel(channel); err != nil {
		return cti.ChannelStatus{}, err
	}

	v, err := c.exchange(ctx, cti.CmdChannelInfo, cti.ChannelInfoRequest(channel))
	if err != nil {
		return cti.ChannelStatus{}, fmt.Errorf("read channel %d status: %w", channel, err)
	}

	status, err := cti.ChannelStatusFromValues(v)
	if err != nil {
		return cti.ChannelStatus{}, fmt.Errorf("read channel %d status: %w", channel, err)
	}
	if status.Channel != channel {
		return cti.ChannelStatus{}, &UnexpectedResponseError{
			Want:        cti.CmdChannelInfoFeedback,
			Got:         cti.CmdChannelInfoFeedback,
			WantChannel: channel,
			GotChannel:  status.Channel,
		}
	}

	return status, nil
}

// Reconnect closes the current connection, dials again and logs in.
func (c *Cycler) Reconnect(ctx context.Context) error {
	if c.cfg == nil {
		return ErrNotDialed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.exchanger.Close()
	session, err := transport.Dial(ctx, c.cfg.transportOptions(c.base))
	if err != nil {
		return err
	}
	c.exchanger = session
	c.logger.Info("reconnected")

	return c.loginLocked(ctx)
}

func (c *Cycler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exchanger.Close()
}

func (c *Cycler) exchange(ctx context.Context, cmd cti.Command, req cti.Values) (cti.Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exchangeLocked(ctx, cmd, req)
}

// write sends a channel-addressed command after verifying the encoded
// request targets channel, and verifies the feedback echoes it.
func (c *Cycler) write(ctx context.Context, cmd cti.Command, channel int, req cti.Values) (cti.Feedback, error) {
	if err := c.checkChannel(channel); err != nil {
		return cti.Feedback{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.codec.Encode(cmd, req)
	if err != nil {
		return cti.Feedback{}, err
	}
	if _, encoded, err := c.codec.Decode(frame); err != nil || int(encoded.Int("channel"))+1 != channel {
		return cti.Feedback{}, &InvalidChannelError{Channel: channel, Reason: "encoded request addresses another channel"}
	}

	v, err := c.roundTripLocked(ctx, cmd, frame)
	if err != nil {
		return cti.Feedback{}, err
	}

	fb := cti.FeedbackFromValues(v)
	if fb.Channel != channel {
		want, _ := cti.FeedbackFor(cmd)

		return cti.Feedback{}, &UnexpectedResponseError{Want: want, Got: want, WantChannel: channel, GotChannel: fb.Channel}
	}

	return fb, nil
}

func (c *Cycler) exchangeLocked(ctx context.Context, cmd cti.Command, req cti.Values) (cti.Values, error) {
	frame, err := c.codec.Encode(cmd, req)
	if err != nil {
		return nil, err
	}

	return c.roundTripLocked(ctx, cmd, frame)
}

func (c *Cycler) roundTripLocked(ctx context.Context, cmd cti.Command, frame []byte) (cti.Values, error) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if c.observer != nil {
			c.observer.ObserveExchange(cmd, outcome, time.Since(start))
		}
	}()

	resp, err := c.exchanger.Exchange(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%s exchange: %w", cmd, err)
	}

	got, v, err := c.codec.Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", cmd, err)
	}

	want, _ := cti.FeedbackFor(cmd)
	switch got {
	case want:
	case cti.CmdProtocolError:
		outcome = OutcomeRejected

		return nil, &ProtocolRejectedError{ProtocolError: cti.ProtocolErrorFromValues(v)}
	default:
		return nil, &UnexpectedResponseError{Want: want, Got: got}
	}
	outcome = OutcomeOK
	c.logger.Debug("exchange complete", "command", cmd.String(), "elapsed", time.Since(start))

	return v, nil
}
