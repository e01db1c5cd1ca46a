package cycler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/batterylab/ctigo/internal/cti"
)

// ChannelSettings scope a Channel to one 1-based channel and its defaults.
type ChannelSettings struct {
	Channel      int
	TestName     string
	ScheduleName string
}

// ChannelConfig is a CyclerConfig plus channel settings.
type ChannelConfig struct {
	CyclerConfig
	ChannelSettings
}

// StopOutcome tells whether StopTest sent a stop request.
type StopOutcome int

const (
	StopSent StopOutcome = iota + 1
	StopNotRunning
)

func (o StopOutcome) String() string {
	switch o {
	case StopSent:
		return "stop_sent"
	case StopNotRunning:
		return "not_running"
	default:
		return fmt.Sprintf("StopOutcome(%d)", int(o))
	}
}

// Channel drives a single channel of an instrument.
type Channel struct {
	cycler   *Cycler
	settings ChannelSettings
	owned    bool
	logger   *slog.Logger
}

// OpenChannel dials the instrument, logs in and scopes the connection to
// cfg.Channel. The port defaults to the channel-level port.
func OpenChannel(ctx context.Context, cfg ChannelConfig, creds Credentials, opts ...Option) (*Channel, error) {
	cyclerCfg := cfg.CyclerConfig
	if cyclerCfg.Port == 0 {
		cyclerCfg.Port = DefaultChannelPort
	}

	c, err := Dial(ctx, cyclerCfg, creds, opts...)
	if err != nil {
		return nil, err
	}

	ch, err := NewChannel(c, cfg.ChannelSettings)
	if err != nil {
		_ = c.Close()

		return nil, err
	}
	ch.owned = true

	return ch, nil
}

// NewChannel scopes an existing cycler to one channel.
func NewChannel(c *Cycler, settings ChannelSettings) (*Channel, error) {
	if err := c.checkChannel(settings.Channel); err != nil {
		return nil, err
	}

	return &Channel{
		cycler:   c,
		settings: settings,
		logger:   c.logger.With("channel", settings.Channel),
	}, nil
}

func (ch *Channel) Number() int {
	return ch.settings.Channel
}

func (ch *Channel) Cycler() *Cycler {
	return ch.cycler
}

// Close closes the underlying connection when the channel opened it.
func (ch *Channel) Close() error {
	if !ch.owned {
		return nil
	}

	return ch.cycler.Close()
}

func (ch *Channel) ReadChannelStatus(ctx context.Context) (cti.ChannelStatus, error) {
	return ch.cycler.ReadChannelStatus(ctx, ch.settings.Channel)
}

// AssignSchedule assigns schedule, or the configured schedule when empty.
func (ch *Channel) AssignSchedule(ctx context.Context, schedule string) error {
	schedule = pick(schedule, ch.settings.ScheduleName)
	if schedule == "" {
		return &InvalidScheduleError{Channel: ch.settings.Channel}
	}

	fb, err := ch.cycler.write(ctx, cti.CmdAssignSchedule, ch.settings.Channel, cti.AssignScheduleRequest(ch.settings.Channel, schedule))
	if err != nil {
		return fmt.Errorf("assign schedule: %w", err)
	}

	switch fb.Result {
	case cti.ResultSuccess:
		ch.logger.Info("schedule assigned", "schedule", schedule)

		return nil
	case cti.AssignScheduleNotFound, cti.AssignEmptySchedule:
		return &InvalidScheduleError{Channel: ch.settings.Channel, Schedule: schedule, Command: cti.CmdAssignScheduleFeedback, Code: fb.Result}
	case cti.AssignChannelRunning:
		return &TestAlreadyRunningError{Channel: ch.settings.Channel, Command: cti.CmdAssignScheduleFeedback, Code: fb.Result}
	case cti.AssignChannelNotFound:
		return &InvalidChannelError{Channel: ch.settings.Channel, NumChannels: ch.cycler.NumChannels(), Reason: cti.FeedbackText(cti.CmdAssignScheduleFeedback, fb.Result)}
	default:
		return &CommandRejectedError{Command: cti.CmdAssignSchedule, Channel: ch.settings.Channel, Code: fb.Result}
	}
}

// StartTest assigns the schedule and starts the test. Empty arguments fall
// back to the configured schedule and test names. It is never retried.
func (ch *Channel) StartTest(ctx context.Context, schedule, testName string) error {
	testName = pick(testName, ch.settings.TestName)
	if testName == "" {
		return ErrMissingTestName
	}

	if err := ch.AssignSchedule(ctx, schedule); err != nil {
		return err
	}

	fb, err := ch.cycler.write(ctx, cti.CmdStartSchedule, ch.settings.Channel, cti.StartScheduleRequest(ch.settings.Channel, testName))
	if err != nil {
		return fmt.Errorf("start test: %w", err)
	}

	schedule = pick(schedule, ch.settings.ScheduleName)
	switch fb.Result {
	case cti.ResultSuccess:
		ch.logger.Info("test started", "test_name", testName, "schedule", schedule)

		return nil
	case cti.StartChannelRunning:
		return &TestAlreadyRunningError{Channel: ch.settings.Channel, Command: cti.CmdStartScheduleFeedback, Code: fb.Result}
	case cti.StartScheduleIncompatible, cti.StartNoScheduleAssigned, cti.StartScheduleVersion:
		return &InvalidScheduleError{Channel: ch.settings.Channel, Schedule: schedule, Command: cti.CmdStartScheduleFeedback, Code: fb.Result}
	case cti.StartInvalidChannel:
		return &InvalidChannelError{Channel: ch.settings.Channel, NumChannels: ch.cycler.NumChannels(), Reason: cti.FeedbackText(cti.CmdStartScheduleFeedback, fb.Result)}
	default:
		return &CommandRejectedError{Command: cti.CmdStartSchedule, Channel: ch.settings.Channel, Code: fb.Result}
	}
}

// StopTest stops the channel's test. Only a channel whose state is
// RunStateIdle is reported as StopNotRunning without a request on the wire.
// Paused and faulted channels still get a stop request, and an instrument
// that refuses it surfaces as a *CommandRejectedError.
func (ch *Channel) StopTest(ctx context.Context) (StopOutcome, error) {
	status, err := ch.ReadChannelStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("stop test: %w", err)
	}
	if status.State == cti.RunStateIdle {
		ch.logger.Info("stop skipped: channel idle", "status", status.Status.String())

		return StopNotRunning, nil
	}

	fb, err := ch.cycler.write(ctx, cti.CmdStopSchedule, ch.settings.Channel, cti.StopScheduleRequest(ch.settings.Channel))
	if err != nil {
		return 0, fmt.Errorf("stop test: %w", err)
	}

	switch fb.Result {
	case cti.ResultSuccess:
		ch.logger.Info("test stopped")

		return StopSent, nil
	case cti.StopChannelNotFound:
		return 0, &InvalidChannelError{Channel: ch.settings.Channel, NumChannels: ch.cycler.NumChannels(), Reason: cti.FeedbackText(cti.CmdStopScheduleFeedback, fb.Result)}
	default:
		return 0, &CommandRejectedError{Command: cti.CmdStopSchedule, Channel: ch.settings.Channel, Code: fb.Result}
	}
}

// SetVariable writes value into the meta variable name (MV_UD1..MV_UD16).
func (ch *Channel) SetVariable(ctx context.Context, name string, value float32) error {
	code, ok := cti.MetaVariableCode(name)
	if !ok {
		return &InvalidVariableError{Name: name}
	}

	fb, err := ch.cycler.write(ctx, cti.CmdSetMetaVariable, ch.settings.Channel, cti.SetMetaVariableRequest(ch.settings.Channel, code, value))
	if err != nil {
		return fmt.Errorf("set variable %s: %w", name, err)
	}

	switch fb.Result {
	case cti.ResultSuccess:
		ch.logger.Info("variable set", "name", strings.ToUpper(strings.TrimSpace(name)), "value", value)

		return nil
	case cti.SetMVChannelIdle:
		return &NoActiveTestError{Channel: ch.settings.Channel}
	case cti.SetMVUnknownMetaCode:
		return &InvalidVariableError{Name: name}
	default:
		return &CommandRejectedError{Command: cti.CmdSetMetaVariable, Channel: ch.settings.Channel, Code: fb.Result}
	}
}

func pick(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}

	return fallback
}
