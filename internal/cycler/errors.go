package cycler

import (
	"errors"
	"fmt"

	"github.com/batterylab/ctigo/internal/cti"
)

var (
	// ErrNotDialed is returned by Reconnect on a cycler built with New.
	ErrNotDialed = errors.New("cycler: reconnect requires a dialed cycler")
	// ErrMissingTestName is returned by StartTest when neither the call nor
	// the channel settings name the test.
	ErrMissingTestName = errors.New("cycler: test name is empty")
)

// AuthenticationError reports a login the instrument refused.
type AuthenticationError struct {
	Result   cti.LoginResult
	Username string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("cycler: login as %q rejected: %s", e.Username, e.Result)
}

// InvalidChannelError reports a channel outside the instrument's range or a
// request that would address a different channel than configured.
type InvalidChannelError struct {
	Channel     int
	NumChannels int
	Reason      string
}

func (e *InvalidChannelError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cycler: invalid channel %d: %s", e.Channel, e.Reason)
	}

	return fmt.Sprintf("cycler: invalid channel %d (instrument has %d)", e.Channel, e.NumChannels)
}

// InvalidScheduleError reports a schedule the instrument cannot assign or run.
type InvalidScheduleError struct {
	Channel  int
	Schedule string
	Command  cti.Command
	Code     uint8
}

func (e *InvalidScheduleError) Error() string {
	if e.Command == 0 {
		return fmt.Sprintf("cycler: channel %d: schedule name is empty", e.Channel)
	}

	return fmt.Sprintf("cycler: channel %d: schedule %q rejected: %s", e.Channel, e.Schedule, cti.FeedbackText(e.Command, e.Code))
}

// TestAlreadyRunningError reports a start on a channel that is busy.
type TestAlreadyRunningError struct {
	Channel int
	Command cti.Command
	Code    uint8
}

func (e *TestAlreadyRunningError) Error() string {
	return fmt.Sprintf("cycler: channel %d already running: %s", e.Channel, cti.FeedbackText(e.Command, e.Code))
}

// NoActiveTestError reports a variable write on a channel without a test.
type NoActiveTestError struct {
	Channel int
}

func (e *NoActiveTestError) Error() string {
	return fmt.Sprintf("cycler: channel %d has no running test", e.Channel)
}

// InvalidVariableError reports a meta variable name outside MV_UD1..MV_UD16.
type InvalidVariableError struct {
	Name string
}

func (e *InvalidVariableError) Error() string {
	return fmt.Sprintf("cycler: unknown meta variable %q (want MV_UD1..MV_UD16)", e.Name)
}

// CommandRejectedError reports any other non-success feedback code.
type CommandRejectedError struct {
	Command cti.Command
	Channel int
	Code    uint8
}

func (e *CommandRejectedError) Error() string {
	fb := e.Command
	if resp, ok := cti.FeedbackFor(e.Command); ok {
		fb = resp
	}

	return fmt.Sprintf("cycler: %s on channel %d rejected (code %d): %s", e.Command, e.Channel, e.Code, cti.FeedbackText(fb, e.Code))
}

// UnexpectedResponseError reports a well-formed response that does not answer
// the request that was sent.
type UnexpectedResponseError struct {
	Want        cti.Command
	Got         cti.Command
	WantChannel int
	GotChannel  int
}

func (e *UnexpectedResponseError) Error() string {
	if e.Want != e.Got {
		return fmt.Sprintf("cycler: expected %s, got %s", e.Want, e.Got)
	}

	return fmt.Sprintf("cycler: %s for channel %d, expected channel %d", e.Got, e.GotChannel, e.WantChannel)
}

// ProtocolRejectedError wraps a protocol error frame returned by an emulator.
type ProtocolRejectedError struct {
	cti.ProtocolError
}

func (e *ProtocolRejectedError) Error() string {
	return fmt.Sprintf("cycler: %s rejected by peer: %s: %s", e.Rejected, e.Reason, e.Detail)
}
