package cti

import (
	"strings"
	"testing"
)

func TestMetaVariableCode(t *testing.T) {
	tests := []struct {
		name string
		code int32
		ok   bool
	}{
		{"MV_UD1", 52, true},
		{"mv_ud4", 55, true},
		{" MV_UD5 ", 105, true},
		{"MV_UD16", 116, true},
		{"MV_UD0", 0, false},
		{"MV_UD17", 0, false},
		{"MV_UDx", 0, false},
		{"TC_Counter1", 0, false},
	}

	for _, tc := range tests {
		code, ok := MetaVariableCode(tc.name)
		if ok != tc.ok || code != tc.code {
			t.Fatalf("%q: expected (%d, %v), got (%d, %v)", tc.name, tc.code, tc.ok, code, ok)
		}
	}
}

func TestRunStateMapping(t *testing.T) {
	tests := []struct {
		code StatusCode
		want RunState
	}{
		{StatusIdle, RunStateIdle},
		{StatusFinished, RunStateIdle},
		{StatusEmpty, RunStateIdle},
		{StatusIdleFromMCU, RunStateIdle},
		{StatusPause, RunStatePaused},
		{StatusGoPause, RunStatePaused},
		{StatusUnsafe, RunStateFault},
		{StatusError, RunStateFault},
		{StatusDAQMemoryUnsafe, RunStateFault},
		{StatusCharge, RunStateRunning},
		{StatusACR, RunStateRunning},
	}

	for _, tc := range tests {
		got, ok := tc.code.RunState()
		if !ok || got != tc.want {
			t.Fatalf("%s: expected %s, got %s (ok=%v)", tc.code, tc.want, got, ok)
		}
	}

	if _, ok := StatusCode(31).RunState(); ok {
		t.Fatalf("expected status 31 to be unknown")
	}
	if _, ok := StatusCode(-1).RunState(); ok {
		t.Fatalf("expected status -1 to be unknown")
	}
}

func TestFeedbackText(t *testing.T) {
	if got := FeedbackText(CmdStartScheduleFeedback, StartChannelRunning); got != "channel is running or unsafe" {
		t.Fatalf("unexpected start text %q", got)
	}
	if got := FeedbackText(CmdSetMetaVariableFeedback, SetMVChannelIdle); got != "channel is not running" {
		t.Fatalf("unexpected set MV text %q", got)
	}
	if got := FeedbackText(CmdStopScheduleFeedback, 99); !strings.Contains(got, "99") {
		t.Fatalf("expected unknown code text to carry the code, got %q", got)
	}
}

func TestProtocolErrorDetailIsTruncated(t *testing.T) {
	p := ProtocolError{Reason: ReasonMalformedFrame, Detail: strings.Repeat("é", 40)}

	frame, err := Encode(CmdProtocolError, p.Values())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, v, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := ProtocolErrorFromValues(v)
	if got.Reason != ReasonMalformedFrame {
		t.Fatalf("expected reason %s, got %s", ReasonMalformedFrame, got.Reason)
	}
	if got.Detail != strings.Repeat("é", 32) {
		t.Fatalf("expected 32 runes of detail, got %q", got.Detail)
	}
}

func TestLoginFeedbackFromValues(t *testing.T) {
	frame, err := Encode(CmdLoginFeedback, LoginFeedback{
		Result:       LoginAlreadyLoggedIn,
		SerialNumber: "ARB-123",
		NumChannels:  8,
		AllowControl: true,
		Version:      8,
	}.Values())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, v, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	fb := LoginFeedbackFromValues(v)
	if fb.Result != LoginAlreadyLoggedIn || fb.SerialNumber != "ARB-123" || fb.NumChannels != 8 || !fb.AllowControl {
		t.Fatalf("unexpected login feedback %+v", fb)
	}
}

func TestCommandHelpers(t *testing.T) {
	fb, ok := FeedbackFor(CmdChannelInfo)
	if !ok || fb != CmdChannelInfoFeedback {
		t.Fatalf("expected channel info feedback, got %s", fb)
	}
	if CmdChannelInfoFeedback.IsRequest() {
		t.Fatalf("expected feedback not to be a request")
	}
	if got := Command(0x1).String(); got != "0x00000001" {
		t.Fatalf("unexpected unknown command name %q", got)
	}
}
