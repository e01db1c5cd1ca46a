package cti

import "fmt"

// Command is the 32-bit command identifier carried at byte 12 of every frame.
type Command uint32

const (
	CmdLogin                   Command = 0xEEAB0001
	CmdLoginFeedback           Command = 0xEEBA0001
	CmdChannelInfo             Command = 0xEEAB0003
	CmdChannelInfoFeedback     Command = 0xEEBA0003
	CmdAssignSchedule          Command = 0xBB210001
	CmdAssignScheduleFeedback  Command = 0xBB120001
	CmdStartSchedule           Command = 0xBB320004
	CmdStartScheduleFeedback   Command = 0xBB230004
	CmdStopSchedule            Command = 0xBB310001
	CmdStopScheduleFeedback    Command = 0xBB130001
	CmdSetMetaVariable         Command = 0xBB150001
	CmdSetMetaVariableFeedback Command = 0xBB510001

	// CmdProtocolError is sent by the emulator in place of a feedback frame
	// when an inbound frame cannot be decoded.
	CmdProtocolError Command = 0xEEBAFFFF
)

var commandNames = map[Command]string{
	CmdLogin:                   "Login",
	CmdLoginFeedback:           "LoginFeedback",
	CmdChannelInfo:             "ChannelInfo",
	CmdChannelInfoFeedback:     "ChannelInfoFeedback",
	CmdAssignSchedule:          "AssignSchedule",
	CmdAssignScheduleFeedback:  "AssignScheduleFeedback",
	CmdStartSchedule:           "StartSchedule",
	CmdStartScheduleFeedback:   "StartScheduleFeedback",
	CmdStopSchedule:            "StopSchedule",
	CmdStopScheduleFeedback:    "StopScheduleFeedback",
	CmdSetMetaVariable:         "SetMetaVariable",
	CmdSetMetaVariableFeedback: "SetMetaVariableFeedback",
	CmdProtocolError:           "ProtocolError",
}

var feedbackFor = map[Command]Command{
	CmdLogin:           CmdLoginFeedback,
	CmdChannelInfo:     CmdChannelInfoFeedback,
	CmdAssignSchedule:  CmdAssignScheduleFeedback,
	CmdStartSchedule:   CmdStartScheduleFeedback,
	CmdStopSchedule:    CmdStopScheduleFeedback,
	CmdSetMetaVariable: CmdSetMetaVariableFeedback,
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("0x%08X", uint32(c))
}

// FeedbackFor returns the feedback command the instrument answers req with.
func FeedbackFor(req Command) (Command, bool) {
	fb, ok := feedbackFor[req]

	return fb, ok
}

// IsRequest reports whether c is sent by clients.
func (c Command) IsRequest() bool {
	_, ok := feedbackFor[c]

	return ok
}
