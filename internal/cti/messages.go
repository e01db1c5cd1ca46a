package cti

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// LoginResult is the result field of a login feedback.
type LoginResult uint32

const (
	LoginSuccess         LoginResult = 1
	LoginFailed          LoginResult = 2
	LoginAlreadyLoggedIn LoginResult = 3
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginFailed:
		return "fail"
	case LoginAlreadyLoggedIn:
		return "already logged in"
	default:
		return fmt.Sprintf("LoginResult(%d)", uint32(r))
	}
}

// LoginFeedback is the instrument's answer to a login request.
type LoginFeedback struct {
	Result       LoginResult
	IPAddress    string
	SerialNumber string
	Note         string
	NickName     string
	Location     string
	Email        string
	Version      uint32
	AllowControl bool
	NumChannels  int
	UserType     uint32
}

func LoginFeedbackFromValues(v Values) LoginFeedback {
	return LoginFeedback{
		Result:       LoginResult(v.Int("result")),
		IPAddress:    v.Text("ip_address"),
		SerialNumber: v.Text("cycler_sn"),
		Note:         v.Text("note"),
		NickName:     v.Text("nick_name"),
		Location:     v.Text("location"),
		Email:        v.Text("email"),
		Version:      uint32(v.Int("version")),
		AllowControl: v.Int("allow_control") != 0,
		NumChannels:  int(v.Int("num_channels")),
		UserType:     uint32(v.Int("user_type")),
	}
}

func (f LoginFeedback) Values() Values {
	allow := 0
	if f.AllowControl {
		allow = 1
	}

	return Values{
		"result":        uint32(f.Result),
		"ip_address":    f.IPAddress,
		"cycler_sn":     f.SerialNumber,
		"note":          f.Note,
		"nick_name":     f.NickName,
		"location":      f.Location,
		"email":         f.Email,
		"version":       f.Version,
		"allow_control": allow,
		"num_channels":  f.NumChannels,
		"user_type":     f.UserType,
	}
}

// LoginRequest builds login values. Credentials are only ever placed in the
// request payload.
func LoginRequest(username, password string) Values {
	return Values{"username": username, "password": password}
}

// ChannelInfoRequest asks for the status of one 1-based channel.
func ChannelInfoRequest(channel int) Values {
	return Values{"channel": channel - 1}
}

// AssignScheduleRequest assigns schedule to one 1-based channel.
func AssignScheduleRequest(channel int, schedule string) Values {
	return Values{"channel": channel - 1, "schedule": schedule}
}

// StartScheduleRequest starts the assigned schedule on one 1-based channel.
func StartScheduleRequest(channel int, testName string) Values {
	return Values{"channel": channel - 1, "test_name": testName}
}

// StopScheduleRequest stops the test running on one 1-based channel.
func StopScheduleRequest(channel int) Values {
	return Values{"channel": channel - 1}
}

// SetMetaVariableRequest writes value into the meta variable identified by
// code on one 1-based channel.
func SetMetaVariableRequest(channel int, code int32, value float32) Values {
	return Values{"channel": channel - 1, "mv_meta_code": code, "mv_data": value}
}

// Feedback is the common acknowledgement returned for write commands.
// Channel is 1-based.
type Feedback struct {
	Channel int
	Result  uint8
}

func FeedbackFromValues(v Values) Feedback {
	return Feedback{Channel: int(v.Int("channel")) + 1, Result: uint8(v.Int("result"))}
}

func (f Feedback) Values() Values {
	return Values{"channel": f.Channel - 1, "result": f.Result}
}

// Result codes shared by write feedbacks.
const (
	ResultSuccess uint8 = 0
)

const (
	AssignChannelNotFound    uint8 = 16
	AssignMonitorWindowInUse uint8 = 17
	AssignEmptySchedule      uint8 = 18
	AssignScheduleNotFound   uint8 = 19
	AssignChannelRunning     uint8 = 20
	AssignDownloading        uint8 = 21
	AssignBatchFileOpen      uint8 = 22
	AssignFailed             uint8 = 23
)

const (
	StartInvalidChannel         uint8 = 16
	StartMonitorWindowInUse     uint8 = 17
	StartChannelRunning         uint8 = 18
	StartNotConnectedToDAQ      uint8 = 19
	StartScheduleIncompatible   uint8 = 20
	StartNoScheduleAssigned     uint8 = 21
	StartScheduleVersion        uint8 = 22
	StartInvalidStep            uint8 = 25
	StartInvalidAuxCount        uint8 = 27
	StartInvalidBuiltinAuxCount uint8 = 28
	StartCheckAuxSettings       uint8 = 30
	StartNoChannels             uint8 = 31
	StartDAQDownloading         uint8 = 33
	StartDatabaseError          uint8 = 34
	StartEmptyTestName          uint8 = 35
	StartInvalidStepNumber      uint8 = 36
	StartInvalidParallel        uint8 = 37
	StartSafetyPrecheck         uint8 = 38
	StartBatterySimulation      uint8 = 40
)

const (
	StopChannelNotFound    uint8 = 16
	StopMonitorWindowInUse uint8 = 17
)

const (
	SetMVFailure         uint8 = 16
	SetMVChannelIdle     uint8 = 17
	SetMVUnknownMetaCode uint8 = 18
)

var feedbackTexts = map[Command]map[uint8]string{
	CmdAssignScheduleFeedback: {
		ResultSuccess:            "success",
		AssignChannelNotFound:    "channel does not exist",
		AssignMonitorWindowInUse: "monitor window in use",
		AssignEmptySchedule:      "schedule name cannot be empty",
		AssignScheduleNotFound:   "schedule name not found",
		AssignChannelRunning:     "channel is running",
		AssignDownloading:        "channel is downloading another schedule",
		AssignBatchFileOpen:      "cannot assign schedule while a batch file is open",
		AssignFailed:             "assign failed",
	},
	CmdStartScheduleFeedback: {
		ResultSuccess:               "success",
		StartInvalidChannel:         "invalid channel index",
		StartMonitorWindowInUse:     "a user is controlling the monitor window",
		StartChannelRunning:         "channel is running or unsafe",
		StartNotConnectedToDAQ:      "channel not connected to DAQ",
		StartScheduleIncompatible:   "schedule not compatible with the system configuration",
		StartNoScheduleAssigned:     "no schedule assigned to channel",
		StartScheduleVersion:        "schedule version does not match MITS version",
		StartInvalidStep:            "invalid step number",
		StartInvalidAuxCount:        "invalid auxiliary count in schedule",
		StartInvalidBuiltinAuxCount: "invalid built-in auxiliary count",
		StartCheckAuxSettings:       "check aux test setting tab",
		StartNoChannels:             "no selected channels",
		StartDAQDownloading:         "DAQ still downloading schedule",
		StartDatabaseError:          "error querying database",
		StartEmptyTestName:          "test name cannot be empty",
		StartInvalidStepNumber:      "invalid step number",
		StartInvalidParallel:        "invalid parallel channel number",
		StartSafetyPrecheck:         "schedule safety precheck failed",
		StartBatterySimulation:      "battery simulation error",
	},
	CmdStopScheduleFeedback: {
		ResultSuccess:          "success",
		StopChannelNotFound:    "channel index does not exist",
		StopMonitorWindowInUse: "someone else is controlling the monitor window",
	},
	CmdSetMetaVariableFeedback: {
		ResultSuccess:        "success",
		SetMVFailure:         "set MV failure",
		SetMVChannelIdle:     "channel is not running",
		SetMVUnknownMetaCode: "meta code does not exist",
	},
}

// FeedbackText describes a result code of the given feedback command.
func FeedbackText(cmd Command, code uint8) string {
	if text, ok := feedbackTexts[cmd][code]; ok {
		return text
	}

	return fmt.Sprintf("unknown result code %d", code)
}

// MetaVariableCode resolves MV_UD1..MV_UD16 (case-insensitive) to the meta
// code the instrument expects.
func MetaVariableCode(name string) (int32, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(upper, "MV_UD") {
		return 0, false
	}

	n, err := strconv.Atoi(upper[len("MV_UD"):])
	if err != nil {
		return 0, false
	}

	switch {
	case n >= 1 && n <= 4:
		return int32(51 + n), true
	case n >= 5 && n <= 16:
		return int32(100 + n), true
	default:
		return 0, false
	}
}

// IsMetaVariableCode reports whether code belongs to MV_UD1..MV_UD16.
func IsMetaVariableCode(code int32) bool {
	return (code >= 52 && code <= 55) || (code >= 105 && code <= 116)
}

// ProtocolErrorReason classifies why the emulator rejected a frame.
type ProtocolErrorReason uint32

const (
	ReasonMalformedFrame ProtocolErrorReason = iota + 1
	ReasonChecksum
	ReasonUnknownCommand
	ReasonNotARequest
	ReasonEncoding
	ReasonInvalidChannel
)

func (r ProtocolErrorReason) String() string {
	switch r {
	case ReasonMalformedFrame:
		return "malformed frame"
	case ReasonChecksum:
		return "checksum mismatch"
	case ReasonUnknownCommand:
		return "unknown command"
	case ReasonNotARequest:
		return "not a request"
	case ReasonEncoding:
		return "encoding"
	case ReasonInvalidChannel:
		return "invalid channel"
	default:
		return fmt.Sprintf("ProtocolErrorReason(%d)", uint32(r))
	}
}

// ProtocolError is the emulator's reply to a frame it could not serve.
type ProtocolError struct {
	Rejected Command
	Reason   ProtocolErrorReason
	Detail   string
}

func ProtocolErrorFromValues(v Values) ProtocolError {
	return ProtocolError{
		Rejected: Command(v.Int("rejected_command")),
		Reason:   ProtocolErrorReason(v.Int("reason")),
		Detail:   v.Text("detail"),
	}
}

// Values truncates the detail to the field width on a rune boundary.
func (p ProtocolError) Values() Values {
	detail := strings.ToValidUTF8(strings.ReplaceAll(p.Detail, "\x00", ""), "")
	for len(detail) > 64 {
		_, size := utf8.DecodeLastRuneInString(detail)
		detail = detail[:len(detail)-size]
	}

	return Values{
		"rejected_command": uint32(p.Rejected),
		"reason":           uint32(p.Reason),
		"detail":           detail,
	}
}
