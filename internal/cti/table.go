package cti

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// Layout is the field table for one command. Offsets are implied by field
// order starting at PayloadOffset.
type Layout struct {
	Command Command
	Fields  []Field
	// Aux marks layouts followed by auxiliary readings, one per count
	// announced in the aux_*_count fields.
	Aux bool

	offsets []int
	size    int
}

func newLayout(cmd Command, aux bool, fields ...Field) *Layout {
	l := &Layout{Command: cmd, Fields: fields, Aux: aux}
	l.offsets = make([]int, len(fields))
	off := PayloadOffset
	for i, f := range fields {
		l.offsets[i] = off
		off += f.Size()
	}
	l.size = off + ChecksumSize

	return l
}

// FixedSize is the frame length without auxiliary readings.
func (l *Layout) FixedSize() int {
	return l.size
}

// Offset returns the byte offset of the named field.
func (l *Layout) Offset(name string) (int, bool) {
	for i, f := range l.Fields {
		if f.Name == name && f.Type != TypeReserved {
			return l.offsets[i], true
		}
	}

	return 0, false
}

// Table is a versioned set of layouts.
type Table struct {
	version string
	layouts map[Command]*Layout
}

// NewTable builds a table for a protocol version such as "v1.0.0".
func NewTable(version string, layouts ...*Layout) (*Table, error) {
	v := normalizeSemver(version)
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("invalid table version %q", version)
	}

	t := &Table{version: v, layouts: make(map[Command]*Layout, len(layouts))}
	for _, l := range layouts {
		if _, dup := t.layouts[l.Command]; dup {
			return nil, fmt.Errorf("duplicate layout for %s", l.Command)
		}
		t.layouts[l.Command] = l
	}

	return t, nil
}

func (t *Table) Version() string {
	return t.version
}

func (t *Table) Layout(cmd Command) (*Layout, bool) {
	l, ok := t.layouts[cmd]

	return l, ok
}

// Commands lists the commands known to the table in ascending order.
func (t *Table) Commands() []Command {
	out := make([]Command, 0, len(t.layouts))
	for cmd := range t.layouts {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Table{}
)

// RegisterTable makes t available to TableForVersion.
func RegisterTable(t *Table) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[t.version] = t
}

// TableForVersion returns the newest registered table whose version is not
// newer than the requested protocol version.
func TableForVersion(version string) (*Table, error) {
	v := normalizeSemver(version)
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("invalid protocol version %q", version)
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	var best *Table
	for tv, t := range registry {
		if semver.Compare(tv, v) > 0 {
			continue
		}
		if best == nil || semver.Compare(tv, best.version) > 0 {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no field table registered for protocol %s", v)
	}

	return best, nil
}

func normalizeSemver(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}

	return v
}

// DefaultVersion is the protocol version of the built-in table.
const DefaultVersion = "v1.0.0"

var defaultTable = mustTable(NewTable(DefaultVersion,
	newLayout(CmdLogin, false,
		str("username", 32).required(),
		str("password", 32).required(),
	),
	newLayout(CmdLoginFeedback, false,
		u32("result").withDefault(int64(LoginSuccess)),
		str("ip_address", 4),
		str("cycler_sn", 16),
		str("note", 256),
		wstr("nick_name", 2048),
		wstr("location", 2048),
		wstr("emergency_contact", 2048),
		wstr("other_comments", 2048),
		wstr("email", 128),
		wstr("call", 32),
		u32("itac"),
		u32("version"),
		u32("allow_control"),
		u32("num_channels"),
		u32("user_type").withDefault(int64(1)),
		u32("picture_length"),
	),
	newLayout(CmdChannelInfo, false,
		i16("channel").required(),
		i16("channel_selection").withDefault(int64(1)),
		u32("aux_options"),
		reserved(32),
	),
	newLayout(CmdChannelInfoFeedback, true, channelInfoFeedbackFields()...),
	newLayout(CmdAssignSchedule, false, assignScheduleFields()...),
	newLayout(CmdAssignScheduleFeedback, false, feedbackFields()...),
	newLayout(CmdStartSchedule, false,
		wstr("test_name", 144),
		u32("num_channels").withDefault(int64(1)),
		u16("channel").required(),
	),
	newLayout(CmdStartScheduleFeedback, false, feedbackFields()...),
	newLayout(CmdStopSchedule, false,
		u32("channel").required(),
		u8("stop_all_channels"),
		reserved(101),
	),
	newLayout(CmdStopScheduleFeedback, false, feedbackFields()...),
	newLayout(CmdSetMetaVariable, false,
		u32("channel").required(),
		i32("mv_type").withDefault(int64(1)),
		i32("mv_meta_code").required(),
		reserved(16),
		i32("mv_value_type").withDefault(int64(1)),
		f32("mv_data").required(),
		reserved(16),
	),
	newLayout(CmdSetMetaVariableFeedback, false, feedbackFields()...),
	newLayout(CmdProtocolError, false,
		u32("rejected_command"),
		u32("reason").required(),
		str("detail", 64),
	),
))

func init() {
	RegisterTable(defaultTable)
}

// DefaultTable returns the built-in field table.
func DefaultTable() *Table {
	return defaultTable
}

func mustTable(t *Table, err error) *Table {
	if err != nil {
		panic(err)
	}

	return t
}

func channelInfoFeedbackFields() []Field {
	fields := []Field{
		u32("number_of_channels").withDefault(int64(1)),
		u32("channel").required(),
		i16("status"),
		u8("comm_failure"),
		wstr("schedule", 400),
		wstr("test_name", 144),
		str("exit_condition", 100),
		str("step_and_cycle_format", 64),
		wstr("barcode", 144),
		wstr("can_config_name", 400),
		wstr("smb_config_name", 400),
		u16("master_channel"),
		f64("test_time"),
		f64("step_time"),
		f32("voltage"),
		f32("current"),
		f32("power"),
		f32("charge_capacity"),
		f32("discharge_capacity"),
		f32("charge_energy"),
		f32("discharge_energy"),
		f32("internal_resistance"),
		f32("dvdt"),
		f32("acr"),
		f32("aci"),
		f32("aci_phase"),
	}
	for _, k := range AuxKinds() {
		fields = append(fields, u16(k.CountField()))
	}

	return append(fields, u16("bms_count"), u16("smb_count"))
}

func assignScheduleFields() []Field {
	fields := []Field{
		i32("channel").required(),
		u8("assign_all_channels"),
		wstr("schedule", 400).required(),
		f32("test_capacity_ah"),
		wstr("barcode", 144),
	}
	for i := 1; i <= 16; i++ {
		fields = append(fields, f32(fmt.Sprintf("user_variable_%d", i)))
	}

	return append(fields, reserved(32))
}

func feedbackFields() []Field {
	return []Field{
		u32("channel").required(),
		u8("result").required(),
		reserved(101),
	}
}
