package cti

import (
	"fmt"
	"math"
	"time"
)

// StatusCode is the raw vendor channel status.
type StatusCode int16

const (
	StatusIdle StatusCode = iota
	StatusTransition
	StatusCharge
	StatusDischarge
	StatusRest
	StatusWait
	StatusExternalCharge
	StatusCalibration
	StatusUnsafe
	StatusPulse
	StatusInternalResistance
	StatusACImpedance
	StatusACICell
	StatusTestSettings
	StatusError
	StatusFinished
	StatusVoltMeter
	StatusWaitingForACS
	StatusPause
	StatusEmpty
	StatusIdleFromMCU
	StatusStart
	StatusRunning
	StatusStepTransfer
	StatusResume
	StatusGoPause
	StatusGoStop
	StatusGoNextStep
	StatusOnlineUpdate
	StatusDAQMemoryUnsafe
	StatusACR
)

var statusNames = [...]string{
	"Idle",
	"Transition",
	"Charge",
	"Discharge",
	"Rest",
	"Wait",
	"External Charge",
	"Calibration",
	"Unsafe",
	"Pulse",
	"Internal Resistance",
	"AC Impedance",
	"ACI Cell",
	"Test Settings",
	"Error",
	"Finished",
	"Volt Meter",
	"Waiting for ACS",
	"Pause",
	"Empty",
	"Idle from MCU",
	"Start",
	"Running",
	"Step Transfer",
	"Resume",
	"Go Pause",
	"Go Stop",
	"Go Next Step",
	"Online Update",
	"DAQ Memory Unsafe",
	"ACR",
}

// Valid reports whether s is one of the known vendor status codes.
func (s StatusCode) Valid() bool {
	return s >= 0 && int(s) < len(statusNames)
}

func (s StatusCode) String() string {
	if !s.Valid() {
		return fmt.Sprintf("StatusCode(%d)", int16(s))
	}

	return statusNames[s]
}

// RunState is the coarse category of a status code.
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
	RunStatePaused  RunState = "paused"
	RunStateFault   RunState = "fault"
)

// RunState maps s onto its category. Unknown codes report false.
func (s StatusCode) RunState() (RunState, bool) {
	if !s.Valid() {
		return "", false
	}

	switch s {
	case StatusIdle, StatusFinished, StatusEmpty, StatusIdleFromMCU:
		return RunStateIdle, true
	case StatusPause, StatusGoPause:
		return RunStatePaused, true
	case StatusUnsafe, StatusError, StatusDAQMemoryUnsafe:
		return RunStateFault, true
	default:
		return RunStateRunning, true
	}
}

// AuxKind identifies a class of auxiliary input. Readings appear on the wire
// grouped by kind in declaration order.
type AuxKind uint8

const (
	AuxVoltage AuxKind = iota
	AuxTemperature
	AuxPressure
	AuxExternal
	AuxFlow
	AuxAO
	AuxDI
	AuxDO
	AuxHumidity
	AuxSafety
	AuxPH
	AuxDensity
)

var auxKindNames = [...]string{
	"voltage",
	"temperature",
	"pressure",
	"external",
	"flow",
	"ao",
	"di",
	"do",
	"humidity",
	"safety",
	"ph",
	"density",
}

// AuxKinds lists every auxiliary kind in wire order.
func AuxKinds() []AuxKind {
	kinds := make([]AuxKind, len(auxKindNames))
	for i := range kinds {
		kinds[i] = AuxKind(i)
	}

	return kinds
}

func (k AuxKind) String() string {
	if int(k) >= len(auxKindNames) {
		return fmt.Sprintf("AuxKind(%d)", uint8(k))
	}

	return auxKindNames[k]
}

// CountField is the channel-info field holding the number of readings of k.
func (k AuxKind) CountField() string {
	return "aux_" + k.String() + "_count"
}

// AuxReading is one auxiliary input value and its rate of change.
type AuxReading struct {
	Kind  AuxKind
	Value float32
	DT    float32
}

// ChannelStatus is a decoded channel-info feedback. Channel is 1-based.
type ChannelStatus struct {
	Channel            int
	Status             StatusCode
	State              RunState
	CommFailure        bool
	Schedule           string
	TestName           string
	ExitCondition      string
	StepAndCycle       string
	Barcode            string
	MasterChannel      int
	TestTime           time.Duration
	StepTime           time.Duration
	Voltage            float32
	Current            float32
	Power              float32
	ChargeCapacity     float32
	DischargeCapacity  float32
	ChargeEnergy       float32
	DischargeEnergy    float32
	InternalResistance float32
	DVDT               float32
	ACR                float32
	ACI                float32
	ACIPhase           float32

	aux []AuxReading
}

// Aux returns a copy of the auxiliary readings.
func (s ChannelStatus) Aux() []AuxReading {
	if len(s.aux) == 0 {
		return nil
	}

	out := make([]AuxReading, len(s.aux))
	copy(out, s.aux)

	return out
}

// WithAux returns a copy of s carrying readings.
func (s ChannelStatus) WithAux(readings ...AuxReading) ChannelStatus {
	s.aux = append([]AuxReading(nil), readings...)

	return s
}

// ChannelStatusFromValues builds a ChannelStatus from decoded channel-info
// feedback values.
func ChannelStatusFromValues(v Values) (ChannelStatus, error) {
	code := StatusCode(v.Int("status"))
	state, ok := code.RunState()
	if !ok {
		return ChannelStatus{}, &FramingError{Reason: fmt.Sprintf("unknown channel status code %d", v.Int("status"))}
	}

	st := ChannelStatus{
		Channel:            int(v.Int("channel")) + 1,
		Status:             code,
		State:              state,
		CommFailure:        v.Int("comm_failure") != 0,
		Schedule:           v.Text("schedule"),
		TestName:           v.Text("test_name"),
		ExitCondition:      v.Text("exit_condition"),
		StepAndCycle:       v.Text("step_and_cycle_format"),
		Barcode:            v.Text("barcode"),
		MasterChannel:      int(v.Int("master_channel")),
		TestTime:           seconds(v.Float("test_time")),
		StepTime:           seconds(v.Float("step_time")),
		Voltage:            float32(v.Float("voltage")),
		Current:            float32(v.Float("current")),
		Power:              float32(v.Float("power")),
		ChargeCapacity:     float32(v.Float("charge_capacity")),
		DischargeCapacity:  float32(v.Float("discharge_capacity")),
		ChargeEnergy:       float32(v.Float("charge_energy")),
		DischargeEnergy:    float32(v.Float("discharge_energy")),
		InternalResistance: float32(v.Float("internal_resistance")),
		DVDT:               float32(v.Float("dvdt")),
		ACR:                float32(v.Float("acr")),
		ACI:                float32(v.Float("aci")),
		ACIPhase:           float32(v.Float("aci_phase")),
	}
	st.aux = append([]AuxReading(nil), v.Aux()...)

	return st, nil
}

// Values converts s back into channel-info feedback values. The channel is
// written 0-based.
func (s ChannelStatus) Values() Values {
	comm := 0
	if s.CommFailure {
		comm = 1
	}

	return Values{
		"number_of_channels":    1,
		"channel":               s.Channel - 1,
		"status":                int(s.Status),
		"comm_failure":          comm,
		"schedule":              s.Schedule,
		"test_name":             s.TestName,
		"exit_condition":        s.ExitCondition,
		"step_and_cycle_format": s.StepAndCycle,
		"barcode":               s.Barcode,
		"master_channel":        s.MasterChannel,
		"test_time":             s.TestTime.Seconds(),
		"step_time":             s.StepTime.Seconds(),
		"voltage":               s.Voltage,
		"current":               s.Current,
		"power":                 s.Power,
		"charge_capacity":       s.ChargeCapacity,
		"discharge_capacity":    s.DischargeCapacity,
		"charge_energy":         s.ChargeEnergy,
		"discharge_energy":      s.DischargeEnergy,
		"internal_resistance":   s.InternalResistance,
		"dvdt":                  s.DVDT,
		"acr":                   s.ACR,
		"aci":                   s.ACI,
		"aci_phase":             s.ACIPhase,
		KeyAux:                  s.Aux(),
	}
}

func seconds(v float64) time.Duration {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}

	if v > float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(v * float64(time.Second))
}
