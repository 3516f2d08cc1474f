// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package grbl implements the host-side core of a GRBL-HAL CNC controller:
// status parsing, a status poller, a line streamer, and a bed-extension
// motion translator.
package grbl

import "time"

// Position holds machine or work coordinates. Immutable value.
type Position struct {
	X float64
	Y float64
	Z float64
	// A is the optional rotary axis. nil when the controller's status
	// report carried only X/Y/Z.
	A *float64
}

// HoldReason distinguishes why the machine entered Hold.
type HoldReason struct {
	kind  holdReasonKind
	other string
}

type holdReasonKind int

const (
	FeedHold holdReasonKind = iota
	SafetyDoor
	OtherHoldReason
)

// NewOtherHoldReason builds a HoldReason carrying an unrecognized sub-code
// description.
func NewOtherHoldReason(s string) HoldReason {
	return HoldReason{kind: OtherHoldReason, other: s}
}

// FeedHoldReason is the HoldReason for a feed hold.
func FeedHoldReason() HoldReason { return HoldReason{kind: FeedHold} }

// SafetyDoorReason is the HoldReason for a safety door interlock.
func SafetyDoorReason() HoldReason { return HoldReason{kind: SafetyDoor} }

// Kind reports which HoldReason variant this is.
func (h HoldReason) Kind() holdReasonKind { return h.kind }

// Other returns the free-form description when Kind() == OtherHoldReason.
func (h HoldReason) Other() string { return h.other }

func (h HoldReason) String() string {
	switch h.kind {
	case FeedHold:
		return "FeedHold"
	case SafetyDoor:
		return "SafetyDoor"
	default:
		return "Other(" + h.other + ")"
	}
}

// AlarmCode enumerates GRBL-HAL alarm codes 1-21 with stable names, plus
// Unknown for any other byte value.
type AlarmCode struct {
	name string
	n    byte
	ok   bool // true for the 21 named codes
}

func namedAlarm(n byte, name string) AlarmCode { return AlarmCode{name: name, n: n, ok: true} }

// Named GRBL-HAL alarm codes (1-21).
var (
	AlarmHardLimit                      = namedAlarm(1, "HardLimit")
	AlarmSoftLimit                      = namedAlarm(2, "SoftLimit")
	AlarmAbortCycle                     = namedAlarm(3, "AbortCycle")
	AlarmProbeFailInitial               = namedAlarm(4, "ProbeFailInitial")
	AlarmProbeFailContact               = namedAlarm(5, "ProbeFailContact")
	AlarmHomingFailReset                = namedAlarm(6, "HomingFailReset")
	AlarmHomingFailDoor                 = namedAlarm(7, "HomingFailDoor")
	AlarmFailPulloff                    = namedAlarm(8, "FailPulloff")
	AlarmHomingFailApproach             = namedAlarm(9, "HomingFailApproach")
	AlarmEStop                          = namedAlarm(10, "EStop")
	AlarmHomingRequired                 = namedAlarm(11, "HomingRequired")
	AlarmLimitsEngaged                  = namedAlarm(12, "LimitsEngaged")
	AlarmProbeProtect                   = namedAlarm(13, "ProbeProtect")
	AlarmSpindle                        = namedAlarm(14, "Spindle")
	AlarmHomingFailAutoSquaringApproach = namedAlarm(15, "HomingFailAutoSquaringApproach")
	AlarmSelftestFailed                 = namedAlarm(16, "SelftestFailed")
	AlarmMotorFault                     = namedAlarm(17, "MotorFault")
	AlarmHomingFail                     = namedAlarm(18, "HomingFail")
	AlarmModbusException                = namedAlarm(19, "ModbusException")
	AlarmExpanderException              = namedAlarm(20, "ExpanderException")
	AlarmNvsFailed                      = namedAlarm(21, "NvsFailed")
)

var namedAlarmsByCode = map[byte]AlarmCode{
	1:  AlarmHardLimit,
	2:  AlarmSoftLimit,
	3:  AlarmAbortCycle,
	4:  AlarmProbeFailInitial,
	5:  AlarmProbeFailContact,
	6:  AlarmHomingFailReset,
	7:  AlarmHomingFailDoor,
	8:  AlarmFailPulloff,
	9:  AlarmHomingFailApproach,
	10: AlarmEStop,
	11: AlarmHomingRequired,
	12: AlarmLimitsEngaged,
	13: AlarmProbeProtect,
	14: AlarmSpindle,
	15: AlarmHomingFailAutoSquaringApproach,
	16: AlarmSelftestFailed,
	17: AlarmMotorFault,
	18: AlarmHomingFail,
	19: AlarmModbusException,
	20: AlarmExpanderException,
	21: AlarmNvsFailed,
}

// AlarmCodeFromByte maps a raw alarm byte to its named variant, or an
// Unknown(n) variant for any value outside 1..=21 (including 0).
func AlarmCodeFromByte(n byte) AlarmCode {
	if code, ok := namedAlarmsByCode[n]; ok {
		return code
	}
	return AlarmCode{n: n, ok: false}
}

// IsUnknown reports whether this code has no stable name (n==0 or n>=22).
func (a AlarmCode) IsUnknown() bool { return !a.ok }

// Code returns the raw numeric alarm code.
func (a AlarmCode) Code() byte { return a.n }

func (a AlarmCode) String() string {
	if a.ok {
		return a.name
	}
	return "Unknown"
}

// PinState reports limit/probe input pin levels. Zero value is all-false.
type PinState struct {
	LimitX bool
	LimitY bool
	LimitZ bool
	Probe  bool
}

// MachineState is the tagged machine-state variant reported in status
// reports. Exactly one of the accessor pairs (Hold/HoldReason,
// Alarm/AlarmCode, Unknown/UnknownName) is meaningful per Kind().
type MachineState struct {
	kind        machineStateKind
	holdReason  HoldReason
	alarmCode   AlarmCode
	unknownName string
}

type machineStateKind int

const (
	StateIdle machineStateKind = iota
	StateRun
	StateHold
	StateJog
	StateAlarm
	StateDoor
	StateCheck
	StateHome
	StateSleep
	StateUnknown
)

func (k machineStateKind) String() string {
	switch k {
	case StateIdle:
		return "Idle"
	case StateRun:
		return "Run"
	case StateHold:
		return "Hold"
	case StateJog:
		return "Jog"
	case StateAlarm:
		return "Alarm"
	case StateDoor:
		return "Door"
	case StateCheck:
		return "Check"
	case StateHome:
		return "Home"
	case StateSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// Kind reports which MachineState variant this is.
func (m MachineState) Kind() machineStateKind { return m.kind }

// HoldReason returns the hold reason when Kind() == StateHold.
func (m MachineState) HoldReason() HoldReason { return m.holdReason }

// AlarmCode returns the alarm code when Kind() == StateAlarm.
func (m MachineState) AlarmCode() AlarmCode { return m.alarmCode }

// UnknownName returns the raw state token when Kind() == StateUnknown.
func (m MachineState) UnknownName() string { return m.unknownName }

func (m MachineState) String() string {
	switch m.kind {
	case StateHold:
		return "Hold(" + m.holdReason.String() + ")"
	case StateAlarm:
		return "Alarm(" + m.alarmCode.String() + ")"
	case StateUnknown:
		return "Unknown(" + m.unknownName + ")"
	default:
		return m.kind.String()
	}
}

func MachineStateIdle() MachineState  { return MachineState{kind: StateIdle} }
func MachineStateRun() MachineState   { return MachineState{kind: StateRun} }
func MachineStateJog() MachineState   { return MachineState{kind: StateJog} }
func MachineStateDoor() MachineState  { return MachineState{kind: StateDoor} }
func MachineStateCheck() MachineState { return MachineState{kind: StateCheck} }
func MachineStateHome() MachineState  { return MachineState{kind: StateHome} }
func MachineStateSleep() MachineState { return MachineState{kind: StateSleep} }

func MachineStateHoldWithReason(reason HoldReason) MachineState {
	return MachineState{kind: StateHold, holdReason: reason}
}

func MachineStateAlarmWithCode(code AlarmCode) MachineState {
	return MachineState{kind: StateAlarm, alarmCode: code}
}

func MachineStateUnknown(raw string) MachineState {
	return MachineState{kind: StateUnknown, unknownName: raw}
}

// IsPausing reports whether the streamer must hold off sending (Hold or
// Door). Centralizes the check spec's streamer pause loop performs.
func (m MachineState) IsPausing() bool {
	return m.kind == StateHold || m.kind == StateDoor
}

// MachineStatus is a full machine status parsed from a single `?` response.
type MachineStatus struct {
	State         MachineState
	MachinePos    Position
	WorkPos       Position
	FeedRate      float64
	SpindleSpeed  float64
	InputPins     PinState
	// LastUpdated is a monotonic receive timestamp set by the parser
	// (IdleStatus() leaves it at the zero time); never part of any
	// serialized form.
	LastUpdated time.Time
}

// IdleStatus returns the initial status before any poll completes.
func IdleStatus() MachineStatus {
	return MachineStatus{
		State:       MachineStateIdle(),
		MachinePos:  Position{},
		WorkPos:     Position{},
		LastUpdated: time.Time{},
	}
}

// GrblSettings holds the parsed body of a `$$` settings response: setting
// number -> raw value string.
type GrblSettings struct {
	Raw map[uint32]string
}
