// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseErrorKind discriminates the parse failure taxonomy.
type ParseErrorKind int

const (
	InvalidStatus ParseErrorKind = iota
	InvalidPosition
	InvalidSettingsLine
	InvalidAlarm
)

func (k ParseErrorKind) String() string {
	switch k {
	case InvalidStatus:
		return "InvalidStatus"
	case InvalidPosition:
		return "InvalidPosition"
	case InvalidSettingsLine:
		return "InvalidSettingsLine"
	case InvalidAlarm:
		return "InvalidAlarm"
	default:
		return "Unknown"
	}
}

// ParseError reports why a status/position/settings/alarm line failed to
// parse, carrying the offending line for diagnostics.
type ParseError struct {
	Kind ParseErrorKind
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Line)
}

func newParseError(kind ParseErrorKind, line string) error {
	return &ParseError{Kind: kind, Line: line}
}

// ParseStatus parses a single status report line, e.g.
// "<Idle|MPos:0.000,0.000,0.000|FS:0,0>". The leading "<" and trailing ">"
// are optional; callers may pass a pre-stripped line. lastUpdated stamps
// the returned MachineStatus.LastUpdated (the parser has no clock of its
// own, matching the teacher's practice of passing timestamps in).
func ParseStatus(line string, lastUpdated time.Time) (MachineStatus, error) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "<")
	trimmed = strings.TrimSuffix(trimmed, ">")
	if trimmed == "" {
		return MachineStatus{}, newParseError(InvalidStatus, line)
	}

	fields := strings.Split(trimmed, "|")
	state, err := parseState(fields[0])
	if err != nil {
		return MachineStatus{}, err
	}

	status := MachineStatus{
		State:       state,
		LastUpdated: lastUpdated,
	}

	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "MPos:"):
			pos, err := parsePosition(strings.TrimPrefix(f, "MPos:"))
			if err != nil {
				return MachineStatus{}, err
			}
			status.MachinePos = pos
		case strings.HasPrefix(f, "WPos:"):
			pos, err := parsePosition(strings.TrimPrefix(f, "WPos:"))
			if err != nil {
				return MachineStatus{}, err
			}
			status.WorkPos = pos
		case strings.HasPrefix(f, "FS:"):
			feed, spindle, err := parseFS(strings.TrimPrefix(f, "FS:"))
			if err != nil {
				return MachineStatus{}, err
			}
			status.FeedRate = feed
			status.SpindleSpeed = spindle
		default:
			// Other recognized prefixes (Pn:, Ov:, WCO:, ...) are
			// tolerated and ignored; InputPins stays at its zero value.
			// Matches original_source's parse_status, which leaves
			// input_pins: PinState::default() rather than decoding Pn:.
		}
	}

	return status, nil
}

// parseState parses the leading state token, e.g. "Idle", "Hold:0",
// "Alarm:1". The Hold sub-code is not decoded into FeedHold vs SafetyDoor
// (known limitation carried over unchanged; see DESIGN.md).
func parseState(token string) (MachineState, error) {
	if token == "" {
		return MachineState{}, newParseError(InvalidStatus, token)
	}
	name, rest, hasRest := strings.Cut(token, ":")
	switch name {
	case "Idle":
		return MachineStateIdle(), nil
	case "Run":
		return MachineStateRun(), nil
	case "Jog":
		return MachineStateJog(), nil
	case "Hold":
		return MachineStateHoldWithReason(FeedHoldReason()), nil
	case "Door":
		return MachineStateDoor(), nil
	case "Check":
		return MachineStateCheck(), nil
	case "Home":
		return MachineStateHome(), nil
	case "Sleep":
		return MachineStateSleep(), nil
	case "Alarm":
		code := byte(0)
		if hasRest {
			if n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 8); err == nil {
				code = byte(n)
			}
		}
		return MachineStateAlarmWithCode(AlarmCodeFromByte(code)), nil
	default:
		return MachineStateUnknown(token), nil
	}
}

// parsePosition parses a comma-separated "x,y,z[,a]" position. Only the
// first three components are required; a fourth is read into the rotary
// field when present and numeric, and silently left unset otherwise — it
// never invalidates the x/y/z that already parsed (matches
// original_source's parse_position, which uses parts.get(3).and_then(...)
// rather than requiring exactly 3 or 4 components).
func parsePosition(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return Position{}, newParseError(InvalidPosition, s)
	}

	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	z, errZ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if errX != nil || errY != nil || errZ != nil {
		return Position{}, newParseError(InvalidPosition, s)
	}

	pos := Position{X: x, Y: y, Z: z}
	if len(parts) >= 4 {
		if a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64); err == nil {
			pos.A = &a
		}
	}
	return pos, nil
}

// parseFS parses the "feed,spindle" pair. Exactly two numbers required.
func parseFS(s string) (feed, spindle float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, newParseError(InvalidStatus, s)
	}
	feed, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	spindle, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, newParseError(InvalidStatus, s)
	}
	return feed, spindle, nil
}

// ParseAlarmCode parses a line of the form "ALARM:1" or "error:2", with or
// without a following space, returning the corresponding AlarmCode.
func ParseAlarmCode(line string) (AlarmCode, error) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"ALARM: ", "ALARM:", "error: ", "error:"} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 8)
			if err != nil {
				return AlarmCode{}, newParseError(InvalidAlarm, line)
			}
			return AlarmCodeFromByte(byte(n)), nil
		}
	}
	return AlarmCode{}, newParseError(InvalidAlarm, line)
}

// ParseSettings parses the body of a "$$" response: one "$N=V" per line.
// Malformed, empty, and "ok" lines are silently skipped (tolerant parser,
// matches original_source's parse_settings behavior) — ParseSettings itself
// never fails; the error return exists to match this package's other
// parse functions and leaves room for a future stricter mode without an
// API break.
func ParseSettings(body string) (GrblSettings, error) {
	out := GrblSettings{Raw: make(map[uint32]string)}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "ok" {
			continue
		}
		if !strings.HasPrefix(trimmed, "$") {
			continue
		}
		rest := strings.TrimPrefix(trimmed, "$")
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(key), 10, 32)
		if err != nil {
			continue
		}
		out.Raw[uint32(n)] = strings.TrimSpace(value)
	}
	return out, nil
}
