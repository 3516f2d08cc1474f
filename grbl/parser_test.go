// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestParseStatusStampsExactGivenTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st, err := ParseStatus("Idle|MPos:0,0,0|WPos:0,0,0|FS:0,0", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.LastUpdated.Equal(now) {
		t.Fatalf("LastUpdated = %v want %v", st.LastUpdated, now)
	}
}

func TestParseStatusIdleBare(t *testing.T) {
	st, err := ParseStatus("Idle|MPos:0,0,0|WPos:0,0,0|FS:0,0", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateIdle {
		t.Fatalf("expected Idle, got %v", st.State)
	}
	if st.MachinePos.X != 0 || st.WorkPos.Z != 0 || st.FeedRate != 0 || st.SpindleSpeed != 0 {
		t.Fatalf("unexpected zero values: %+v", st)
	}
}

func TestParseStatusWithAngleBrackets(t *testing.T) {
	st, err := ParseStatus("<Idle|MPos:0.000,0.000,0.000|WPos:0.000,0.000,0.000|FS:0,0>", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateIdle {
		t.Fatalf("expected Idle, got %v", st.State)
	}
}

func TestParseStatusWithFourthAxis(t *testing.T) {
	st, err := ParseStatus("Idle|MPos:0,0,0,0|WPos:0,0,0,0|FS:100,500", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.MachinePos.A == nil || *st.MachinePos.A != 0 {
		t.Fatalf("expected A=0, got %v", st.MachinePos.A)
	}
	if st.FeedRate != 100 || st.SpindleSpeed != 500 {
		t.Fatalf("unexpected FS: %v %v", st.FeedRate, st.SpindleSpeed)
	}
}

// TestParseStatusNonNumericFourthAxisLeavesRotaryUnset checks spec §4.2's
// "a fourth, if present and numeric, fills the rotary field": a present
// but non-numeric fourth component must not invalidate the x/y/z that
// already parsed (original_source's parse_position only requires
// len(parts) >= 3 and uses parts.get(3).and_then(...)).
func TestParseStatusNonNumericFourthAxisLeavesRotaryUnset(t *testing.T) {
	st, err := ParseStatus("Idle|MPos:1,2,3,not-a-number|WPos:0,0,0|FS:0,0", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.MachinePos.X != 1 || st.MachinePos.Y != 2 || st.MachinePos.Z != 3 {
		t.Fatalf("expected x/y/z to parse despite bad 4th component, got %+v", st.MachinePos)
	}
	if st.MachinePos.A != nil {
		t.Fatalf("expected A unset for a non-numeric 4th component, got %v", *st.MachinePos.A)
	}
}

// TestParseStatusIgnoresPnField checks spec §4.2's "other recognized
// prefixes (e.g. Pn:) are tolerated and ignored": InputPins must stay at
// its zero value even when a Pn: segment is present, matching
// original_source's parse_status (input_pins: PinState::default(), with
// Pn: decoding left unimplemented).
func TestParseStatusIgnoresPnField(t *testing.T) {
	st, err := ParseStatus("Idle|MPos:0,0,0|WPos:0,0,0|FS:0,0|Pn:XYZP", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.InputPins != (PinState{}) {
		t.Fatalf("expected InputPins to stay zero-valued, got %+v", st.InputPins)
	}
}

func TestParseStatusRun(t *testing.T) {
	st, err := ParseStatus("Run|MPos:10.5,20,0|WPos:10.5,20,0|FS:200,1000", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateRun {
		t.Fatalf("expected Run, got %v", st.State)
	}
	if st.MachinePos.X != 10.5 || st.MachinePos.Y != 20 {
		t.Fatalf("unexpected position: %+v", st.MachinePos)
	}
}

func TestParseStatusHoldCollapsesToFeedHold(t *testing.T) {
	st, err := ParseStatus("Hold:1|MPos:0,0,0|WPos:0,0,0|FS:0,0", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateHold {
		t.Fatalf("expected Hold, got %v", st.State)
	}
	if st.State.HoldReason().Kind() != FeedHold {
		t.Fatalf("expected FeedHold regardless of sub-code, got %v", st.State.HoldReason())
	}
}

func TestParseStatusAlarmWithCode(t *testing.T) {
	st, err := ParseStatus("Alarm:1|MPos:0,0,0|WPos:0,0,0|FS:0,0", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateAlarm {
		t.Fatalf("expected Alarm, got %v", st.State)
	}
	if st.State.AlarmCode() != AlarmHardLimit {
		t.Fatalf("expected HardLimit, got %v", st.State.AlarmCode())
	}
}

func TestParseStatusUnknownState(t *testing.T) {
	st, err := ParseStatus("Weird|MPos:0,0,0|WPos:0,0,0|FS:0,0", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State.Kind() != StateUnknown || st.State.UnknownName() != "Weird" {
		t.Fatalf("expected Unknown(Weird), got %v", st.State)
	}
}

func TestParseStatusEmptyIsError(t *testing.T) {
	_, err := ParseStatus("", time.Now())
	if err == nil {
		t.Fatalf("expected error for empty status line")
	}
	var pe *ParseError
	if !asParseError(err, &pe) || pe.Kind != InvalidStatus {
		t.Fatalf("expected InvalidStatus, got %v", err)
	}
}

func TestParseAlarmCodePrefixVariants(t *testing.T) {
	cases := []struct {
		line string
		want AlarmCode
	}{
		{"ALARM:1", AlarmHardLimit},
		{"ALARM: 2", AlarmSoftLimit},
		{"error:3", AlarmAbortCycle},
		{"error: 4", AlarmProbeFailInitial},
	}
	for _, c := range cases {
		got, err := ParseAlarmCode(c.line)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.line, err)
		}
		if got != c.want {
			t.Fatalf("%q: expected %v, got %v", c.line, c.want, got)
		}
	}
}

func TestParseAlarmCodeUnknownNumber(t *testing.T) {
	got, err := ParseAlarmCode("ALARM:99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsUnknown() || got.Code() != 99 {
		t.Fatalf("expected Unknown(99), got %v", got)
	}
}

func TestParseAlarmCodeInvalid(t *testing.T) {
	if _, err := ParseAlarmCode("not an alarm"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseSettingsSkipsMalformedAndOk(t *testing.T) {
	body := strings.Join([]string{
		"$0=10",
		"",
		"ok",
		"garbage line",
		"$130=200.000",
	}, "\n")
	got, err := ParseSettings(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Raw[0] != "10" || got.Raw[130] != "200.000" {
		t.Fatalf("unexpected settings: %+v", got.Raw)
	}
	if len(got.Raw) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Raw))
	}
}

// asParseError is a small helper since grbl.ParseError isn't exposed via
// errors.As friendly wrapping elsewhere in this package's tests.
func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if !ok {
		return false
	}
	*target = pe
	return true
}

// TestAlarmCodeTotalityAndRoundTrip checks §8's totality and round-trip
// properties: every byte 0..=255 maps to a defined AlarmCode (named for
// 1..=21, Unknown otherwise), and parsing "ALARM:n" for a named code
// reproduces that exact code.
func TestAlarmCodeTotalityAndRoundTrip(t *testing.T) {
	for n := 0; n <= 255; n++ {
		code := AlarmCodeFromByte(byte(n))
		if code.Code() != byte(n) {
			t.Fatalf("AlarmCodeFromByte(%d).Code() = %d", n, code.Code())
		}
		wantNamed := n >= 1 && n <= 21
		if code.IsUnknown() == wantNamed {
			t.Fatalf("AlarmCodeFromByte(%d).IsUnknown() = %v, want %v", n, code.IsUnknown(), !wantNamed)
		}
		if wantNamed {
			got, err := ParseAlarmCode("ALARM:" + strconv.Itoa(n))
			if err != nil {
				t.Fatalf("ParseAlarmCode(ALARM:%d): %v", n, err)
			}
			if got != code {
				t.Fatalf("round trip mismatch for %d: got %v want %v", n, got, code)
			}
		}
	}
}

// TestParseStatusAngleBracketStrippingIsIdempotent checks §8's property
// that wrapping a well-formed status line in "<...>" never changes the
// parsed result.
func TestParseStatusAngleBracketStrippingIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Float64Range(-1000, 1000).Draw(rt, "x")
		now := time.Now()
		bare := "Run|MPos:" + formatPlain(x) + ",0,0|WPos:0,0,0|FS:10,20"
		bracketed := "<" + bare + ">"

		a, err := ParseStatus(bare, now)
		if err != nil {
			rt.Fatalf("parse bare failed: %v", err)
		}
		b, err := ParseStatus(bracketed, now)
		if err != nil {
			rt.Fatalf("parse bracketed failed: %v", err)
		}
		if a.MachinePos.X != b.MachinePos.X || a.State.Kind() != b.State.Kind() {
			rt.Fatalf("bracket stripping changed result: %+v vs %+v", a, b)
		}
	})
}

// TestParsePositionRoundTripsThroughFormatting checks that any position
// rendered with formatPlain (shortest exact decimal form) parses back to
// exactly the same value.
func TestParsePositionRoundTripsThroughFormatting(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Float64Range(-10000, 10000).Draw(rt, "x")
		y := rapid.Float64Range(-10000, 10000).Draw(rt, "y")
		z := rapid.Float64Range(-10000, 10000).Draw(rt, "z")

		line := "Idle|MPos:" + formatPlain(x) + "," + formatPlain(y) + "," + formatPlain(z) + "|WPos:0,0,0|FS:0,0"
		st, err := ParseStatus(line, time.Now())
		if err != nil {
			rt.Fatalf("parse failed for generated line %q: %v", line, err)
		}
		if st.MachinePos.X != x || st.MachinePos.Y != y || st.MachinePos.Z != z {
			rt.Fatalf("round trip mismatch: got %+v want x=%v y=%v z=%v", st.MachinePos, x, y, z)
		}
	})
}
