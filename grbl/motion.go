// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DefaultGantryYLimitMM is the stock gantry Y travel limit (24 inches).
// Moves beyond this are split, with the overflow routed onto the bed
// axis.
const DefaultGantryYLimitMM = 609.6

// MotionConfig configures the bed-extension translator.
type MotionConfig struct {
	// GantryYLimitMM is the gantry Y travel limit; Y moves beyond it are
	// split.
	GantryYLimitMM float64
	// BedAxis is the g-code axis letter carrying the overflow (MOTOR4),
	// typically 'A'.
	BedAxis rune
}

// DefaultMotionConfig returns the stock 609.6mm/'A' configuration.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{GantryYLimitMM: DefaultGantryYLimitMM, BedAxis: 'A'}
}

// parseAxisValue extracts the numeric value following axis in line (e.g.
// axis='Y' on "G1 Y10.5 F300" returns 10.5, true).
func parseAxisValue(line string, axis rune) (float64, bool) {
	upper := unicode.ToUpper(axis)
	lower := unicode.ToLower(axis)
	runes := []rune(line)
	for i, c := range runes {
		if c == upper || c == lower {
			rest := runes[i+1:]
			end := len(rest)
			for j, rc := range rest {
				if !unicode.IsDigit(rc) && rc != '.' && rc != '-' {
					end = j
					break
				}
			}
			numStr := strings.TrimSpace(string(rest[:end]))
			v, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}

// isMoveLine reports whether line is a rapid (G0) or linear (G1) move,
// matching on G0/G1 as a whole token (not e.g. the "G10" in a WCS-zero
// command).
func isMoveLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ";") {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if i+2 <= len(trimmed) && (trimmed[i:i+2] == "G0" || trimmed[i:i+2] == "G1") {
			after := trimmed[i+2:]
			if after == "" || startsWithAny(after, ' ', '\t', 'X', 'x', 'Y', 'y', 'Z', 'z', 'F', 'f', 'A', 'a') {
				return true
			}
		}
	}
	return false
}

func startsWithAny(s string, candidates ...byte) bool {
	if s == "" {
		return false
	}
	for _, c := range candidates {
		if s[0] == c {
			return true
		}
	}
	return false
}

// replaceYInLine substitutes the Y value in line with newY, formatted to
// 4 decimal places, leaving the rest of the line untouched.
func replaceYInLine(line string, newY float64) string {
	var out strings.Builder
	out.Grow(len(line) + 16)
	runes := []rune(line)
	for i := 0; i < len(runes); {
		c := runes[i]
		if (c == 'Y' || c == 'y') && i+1 < len(runes) {
			next := runes[i+1]
			if next == '-' || next == '.' || unicode.IsDigit(next) {
				out.WriteRune(c)
				i++
				for i < len(runes) && (runes[i] == '-' || runes[i] == '.' || unicode.IsDigit(runes[i])) {
					i++
				}
				fmt.Fprintf(&out, "%.4f", newY)
				continue
			}
		}
		out.WriteRune(c)
		i++
	}
	return out.String()
}

// bedAxisLine builds a bed-axis move line, e.g. "G1 A40.4000 F300.0000".
func bedAxisLine(cfg MotionConfig, distanceMM float64, feed float64, hasFeed bool) string {
	ax := unicode.ToUpper(cfg.BedAxis)
	s := fmt.Sprintf("G1 %c%.4f", ax, distanceMM)
	if hasFeed {
		s += fmt.Sprintf(" F%.4f", feed)
	}
	return s
}

type translateState struct {
	absolute    bool
	currentYMM  float64
}

// TranslateLines splits Y moves that exceed cfg.GantryYLimitMM into a
// gantry move (up to the limit) plus a bed-axis move carrying the
// overflow. Tracks G90/G91 modal state and current Y position across the
// sequence; non-move lines and moves without a Y component pass through
// unchanged.
func TranslateLines(lines []string, cfg MotionConfig) []string {
	state := translateState{absolute: true, currentYMM: 0}
	limit := cfg.GantryYLimitMM
	out := make([]string, 0, len(lines))

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			out = append(out, line)
			continue
		}

		if strings.Contains(line, "G90") || strings.Contains(line, "g90") {
			state.absolute = true
		}
		if strings.Contains(line, "G91") || strings.Contains(line, "g91") {
			state.absolute = false
		}

		if !isMoveLine(line) {
			out = append(out, line)
			continue
		}

		yValue, hasY := parseAxisValue(line, 'Y')
		feed, hasFeed := parseAxisValue(line, 'F')
		if !hasY {
			out = append(out, line)
			continue
		}

		targetY := yValue
		if !state.absolute {
			targetY = state.currentYMM + yValue
		}

		if targetY <= limit {
			out = append(out, line)
			state.currentYMM = targetY
			continue
		}

		toLimit := limit - state.currentYMM
		overflow := targetY - limit

		if toLimit > 0 {
			var firstLine string
			if state.absolute {
				firstLine = replaceYInLine(line, limit)
			} else {
				firstLine = replaceYInLine(line, toLimit)
			}
			out = append(out, firstLine)
		}
		out = append(out, bedAxisLine(cfg, overflow, feed, hasFeed))
		state.currentYMM = targetY
	}

	return out
}
