// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"bufio"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultLineResponseTimeout bounds how long the streamer waits for an
// "ok"/"error:" response after sending a line.
const DefaultLineResponseTimeout = 30 * time.Second

const holdPollInterval = 100 * time.Millisecond

// StreamResult summarizes one streaming run.
type StreamResult struct {
	LinesSent  uint32
	LinesOk    uint32
	FirstError string
	HasError   bool
}

// StreamerErrorKind discriminates streamer failure modes.
type StreamerErrorKind int

const (
	StreamerErrorPort StreamerErrorKind = iota
	StreamerErrorReadFile
)

func (k StreamerErrorKind) String() string {
	if k == StreamerErrorPort {
		return "Port"
	}
	return "ReadFile"
}

// StreamerError wraps a streaming-loop failure.
type StreamerError struct {
	Kind StreamerErrorKind
	Err  error
}

func (e *StreamerError) Error() string { return fmt.Sprintf("streamer: %s: %v", e.Kind, e.Err) }
func (e *StreamerError) Unwrap() error { return e.Err }

// isSendableLine reports whether line should be sent: non-empty, and not
// a ';'-prefixed comment.
func isSendableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && !strings.HasPrefix(trimmed, ";")
}

// LinesFromFile returns an iter.Seq[string] over the lines of path,
// the Go idiom for "stream a file without committing to a []string"
// that stream_file's tokio::fs::read_to_string + lines() duplicates.
func LinesFromFile(path string) (iter.Seq[string], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StreamerError{Kind: StreamerErrorReadFile, Err: err}
	}
	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}, nil
}

// StreamLines sends each sendable line from lines to port with one-line-
// outstanding flow control, pausing while the status cell reports Hold or
// Door. Stops at the first error or unexpected response, or when lines is
// exhausted. portMu must be the same mutex instance the machine's poller
// locks around its own "?" exchange, so a send+read pair here is never
// interleaved with a poller exchange; the lock is never held across the
// pause sleep.
func StreamLines(port *Port, portMu *sync.Mutex, portCfg PortConfig, cell *StatusCell, lines iter.Seq[string], lineResponseTimeout time.Duration) (StreamResult, error) {
	var result StreamResult

	for raw := range lines {
		line := strings.TrimSpace(raw)
		if !isSendableLine(line) {
			continue
		}

		for cell.Get().State.IsPausing() {
			slog.Debug("streamer paused (Hold/Door), waiting")
			time.Sleep(holdPollInterval)
		}

		response, err := exchange(port, portMu, portCfg, line, lineResponseTimeout)
		if err != nil {
			return result, &StreamerError{Kind: StreamerErrorPort, Err: err}
		}

		response = strings.TrimSpace(response)
		result.LinesSent++

		switch {
		case strings.EqualFold(response, "ok"):
			result.LinesOk++
		case strings.HasPrefix(response, "error:") || strings.HasPrefix(response, "Error:"):
			msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(response, "error:"), "Error:"))
			if !result.HasError {
				result.HasError = true
				result.FirstError = msg
			}
			slog.Warn("streamer: error response", "message", msg)
			return result, nil
		default:
			if !result.HasError {
				result.HasError = true
				result.FirstError = response
			}
			slog.Warn("streamer: unexpected response", "response", response)
			return result, nil
		}
	}

	slog.Info("streamer done", "sent", result.LinesSent, "ok", result.LinesOk)
	return result, nil
}

// StreamFile opens path and streams its lines; a thin convenience wrapper
// over LinesFromFile + StreamLines.
func StreamFile(port *Port, portMu *sync.Mutex, portCfg PortConfig, cell *StatusCell, path string, lineResponseTimeout time.Duration) (StreamResult, error) {
	lines, err := LinesFromFile(path)
	if err != nil {
		return StreamResult{}, err
	}
	return StreamLines(port, portMu, portCfg, cell, lines, lineResponseTimeout)
}

// exchange sends line and waits for its single-line response, holding
// portMu for the full round trip so no other task's send+read can
// interleave with this one.
func exchange(port *Port, portMu *sync.Mutex, portCfg PortConfig, line string, timeout time.Duration) (string, error) {
	portMu.Lock()
	defer portMu.Unlock()

	if err := port.SendLine(portCfg, line); err != nil {
		return "", err
	}
	return port.ReadLine(timeout)
}
