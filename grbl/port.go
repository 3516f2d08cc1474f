// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff"
	"go.bug.st/serial"
)

// PortErrorKind discriminates port failure modes.
type PortErrorKind int

const (
	PortErrorOpen PortErrorKind = iota
	PortErrorWrite
	PortErrorRead
	PortErrorTimeout
	PortErrorOther
)

func (k PortErrorKind) String() string {
	switch k {
	case PortErrorOpen:
		return "Open"
	case PortErrorWrite:
		return "Write"
	case PortErrorRead:
		return "Read"
	case PortErrorTimeout:
		return "Timeout"
	default:
		return "Other"
	}
}

// PortError reports a serial transport failure.
type PortError struct {
	Kind PortErrorKind
	Err  error
}

func (e *PortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("port: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("port: %s", e.Kind)
}

func (e *PortError) Unwrap() error { return e.Err }

func newPortError(kind PortErrorKind, err error) error {
	return &PortError{Kind: kind, Err: err}
}

// Port wraps a single serial connection to a GRBL-HAL controller. Port
// itself holds no lock: per spec, a port instance is not concurrency-safe
// and callers (Poller, StreamLines) must serialize access to it via a
// shared *sync.Mutex, held across a full send+read exchange rather than
// per-call, so a streamer's send/read pair is never interleaved with the
// poller's. Go's scheduler parks the blocking syscalls underneath a held
// lock, so no spawn_blocking-style offload is needed.
type Port struct {
	conn serial.Port
	// buf holds bytes already read off conn but not yet consumed as a
	// complete line. ReadLine reads directly off conn into this buffer
	// rather than through a bufio.Reader (see ReadLine).
	buf  []byte
	name string
}

// PortConfig configures write retry behavior on top of the serial open
// parameters.
type PortConfig struct {
	Name                   string
	Baud                   int
	WriteRetryInitialDelay time.Duration
	WriteRetryMaxElapsed   time.Duration
}

// DefaultPortConfig returns sane write-retry defaults.
func DefaultPortConfig(name string, baud int) PortConfig {
	return PortConfig{
		Name:                   name,
		Baud:                   baud,
		WriteRetryInitialDelay: 50 * time.Millisecond,
		WriteRetryMaxElapsed:   2 * time.Second,
	}
}

// OpenPort opens the named serial device at the given baud rate.
func OpenPort(cfg PortConfig) (*Port, error) {
	mode := &serial.Mode{BaudRate: cfg.Baud}
	conn, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, newPortError(PortErrorOpen, err)
	}
	slog.Info("opened serial port", "port", cfg.Name, "baud", cfg.Baud)
	return &Port{
		conn: conn,
		name: cfg.Name,
	}, nil
}

// SendLine writes line followed by "\n", retrying transient write
// failures with exponential backoff (teacher's hand-rolled doubling
// retry replaced with cenkalti/backoff, matching the wider example
// pack's retry idiom). Caller must hold the shared port mutex.
func (p *Port) SendLine(cfg PortConfig, line string) error {
	op := func() error {
		_, err := p.conn.Write([]byte(line + "\n"))
		return err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.WriteRetryInitialDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         backoff.DefaultMaxInterval,
		MaxElapsedTime:      cfg.WriteRetryMaxElapsed,
		Clock:               backoff.SystemClock,
	}

	if err := backoff.Retry(op, b); err != nil {
		return newPortError(PortErrorWrite, err)
	}
	slog.Debug("sent line", "port", p.name, "line", line)
	return nil
}

// SendByte writes a single real-time command byte, bypassing the
// normal line queue (real-time commands are not subject to flow
// control). Caller must hold the shared port mutex.
func (p *Port) SendByte(b byte) error {
	if _, err := p.conn.Write([]byte{b}); err != nil {
		return newPortError(PortErrorWrite, err)
	}
	return nil
}

// ReadLine reads a single newline-terminated response, stripping CR and
// non-printable runes, bounded by timeout. Caller must hold the shared
// port mutex.
//
// Reads directly off conn rather than through a bufio.Reader. go.bug.st/
// serial's SetReadTimeout contract returns (0, nil) from Read — not an
// error — once the deadline expires with no data; bufio.Reader.fill()
// treats that as a transient empty read and retries it internally (up to
// maxConsecutiveEmptyReads times) before giving up, which lets a single
// ReadLine(timeout) call block on the order of 100x timeout instead of
// failing within it. Tracking the deadline here and treating any (0, nil)
// Read as an immediate timeout avoids that amplification.
func (p *Port) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if idx := bytes.IndexByte(p.buf, '\n'); idx >= 0 {
			raw := p.buf[:idx]
			line := cleanLine(raw)
			p.buf = append([]byte(nil), p.buf[idx+1:]...)
			if line == "" {
				return "", newPortError(PortErrorTimeout, nil)
			}
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", newPortError(PortErrorTimeout, nil)
		}
		if err := p.conn.SetReadTimeout(remaining); err != nil {
			return "", newPortError(PortErrorOther, err)
		}

		n, err := p.conn.Read(chunk)
		if err != nil {
			return "", newPortError(PortErrorRead, err)
		}
		if n == 0 {
			// Deadline expired with no data: fail fast instead of
			// retrying (see the doc comment above).
			return "", newPortError(PortErrorTimeout, nil)
		}
		p.buf = append(p.buf, chunk[:n]...)
	}
}

func cleanLine(raw []byte) string {
	cleaned := bytes.Map(func(r rune) rune {
		if r == '\r' {
			return -1
		}
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, raw)
	return strings.TrimSpace(string(cleaned))
}

// Close closes the underlying serial connection.
func (p *Port) Close() error {
	return p.conn.Close()
}
