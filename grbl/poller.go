// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PollerErrorKind discriminates poller failure modes.
type PollerErrorKind int

const (
	PollerErrorPort PollerErrorKind = iota
	PollerErrorParse
)

func (k PollerErrorKind) String() string {
	if k == PollerErrorPort {
		return "Port"
	}
	return "Parse"
}

// PollerError wraps a poller-loop failure, naming which side produced it.
type PollerError struct {
	Kind PollerErrorKind
	Err  error
}

func (e *PollerError) Error() string { return fmt.Sprintf("poller: %s: %v", e.Kind, e.Err) }
func (e *PollerError) Unwrap() error { return e.Err }

const (
	DefaultPollInterval      = 200 * time.Millisecond
	DefaultStatusReadTimeout = 500 * time.Millisecond
)

// Poller periodically sends "?" and updates a StatusCell/Broadcaster pair
// with the parsed response. It stops cleanly — with a nil error — once the
// broadcaster reports zero subscribers, matching the Rust poller's
// behavior of exiting when tx.send finds no receivers.
type Poller struct {
	Port       *Port
	PortConfig PortConfig
	// PortMu guards the port exchange and must be the same mutex instance
	// the streamer locks around its own send+read, so the two never
	// interleave (spec §5's port exclusivity invariant). Machine wires
	// both from a single shared mutex; NewPoller seeds a private one so
	// the Poller is still usable standalone (as in this package's tests).
	PortMu      *sync.Mutex
	Cell        *StatusCell
	Broadcaster *Broadcaster
	// Limiter defensively caps how often "?" is sent even if Interval is
	// misconfigured small; nil disables the extra cap.
	Limiter *rate.Limiter
}

// NewPoller builds a Poller with a defensive rate limiter that allows one
// request per interval/2 (burst 1), grounded on the golang.org/x/time/rate dependency
// carried in the wider example pack for exactly this kind of guard.
func NewPoller(port *Port, portCfg PortConfig, cell *StatusCell, bc *Broadcaster, interval time.Duration) *Poller {
	return &Poller{
		Port:        port,
		PortConfig:  portCfg,
		PortMu:      &sync.Mutex{},
		Cell:        cell,
		Broadcaster: bc,
		Limiter:     rate.NewLimiter(rate.Every(interval/2), 1),
	}
}

// Run polls at interval until ctx is canceled, a send/read error occurs,
// or the broadcaster has no subscribers left (clean stop, nil error).
func (p *Poller) Run(ctx context.Context, interval, readTimeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			status, err := p.poll(readTimeout)
			if err != nil {
				if perr, ok := err.(*PollerError); ok && perr.Kind == PollerErrorParse {
					// Parse errors are non-fatal: log and keep the
					// previous status cell value (spec §4.4 step 7).
					slog.Warn("poll: parse error, keeping previous status", "error", err)
					continue
				}
				slog.Error("poll failed", "error", err)
				return &PollerError{Kind: PollerErrorPort, Err: err}
			}
			p.Cell.Set(status)
			if subs := p.Broadcaster.Publish(status); subs == 0 {
				slog.Debug("poller stopping: no subscribers")
				return nil
			}
		}
	}
}

func (p *Poller) poll(readTimeout time.Duration) (MachineStatus, error) {
	p.PortMu.Lock()
	defer p.PortMu.Unlock()

	if err := p.Port.SendLine(p.PortConfig, StatusRequest().Render()); err != nil {
		return MachineStatus{}, err
	}
	line, err := p.Port.ReadLine(readTimeout)
	if err != nil {
		return MachineStatus{}, err
	}
	status, err := ParseStatus(line, time.Now())
	if err != nil {
		return MachineStatus{}, &PollerError{Kind: PollerErrorParse, Err: err}
	}
	return status, nil
}
