// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Machine owns one serial connection and coordinates the poller, status
// cell, and broadcaster around it. Streaming runs are initiated by
// callers holding a reference to the same Port and StatusCell; Machine
// itself only owns the background polling loop, mirroring the teacher's
// practice of keeping one goroutine per concern wired through shared,
// mutex-guarded state rather than a single monolithic actor.
type Machine struct {
	Port        *Port
	PortMu      *sync.Mutex
	PortConfig  PortConfig
	Cell        *StatusCell
	Broadcaster *Broadcaster
	Motion      MotionConfig

	poller *Poller
}

// NewMachine opens the named serial port and wires up its poller, status
// cell, and broadcaster. The poller and any later Stream call share a
// single port mutex so their exchanges never interleave.
func NewMachine(cfg PortConfig, motion MotionConfig) (*Machine, error) {
	port, err := OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	portMu := &sync.Mutex{}
	cell := NewStatusCell()
	bc := NewBroadcaster()
	m := &Machine{
		Port:        port,
		PortMu:      portMu,
		PortConfig:  cfg,
		Cell:        cell,
		Broadcaster: bc,
		Motion:      motion,
	}
	m.poller = NewPoller(port, cfg, cell, bc, DefaultPollInterval)
	m.poller.PortMu = portMu
	return m, nil
}

// Run starts the poller and blocks until ctx is canceled or the poller
// exits with an error. Uses golang.org/x/sync/errgroup the same way the
// wider example pack's serial-protocol controllers sequence a read loop
// and a write loop under one cancellable group.
func (m *Machine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.poller.Run(ctx, DefaultPollInterval, DefaultStatusReadTimeout)
	})
	if err := g.Wait(); err != nil {
		slog.Error("machine stopped", "error", err)
		return err
	}
	return nil
}

// Subscribe registers a new status subscriber; the poller stops once the
// last subscriber unsubscribes and Publish observes zero listeners.
func (m *Machine) Subscribe() chan MachineStatus {
	return m.Broadcaster.Subscribe()
}

// Stream translates lines for the bed extension and streams them with
// flow control, reusing the Machine's shared port and status cell.
func (m *Machine) Stream(lines []string, timeout time.Duration) (StreamResult, error) {
	translated := TranslateLines(lines, m.Motion)
	seq := func(yield func(string) bool) {
		for _, l := range translated {
			if !yield(l) {
				return
			}
		}
	}
	return StreamLines(m.Port, m.PortMu, m.PortConfig, m.Cell, seq, timeout)
}

// Close closes the underlying serial port.
func (m *Machine) Close() error {
	return m.Port.Close()
}
