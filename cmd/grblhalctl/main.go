// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command grblhalctl is a minimal smoke-test binary for the grbl package:
// it either parses a hard-coded status line (the default, no hardware
// required) or, given -port, opens a real serial connection, polls status,
// and, when -gcode is also given, streams that file through the
// bed-extension translator. It is not a product
// CLI; the UI/job-scheduling layer this controller core serves lives
// elsewhere.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grblhalctl/grbl"
)

func main() {
	var (
		port       = flag.String("port", "", "serial port name (e.g. COM3 or /dev/ttyUSB0); omit to run the offline smoke test")
		baud       = flag.Int("baud", 115200, "serial baud rate")
		configPath = flag.String("config", "", "path to a YAML config file layered over defaults")
		dumpConfig = flag.String("dump-config", "", "write the default config as YAML to this path and exit")
		gcodePath  = flag.String("gcode", "", "g-code file to stream after connecting")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *dumpConfig != "" {
		if err := grbl.SaveConfig(*dumpConfig, grbl.DefaultMachineConfig()); err != nil {
			slog.Error("dump config", "error", err)
			os.Exit(1)
		}
		return
	}

	if *port == "" {
		runOfflineSmokeTest()
		return
	}

	if err := run(*port, *baud, *configPath, *gcodePath); err != nil {
		slog.Error("grblhalctl exiting", "error", err)
		os.Exit(1)
	}
}

// runOfflineSmokeTest exercises the parser against a hard-coded status
// line with no hardware attached, confirming the parser and state types
// are wired correctly.
func runOfflineSmokeTest() {
	line := "<Idle|MPos:0.000,0.000,0.000|WPos:0.000,0.000,0.000|FS:0,0>"
	status, err := grbl.ParseStatus(line, time.Now())
	if err != nil {
		fmt.Println("parse error:", err)
		os.Exit(1)
	}
	fmt.Printf("State: %s\n", status.State)
	fmt.Printf("MPos: %+v\n", status.MachinePos)
	fmt.Printf("WPos: %+v\n", status.WorkPos)
	if status.State.Kind() != grbl.StateIdle {
		fmt.Println("expected Idle state")
		os.Exit(1)
	}
}

func run(port string, baud int, configPath, gcodePath string) error {
	cfg, err := grbl.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Port = port
	cfg.Baud = baud

	m, err := grbl.NewMachine(cfg.PortConfig(), cfg.Motion())
	if err != nil {
		return fmt.Errorf("open machine: %w", err)
	}
	defer m.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub := m.Subscribe()
	defer m.Broadcaster.Unsubscribe(sub)

	go func() {
		for status := range sub {
			slog.Debug("status", "state", status.State.String(), "mpos", status.MachinePos)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	if gcodePath != "" {
		result, err := m.Stream(readLines(gcodePath), cfg.LineResponseTimeout())
		if err != nil {
			return fmt.Errorf("stream %s: %w", gcodePath, err)
		}
		slog.Info("stream finished", "sent", result.LinesSent, "ok", result.LinesOk, "error", result.FirstError)
		cancel()
	}

	return <-errCh
}

func readLines(path string) []string {
	seq, err := grbl.LinesFromFile(path)
	if err != nil {
		slog.Error("read gcode file", "path", path, "error", err)
		return nil
	}
	var lines []string
	for l := range seq {
		lines = append(lines, l)
	}
	return lines
}
