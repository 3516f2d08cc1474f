// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// MachineConfig is the on-disk configuration for one GRBL-HAL machine:
// serial parameters, poll cadence, and bed-extension geometry. Loaded
// with koanf the same way the wider example pack's multi-instrument
// server loads its per-device config.
type MachineConfig struct {
	Port string `koanf:"port" yaml:"port"`
	Baud int    `koanf:"baud" yaml:"baud"`

	PollIntervalMS        int `koanf:"poll_interval_ms" yaml:"poll_interval_ms"`
	StatusReadTimeoutMS   int `koanf:"status_read_timeout_ms" yaml:"status_read_timeout_ms"`
	LineResponseTimeoutMS int `koanf:"line_response_timeout_ms" yaml:"line_response_timeout_ms"`

	GantryYLimitMM float64 `koanf:"gantry_y_limit_mm" yaml:"gantry_y_limit_mm"`
	BedAxis        string  `koanf:"bed_axis" yaml:"bed_axis"`
}

// DefaultMachineConfig returns the stock configuration, used as the
// koanf structs.Provider base layer before any file is loaded.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		Port:                  "COM3",
		Baud:                  115200,
		PollIntervalMS:        int(DefaultPollInterval / time.Millisecond),
		StatusReadTimeoutMS:   int(DefaultStatusReadTimeout / time.Millisecond),
		LineResponseTimeoutMS: int(DefaultLineResponseTimeout / time.Millisecond),
		GantryYLimitMM:        DefaultGantryYLimitMM,
		BedAxis:               "A",
	}
}

// LoadConfig layers a YAML file over DefaultMachineConfig's defaults.
// Missing path is not an error: defaults alone are returned.
func LoadConfig(path string) (MachineConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultMachineConfig(), "koanf"), nil); err != nil {
		return MachineConfig{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return MachineConfig{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg MachineConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return MachineConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as a YAML template, grounded on
// nasa-jpl-golaborate/multiserver's LoadYaml (same library, encode
// direction): a machine operator can dump the defaults, hand-edit the
// result, then point -config at it.
func SaveConfig(path string, cfg MachineConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := yaml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// PortConfig derives serial port parameters from the loaded config.
func (c MachineConfig) PortConfig() PortConfig {
	return DefaultPortConfig(c.Port, c.Baud)
}

// Motion derives the bed-extension translator config from the loaded
// config. An empty BedAxis falls back to 'A'.
func (c MachineConfig) Motion() MotionConfig {
	axis := rune('A')
	if len(c.BedAxis) > 0 {
		axis = []rune(c.BedAxis)[0]
	}
	return MotionConfig{GantryYLimitMM: c.GantryYLimitMM, BedAxis: axis}
}

func (c MachineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c MachineConfig) StatusReadTimeout() time.Duration {
	return time.Duration(c.StatusReadTimeoutMS) * time.Millisecond
}

func (c MachineConfig) LineResponseTimeout() time.Duration {
	return time.Duration(c.LineResponseTimeoutMS) * time.Millisecond
}
