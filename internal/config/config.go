// Package config manages persisted detector/tuning/batch presets. Settings
// are stored as YAML at os.UserConfigDir()/pitchcore/config.yaml. Grounded
// on the teacher's internal/config/config.go: the same
// Default/Path/Load/Save shape and the same "any read or parse failure
// silently falls back to defaults" discipline, with the persisted format
// switched from encoding/json to yaml.v3 to carry the richer nested preset
// tree (detector, tuning, batch, test signal, background noise) the way
// birdnet-go's settings tree does.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mandersson1024/intonation-toy-sub003/internal/pitch"
	"github.com/mandersson1024/intonation-toy-sub003/internal/protocol"
	"github.com/mandersson1024/intonation-toy-sub003/internal/testsignal"
	"github.com/mandersson1024/intonation-toy-sub003/internal/tuning"
)

// TuningPreset persists the active tuning system and root note, plus custom
// ratios when System is tuning.Custom (§4.E, §9).
type TuningPreset struct {
	System       tuning.System   `yaml:"system"`
	RootNote     tuning.MidiNote `yaml:"rootNote"`
	CustomRatios [12]float64     `yaml:"customRatios,omitempty"`
}

// Config holds all persisted presets. The spec names no persisted runtime
// state (§6: "Persisted state: None in the core") — these are the
// application-layer defaults loaded once at startup and handed to the
// components that own the described runtime state.
type Config struct {
	Detector      pitch.Config           `yaml:"detector"`
	Tuning        TuningPreset           `yaml:"tuning"`
	Batch         protocol.BatchConfig   `yaml:"batch"`
	TestSignal    testsignal.Config      `yaml:"testSignal"`
	Noise         testsignal.NoiseConfig `yaml:"backgroundNoise"`
	InputDeviceID int                    `yaml:"inputDeviceId"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() Config {
	return Config{
		Detector: pitch.DefaultConfig(),
		Tuning: TuningPreset{
			System:   tuning.EqualTemperament,
			RootNote: 69, // A4
		},
		Batch:         protocol.BatchConfig{BatchSize: 1024},
		InputDeviceID: -1,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pitchcore", "config.yaml"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error, matching the
// teacher's fallback discipline.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
