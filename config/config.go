package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pianocapture/gate"
	"pianocapture/metronome"
	"pianocapture/notes"
	"pianocapture/recorder"
)

var ErrBadConfig = errors.New("bad config")

// MetronomeConfig configures the click track
type MetronomeConfig struct {
	BPM                  float64 `json:"bpm" yaml:"bpm"`
	TimeSignature        string  `json:"timeSignature" yaml:"timeSignature"`
	ScheduleAheadSeconds float64 `json:"scheduleAheadSeconds" yaml:"scheduleAheadSeconds"`
	PollIntervalMs       int     `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	TempoChange          string  `json:"tempoChange,omitempty" yaml:"tempoChange,omitempty"` // "reanchor" or "preserve"
	Volume               float64 `json:"volume" yaml:"volume"`
}

// RecorderConfig configures capture
type RecorderConfig struct {
	PauseTimeoutMs int    `json:"pauseTimeoutMs" yaml:"pauseTimeoutMs"`
	ResumeGapMs    int    `json:"resumeGapMs" yaml:"resumeGapMs"`
	SaveDir        string `json:"saveDir,omitempty" yaml:"saveDir,omitempty"` // empty disables export
}

// GuideConfig configures guided playback
type GuideConfig struct {
	Speed     float64 `json:"speed" yaml:"speed"`
	QuantumMs int     `json:"quantumMs" yaml:"quantumMs"`
}

// KeyboardConfig selects the MIDI input
type KeyboardConfig struct {
	PortName string `json:"portName,omitempty" yaml:"portName,omitempty"` // substring match, empty = any keyboard
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo float64 `json:"lastTempo,omitempty" yaml:"lastTempo,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Metronome MetronomeConfig `json:"metronome" yaml:"metronome"`
	Recorder  RecorderConfig  `json:"recorder" yaml:"recorder"`
	Guide     GuideConfig     `json:"guide" yaml:"guide"`
	Keyboard  KeyboardConfig  `json:"keyboard" yaml:"keyboard"`
	UI        UIConfig        `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Metronome: MetronomeConfig{
			BPM:                  notes.DefaultTempo,
			TimeSignature:        notes.CommonTime.String(),
			ScheduleAheadSeconds: metronome.DefaultScheduleAhead.Seconds(),
			PollIntervalMs:       int(metronome.DefaultPollInterval.Milliseconds()),
			TempoChange:          "reanchor",
			Volume:               0.8,
		},
		Recorder: RecorderConfig{
			PauseTimeoutMs: int(recorder.DefaultPauseTimeout.Milliseconds()),
			ResumeGapMs:    int(recorder.DefaultResumeGap.Milliseconds()),
		},
		Guide: GuideConfig{
			Speed:     1,
			QuantumMs: 10,
		},
		UI: UIConfig{
			LastTempo: notes.DefaultTempo,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pianocapture"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from the default path, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a JSON or YAML config. Fields missing from the file keep
// their defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config as YAML or JSON depending on the extension
func (c *Config) SaveFile(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks every section by building the component configs from it.
func (c *Config) Validate() error {
	if _, err := c.MetronomeConfig(); err != nil {
		return err
	}
	if _, err := c.RecorderConfig(); err != nil {
		return err
	}
	if _, err := c.GuideConfig(); err != nil {
		return err
	}
	if c.Metronome.Volume < 0 || c.Metronome.Volume > 1 {
		return fmt.Errorf("%w: volume %v outside 0-1", ErrBadConfig, c.Metronome.Volume)
	}
	return nil
}

// MetronomeConfig returns the scheduler settings.
func (c *Config) MetronomeConfig() (metronome.Config, error) {
	ts, err := notes.ParseTimeSignature(c.Metronome.TimeSignature)
	if err != nil {
		return metronome.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	policy, err := metronome.ParseTempoChange(c.Metronome.TempoChange)
	if err != nil {
		return metronome.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	mc := metronome.Config{
		BPM:           c.Metronome.BPM,
		TimeSignature: ts,
		ScheduleAhead: time.Duration(c.Metronome.ScheduleAheadSeconds * float64(time.Second)),
		PollInterval:  time.Duration(c.Metronome.PollIntervalMs) * time.Millisecond,
		TempoChange:   policy,
	}
	if err := mc.Validate(); err != nil {
		return metronome.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return mc, nil
}

// RecorderConfig returns the recorder settings. The recording tempo and
// meter follow the metronome.
func (c *Config) RecorderConfig() (recorder.Config, error) {
	ts, err := notes.ParseTimeSignature(c.Metronome.TimeSignature)
	if err != nil {
		return recorder.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	rc := recorder.Config{
		PauseTimeout:  time.Duration(c.Recorder.PauseTimeoutMs) * time.Millisecond,
		ResumeGap:     time.Duration(c.Recorder.ResumeGapMs) * time.Millisecond,
		Tempo:         c.Metronome.BPM,
		TimeSignature: ts,
	}
	if err := rc.Validate(); err != nil {
		return recorder.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return rc, nil
}

// GuideConfig returns the gate matcher settings.
func (c *Config) GuideConfig() (gate.Config, error) {
	gc := gate.Config{
		Speed:   c.Guide.Speed,
		Quantum: time.Duration(c.Guide.QuantumMs) * time.Millisecond,
	}
	if err := gc.Validate(); err != nil {
		return gate.Config{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return gc, nil
}
