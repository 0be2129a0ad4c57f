// Package config loads the settings of a sensorapi host process.
//
// Every field is a pointer so a partial file leaves the rest at their
// defaults; the Get* methods supply those defaults.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/sensorapi/internal/driver/replay"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	ScannerName     *string `json:"scanner_name,omitempty" yaml:"scanner_name,omitempty"`
	Verbose         *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	MaxMessageBytes *int64  `json:"max_message_bytes,omitempty" yaml:"max_message_bytes,omitempty"`
	// LaunchArgs is the launch string passed to InitializeByString.
	LaunchArgs *string `json:"launch_args,omitempty" yaml:"launch_args,omitempty"`

	Replay   ReplayConfig   `json:"replay" yaml:"replay"`
	Recorder RecorderConfig `json:"recorder" yaml:"recorder"`
	Forward  ForwardConfig  `json:"forward" yaml:"forward"`
	Debug    DebugConfig    `json:"debug" yaml:"debug"`
}

type ReplayConfig struct {
	Path       *string             `json:"path,omitempty" yaml:"path,omitempty"`
	SerialPort *string             `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	Serial     *replay.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	Rate       *float64            `json:"rate,omitempty" yaml:"rate,omitempty"`
	Loop       *bool               `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// RecorderConfig enables the SQLite recorder when DBPath is set.
type RecorderConfig struct {
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// ForwardConfig enables the gRPC forwarder when ListenAddr is set.
type ForwardConfig struct {
	ListenAddr *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	MaxClients *int    `json:"max_clients,omitempty" yaml:"max_clients,omitempty"`
}

// DebugConfig enables the tsweb debug server when ListenAddr is set.
type DebugConfig struct {
	ListenAddr *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}

func ptrString(v string) *string { return &v }

// Load reads a .json, .yaml or .yml file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document is all defaults.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.MaxMessageBytes != nil && *c.MaxMessageBytes < 0 {
		return fmt.Errorf("max_message_bytes must be non-negative, got %d", *c.MaxMessageBytes)
	}
	if c.Replay.Rate != nil && *c.Replay.Rate < 0 {
		return fmt.Errorf("replay.rate must be non-negative, got %f", *c.Replay.Rate)
	}
	if c.Replay.Path != nil && *c.Replay.Path != "" && c.Replay.SerialPort != nil && *c.Replay.SerialPort != "" {
		return fmt.Errorf("replay.path and replay.serial_port are mutually exclusive")
	}
	if c.Replay.Serial != nil {
		if _, err := c.Replay.Serial.Normalize(); err != nil {
			return fmt.Errorf("replay.serial: %w", err)
		}
	}
	if c.Forward.MaxClients != nil && *c.Forward.MaxClients < 0 {
		return fmt.Errorf("forward.max_clients must be non-negative, got %d", *c.Forward.MaxClients)
	}
	return nil
}

// GetScannerName returns scanner_name or "sensorapi".
func (c *Config) GetScannerName() string {
	if c.ScannerName == nil || *c.ScannerName == "" {
		return "sensorapi"
	}
	return *c.ScannerName
}

func (c *Config) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetMaxMessageBytes returns the flat message budget; zero is unbounded.
func (c *Config) GetMaxMessageBytes() int64 {
	if c.MaxMessageBytes == nil {
		return 0
	}
	return *c.MaxMessageBytes
}

func (c *Config) GetLaunchArgs() string {
	if c.LaunchArgs == nil {
		return ""
	}
	return *c.LaunchArgs
}

// ReplayOptions builds the replay driver defaults.
func (c *Config) ReplayOptions() replay.Options {
	var opts replay.Options
	if c.Replay.Path != nil {
		opts.Path = *c.Replay.Path
	}
	if c.Replay.SerialPort != nil {
		opts.Serial = *c.Replay.SerialPort
	}
	if c.Replay.Serial != nil {
		opts.Port = *c.Replay.Serial
	}
	if c.Replay.Rate != nil {
		opts.Rate = *c.Replay.Rate
	}
	if c.Replay.Loop != nil {
		opts.Loop = *c.Replay.Loop
	}
	return opts
}

// GetRecorderPath returns the recorder database path, empty when disabled.
func (c *Config) GetRecorderPath() string {
	if c.Recorder.DBPath == nil {
		return ""
	}
	return *c.Recorder.DBPath
}

// GetForwardAddr returns the forwarder listen address, empty when disabled.
func (c *Config) GetForwardAddr() string {
	if c.Forward.ListenAddr == nil {
		return ""
	}
	return *c.Forward.ListenAddr
}

func (c *Config) GetForwardMaxClients() int {
	if c.Forward.MaxClients == nil {
		return 5
	}
	return *c.Forward.MaxClients
}

// GetDebugAddr returns the debug server address, empty when disabled.
func (c *Config) GetDebugAddr() string {
	if c.Debug.ListenAddr == nil {
		return ""
	}
	return *c.Debug.ListenAddr
}

// Example returns a configuration with the commonly tuned keys set, suitable
// as a starting point for a config file.
func Example() *Config {
	loop := false
	rate := 10.0
	maxBytes := int64(64 << 20)
	maxClients := 5
	return &Config{
		ScannerName:     ptrString("sensorapi"),
		MaxMessageBytes: &maxBytes,
		LaunchArgs:      ptrString("--replay=testdata/session.jsonl --rate=10"),
		Replay: ReplayConfig{
			Rate: &rate,
			Loop: &loop,
		},
		Recorder: RecorderConfig{DBPath: ptrString("sensorapi.db")},
		Forward:  ForwardConfig{ListenAddr: ptrString("localhost:50061"), MaxClients: &maxClients},
		Debug:    DebugConfig{ListenAddr: ptrString("localhost:8081")},
	}
}
