package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorapi/internal/driver/replay"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sensorapi", cfg.GetScannerName())
	assert.False(t, cfg.GetVerbose())
	assert.Zero(t, cfg.GetMaxMessageBytes())
	assert.Empty(t, cfg.GetLaunchArgs())
	assert.Empty(t, cfg.GetRecorderPath())
	assert.Empty(t, cfg.GetForwardAddr())
	assert.Equal(t, 5, cfg.GetForwardMaxClients())
	assert.Empty(t, cfg.GetDebugAddr())
	assert.Equal(t, replay.Options{}, cfg.ReplayOptions())
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "sensor.json", `{
  "scanner_name": "sick_scan",
  "verbose": true,
  "max_message_bytes": 1048576,
  "launch_args": "--replay=run.jsonl --rate=20",
  "replay": {"serial_port": "/dev/ttyUSB0", "serial": {"baud_rate": 921600, "parity": "even"}, "loop": true},
  "recorder": {"db_path": "run.db"},
  "forward": {"listen_addr": ":50061", "max_clients": 2}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sick_scan", cfg.GetScannerName())
	assert.True(t, cfg.GetVerbose())
	assert.Equal(t, int64(1048576), cfg.GetMaxMessageBytes())
	assert.Equal(t, "--replay=run.jsonl --rate=20", cfg.GetLaunchArgs())
	assert.Equal(t, "run.db", cfg.GetRecorderPath())
	assert.Equal(t, ":50061", cfg.GetForwardAddr())
	assert.Equal(t, 2, cfg.GetForwardMaxClients())

	opts := cfg.ReplayOptions()
	assert.Equal(t, "/dev/ttyUSB0", opts.Serial)
	assert.Equal(t, 921600, opts.Port.BaudRate)
	assert.True(t, opts.Loop)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "sensor.yaml", `
scanner_name: radar
replay:
  path: capture.jsonl
  rate: 2.5
debug:
  listen_addr: localhost:8081
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "radar", cfg.GetScannerName())
	assert.Equal(t, "capture.jsonl", cfg.ReplayOptions().Path)
	assert.Equal(t, 2.5, cfg.ReplayOptions().Rate)
	assert.Equal(t, "localhost:8081", cfg.GetDebugAddr())
}

func TestLoad_EmptyYAMLIsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, "sensorapi", cfg.GetScannerName())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "sensor.toml", "x = 1", "extension"},
		{"bad json", "bad.json", "{", "parse config JSON"},
		{"unknown json key", "extra.json", `{"scanner": "x"}`, "unknown field"},
		{"unknown yaml key", "extra.yaml", "scanner: x\n", "parse config YAML"},
		{"negative budget", "neg.json", `{"max_message_bytes": -1}`, "max_message_bytes"},
		{"negative rate", "rate.yaml", "replay:\n  rate: -2\n", "replay.rate"},
		{"both sources", "both.json", `{"replay": {"path": "a", "serial_port": "b"}}`, "mutually exclusive"},
		{"bad parity", "parity.json", `{"replay": {"serial": {"parity": "mark"}}}`, "replay.serial"},
		{"negative clients", "clients.json", `{"forward": {"max_clients": -1}}`, "max_clients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingAndOversized(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	big := `{"launch_args": "` + strings.Repeat("a", maxFileSize) + `"}`
	_, err = Load(writeConfig(t, "big.json", big))
	assert.ErrorContains(t, err, "too large")
}

func TestExample_RoundTripsThroughLoad(t *testing.T) {
	data, err := json.Marshal(Example())
	require.NoError(t, err)
	cfg, err := Load(writeConfig(t, "example.json", string(data)))
	require.NoError(t, err)
	assert.Equal(t, Example(), cfg)
}
