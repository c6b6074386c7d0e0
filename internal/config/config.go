// Package config loads the camera-texture YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete camera-texture configuration
type Config struct {
	InstanceID      string          `yaml:"instance_id"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"` // Graceful shutdown timeout (default: 5s)
	Capture         CaptureConfig   `yaml:"capture"`
	Display         DisplayConfig   `yaml:"display"`
	Restart         RestartConfig   `yaml:"restart"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Preview         PreviewConfig   `yaml:"preview"`
}

// CaptureConfig contains capture pipeline settings
type CaptureConfig struct {
	Source       string        `yaml:"source"`        // v4l2, test
	Device       string        `yaml:"device"`        // e.g. /dev/video0
	Pattern      int           `yaml:"pattern"`       // videotestsrc pattern (test source)
	Width        int           `yaml:"width"`         // frame width in pixels
	Height       int           `yaml:"height"`        // frame height in pixels
	StartTimeout time.Duration `yaml:"start_timeout"` // wait for PLAYING (default: 5s)
}

// DisplayConfig contains consumer tick and scene settings
type DisplayConfig struct {
	TickHz        float64 `yaml:"tick_hz"`        // consumer tick rate (default: 60)
	ForceUpload   bool    `yaml:"force_upload"`   // upload every tick even if unchanged
	SnapshotDir   string  `yaml:"snapshot_dir"`   // scene PNG output dir (empty = disabled)
	SnapshotEvery int     `yaml:"snapshot_every"` // render a snapshot every N uploads (default: 60)
}

// RestartConfig contains supervised restart settings
type RestartConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRestarts  int           `yaml:"max_restarts"`  // default: 5
	InitialDelay time.Duration `yaml:"initial_delay"` // default: 1s
	MaxDelay     time.Duration `yaml:"max_delay"`     // default: 30s
}

// TelemetryConfig contains MQTT telemetry settings
type TelemetryConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Broker   string         `yaml:"broker"`    // e.g. tcp://localhost:1883
	ClientID string         `yaml:"client_id"` // default: camera-texture-<instance_id>
	Topics   TelemetryTopic `yaml:"topics"`
	QoS      byte           `yaml:"qos"`
	Interval time.Duration  `yaml:"interval"` // stats publish interval (default: 5s)
}

// TelemetryTopic contains topic names
type TelemetryTopic struct {
	Stats  string `yaml:"stats"`
	Faults string `yaml:"faults"`
}

// PreviewConfig contains live preview server settings
type PreviewConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Listen      string  `yaml:"listen"`       // default: :8090
	FPS         float64 `yaml:"fps"`          // websocket push rate (default: 10)
	JPEGQuality int     `yaml:"jpeg_quality"` // 1-100 (default: 80)
}

// Default returns a configuration for a v4l2 capture of /dev/video0 at
// 176x144 with telemetry and preview disabled.
//
// Names derived from instance_id (client ID, topics) are left empty; Validate
// fills them.
func Default() *Config {
	return &Config{
		InstanceID:      "camera-texture",
		ShutdownTimeout: 5 * time.Second,
		Capture: CaptureConfig{
			Source:       "v4l2",
			Device:       "/dev/video0",
			Width:        176,
			Height:       144,
			StartTimeout: 5 * time.Second,
		},
		Display: DisplayConfig{
			TickHz:        60,
			SnapshotEvery: 60,
		},
		Restart: RestartConfig{
			MaxRestarts:  5,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Interval: 5 * time.Second,
		},
		Preview: PreviewConfig{
			Listen:      ":8090",
			FPS:         10,
			JPEGQuality: 80,
		},
	}
}

// Load reads and parses a YAML configuration file.
//
// Environment variables (${VAR}) are expanded before parsing. Missing fields
// take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
