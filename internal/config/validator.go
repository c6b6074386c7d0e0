package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills defaults for
// optional fields.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	// Validate instance_id
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateCapture(cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if cfg.Display.TickHz <= 0 || cfg.Display.TickHz > 1000 {
		return fmt.Errorf("display.tick_hz must be in (0, 1000], got %g", cfg.Display.TickHz)
	}
	if cfg.Display.SnapshotEvery < 0 {
		return fmt.Errorf("display.snapshot_every must be >= 0")
	}

	if cfg.Restart.InitialDelay > cfg.Restart.MaxDelay {
		return fmt.Errorf("restart.initial_delay (%s) exceeds restart.max_delay (%s)",
			cfg.Restart.InitialDelay, cfg.Restart.MaxDelay)
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Broker == "" {
			return fmt.Errorf("telemetry.broker is required when telemetry is enabled")
		}
		if cfg.Telemetry.QoS > 2 {
			return fmt.Errorf("telemetry.qos must be 0, 1 or 2")
		}
	}

	if cfg.Preview.Enabled {
		if cfg.Preview.FPS <= 0 {
			return fmt.Errorf("preview.fps must be > 0")
		}
		if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
			return fmt.Errorf("preview.jpeg_quality must be in [1, 100]")
		}
	}

	return nil
}

func validateCapture(c CaptureConfig) error {
	switch c.Source {
	case "v4l2":
		if c.Device == "" {
			return fmt.Errorf("device is required for v4l2 source")
		}
		if !strings.HasPrefix(c.Device, "/dev/") {
			return fmt.Errorf("device %q is not a device node", c.Device)
		}
	case "test":
	default:
		return fmt.Errorf("unknown source %q (want v4l2 or test)", c.Source)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.StartTimeout < 0 {
		return fmt.Errorf("start_timeout must be >= 0")
	}
	return nil
}

// applyDefaults sets defaults for fields left empty.
func applyDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Capture.StartTimeout == 0 {
		cfg.Capture.StartTimeout = 5 * time.Second
	}

	if cfg.Display.TickHz == 0 {
		cfg.Display.TickHz = 60
	}
	if cfg.Display.SnapshotEvery == 0 {
		cfg.Display.SnapshotEvery = 60
	}

	if cfg.Restart.MaxRestarts == 0 {
		cfg.Restart.MaxRestarts = 5
	}
	if cfg.Restart.InitialDelay == 0 {
		cfg.Restart.InitialDelay = 1 * time.Second
	}
	if cfg.Restart.MaxDelay == 0 {
		cfg.Restart.MaxDelay = 30 * time.Second
	}

	// Set default topics if not provided
	if cfg.Telemetry.ClientID == "" {
		cfg.Telemetry.ClientID = fmt.Sprintf("camera-texture-%s", cfg.InstanceID)
	}
	if cfg.Telemetry.Topics.Stats == "" {
		cfg.Telemetry.Topics.Stats = fmt.Sprintf("camera-texture/stats/%s", cfg.InstanceID)
	}
	if cfg.Telemetry.Topics.Faults == "" {
		cfg.Telemetry.Topics.Faults = fmt.Sprintf("camera-texture/faults/%s", cfg.InstanceID)
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = 5 * time.Second
	}

	if cfg.Preview.Listen == "" {
		cfg.Preview.Listen = ":8090"
	}
	if cfg.Preview.FPS == 0 {
		cfg.Preview.FPS = 10
	}
	if cfg.Preview.JPEGQuality == 0 {
		cfg.Preview.JPEGQuality = 80
	}
}
