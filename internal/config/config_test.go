package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "v4l2", cfg.Capture.Source)
	assert.Equal(t, 176, cfg.Capture.Width)
	assert.Equal(t, 144, cfg.Capture.Height)
	assert.Equal(t, 60.0, cfg.Display.TickHz)
	assert.Equal(t, "camera-texture-camera-texture", cfg.Telemetry.ClientID)
	assert.Equal(t, "camera-texture/stats/camera-texture", cfg.Telemetry.Topics.Stats)
}

func TestLoad(t *testing.T) {
	t.Setenv("CAMERA_DEVICE", "/dev/video2")
	t.Setenv("MQTT_BROKER", "tcp://broker.local:1883")

	yamlDoc := `
instance_id: lab-1
capture:
  source: v4l2
  device: ${CAMERA_DEVICE}
  width: 320
  height: 240
  start_timeout: 2s
display:
  tick_hz: 30
  snapshot_dir: /tmp/snapshots
restart:
  enabled: true
  max_restarts: 3
telemetry:
  enabled: true
  broker: ${MQTT_BROKER}
  qos: 1
preview:
  enabled: true
  listen: 127.0.0.1:9000
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab-1", cfg.InstanceID)
	assert.Equal(t, "/dev/video2", cfg.Capture.Device)
	assert.Equal(t, 320, cfg.Capture.Width)
	assert.Equal(t, 2*time.Second, cfg.Capture.StartTimeout)
	assert.Equal(t, 30.0, cfg.Display.TickHz)
	assert.Equal(t, 60, cfg.Display.SnapshotEvery, "default kept")
	assert.True(t, cfg.Restart.Enabled)
	assert.Equal(t, 3, cfg.Restart.MaxRestarts)
	assert.Equal(t, 30*time.Second, cfg.Restart.MaxDelay)

	assert.Equal(t, "tcp://broker.local:1883", cfg.Telemetry.Broker)
	assert.Equal(t, byte(1), cfg.Telemetry.QoS)
	assert.Equal(t, "camera-texture-lab-1", cfg.Telemetry.ClientID)
	assert.Equal(t, "camera-texture/stats/lab-1", cfg.Telemetry.Topics.Stats)
	assert.Equal(t, "camera-texture/faults/lab-1", cfg.Telemetry.Topics.Faults)

	assert.Equal(t, "127.0.0.1:9000", cfg.Preview.Listen)
	assert.Equal(t, 10.0, cfg.Preview.FPS)
	assert.Equal(t, 80, cfg.Preview.JPEGQuality)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "capture: [unclosed"},
		{"bad instance id", "instance_id: Lab_1"},
		{"unknown source", "capture: {source: rtsp}"},
		{"v4l2 without device", "capture: {source: v4l2, device: ''}"},
		{"device not a node", "capture: {device: video0}"},
		{"zero width", "capture: {width: -1}"},
		{"tick rate", "display: {tick_hz: -5}"},
		{"restart delays", "restart: {initial_delay: 1m, max_delay: 10s}"},
		{"telemetry without broker", "telemetry: {enabled: true}"},
		{"telemetry qos", "telemetry: {enabled: true, broker: 'tcp://x:1883', qos: 3}"},
		{"preview quality", "preview: {enabled: true, jpeg_quality: 101}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_TestSourceNeedsNoDevice(t *testing.T) {
	cfg, err := Parse([]byte("capture: {source: test, device: '', pattern: 18}"))
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Capture.Source)
	assert.Equal(t, 18, cfg.Capture.Pattern)
}
