package cameratexture

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/gstsink"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/producer"
)

// Source kinds accepted in Config.Source.
const (
	SourceV4L2 = gstsink.SourceV4L2
	SourceTest = gstsink.SourceTest
)

// Default capture geometry (QCIF).
const (
	DefaultWidth  = 176
	DefaultHeight = 144
	DefaultDevice = "/dev/video0"
)

// Config contains configuration for a capture pipeline.
type Config struct {
	// Source selects the capture element: SourceV4L2 (default) or SourceTest.
	Source string
	// Device is the v4l2 device node (v4l2 source only).
	Device string
	// Pattern is the videotestsrc pattern number (test source only).
	Pattern int
	// Width and Height fix the frame geometry for the pipeline's lifetime.
	Width  int
	Height int
	// StartTimeout bounds how long Start waits for the pipeline to play.
	StartTimeout time.Duration
}

// DefaultConfig returns a v4l2 capture of /dev/video0 at 176x144.
func DefaultConfig() Config {
	return Config{
		Source:       SourceV4L2,
		Device:       DefaultDevice,
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		StartTimeout: gstsink.DefaultStartTimeout,
	}
}

// Format returns the frame slot geometry for this config.
func (c Config) Format() frameslot.Format {
	return frameslot.Format{Width: c.Width, Height: c.Height}
}

// Validate checks the config (fail-fast, no side effects).
func (c Config) Validate() error {
	switch c.Source {
	case SourceV4L2:
		if c.Device == "" {
			return fmt.Errorf("camera-texture: device is required for %s source", c.Source)
		}
	case SourceTest:
	default:
		return fmt.Errorf("camera-texture: unknown source %q (want %s or %s)", c.Source, SourceV4L2, SourceTest)
	}
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("camera-texture: %w", err)
	}
	if c.StartTimeout < 0 {
		return fmt.Errorf("camera-texture: negative start timeout %s", c.StartTimeout)
	}
	return nil
}

func (c Config) pipelineConfig() gstsink.PipelineConfig {
	return gstsink.PipelineConfig{
		Source:       c.Source,
		Device:       c.Device,
		Pattern:      c.Pattern,
		Width:        c.Width,
		Height:       c.Height,
		StartTimeout: c.StartTimeout,
	}
}

// Sample and SampleBuffer are the decoded units handed to the producer.
type (
	Sample       = producer.Sample
	SampleBuffer = producer.SampleBuffer
)

// State is the pipeline lifecycle state.
type State = lifecycle.State

const (
	StateUninitialized = lifecycle.StateUninitialized
	StatePlaying       = lifecycle.StatePlaying
	StateEOS           = lifecycle.StateEOS
	StateError         = lifecycle.StateError
	StateNull          = lifecycle.StateNull
)

// Stats contains current capture statistics.
type Stats struct {
	// PipelineID identifies the current pipeline instance
	PipelineID string
	// State is the lifecycle state name
	State string
	// Resolution is the frame geometry (e.g., "176x144")
	Resolution string
	// Samples is the number of samples handed to the producer
	Samples uint64
	// Published is the number of samples written to the slot
	Published uint64
	// Dropped is the number of samples rejected (all kinds)
	Dropped uint64
	// DroppedDataAcquisition counts samples without payload
	DroppedDataAcquisition uint64
	// DroppedBufferAccess counts samples that could not be mapped
	DroppedBufferAccess uint64
	// DroppedFormatInterpretation counts samples with the wrong byte layout
	DroppedFormatInterpretation uint64
	// LateSamples counts samples that arrived after the pipeline left Playing
	LateSamples uint64
	// BytesRead is the total payload bytes published
	BytesRead uint64
	// Faults is the number of pipeline faults observed
	Faults uint64
	// Restarts is the number of supervised restarts
	Restarts uint32
	// FPSReal is published frames per second since start
	FPSReal float64
	// LatencyMS is the time since the last published frame in milliseconds
	LatencyMS int64
	// Uptime is the time since the current pipeline started
	Uptime time.Duration
	// IsRunning indicates the pipeline is Playing
	IsRunning bool
}
