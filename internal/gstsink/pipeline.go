// Package gstsink builds the GStreamer capture chain and adapts its appsink
// callback and bus to the producer and lifecycle packages.
package gstsink

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/producer"
)

// Source kinds.
const (
	SourceV4L2 = "v4l2"
	SourceTest = "test"
)

// DefaultStartTimeout bounds how long Play waits for the chain to reach PLAYING.
const DefaultStartTimeout = 5 * time.Second

// PipelineConfig contains configuration for capture pipeline creation.
type PipelineConfig struct {
	Source  string // SourceV4L2 or SourceTest
	Device  string // v4l2 device node, e.g. /dev/video0
	Pattern int    // videotestsrc pattern number, e.g. 0=smpte, 18=ball (test source only)
	Width   int
	Height  int

	// StartTimeout bounds the wait for PLAYING in Play (default 5s).
	StartTimeout time.Duration
}

// Pipeline is a built capture chain. It implements lifecycle.Element.
type Pipeline struct {
	cfg PipelineConfig

	pipeline *gst.Pipeline
	appsink  *app.Sink
	bus      *Bus
}

// CreatePipeline creates and configures the capture pipeline.
//
// Pipeline structure:
//
//	v4l2src → jpegdec → videoconvert → appsink(video/x-raw,format=RGB,W×H)
//	videotestsrc → jpegenc → jpegdec → videoconvert → appsink(...)
//
// The test chain encodes to JPEG first so both sources exercise the same
// decoder. deliver is called from the streaming thread for every sample.
//
// The pipeline is configured but NOT started (state remains NULL).
func CreatePipeline(cfg PipelineConfig, deliver func(producer.Sample) error) (*Pipeline, error) {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstsink: failed to create pipeline: %w", err)
	}

	var chain []*gst.Element

	switch cfg.Source {
	case SourceV4L2:
		src, err := newElement("v4l2src")
		if err != nil {
			return nil, err
		}
		if err := src.SetProperty("device", cfg.Device); err != nil {
			return nil, fmt.Errorf("gstsink: set v4l2src device: %w", err)
		}
		chain = append(chain, src)

	case SourceTest:
		src, err := newElement("videotestsrc")
		if err != nil {
			return nil, err
		}
		if err := src.SetProperty("is-live", true); err != nil {
			slog.Warn("gstsink: failed to set videotestsrc is-live", "error", err)
		}
		if err := src.SetProperty("pattern", cfg.Pattern); err != nil {
			slog.Warn("gstsink: ignoring invalid test pattern", "pattern", cfg.Pattern, "error", err)
		}
		enc, err := newElement("jpegenc")
		if err != nil {
			return nil, err
		}
		chain = append(chain, src, enc)

	default:
		return nil, fmt.Errorf("gstsink: unknown source %q", cfg.Source)
	}

	dec, err := newElement("jpegdec")
	if err != nil {
		return nil, err
	}
	converter, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}
	chain = append(chain, dec, converter)

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("%w: appsink: %v", failure.ErrMissingCapability, err)
	}
	sinkProps := []struct {
		name  string
		value interface{}
	}{
		{"sync", false},    // No sync with clock (real-time)
		{"max-buffers", 1}, // Keep only latest frame
		{"drop", true},     // Drop old frames
	}
	for _, prop := range sinkProps {
		if err := appsink.SetProperty(prop.name, prop.value); err != nil {
			slog.Warn("gstsink: failed to set appsink property", "property", prop.name, "value", prop.value, "error", err)
		}
	}

	// The requested format lives on the sink. Producing it is upstream's job;
	// if it cannot, negotiation fails during preroll.
	appsink.SetCaps(gst.NewCapsFromString(RGBCaps(cfg.Width, cfg.Height)))

	chain = append(chain, appsink.Element)

	if err := pipeline.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("gstsink: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("%w: link %s chain: %v", failure.ErrCapabilityMismatch, cfg.Source, err)
	}

	sinkName := appsink.GetName()
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, sinkName, deliver)
		},
	})

	slog.Debug("gstsink: pipeline created",
		"source", cfg.Source,
		"device", cfg.Device,
		"caps", RGBCaps(cfg.Width, cfg.Height),
	)

	return &Pipeline{
		cfg:      cfg,
		pipeline: pipeline,
		appsink:  appsink,
		bus:      newBus(pipeline),
	}, nil
}

// Bus returns the pipeline's event bus adapter.
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// Play sets the pipeline to PLAYING and waits up to StartTimeout for it to
// get there. An error posted during startup is returned: negotiation failures
// wrap ErrCapabilityMismatch, anything else is the *lifecycle.Fault.
//
// An EOS seen during startup is handed back to the bus so the watcher still
// observes it.
func (p *Pipeline) Play() error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstsink: failed to start pipeline: %w", err)
	}

	deadline := time.Now().Add(p.cfg.StartTimeout)
	for time.Now().Before(deadline) {
		msg := p.bus.bus.TimedPop(pollInterval)
		if msg == nil {
			continue
		}

		ev, ok := p.bus.translate(msg)
		if !ok {
			continue
		}

		switch ev.Type {
		case lifecycle.EventError:
			if ev.Fault.Category == CategoryNegotiation.String() {
				return fmt.Errorf("%w: %s cannot produce %s: %v",
					failure.ErrCapabilityMismatch, p.cfg.Source, RGBCaps(p.cfg.Width, p.cfg.Height), ev.Fault)
			}
			return ev.Fault

		case lifecycle.EventEOS:
			p.bus.pushBack(ev)
			return nil

		case lifecycle.EventStateChanged:
			if ev.Source == p.pipeline.GetName() && ev.To == gst.StatePlaying.String() {
				slog.Info("gstsink: pipeline reached PLAYING state", "pipeline", ev.Source)
				return nil
			}
		}
	}

	slog.Warn("gstsink: pipeline did not confirm PLAYING before timeout, continuing",
		"timeout", p.cfg.StartTimeout,
		"source", p.cfg.Source,
	)
	return nil
}

// Halt sets the pipeline to NULL, releasing the device.
//
// Safe to call even if the pipeline never started.
func (p *Pipeline) Halt() error {
	if p == nil || p.pipeline == nil {
		return nil
	}
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstsink: failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// RGBCaps builds the caps string requested on the appsink.
//
// Format: "video/x-raw,format=RGB,width=W,height=H"
func RGBCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
}

// newElement creates an element, mapping a missing factory to ErrMissingCapability.
func newElement(factory string) (*gst.Element, error) {
	elem, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("%w: element %s: %v", failure.ErrMissingCapability, factory, err)
	}
	return elem, nil
}
