// Package service wires the capture pipeline, the display consumers, the
// preview server and MQTT telemetry into one runnable process.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cameratexture "github.com/e7canasta/orion-care-sensor/modules/camera-texture"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/preview"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/scene"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/telemetry"
)

// Service is the camera-texture process.
type Service struct {
	cfg     *config.Config
	capture *cameratexture.Capture
	scene   *scene.Scene
	preview *preview.Server    // nil when disabled
	emitter *telemetry.Emitter // nil when disabled

	// consumers[0] feeds the scene; consumers[1], if present, the preview.
	consumers []*cameratexture.Consumer

	started time.Time
	wg      sync.WaitGroup
}

// New builds the service from a validated configuration. GStreamer must be
// available and able to build the configured source.
func New(cfg *config.Config) (*Service, error) {
	capture, err := cameratexture.NewCapture(CaptureConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	return newService(cfg, capture)
}

func newService(cfg *config.Config, capture *cameratexture.Capture) (*Service, error) {
	format := capture.Config().Format()

	sc, err := scene.New(format, scene.Options{
		SnapshotDir:   cfg.Display.SnapshotDir,
		SnapshotEvery: cfg.Display.SnapshotEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scene: %w", err)
	}

	var consumerOpts []cameratexture.ConsumerOption
	if cfg.Display.ForceUpload {
		consumerOpts = append(consumerOpts, cameratexture.WithForceUpload())
	}

	s := &Service{
		cfg:       cfg,
		capture:   capture,
		scene:     sc,
		consumers: []*cameratexture.Consumer{cameratexture.NewConsumer(sc, consumerOpts...)},
	}

	if cfg.Preview.Enabled {
		s.preview = preview.New(format, preview.Options{
			Listen:      cfg.Preview.Listen,
			FPS:         cfg.Preview.FPS,
			JPEGQuality: cfg.Preview.JPEGQuality,
		}, s.Status)
		s.consumers = append(s.consumers, cameratexture.NewConsumer(s.preview))
	}

	if cfg.Telemetry.Enabled {
		s.emitter = telemetry.NewEmitter(telemetry.Options{
			Broker:      cfg.Telemetry.Broker,
			ClientID:    cfg.Telemetry.ClientID,
			StatsTopic:  cfg.Telemetry.Topics.Stats,
			FaultsTopic: cfg.Telemetry.Topics.Faults,
			QoS:         cfg.Telemetry.QoS,
		})
	}

	return s, nil
}

// CaptureConfig maps the file configuration onto a capture configuration.
func CaptureConfig(cfg *config.Config) cameratexture.Config {
	return cameratexture.Config{
		Source:       cfg.Capture.Source,
		Device:       cfg.Capture.Device,
		Pattern:      cfg.Capture.Pattern,
		Width:        cfg.Capture.Width,
		Height:       cfg.Capture.Height,
		StartTimeout: cfg.Capture.StartTimeout,
	}
}

// Run starts all components and blocks until ctx is cancelled, the stream
// ends, or the capture fails for good.
//
// Returns nil on end of stream or cancellation.
func (s *Service) Run(ctx context.Context) error {
	s.started = time.Now()

	slog.Info("starting camera-texture service",
		"instance_id", s.cfg.InstanceID,
		"source", s.cfg.Capture.Source,
		"device", s.cfg.Capture.Device,
		"resolution", s.capture.Config().Format().String(),
		"supervised", s.cfg.Restart.Enabled,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			// Auto-reconnect keeps trying; publishes fail until then.
			slog.Warn("telemetry unavailable at startup", "error", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			telemetry.RunReporter(ctx, s.emitter, s.cfg.Telemetry.Interval, s.statsPayload)
		}()
	}

	if s.preview != nil {
		if err := s.preview.Start(ctx); err != nil {
			return fmt.Errorf("failed to start preview: %w", err)
		}
	}

	consumerErr := make(chan error, len(s.consumers))
	interval := time.Duration(float64(time.Second) / s.cfg.Display.TickHz)
	for _, c := range s.consumers {
		s.wg.Add(1)
		go func(c *cameratexture.Consumer) {
			defer s.wg.Done()
			if err := c.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				consumerErr <- err
				cancel()
			}
		}(c)
	}

	var err error
	if s.cfg.Restart.Enabled {
		err = s.runSupervised(ctx)
	} else {
		err = s.runOnce(ctx)
	}

	select {
	case cerr := <-consumerErr:
		return cerr
	default:
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) runSupervised(ctx context.Context) error {
	return s.capture.RunSupervised(ctx, cameratexture.RestartPolicy{
		MaxRestarts:  s.cfg.Restart.MaxRestarts,
		InitialDelay: s.cfg.Restart.InitialDelay,
		MaxDelay:     s.cfg.Restart.MaxDelay,
		OnStart:      s.attach,
		OnFault:      s.publishFault,
	})
}

func (s *Service) runOnce(ctx context.Context) error {
	if err := s.capture.Start(ctx); err != nil {
		return err
	}
	s.attach(s.capture.Slot())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case fault, ok := <-s.capture.Faults():
		if ok && fault != nil {
			s.publishFault(fault)
			if err := s.capture.Err(); err != nil {
				return err
			}
			return fault
		}
		return s.capture.Err()
	}
}

// attach points every consumer at a freshly started slot.
func (s *Service) attach(slot *frameslot.Slot) {
	for _, c := range s.consumers {
		if err := c.Attach(slot); err != nil {
			slog.Error("failed to attach consumer", "error", err)
		}
	}
}

func (s *Service) publishFault(fault *cameratexture.PipelineFault) {
	if s.emitter == nil {
		return
	}
	payload := telemetry.NewFaultPayload(s.cfg.InstanceID, s.capture.Stats().PipelineID, fault)
	if err := s.emitter.PublishFault(payload); err != nil {
		slog.Warn("failed to publish fault", "trace_id", fault.TraceID, "error", err)
	}
}

func (s *Service) statsPayload() telemetry.StatsPayload {
	return telemetry.NewStatsPayload(s.cfg.InstanceID, s.capture.Stats(), s.consumers[0].Stats())
}

// Status reports service health for the readiness endpoint.
func (s *Service) Status() preview.Status {
	stats := s.capture.Stats()

	st := preview.Status{
		Status:     "healthy",
		State:      stats.State,
		PipelineID: stats.PipelineID,
		Published:  stats.Published,
		Dropped:    stats.Dropped,
		Faults:     stats.Faults,
		Restarts:   stats.Restarts,
	}
	if s.emitter != nil {
		st.MQTTConnected = s.emitter.Stats().Connected
	}

	switch {
	case !stats.IsRunning:
		st.Status = "unhealthy"
	case s.emitter != nil && !st.MQTTConnected:
		st.Status = "degraded"
	}
	return st
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout
}

// Shutdown stops the capture and releases all components. Run's context must
// already be cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if s.preview != nil {
		if err := s.preview.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("preview: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timeout waiting for workers: %w", ctx.Err()))
	}

	if s.emitter != nil {
		s.emitter.Disconnect()
	}
	if err := s.scene.Close(); err != nil {
		errs = append(errs, fmt.Errorf("scene: %w", err))
	}

	slog.Info("camera-texture service stopped",
		"uptime", time.Since(s.started).Round(time.Second),
		"uploads", s.consumers[0].Stats().Uploads,
		"snapshots", s.scene.Saved(),
	)
	return errors.Join(errs...)
}
