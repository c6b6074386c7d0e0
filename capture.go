package cameratexture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/gstsink"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/producer"
)

// stopTimeout bounds how long Stop waits for the bus watcher.
const stopTimeout = 3 * time.Second

// pipelineFactory builds a capture chain that calls deliver for each sample.
type pipelineFactory func(cfg Config, deliver func(Sample) error) (lifecycle.Element, lifecycle.Bus, error)

func gstFactory(cfg Config, deliver func(Sample) error) (lifecycle.Element, lifecycle.Bus, error) {
	p, err := gstsink.CreatePipeline(cfg.pipelineConfig(), deliver)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Bus(), nil
}

// Capture owns one capture pipeline at a time and the frame slot it fills.
//
// Lifecycle: NewCapture() → Start() → (fault | EOS | Stop()) → Start() again
// for a fresh pipeline and a fresh slot.
//
// Thread-safety: all methods safe for concurrent use.
type Capture struct {
	cfg     Config
	factory pipelineFactory

	mu       sync.RWMutex
	slot     *frameslot.Slot
	producer *producer.Producer
	handle   *lifecycle.Handle
	faults   chan *PipelineFault
	done     chan struct{}
	started  time.Time

	// lastErr is written by the watcher, which must not take mu: Stop holds
	// mu while it waits for the watcher.
	errMu   sync.Mutex
	lastErr error

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics (atomic for thread-safety)
	lastFrameAt atomic.Int64 // unix nanos of the last published frame
	lateSamples atomic.Uint64
	faultCount  atomic.Uint64
	restarts    atomic.Uint32
}

// NewCapture creates a capture with fail-fast validation.
//
// Validates configuration and checks that GStreamer and every element the
// source needs are installed. A missing element wraps ErrMissingCapability.
// Nothing is started; call Start.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = gstsink.DefaultStartTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Fail-fast validation: GStreamer availability
	if err := gstsink.CheckAvailable(cfg.Source); err != nil {
		return nil, fmt.Errorf("camera-texture: GStreamer not available: %w", err)
	}

	return newCapture(cfg, gstFactory), nil
}

func newCapture(cfg Config, factory pipelineFactory) *Capture {
	return &Capture{cfg: cfg, factory: factory}
}

// Start builds a new pipeline and a new frame slot and sets the pipeline
// playing.
//
// Construction errors are returned synchronously: ErrMissingCapability when
// an element cannot be created, ErrCapabilityMismatch when the source cannot
// deliver the requested format, or the *PipelineFault posted during startup.
// On error the pipeline is already Null.
//
// Returns an error if the capture is already running.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("camera-texture: capture already started")
	}

	slot, err := frameslot.New(c.cfg.Format())
	if err != nil {
		return fmt.Errorf("camera-texture: %w", err)
	}
	prod := producer.New(slot)
	c.lastFrameAt.Store(0)
	c.lateSamples.Store(0)

	// The handle is assigned before Play, and the streaming thread only
	// starts calling deliver after Play.
	var handle *lifecycle.Handle
	deliver := func(s Sample) error {
		var err error
		ran := handle.Deliver(func() {
			err = prod.HandleSample(s)
			if err == nil {
				c.lastFrameAt.Store(time.Now().UnixNano())
			}
		})
		if !ran {
			c.lateSamples.Add(1)
		}
		return err
	}

	element, bus, err := c.factory(c.cfg, deliver)
	if err != nil {
		return fmt.Errorf("camera-texture: failed to create pipeline: %w", err)
	}
	handle = lifecycle.NewHandle(element, bus)

	if err := handle.Play(); err != nil {
		slog.Error("camera-texture: pipeline failed to start",
			"pipeline_id", handle.ID,
			"source", c.cfg.Source,
			"device", c.cfg.Device,
			"kind", KindOf(err).String(),
			"error", err,
		)
		return fmt.Errorf("camera-texture: failed to start pipeline: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	faults := make(chan *PipelineFault, 1)
	done := make(chan struct{})

	c.slot = slot
	c.producer = prod
	c.handle = handle
	c.faults = faults
	c.done = done
	c.started = time.Now()
	c.cancel = cancel
	c.setErr(nil)

	// Launch background goroutine for pipeline bus monitoring
	c.wg.Add(1)
	go c.watch(watchCtx, handle, prod, faults, done)

	slog.Info("camera-texture: capture started",
		"pipeline_id", handle.ID,
		"source", c.cfg.Source,
		"device", c.cfg.Device,
		"resolution", c.cfg.Format().String(),
	)
	return nil
}

// watch runs the lifecycle watcher for one handle. It closes faults and done
// when the handle reaches Null or ctx is cancelled.
func (c *Capture) watch(
	ctx context.Context,
	handle *lifecycle.Handle,
	prod *producer.Producer,
	faults chan<- *PipelineFault,
	done chan<- struct{},
) {
	defer c.wg.Done()
	defer close(done)
	defer close(faults)

	err := handle.Watch(ctx)
	if err == nil {
		return
	}

	var fault *PipelineFault
	if !errors.As(err, &fault) {
		fault = &PipelineFault{Message: err.Error(), Category: gstsink.CategoryUnknown.String()}
	}

	c.faultCount.Add(1)
	if fault.Category == gstsink.CategoryNegotiation.String() {
		// Live sources can report PLAYING before the first caps are agreed.
		c.setErr(fmt.Errorf("%w: %s cannot produce %s: %w",
			ErrCapabilityMismatch, c.cfg.Source, c.cfg.Format(), fault))
	} else {
		c.setErr(fault)
	}

	slog.Error("camera-texture: pipeline fault",
		"pipeline_id", handle.ID,
		"trace_id", fault.TraceID,
		"source", fault.Source,
		"error", fault.Message,
		"debug", fault.Debug,
		"category", fault.Category,
		"frames_published", prod.Stats().Published,
	)

	select {
	case faults <- fault:
	default:
	}
}

// Stop gracefully shuts down the pipeline.
//
// This method:
//  1. Cancels the watcher context
//  2. Waits for the watcher to finish (timeout 3s)
//  3. Moves the pipeline to Null, releasing the device
//
// The slot keeps the last frame and stays readable. Idempotent - safe to call
// multiple times.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		slog.Debug("camera-texture: capture not started, nothing to stop")
		return nil
	}

	slog.Info("camera-texture: stopping capture", "pipeline_id", c.handle.ID)

	c.cancel()

	// Wait for goroutines with timeout
	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		slog.Debug("camera-texture: watcher stopped cleanly")
	case <-time.After(stopTimeout):
		slog.Warn("camera-texture: stop timeout exceeded, watcher may still be running")
	}

	err := c.handle.Stop()
	if err != nil {
		slog.Error("camera-texture: failed to halt pipeline", "pipeline_id", c.handle.ID, "error", err)
	}

	stats := c.producer.Stats()
	slog.Info("camera-texture: capture stopped",
		"pipeline_id", c.handle.ID,
		"frames_published", stats.Published,
		"frames_dropped", stats.Dropped(),
		"late_samples", c.lateSamples.Load(),
		"uptime", time.Since(c.started),
	)

	// Reset state for potential restart
	c.cancel = nil
	return err
}

// Slot returns the frame slot of the current (or last) pipeline, or nil
// before the first Start.
func (c *Capture) Slot() *frameslot.Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slot
}

// State returns the lifecycle state of the current pipeline.
func (c *Capture) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handle == nil {
		return StateUninitialized
	}
	return c.handle.State()
}

// Faults returns the fault channel of the current pipeline. It yields at most
// one *PipelineFault and is closed once the pipeline has stopped. Returns nil
// before the first Start.
func (c *Capture) Faults() <-chan *PipelineFault {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.faults
}

// Done returns a channel closed when the current pipeline's watcher exits
// (EOS, fault or Stop). Returns nil before the first Start.
func (c *Capture) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Err returns the fault that ended the current pipeline, or nil. A
// negotiation fault is wrapped in ErrCapabilityMismatch.
func (c *Capture) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Capture) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// Config returns the capture configuration.
func (c *Capture) Config() Config {
	return c.cfg
}

// Stats returns current capture statistics.
//
// Thread-safe - uses atomic operations for counters.
func (c *Capture) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		State:       StateUninitialized.String(),
		Resolution:  c.cfg.Format().String(),
		LateSamples: c.lateSamples.Load(),
		Faults:      c.faultCount.Load(),
		Restarts:    c.restarts.Load(),
	}
	if c.handle == nil {
		return stats
	}

	state := c.handle.State()
	stats.PipelineID = c.handle.ID
	stats.State = state.String()
	stats.IsRunning = state == StatePlaying

	ps := c.producer.Stats()
	stats.Samples = ps.Samples
	stats.Published = ps.Published
	stats.Dropped = ps.Dropped()
	stats.DroppedDataAcquisition = ps.DroppedDataAcquisition
	stats.DroppedBufferAccess = ps.DroppedBufferAccess
	stats.DroppedFormatInterpretation = ps.DroppedFormatInterpretation
	stats.BytesRead = ps.Bytes

	stats.Uptime = time.Since(c.started)
	if secs := stats.Uptime.Seconds(); secs > 0 {
		stats.FPSReal = float64(ps.Published) / secs
	}
	if last := c.lastFrameAt.Load(); last != 0 {
		stats.LatencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}
	return stats
}
