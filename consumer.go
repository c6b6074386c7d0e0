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
)

// Texture is the display-side image a consumer uploads frames into.
//
// Upload receives a full RGBx frame of Format().Len() bytes. The slice is only
// valid for the duration of the call.
type Texture interface {
	Format() frameslot.Format
	Upload(pix []byte)
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithForceUpload makes every tick upload, even when the slot has not been
// written since the previous upload.
func WithForceUpload() ConsumerOption {
	return func(c *Consumer) { c.force = true }
}

// ConsumerStats contains consumer counters.
type ConsumerStats struct {
	// Ticks is the number of Tick calls
	Ticks uint64
	// Uploads is the number of frames copied into the texture
	Uploads uint64
	// Unchanged is the number of ticks skipped because the slot had no new frame
	Unchanged uint64
	// NotLoaded is the number of ticks with no slot attached
	NotLoaded uint64
}

// Consumer copies the latest frame from a slot into a texture once per tick.
//
// Thread-safety: Attach and Tick may be called from different goroutines;
// ticks are serialized.
type Consumer struct {
	texture Texture
	force   bool

	mu          sync.Mutex
	slot        *frameslot.Slot
	lastVersion uint64
	uploaded    bool
	scratch     []byte
	warned      bool

	ticks     atomic.Uint64
	uploads   atomic.Uint64
	unchanged atomic.Uint64
	notLoaded atomic.Uint64
}

// NewConsumer returns a consumer for texture with no slot attached.
func NewConsumer(texture Texture, opts ...ConsumerOption) *Consumer {
	c := &Consumer{texture: texture}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach points the consumer at slot. The texture and slot formats must match,
// otherwise the error wraps ErrCapabilityMismatch and nothing changes.
//
// Attaching a new slot (after a restart) forces an upload on the next tick.
func (c *Consumer) Attach(slot *frameslot.Slot) error {
	if slot == nil {
		return fmt.Errorf("camera-texture: attach nil slot")
	}
	if tf, sf := c.texture.Format(), slot.Format(); tf != sf {
		return fmt.Errorf("%w: texture is %s, slot is %s", ErrCapabilityMismatch, tf, sf)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.slot = slot
	c.uploaded = false
	c.warned = false

	slog.Debug("camera-texture: consumer attached", "format", slot.Format().String())
	return nil
}

// Tick uploads the latest frame into the texture and reports whether it did.
//
// With no slot attached it logs once and does nothing. The slot is copied under
// shared access; the texture upload runs after the lock is released. A tick is
// skipped when the slot has not been written since the last upload, unless the
// consumer was built WithForceUpload.
//
// Panics with ErrPoisonedSharedState if the slot is poisoned.
func (c *Consumer) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticks.Add(1)

	if c.slot == nil {
		c.notLoaded.Add(1)
		if !c.warned {
			c.warned = true
			slog.Debug("camera-texture: frame slot not loaded, skipping tick")
		}
		return false
	}

	// A poisoned slot keeps its version; Snapshot reports it.
	if !c.force && c.uploaded && !c.slot.Poisoned() && c.slot.Version() == c.lastVersion {
		c.unchanged.Add(1)
		return false
	}

	frame, version := c.slot.Snapshot(c.scratch)
	c.scratch = frame
	c.lastVersion = version
	c.uploaded = true

	c.texture.Upload(frame)
	c.uploads.Add(1)
	return true
}

// Run ticks every interval until ctx is done.
//
// Returns ctx.Err() on cancellation, or an error wrapping
// ErrPoisonedSharedState if the slot becomes poisoned.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) (err error) {
	if interval <= 0 {
		return fmt.Errorf("camera-texture: invalid tick interval %s", interval)
	}

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, ErrPoisonedSharedState) {
				panic(r)
			}
			slog.Error("camera-texture: consumer stopped on poisoned slot", "error", perr)
			err = perr
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stats returns consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Ticks:     c.ticks.Load(),
		Uploads:   c.uploads.Load(),
		Unchanged: c.unchanged.Load(),
		NotLoaded: c.notLoaded.Load(),
	}
}
