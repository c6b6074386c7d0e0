// Package frameslot implements the single-buffer hand-off between a frame
// producer running on a pipeline thread and a consumer sampling at display rate.
//
// Philosophy: "Latest frame wins. No queue, no history."
//
// Design:
//   - One fixed-size RGBx buffer, allocated zeroed at construction
//   - Exclusive write / shared read (sync.RWMutex)
//   - Readers observe a buffer fully before or fully after a write, never mid-write
//   - A panic inside a write poisons the slot; later access panics until restart
//
// The slot is passed explicitly to both sides. It is never package state.
package frameslot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// BytesPerPixel is the destination layout: three color channels plus one
	// padding byte that stands in for alpha.
	BytesPerPixel = 4

	// SourceBytesPerPixel is the packed RGB layout delivered by the decoder.
	SourceBytesPerPixel = 3
)

// ErrPoisonedSharedState is raised (as a panic value) when a slot is accessed
// after a writer crashed while holding it. Only a full pipeline restart recovers.
var ErrPoisonedSharedState = errors.New("frameslot: shared state poisoned by an earlier crash")

// Format describes the fixed frame geometry of a slot.
type Format struct {
	Width  int
	Height int
}

// Validate reports whether both dimensions are positive.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frameslot: invalid format %dx%d", f.Width, f.Height)
	}
	return nil
}

// Pixels returns Width*Height.
func (f Format) Pixels() int {
	return f.Width * f.Height
}

// Len returns the destination buffer length in bytes (Width*Height*4).
func (f Format) Len() int {
	return f.Pixels() * BytesPerPixel
}

// SourceLen returns the expected decoded sample length (Width*Height*3).
func (f Format) SourceLen() int {
	return f.Pixels() * SourceBytesPerPixel
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Slot holds exactly one frame buffer guarded for single-writer/multi-reader access.
//
// Thread-safety: all methods safe for concurrent use.
type Slot struct {
	format Format

	mu  sync.RWMutex
	buf []byte

	version  atomic.Uint64 // completed writes
	poisoned atomic.Bool
}

// New allocates a zeroed slot for the given format.
func New(format Format) (*Slot, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Slot{
		format: format,
		buf:    make([]byte, format.Len()),
	}, nil
}

// Format returns the slot geometry. It never changes.
func (s *Slot) Format() Format {
	return s.format
}

// Write gives fn exclusive mutable access to the buffer.
//
// Blocks until no reader or writer holds the slot. fn must not retain buf or
// change its length; it should do nothing but the copy, since readers wait for
// it to return.
//
// If fn panics the slot is poisoned and the panic is re-raised.
func (s *Slot) Write(fn func(buf []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkPoisoned()

	completed := false
	defer func() {
		if !completed {
			s.poisoned.Store(true)
		}
	}()

	fn(s.buf)
	completed = true
	s.version.Add(1)
}

// Read gives fn shared read-only access to the buffer.
//
// Blocks only while a writer holds the slot. Multiple readers proceed
// concurrently. fn must not modify or retain buf.
func (s *Slot) Read(fn func(buf []byte)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.checkPoisoned()

	fn(s.buf)
}

// Snapshot copies the current buffer into dst, growing it when needed, and
// returns the filled slice together with the version it was copied at.
func (s *Slot) Snapshot(dst []byte) ([]byte, uint64) {
	var version uint64
	s.Read(func(buf []byte) {
		if cap(dst) < len(buf) {
			dst = make([]byte, len(buf))
		}
		dst = dst[:len(buf)]
		copy(dst, buf)
		version = s.version.Load()
	})
	return dst, version
}

// Version returns the number of completed writes. Consumers compare it between
// ticks to skip uploading an unchanged frame.
func (s *Slot) Version() uint64 {
	return s.version.Load()
}

// Poisoned reports whether a writer crashed while holding the slot.
func (s *Slot) Poisoned() bool {
	return s.poisoned.Load()
}

func (s *Slot) checkPoisoned() {
	if s.poisoned.Load() {
		panic(fmt.Errorf("%w (format %s)", ErrPoisonedSharedState, s.format))
	}
}
