// Package producer turns decoded pipeline samples into frame slot writes.
//
// Runs on the pipeline's streaming thread. Everything that can fail (mapping,
// length checks) happens before the slot's write lock is taken, so readers only
// ever wait for the strided copy itself.
package producer

import (
	"fmt"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/pixel"
)

// SampleBuffer is the payload of a decoded sample.
type SampleBuffer interface {
	// Map exposes the payload for reading. The slice is valid until Unmap.
	Map() ([]byte, error)
	Unmap()
}

// Sample is one decoded unit delivered by the pipeline.
type Sample interface {
	// Buffer returns the payload, or nil when the sample carries none.
	Buffer() SampleBuffer
}

// Stats is a point-in-time copy of the producer counters.
type Stats struct {
	Samples   uint64 // samples handed to the producer
	Published uint64 // samples written to the slot
	Bytes     uint64 // payload bytes read from published samples

	DroppedDataAcquisition      uint64
	DroppedBufferAccess         uint64
	DroppedFormatInterpretation uint64
	Panics                      uint64
}

// Dropped returns the total number of samples that did not reach the slot.
func (s Stats) Dropped() uint64 {
	return s.DroppedDataAcquisition + s.DroppedBufferAccess + s.DroppedFormatInterpretation + s.Panics
}

// Producer writes each valid sample into a frame slot.
//
// Thread-safety: HandleSample may be called from any single goroutine at a
// time (the streaming thread); Stats is safe for concurrent use.
type Producer struct {
	slot *frameslot.Slot
	pack func(dst, src []byte) int

	samples   atomic.Uint64
	published atomic.Uint64
	bytes     atomic.Uint64

	droppedData   atomic.Uint64
	droppedBuffer atomic.Uint64
	droppedFormat atomic.Uint64
	panics        atomic.Uint64
}

// New returns a producer that publishes into slot.
func New(slot *frameslot.Slot) *Producer {
	return &Producer{slot: slot, pack: pixel.PackRGBX}
}

// Slot returns the slot this producer writes to.
func (p *Producer) Slot() *frameslot.Slot {
	return p.slot
}

// HandleSample validates one sample and copies it into the slot.
//
// On success the slot is mutated exactly once. On error the slot is left
// untouched and the error wraps one of ErrDataAcquisition, ErrBufferAccess or
// ErrFormatInterpretation. A panic while handling is recovered and returned;
// if it happened during the copy the slot is poisoned and the returned error
// wraps ErrPoisonedSharedState.
func (p *Producer) HandleSample(sample Sample) (err error) {
	p.samples.Add(1)

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			if p.slot.Poisoned() {
				err = fmt.Errorf("producer: sample handling panicked: %v: %w", r, failure.ErrPoisonedSharedState)
				return
			}
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("producer: sample handling panicked: %w", rerr)
				return
			}
			err = fmt.Errorf("producer: sample handling panicked: %v", r)
		}
	}()

	if sample == nil {
		p.droppedData.Add(1)
		return fmt.Errorf("%w: no sample", failure.ErrDataAcquisition)
	}
	buffer := sample.Buffer()
	if buffer == nil {
		p.droppedData.Add(1)
		return fmt.Errorf("%w: sample has no buffer", failure.ErrDataAcquisition)
	}

	data, err := buffer.Map()
	if err != nil {
		p.droppedBuffer.Add(1)
		return fmt.Errorf("%w: %v", failure.ErrBufferAccess, err)
	}
	defer buffer.Unmap()

	if err := p.validate(data); err != nil {
		return err
	}

	p.slot.Write(func(dst []byte) {
		p.pack(dst, data)
	})

	p.published.Add(1)
	p.bytes.Add(uint64(len(data)))
	return nil
}

func (p *Producer) validate(data []byte) error {
	if len(data) == 0 {
		p.droppedData.Add(1)
		return fmt.Errorf("%w: empty buffer", failure.ErrDataAcquisition)
	}

	format := p.slot.Format()
	if len(data)%frameslot.SourceBytesPerPixel != 0 {
		p.droppedFormat.Add(1)
		return fmt.Errorf("%w: %d bytes is not a whole number of RGB pixels",
			failure.ErrFormatInterpretation, len(data))
	}
	if len(data) != format.SourceLen() {
		p.droppedFormat.Add(1)
		return fmt.Errorf("%w: got %d bytes, want %d for %s RGB",
			failure.ErrFormatInterpretation, len(data), format.SourceLen(), format)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Samples:                     p.samples.Load(),
		Published:                   p.published.Load(),
		Bytes:                       p.bytes.Load(),
		DroppedDataAcquisition:      p.droppedData.Load(),
		DroppedBufferAccess:         p.droppedBuffer.Load(),
		DroppedFormatInterpretation: p.droppedFormat.Load(),
		Panics:                      p.panics.Load(),
	}
}
