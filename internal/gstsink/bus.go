package gstsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
)

// pollInterval is the TimedPop timeout; it bounds how long Pop takes to notice
// a cancelled context.
const pollInterval = 50 * time.Millisecond

// Bus adapts the pipeline bus to lifecycle.Bus.
type Bus struct {
	bus *gst.Bus

	mu      sync.Mutex
	pending []lifecycle.Event
}

func newBus(pipeline *gst.Pipeline) *Bus {
	return &Bus{bus: pipeline.GetPipelineBus()}
}

// Pop blocks until the next EOS, error or state-change message, or until ctx
// is done. Other message types are skipped.
func (b *Bus) Pop(ctx context.Context) (lifecycle.Event, bool) {
	if ev, ok := b.popPending(); ok {
		return ev, true
	}

	for {
		select {
		case <-ctx.Done():
			return lifecycle.Event{}, false
		default:
		}

		// Poll for messages with short timeout for responsive shutdown
		msg := b.bus.TimedPop(pollInterval)
		if msg == nil {
			continue
		}
		if ev, ok := b.translate(msg); ok {
			return ev, true
		}
	}
}

func (b *Bus) translate(msg *gst.Message) (lifecycle.Event, bool) {
	switch msg.Type() {
	case gst.MessageEOS:
		return lifecycle.Event{Type: lifecycle.EventEOS, Source: msg.Source()}, true

	case gst.MessageError:
		gerr := msg.ParseError()
		fault := &lifecycle.Fault{Source: msg.Source(), Message: "unknown error", Category: CategoryUnknown.String()}
		if gerr != nil {
			fault.Message = gerr.Error()
			fault.Debug = gerr.DebugString()
			fault.Category = ClassifyError(gerr.Error(), gerr.DebugString()).String()
		}
		slog.Debug("gstsink: error message on bus",
			"source", fault.Source,
			"error", fault.Message,
			"category", fault.Category,
		)
		return lifecycle.Event{Type: lifecycle.EventError, Source: fault.Source, Fault: fault}, true

	case gst.MessageStateChanged:
		oldState, newState := msg.ParseStateChanged()
		return lifecycle.Event{
			Type:   lifecycle.EventStateChanged,
			Source: msg.Source(),
			From:   oldState.String(),
			To:     newState.String(),
		}, true
	}
	return lifecycle.Event{}, false
}

func (b *Bus) pushBack(ev lifecycle.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

func (b *Bus) popPending() (lifecycle.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return lifecycle.Event{}, false
	}
	ev := b.pending[0]
	b.pending = b.pending[1:]
	return ev, true
}
