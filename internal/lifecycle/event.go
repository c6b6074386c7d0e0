package lifecycle

import (
	"context"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
)

// EventType identifies a bus message the lifecycle reacts to.
type EventType int

const (
	EventEOS EventType = iota + 1
	EventError
	EventStateChanged
)

func (t EventType) String() string {
	switch t {
	case EventEOS:
		return "eos"
	case EventError:
		return "error"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is one message popped from the pipeline's event bus.
type Event struct {
	Type   EventType
	Source string

	// Fault is set for EventError.
	Fault *Fault

	// From and To are the element's own state names for EventStateChanged.
	From string
	To   string
}

// Bus yields pipeline events. Pop blocks until the next event arrives and
// returns false once ctx is done or the bus is closed.
type Bus interface {
	Pop(ctx context.Context) (Event, bool)
}

// Element is the running capture chain as seen by the lifecycle.
type Element interface {
	// Play starts data flow. It returns once the chain is playing, or with the
	// construction error (missing capability, capability mismatch).
	Play() error
	// Halt moves the chain to its terminated state and releases devices.
	Halt() error
}

// Fault is an element-reported unrecoverable error.
type Fault struct {
	// Source is the path of the element that posted the error.
	Source string
	// Message is the error text.
	Message string
	// Debug holds optional debug detail from the element.
	Debug string
	// Category is a coarse classification (device, codec, negotiation, unknown).
	Category string
	// TraceID correlates log lines and telemetry for this fault.
	TraceID string
}

func (f *Fault) Error() string {
	if f.Debug == "" {
		return fmt.Sprintf("received error from %s: %s", f.Source, f.Message)
	}
	return fmt.Sprintf("received error from %s: %s (debug: %s)", f.Source, f.Message, f.Debug)
}

// Unwrap lets errors.Is(err, failure.ErrPipelineFault) match any fault.
func (f *Fault) Unwrap() error {
	return failure.ErrPipelineFault
}
