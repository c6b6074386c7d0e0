package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handle owns a running capture chain and its event bus.
//
// Goroutine topology:
//   - streaming thread (owned by the element): calls Deliver for each sample
//   - watcher goroutine (owned by the caller): runs Watch until EOS, fault or ctx
//   - any goroutine: Stop, State
//
// Once the handle reaches Null no Deliver callback runs again.
type Handle struct {
	// ID identifies this pipeline instance in logs and telemetry.
	ID string

	machine *Machine
	element Element
	bus     Bus

	// Delivery gate. Deliver holds the read side while the producer runs, so
	// closing it waits for an in-flight sample to finish.
	gateMu sync.RWMutex
	open   bool

	haltOnce sync.Once
	haltErr  error
}

// NewHandle wraps an element that has been built but not started.
func NewHandle(element Element, bus Bus) *Handle {
	h := &Handle{
		ID:      uuid.NewString(),
		element: element,
		bus:     bus,
	}
	h.machine = NewMachine(func(from, to State) {
		slog.Debug("lifecycle: state transition",
			"pipeline_id", h.ID,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return h
}

// State returns the current handle state.
func (h *Handle) State() State {
	return h.machine.State()
}

// Play starts the element. On failure the handle goes straight to Null and
// the construction error is returned to the caller.
func (h *Handle) Play() error {
	if h.State() != StateUninitialized {
		return fmt.Errorf("%w: play from %s", ErrInvalidTransition, h.State())
	}

	// The gate opens before Play so samples arriving during preroll are kept.
	h.setGate(true)

	if err := h.element.Play(); err != nil {
		h.terminate()
		return err
	}

	if err := h.machine.Transition(StatePlaying); err != nil {
		h.terminate()
		return err
	}
	return nil
}

// Deliver runs fn if the handle is still accepting samples and reports whether
// it ran. Called from the element's streaming thread.
func (h *Handle) Deliver(fn func()) bool {
	h.gateMu.RLock()
	defer h.gateMu.RUnlock()

	if !h.open {
		return false
	}
	fn()
	return true
}

// Watch consumes bus events until the stream ends, a fault occurs or ctx is
// cancelled. It blocks on the bus; run it on its own goroutine.
//
// Returns nil on EOS or cancellation, and the *Fault on an element error.
// In both terminal cases the handle is moved to Null before returning.
func (h *Handle) Watch(ctx context.Context) error {
	for {
		ev, ok := h.bus.Pop(ctx)
		if !ok {
			slog.Debug("lifecycle: bus watcher stopped", "pipeline_id", h.ID)
			return nil
		}

		switch ev.Type {
		case EventEOS:
			slog.Info("lifecycle: end of stream", "pipeline_id", h.ID, "source", ev.Source)
			if err := h.machine.Transition(StateEOS); err != nil {
				slog.Debug("lifecycle: eos ignored", "pipeline_id", h.ID, "error", err)
			}
			h.terminate()
			return nil

		case EventError:
			fault := ev.Fault
			if fault == nil {
				fault = &Fault{Source: ev.Source, Message: "unspecified error", Category: "unknown"}
			}
			if fault.TraceID == "" {
				fault.TraceID = uuid.NewString()
			}
			if err := h.machine.Transition(StateError); err != nil {
				slog.Debug("lifecycle: error after termination", "pipeline_id", h.ID, "error", err)
			}
			h.terminate()
			return fault

		case EventStateChanged:
			slog.Debug("lifecycle: element state changed",
				"pipeline_id", h.ID,
				"source", ev.Source,
				"from", ev.From,
				"to", ev.To,
			)
		}
	}
}

// Stop moves the handle to Null and halts the element. Idempotent.
func (h *Handle) Stop() error {
	return h.terminate()
}

// terminate closes the delivery gate, transitions to Null and halts the
// element exactly once.
func (h *Handle) terminate() error {
	h.setGate(false)

	h.haltOnce.Do(func() {
		if err := h.machine.Transition(StateNull); err != nil {
			slog.Debug("lifecycle: null transition skipped", "pipeline_id", h.ID, "error", err)
		}
		if err := h.element.Halt(); err != nil {
			h.haltErr = fmt.Errorf("lifecycle: halt pipeline: %w", err)
			slog.Error("lifecycle: failed to halt pipeline", "pipeline_id", h.ID, "error", err)
		}
	})
	return h.haltErr
}

func (h *Handle) setGate(open bool) {
	h.gateMu.Lock()
	h.open = open
	h.gateMu.Unlock()
}
