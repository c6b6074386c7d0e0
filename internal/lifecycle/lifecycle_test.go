package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
)

type fakeElement struct {
	mu      sync.Mutex
	playErr error
	plays   int
	halts   int
}

func (e *fakeElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	return e.playErr
}

func (e *fakeElement) Halt() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halts++
	return nil
}

func (e *fakeElement) haltCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halts
}

type chanBus chan Event

func (b chanBus) Pop(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev, ok := <-b:
		return ev, ok
	}
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"normal eos", []State{StatePlaying, StateEOS, StateNull}, false},
		{"fault", []State{StatePlaying, StateError, StateNull}, false},
		{"explicit stop", []State{StatePlaying, StateNull}, false},
		{"construction aborted", []State{StateNull}, false},
		{"eos before playing", []State{StateEOS}, true},
		{"null is terminal", []State{StatePlaying, StateNull, StatePlaying}, true},
		{"error then eos", []State{StatePlaying, StateError, StateEOS}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			var err error
			for _, s := range tt.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], m.State())
			}
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "null", StateNull.String())
	assert.True(t, StateNull.Terminal())
	assert.False(t, StateError.Terminal())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestHandle_PlayFailureGoesNull(t *testing.T) {
	el := &fakeElement{playErr: failure.ErrCapabilityMismatch}
	h := NewHandle(el, make(chanBus))

	err := h.Play()
	require.ErrorIs(t, err, failure.ErrCapabilityMismatch)
	assert.Equal(t, StateNull, h.State())
	assert.Equal(t, 1, el.haltCount())
	assert.False(t, h.Deliver(func() { t.Fatal("delivery after failed play") }))
}

func TestHandle_WatchEOS(t *testing.T) {
	el := &fakeElement{}
	bus := make(chanBus, 4)
	h := NewHandle(el, bus)
	require.NoError(t, h.Play())
	assert.Equal(t, StatePlaying, h.State())
	assert.NotEmpty(t, h.ID)

	bus <- Event{Type: EventStateChanged, Source: "pipeline0", From: "paused", To: "playing"}
	bus <- Event{Type: EventEOS, Source: "pipeline0"}

	err := h.Watch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StateNull, h.State())
	assert.Equal(t, 1, el.haltCount())
}

func TestHandle_WatchFault(t *testing.T) {
	el := &fakeElement{}
	bus := make(chanBus, 1)
	h := NewHandle(el, bus)
	require.NoError(t, h.Play())

	delivered := 0
	require.True(t, h.Deliver(func() { delivered++ }))

	bus <- Event{Type: EventError, Fault: &Fault{
		Source:   "/GstPipeline:pipeline0/GstV4l2Src:v4l2src0",
		Message:  "Could not read from resource.",
		Debug:    "poll error 1: Device or resource busy",
		Category: "device",
	}}

	err := h.Watch(context.Background())
	require.Error(t, err)

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.ErrorIs(t, err, failure.ErrPipelineFault)
	assert.Equal(t, "device", fault.Category)
	assert.NotEmpty(t, fault.TraceID)
	assert.Contains(t, fault.Error(), "v4l2src0")
	assert.Contains(t, fault.Error(), "debug:")

	assert.Equal(t, StateNull, h.State())
	assert.False(t, h.Deliver(func() { delivered++ }))
	assert.Equal(t, 1, delivered)

	// Stop after a fault is a no-op.
	assert.NoError(t, h.Stop())
	assert.Equal(t, 1, el.haltCount())
}

func TestHandle_WatchCancelled(t *testing.T) {
	h := NewHandle(&fakeElement{}, make(chanBus))
	require.NoError(t, h.Play())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	// Cancellation alone does not stop the pipeline; the owner calls Stop.
	assert.Equal(t, StatePlaying, h.State())
	require.NoError(t, h.Stop())
	assert.Equal(t, StateNull, h.State())
}

// TestHandle_StopWaitsForInFlightDelivery checks that Stop does not return
// while a sample is being delivered, and that nothing is delivered afterwards.
func TestHandle_StopWaitsForInFlightDelivery(t *testing.T) {
	h := NewHandle(&fakeElement{}, make(chanBus))
	require.NoError(t, h.Play())

	entered := make(chan struct{})
	release := make(chan struct{})
	go h.Deliver(func() {
		close(entered)
		<-release
	})
	<-entered

	stopped := make(chan struct{})
	go func() {
		_ = h.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after delivery finished")
	}
	assert.False(t, h.Deliver(func() {}))
}
