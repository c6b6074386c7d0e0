package cameratexture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
)

func fastPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
	}
}

func faultEvent(msg string) lifecycle.Event {
	return lifecycle.Event{
		Type:  lifecycle.EventError,
		Fault: &PipelineFault{Source: "v4l2src0", Message: msg, Category: "device"},
	}
}

func TestCalculateBackoff(t *testing.T) {
	policy := DefaultRestartPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoff(tt.attempt, policy))
		})
	}
}

// TestRunSupervised_RestartsAfterFault faults the first two pipelines and ends
// the third with EOS.
func TestRunSupervised_RestartsAfterFault(t *testing.T) {
	var builds int
	f := &fakeFactory{}
	f.onBuild = func(p *fakePipeline) {
		builds++
		if builds <= 2 {
			p.post(faultEvent(fmt.Sprintf("fault %d", builds)))
			return
		}
		p.post(lifecycle.Event{Type: lifecycle.EventEOS})
	}
	c := newTestCapture(t, f)

	var mu sync.Mutex
	var slots []*frameslot.Slot
	var faults []string

	policy := fastPolicy()
	policy.OnStart = func(slot *frameslot.Slot) {
		mu.Lock()
		slots = append(slots, slot)
		mu.Unlock()
	}
	policy.OnFault = func(fault *PipelineFault) {
		mu.Lock()
		faults = append(faults, fault.Message)
		mu.Unlock()
	}

	err := c.RunSupervised(context.Background(), policy)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, f.count())
	assert.Len(t, slots, 3)
	assert.NotSame(t, slots[0], slots[1])
	assert.Equal(t, []string{"fault 1", "fault 2"}, faults)
	assert.Equal(t, uint32(2), c.Stats().Restarts)
	assert.Equal(t, StateNull, c.State())
}

func TestRunSupervised_MaxRestartsExceeded(t *testing.T) {
	f := &fakeFactory{}
	f.onBuild = func(p *fakePipeline) { p.post(faultEvent("device gone")) }
	c := newTestCapture(t, f)

	err := c.RunSupervised(context.Background(), fastPolicy())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPipelineFault)
	assert.Contains(t, err.Error(), "max restarts exceeded")
	assert.Equal(t, 4, f.count(), "initial run plus three restarts")
}

func TestRunSupervised_ConstructionErrorNotRetried(t *testing.T) {
	f := &fakeFactory{playErrs: []error{fmt.Errorf("%w: no RGB", ErrCapabilityMismatch)}}
	c := newTestCapture(t, f)

	err := c.RunSupervised(context.Background(), fastPolicy())
	assert.ErrorIs(t, err, ErrCapabilityMismatch)
	assert.Equal(t, 1, f.count())
}

func TestRunSupervised_StartupFaultRetried(t *testing.T) {
	f := &fakeFactory{playErrs: []error{&PipelineFault{Message: "Device or resource busy", Category: "device"}}}
	f.onBuild = func(p *fakePipeline) {
		if p.playErr == nil {
			p.post(lifecycle.Event{Type: lifecycle.EventEOS})
		}
	}
	c := newTestCapture(t, f)

	require.NoError(t, c.RunSupervised(context.Background(), fastPolicy()))
	assert.Equal(t, 2, f.count())
}

func TestRunSupervised_ContextCancel(t *testing.T) {
	c := newTestCapture(t, &fakeFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunSupervised(ctx, fastPolicy()) }()

	require.Eventually(t, func() bool { return c.State() == StatePlaying }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("RunSupervised did not return after cancel")
	}
	assert.Equal(t, StateNull, c.State())
}

// TestRunSupervised_NegotiationFaultAfterPlayingNotRetried covers live sources
// that reach PLAYING before caps are agreed: the not-negotiated error arrives
// on the watcher instead of from Start.
func TestRunSupervised_NegotiationFaultAfterPlayingNotRetried(t *testing.T) {
	f := &fakeFactory{}
	f.onBuild = func(p *fakePipeline) {
		p.post(lifecycle.Event{
			Type: lifecycle.EventError,
			Fault: &PipelineFault{
				Source:   "videotestsrc0",
				Message:  "Internal data stream error.",
				Debug:    "streaming stopped, reason not-negotiated (-4)",
				Category: "negotiation",
			},
		})
	}
	c := newTestCapture(t, f)

	var faults int
	policy := fastPolicy()
	policy.OnFault = func(*PipelineFault) { faults++ }

	err := c.RunSupervised(context.Background(), policy)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityMismatch)
	assert.ErrorIs(t, err, ErrPipelineFault)
	assert.Equal(t, KindCapabilityMismatch, KindOf(err))
	assert.NotContains(t, err.Error(), "max restarts exceeded")
	assert.Equal(t, 1, f.count(), "no restart")
	assert.Equal(t, uint32(0), c.Stats().Restarts)
	assert.Equal(t, 1, faults)
	t.Logf("✅ Negotiation fault not retried: %v", err)
}
