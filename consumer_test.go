package cameratexture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

func newSlot(t *testing.T, f frameslot.Format) *frameslot.Slot {
	t.Helper()
	slot, err := frameslot.New(f)
	require.NoError(t, err)
	return slot
}

func TestConsumer_NotLoaded(t *testing.T) {
	texture := &fakeTexture{format: frameslot.Format{Width: 2, Height: 2}}
	c := NewConsumer(texture)

	assert.False(t, c.Tick())
	assert.False(t, c.Tick())

	_, uploads := texture.snapshot()
	assert.Zero(t, uploads)
	assert.Equal(t, uint64(2), c.Stats().NotLoaded)
}

func TestConsumer_AttachFormatMismatch(t *testing.T) {
	c := NewConsumer(&fakeTexture{format: frameslot.Format{Width: 176, Height: 144}})
	err := c.Attach(newSlot(t, frameslot.Format{Width: 320, Height: 240}))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityMismatch)
	assert.False(t, c.Tick(), "a rejected slot is not attached")

	assert.Error(t, c.Attach(nil))
}

func TestConsumer_SkipsUnchangedFrames(t *testing.T) {
	format := frameslot.Format{Width: 2, Height: 1}
	slot := newSlot(t, format)
	texture := &fakeTexture{format: format}
	c := NewConsumer(texture)
	require.NoError(t, c.Attach(slot))

	// First tick always uploads, even the zeroed initial frame.
	assert.True(t, c.Tick())
	assert.False(t, c.Tick())

	slot.Write(func(buf []byte) { copy(buf, []byte{1, 2, 3, 0, 4, 5, 6, 0}) })
	assert.True(t, c.Tick())
	assert.False(t, c.Tick())

	pix, uploads := texture.snapshot()
	assert.Equal(t, []byte{1, 2, 3, 0, 4, 5, 6, 0}, pix)
	assert.Equal(t, 2, uploads)

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.Ticks)
	assert.Equal(t, uint64(2), stats.Uploads)
	assert.Equal(t, uint64(2), stats.Unchanged)
}

func TestConsumer_ForceUpload(t *testing.T) {
	format := frameslot.Format{Width: 1, Height: 1}
	texture := &fakeTexture{format: format}
	c := NewConsumer(texture, WithForceUpload())
	require.NoError(t, c.Attach(newSlot(t, format)))

	for i := 0; i < 3; i++ {
		assert.True(t, c.Tick())
	}
	_, uploads := texture.snapshot()
	assert.Equal(t, 3, uploads)
}

func TestConsumer_ReattachUploadsNewSlot(t *testing.T) {
	format := frameslot.Format{Width: 1, Height: 1}
	texture := &fakeTexture{format: format}
	c := NewConsumer(texture)

	first := newSlot(t, format)
	require.NoError(t, c.Attach(first))
	assert.True(t, c.Tick())

	// A restarted pipeline brings a fresh slot at version 0.
	second := newSlot(t, format)
	require.NoError(t, c.Attach(second))
	assert.True(t, c.Tick())
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	format := frameslot.Format{Width: 1, Height: 1}
	texture := &fakeTexture{format: format}
	c := NewConsumer(texture, WithForceUpload())
	require.NoError(t, c.Attach(newSlot(t, format)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, uploads := texture.snapshot()
	assert.Greater(t, uploads, 0)

	assert.Error(t, c.Run(context.Background(), 0))
}

func TestConsumer_RunReturnsOnPoisonedSlot(t *testing.T) {
	format := frameslot.Format{Width: 1, Height: 1}
	slot := newSlot(t, format)
	c := NewConsumer(&fakeTexture{format: format})
	require.NoError(t, c.Attach(slot))

	assert.Panics(t, func() {
		slot.Write(func([]byte) { panic("writer crashed") })
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), time.Millisecond) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPoisonedSharedState)
		assert.Equal(t, KindPoisonedSharedState, KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a poisoned slot")
	}
}

func TestConsumer_RunReturnsWhenPoisonedAfterUpload(t *testing.T) {
	format := frameslot.Format{Width: 1, Height: 1}
	slot := newSlot(t, format)
	texture := &fakeTexture{format: format}
	c := NewConsumer(texture)
	require.NoError(t, c.Attach(slot))

	require.True(t, c.Tick(), "first tick uploads")
	require.False(t, c.Tick(), "unchanged slot is skipped")

	version := slot.Version()
	assert.Panics(t, func() {
		slot.Write(func([]byte) { panic("writer crashed") })
	})
	require.Equal(t, version, slot.Version(), "poisoning does not publish")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoisonedSharedState)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	_, uploads := texture.snapshot()
	assert.Equal(t, 1, uploads)
	t.Logf("✅ Poison seen after upload: %v", err)
}
