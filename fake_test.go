package cameratexture

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
)

// fakePipeline stands in for the GStreamer chain: the test plays the
// streaming thread by calling push, and posts bus events with post.
type fakePipeline struct {
	mu      sync.Mutex
	playErr error
	playing bool
	halts   int

	deliver func(Sample) error
	events  chan lifecycle.Event
}

func (p *fakePipeline) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.playing = true
	return nil
}

func (p *fakePipeline) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.halts++
	return nil
}

func (p *fakePipeline) Pop(ctx context.Context) (lifecycle.Event, bool) {
	select {
	case <-ctx.Done():
		return lifecycle.Event{}, false
	case ev := <-p.events:
		return ev, true
	}
}

func (p *fakePipeline) push(data []byte) error {
	return p.deliver(rgbSample{data})
}

func (p *fakePipeline) post(ev lifecycle.Event) {
	p.events <- ev
}

func (p *fakePipeline) haltCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halts
}

// fakeFactory records every pipeline it builds. playErrs are consumed in
// order by successive builds.
type fakeFactory struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	playErrs  []error
	buildErr  error
	// onBuild runs after each build, e.g. to pre-post bus events.
	onBuild func(p *fakePipeline)
}

func (f *fakeFactory) build(cfg Config, deliver func(Sample) error) (lifecycle.Element, lifecycle.Bus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buildErr != nil {
		return nil, nil, f.buildErr
	}
	p := &fakePipeline{deliver: deliver, events: make(chan lifecycle.Event, 8)}
	if len(f.playErrs) > 0 {
		p.playErr = f.playErrs[0]
		f.playErrs = f.playErrs[1:]
	}
	f.pipelines = append(f.pipelines, p)
	if f.onBuild != nil {
		f.onBuild(p)
	}
	return p, p, nil
}

func (f *fakeFactory) last() *fakePipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelines[len(f.pipelines)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipelines)
}

type rgbSample struct{ data []byte }

func (s rgbSample) Buffer() SampleBuffer {
	if s.data == nil {
		return nil
	}
	return rgbBuffer(s.data)
}

type rgbBuffer []byte

func (b rgbBuffer) Map() ([]byte, error) { return b, nil }
func (b rgbBuffer) Unmap()               {}

// fakeTexture records uploads.
type fakeTexture struct {
	format frameslot.Format

	mu      sync.Mutex
	last    []byte
	uploads int
}

func (t *fakeTexture) Format() frameslot.Format { return t.format }

func (t *fakeTexture) Upload(pix []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = append(t.last[:0], pix...)
	t.uploads++
}

func (t *fakeTexture) snapshot() ([]byte, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.last...), t.uploads
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Source = SourceTest
	return cfg
}

// solidFrame returns a packed RGB frame with every byte set to v.
func solidFrame(cfg Config, v byte) []byte {
	return bytes.Repeat([]byte{v}, cfg.Format().SourceLen())
}

func newTestCapture(t *testing.T, f *fakeFactory) *Capture {
	t.Helper()
	c := newCapture(testConfig(), f.build)
	t.Cleanup(func() { c.Stop() })
	return c
}
