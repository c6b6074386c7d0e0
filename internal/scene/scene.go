// Package scene is a headless stand-in for a renderer: it keeps the camera
// texture in a gg image buffer and draws it as a flat sprite and a spinning
// quad, writing PNG snapshots on a fixed upload cadence.
package scene

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

// Angular speeds of the quad, in radians per second.
const (
	SpinRate = 1.0
	TiltRate = 0.7
)

// minTilt keeps the projected quad away from a degenerate (zero-height) transform.
const minTilt = 0.05

// Options configures a Scene.
type Options struct {
	// SnapshotDir receives PNG snapshots. Empty disables snapshots.
	SnapshotDir string
	// SnapshotEvery renders a snapshot every N uploads.
	SnapshotEvery int
}

// Scene owns a texture and the canvas it is drawn onto.
//
// Upload and Render may be called from different goroutines.
type Scene struct {
	format frameslot.Format
	opts   Options
	start  time.Time

	mu      sync.Mutex
	tex     *gg.ImageBuf
	canvas  *gg.Context
	uploads uint64
	saved   uint64
}

// New creates a scene for frames of the given format. The canvas is twice the
// frame size so the sprite and the quad sit side by side.
func New(format frameslot.Format, opts Options) (*Scene, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 60
	}
	if opts.SnapshotDir != "" {
		if err := os.MkdirAll(opts.SnapshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("scene: snapshot dir: %w", err)
		}
	}

	tex, err := gg.NewImageBuf(format.Width, format.Height, gg.FormatRGBA8)
	if err != nil {
		return nil, fmt.Errorf("scene: texture: %w", err)
	}

	return &Scene{
		format: format,
		opts:   opts,
		start:  time.Now(),
		tex:    tex,
		canvas: gg.NewContext(format.Width*2, format.Height),
	}, nil
}

// Format returns the texture geometry.
func (s *Scene) Format() frameslot.Format {
	return s.format
}

// Upload replaces the texture contents with an RGBx frame. The padding byte
// is written as opaque alpha.
func (s *Scene) Upload(pix []byte) {
	if len(pix) != s.format.Len() {
		slog.Warn("scene: upload size mismatch, ignoring",
			"got", len(pix),
			"want", s.format.Len(),
		)
		return
	}

	s.mu.Lock()
	dst := s.tex.Data()
	copy(dst, pix)
	for i := 3; i < len(dst); i += frameslot.BytesPerPixel {
		dst[i] = 0xFF
	}
	s.tex.InvalidatePremulCache()
	s.uploads++
	n := s.uploads
	s.mu.Unlock()

	if s.opts.SnapshotDir != "" && n%uint64(s.opts.SnapshotEvery) == 0 {
		path := filepath.Join(s.opts.SnapshotDir, fmt.Sprintf("frame-%06d.png", n))
		if err := s.Snapshot(path); err != nil {
			slog.Warn("scene: snapshot failed", "path", path, "error", err)
		}
	}
}

// Uploads returns the number of accepted uploads.
func (s *Scene) Uploads() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Saved returns the number of snapshots written.
func (s *Scene) Saved() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Pixel returns the texture pixel at (x, y).
func (s *Scene) Pixel(x, y int) (r, g, b, a uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tex.GetRGBA(x, y)
}

// Render draws the scene at elapsed time t.
func (s *Scene) Render(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render(t.Seconds())
}

func (s *Scene) render(sec float64) {
	w := float64(s.format.Width)
	h := float64(s.format.Height)
	dc := s.canvas

	dc.ClearWithColor(gg.RGB(0.08, 0.08, 0.1))

	// Left half: the texture as a flat sprite.
	dc.DrawImage(s.tex, 0, 0)

	// Right half: the quad spins in plane and tilts about its horizontal
	// axis, projected as a vertical scale.
	cx, cy := w+w/2, h/2
	tilt := math.Cos(TiltRate * sec)
	if math.Abs(tilt) < minTilt {
		tilt = math.Copysign(minTilt, tilt)
	}

	dc.Push()
	dc.RotateAbout(SpinRate*sec, cx, cy)
	dc.Translate(cx, cy)
	dc.Scale(0.7, 0.7*tilt)
	dc.DrawImageEx(s.tex, gg.DrawImageOptions{
		X:             -w / 2,
		Y:             -h / 2,
		Interpolation: gg.InterpBilinear,
		Opacity:       1.0,
		BlendMode:     gg.BlendNormal,
	})
	dc.Pop()
}

// Snapshot renders the scene at the current time and saves it as PNG.
func (s *Scene) Snapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.render(time.Since(s.start).Seconds())
	if err := s.canvas.SavePNG(path); err != nil {
		return fmt.Errorf("scene: save %s: %w", path, err)
	}
	s.saved++
	slog.Debug("scene: snapshot saved", "path", path)
	return nil
}

// Close releases the canvas.
func (s *Scene) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas.Close()
}
