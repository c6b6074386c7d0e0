package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

// encodeJPEG compresses an RGBx frame. The padding byte is replaced with
// opaque alpha.
func encodeJPEG(f frameslot.Format, pix []byte, quality int) ([]byte, error) {
	if len(pix) != f.Len() {
		return nil, fmt.Errorf("preview: frame is %d bytes, want %d", len(pix), f.Len())
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(img.Pix, pix)
	for i := 3; i < len(img.Pix); i += frameslot.BytesPerPixel {
		img.Pix[i] = 0xFF
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("preview: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
