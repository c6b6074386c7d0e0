package gstsink

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
)

// RequiredElements lists the element factories a source kind needs.
func RequiredElements(source string) []string {
	common := []string{"jpegdec", "videoconvert", "appsink"}
	switch source {
	case SourceTest:
		return append([]string{"videotestsrc", "jpegenc"}, common...)
	default:
		return append([]string{"v4l2src"}, common...)
	}
}

// CheckAvailable verifies GStreamer is installed and every element the source
// needs can be created.
//
// This is a fail-fast validation that runs at construction time. A missing
// element wraps ErrMissingCapability.
func CheckAvailable(source string) error {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	for _, factory := range RequiredElements(source) {
		elem, err := gst.NewElement(factory)
		if err != nil {
			return fmt.Errorf("%w: element %s not available: %v", failure.ErrMissingCapability, factory, err)
		}
		elem.SetState(gst.StateNull)
	}

	slog.Debug("gstsink: required elements available", "source", source)
	return nil
}
