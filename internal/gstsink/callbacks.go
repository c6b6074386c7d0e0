package gstsink

import (
	"errors"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/producer"
)

// OnNewSample is called by GStreamer when a new frame is available.
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Hands it to deliver, which maps, validates and publishes it
//  3. Logs and drops samples deliver rejects
//
// Returns gst.FlowOK for dropped samples so the pipeline keeps running,
// gst.FlowEOS when no sample can be pulled, and gst.FlowError when the
// frame slot is no longer usable.
func OnNewSample(sink *app.Sink, element string, deliver func(producer.Sample) error) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstsink: failed to pull sample from appsink", "element", element)
		return gst.FlowEOS
	}

	return HandleResult(element, deliver(wrapSample(sample)))
}

// HandleResult maps the outcome of delivering one sample to a flow return.
func HandleResult(element string, err error) gst.FlowReturn {
	if err == nil {
		return gst.FlowOK
	}

	kind := failure.KindOf(err)
	if kind.Fatal() {
		slog.Error("gstsink: sample handling failed, stopping stream",
			"element", element,
			"kind", kind.String(),
			"error", err,
		)
		return gst.FlowError
	}

	slog.Warn("gstsink: dropping sample",
		"element", element,
		"kind", kind.String(),
		"error", err,
	)
	return gst.FlowOK
}

// wrapSample adapts a gst sample to producer.Sample.
func wrapSample(s *gst.Sample) producer.Sample {
	return gstSample{s}
}

type gstSample struct {
	sample *gst.Sample
}

func (s gstSample) Buffer() producer.SampleBuffer {
	buffer := s.sample.GetBuffer()
	if buffer == nil {
		// A typed nil would compare non-nil through the interface.
		return nil
	}
	return &gstBuffer{buffer: buffer}
}

type gstBuffer struct {
	buffer *gst.Buffer
}

func (b *gstBuffer) Map() ([]byte, error) {
	mapInfo := b.buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, errors.New("buffer not readable")
	}
	return mapInfo.Bytes(), nil
}

func (b *gstBuffer) Unmap() {
	b.buffer.Unmap()
}
