package telemetry

import (
	"time"

	cameratexture "github.com/e7canasta/orion-care-sensor/modules/camera-texture"
)

// StatsPayload is the periodic capture report.
type StatsPayload struct {
	InstanceID string    `msgpack:"instance_id"`
	Timestamp  time.Time `msgpack:"timestamp"`
	PipelineID string    `msgpack:"pipeline_id"`
	State      string    `msgpack:"state"`
	Resolution string    `msgpack:"resolution"`

	Samples   uint64 `msgpack:"samples"`
	Published uint64 `msgpack:"published"`
	Dropped   uint64 `msgpack:"dropped"`
	// DroppedByKind maps error kind names to counts.
	DroppedByKind map[string]uint64 `msgpack:"dropped_by_kind"`
	LateSamples   uint64            `msgpack:"late_samples"`
	BytesRead     uint64            `msgpack:"bytes_read"`
	Faults        uint64            `msgpack:"faults"`
	Restarts      uint32            `msgpack:"restarts"`

	FPSReal       float64 `msgpack:"fps_real"`
	LatencyMS     int64   `msgpack:"latency_ms"`
	UptimeSeconds float64 `msgpack:"uptime_s"`

	Uploads uint64 `msgpack:"uploads"`
}

// FaultPayload is published once per pipeline fault.
type FaultPayload struct {
	InstanceID string    `msgpack:"instance_id"`
	Timestamp  time.Time `msgpack:"timestamp"`
	PipelineID string    `msgpack:"pipeline_id"`
	TraceID    string    `msgpack:"trace_id"`
	Source     string    `msgpack:"source"`
	Message    string    `msgpack:"message"`
	Debug      string    `msgpack:"debug,omitempty"`
	Category   string    `msgpack:"category"`
	Kind       string    `msgpack:"kind"`
}

// NewStatsPayload builds a stats report from capture and consumer counters.
func NewStatsPayload(instanceID string, s cameratexture.Stats, c cameratexture.ConsumerStats) StatsPayload {
	return StatsPayload{
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		PipelineID: s.PipelineID,
		State:      s.State,
		Resolution: s.Resolution,
		Samples:    s.Samples,
		Published:  s.Published,
		Dropped:    s.Dropped,
		DroppedByKind: map[string]uint64{
			cameratexture.KindDataAcquisition.String():      s.DroppedDataAcquisition,
			cameratexture.KindBufferAccess.String():         s.DroppedBufferAccess,
			cameratexture.KindFormatInterpretation.String(): s.DroppedFormatInterpretation,
		},
		LateSamples:   s.LateSamples,
		BytesRead:     s.BytesRead,
		Faults:        s.Faults,
		Restarts:      s.Restarts,
		FPSReal:       s.FPSReal,
		LatencyMS:     s.LatencyMS,
		UptimeSeconds: s.Uptime.Seconds(),
		Uploads:       c.Uploads,
	}
}

// NewFaultPayload builds a fault report.
func NewFaultPayload(instanceID, pipelineID string, f *cameratexture.PipelineFault) FaultPayload {
	return FaultPayload{
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		PipelineID: pipelineID,
		TraceID:    f.TraceID,
		Source:     f.Source,
		Message:    f.Message,
		Debug:      f.Debug,
		Category:   f.Category,
		Kind:       cameratexture.KindOf(f).String(),
	}
}
