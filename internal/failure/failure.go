// Package failure defines the error kinds shared by the capture pipeline, the
// producer and the public API.
package failure

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

// Sentinel errors. Wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrMissingCapability means a required capture, decode or sink element is unavailable.
	ErrMissingCapability = errors.New("missing capability")
	// ErrCapabilityMismatch means the source cannot deliver the requested format.
	ErrCapabilityMismatch = errors.New("capability mismatch")
	// ErrDataAcquisition means a delivered sample carried no payload.
	ErrDataAcquisition = errors.New("data acquisition failure")
	// ErrBufferAccess means a sample payload could not be mapped for reading.
	ErrBufferAccess = errors.New("buffer access failure")
	// ErrFormatInterpretation means a payload does not have the expected byte layout.
	ErrFormatInterpretation = errors.New("format interpretation failure")
	// ErrPipelineFault means an element reported an unrecoverable runtime error.
	ErrPipelineFault = errors.New("pipeline fault")
	// ErrPoisonedSharedState means the frame slot was left poisoned by a crash.
	ErrPoisonedSharedState = frameslot.ErrPoisonedSharedState
)

// Kind classifies an error for counters, logs and telemetry.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingCapability
	KindCapabilityMismatch
	KindDataAcquisition
	KindBufferAccess
	KindFormatInterpretation
	KindPipelineFault
	KindPoisonedSharedState
)

var kindErrors = []struct {
	kind Kind
	err  error
}{
	{KindPoisonedSharedState, ErrPoisonedSharedState},
	{KindMissingCapability, ErrMissingCapability},
	{KindCapabilityMismatch, ErrCapabilityMismatch},
	{KindDataAcquisition, ErrDataAcquisition},
	{KindBufferAccess, ErrBufferAccess},
	{KindFormatInterpretation, ErrFormatInterpretation},
	{KindPipelineFault, ErrPipelineFault},
}

// KindOf returns the kind of the first sentinel found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindUnknown
}

// String returns a snake_case name suitable for log attributes and topics.
func (k Kind) String() string {
	switch k {
	case KindMissingCapability:
		return "missing_capability"
	case KindCapabilityMismatch:
		return "capability_mismatch"
	case KindDataAcquisition:
		return "data_acquisition"
	case KindBufferAccess:
		return "buffer_access"
	case KindFormatInterpretation:
		return "format_interpretation"
	case KindPipelineFault:
		return "pipeline_fault"
	case KindPoisonedSharedState:
		return "poisoned_shared_state"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind ends the pipeline. Per-sample
// kinds only drop the sample.
func (k Kind) Fatal() bool {
	switch k {
	case KindDataAcquisition, KindBufferAccess, KindFormatInterpretation:
		return false
	default:
		return true
	}
}
