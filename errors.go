package cameratexture

import (
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/failure"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/lifecycle"
)

// Error kinds are re-exported from the internal package so gstsink and the
// producer can share them without an import cycle.
var (
	ErrMissingCapability    = failure.ErrMissingCapability
	ErrCapabilityMismatch   = failure.ErrCapabilityMismatch
	ErrDataAcquisition      = failure.ErrDataAcquisition
	ErrBufferAccess         = failure.ErrBufferAccess
	ErrFormatInterpretation = failure.ErrFormatInterpretation
	ErrPipelineFault        = failure.ErrPipelineFault
	ErrPoisonedSharedState  = failure.ErrPoisonedSharedState
)

// ErrorKind classifies an error for counters, logs and telemetry.
type ErrorKind = failure.Kind

const (
	KindUnknown              = failure.KindUnknown
	KindMissingCapability    = failure.KindMissingCapability
	KindCapabilityMismatch   = failure.KindCapabilityMismatch
	KindDataAcquisition      = failure.KindDataAcquisition
	KindBufferAccess         = failure.KindBufferAccess
	KindFormatInterpretation = failure.KindFormatInterpretation
	KindPipelineFault        = failure.KindPipelineFault
	KindPoisonedSharedState  = failure.KindPoisonedSharedState
)

// KindOf returns the kind of any error returned by this package.
func KindOf(err error) ErrorKind {
	return failure.KindOf(err)
}

// PipelineFault is an unrecoverable runtime error reported by a pipeline
// element. Match it with errors.As; errors.Is(err, ErrPipelineFault) also holds.
type PipelineFault = lifecycle.Fault
