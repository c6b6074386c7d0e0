package gstsink

import "strings"

// ErrorCategory represents the classification of pipeline errors for telemetry.
type ErrorCategory int

const (
	// CategoryDevice indicates capture device failures (missing, busy, permissions)
	CategoryDevice ErrorCategory = iota
	// CategoryCodec indicates decode failures (corrupt JPEG, unsupported stream)
	CategoryCodec
	// CategoryNegotiation indicates the source cannot produce the requested caps
	CategoryNegotiation
	// CategoryUnknown indicates unclassified errors
	CategoryUnknown
)

// String returns a human-readable string representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryCodec:
		return "codec"
	case CategoryNegotiation:
		return "negotiation"
	default:
		return "unknown"
	}
}

var (
	negotiationKeywords = []string{
		"not-negotiated",
		"not negotiated",
		"negotiation",
		"caps",
		"could not negotiate format",
		"no common format",
	}

	deviceKeywords = []string{
		"/dev/video",
		"v4l2",
		"device",
		"resource busy",
		"permission denied",
		"no such file",
		"could not open",
		"could not read from resource",
		"cannot identify",
	}

	codecKeywords = []string{
		"decode",
		"jpeg",
		"corrupt",
		"codec",
		"invalid data",
		"stream error",
	}
)

// ClassifyError categorizes an error by keyword heuristics on its message and
// debug string.
//
// Priority: negotiation first (a format problem is reported by the source and
// mentions the device too), then device, then codec.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, negotiationKeywords):
		return CategoryNegotiation
	case containsAny(combined, deviceKeywords):
		return CategoryDevice
	case containsAny(combined, codecKeywords):
		return CategoryCodec
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
