package gstcam

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates the camera cannot be opened (busy, missing, permission)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryNegotiation indicates the device refused the requested format
	ErrCategoryNegotiation
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNegotiation:
		return "negotiation"
	default:
		return "unknown"
	}
}

// Sentinel maps the category onto the scan-capture error taxonomy.
// Unknown errors map to nil.
func (e ErrorCategory) Sentinel() error {
	switch e {
	case ErrCategoryDevice:
		return scancapture.ErrDeviceUnavailable
	case ErrCategoryNegotiation:
		return scancapture.ErrConfigurationRejected
	default:
		return nil
	}
}

var deviceKeywords = []string{
	"busy",
	"permission",
	"no such file",
	"no such device",
	"cannot identify device",
	"could not open device",
	"is not a capture device",
	"not found",
}

var negotiationKeywords = []string{
	"not-negotiated",
	"not negotiated",
	"negotiation",
	"caps",
	"format",
	"unsupported",
}

// Classify categorizes a GStreamer error by keyword heuristics.
// go-gst's GError does not expose the domain, so the message and debug
// string are all there is to go on.
func Classify(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	// Device errors first: "format" shows up in some open failures too.
	for _, kw := range deviceKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryDevice
		}
	}
	for _, kw := range negotiationKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryNegotiation
		}
	}
	return ErrCategoryUnknown
}

// wrapGError converts a bus error into an error matching the taxonomy,
// defaulting to fallback when the message cannot be classified.
func wrapGError(gerr *gst.GError, fallback error) error {
	if gerr == nil {
		return fallback
	}
	sentinel := Classify(gerr).Sentinel()
	if sentinel == nil {
		sentinel = fallback
	}
	return fmt.Errorf("%w: %s", sentinel, gerr.Error())
}
