package scancapture

import (
	"errors"
	"fmt"
)

// Error taxonomy. Match with errors.Is.
var (
	// ErrDeviceUnavailable: the device cannot be opened (busy, absent, permission denied)
	ErrDeviceUnavailable = errors.New("scan-capture: device unavailable")
	// ErrNotBound: the operation requires a surface or device not yet present
	ErrNotBound = errors.New("scan-capture: not bound")
	// ErrConfigurationRejected: the driver refused a parameter set
	ErrConfigurationRejected = errors.New("scan-capture: configuration rejected")
	// ErrNoCandidates: preview-size selection was given no candidates
	ErrNoCandidates = errors.New("scan-capture: no preview size candidates")
	// ErrDecodeTransient: a single frame failed to decode
	ErrDecodeTransient = errors.New("scan-capture: transient decode failure")
)

// DeviceError records a driver failure together with the operation and device.
type DeviceError struct {
	Op    string
	Index DeviceIndex
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("scan-capture: %s device %d: %v", e.Op, e.Index, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceUnavailable reports whether err is (or wraps) ErrDeviceUnavailable.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable)
}
