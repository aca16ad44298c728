package scancapture

// Driver opens camera devices by index.
//
// Implementations must guarantee:
//   - Open() fails with an error wrapping ErrDeviceUnavailable when the device
//     is busy, absent or not permitted (never panics)
//   - the returned Device is exclusively owned by the caller until Release()
type Driver interface {
	Open(index DeviceIndex) (Device, error)
}

// Device is an open camera handle.
//
// Frames and autofocus completions are delivered through the FrameHandler
// installed with SetFrameHandler, from goroutines owned by the driver.
// Control methods are called from a single goroutine at a time.
type Device interface {
	// Capabilities returns the capability snapshot of the device.
	Capabilities() CameraCapabilities

	// Parameters returns the parameter set currently applied to the device.
	Parameters() SessionParameters

	// SetParameters applies a parameter set. Drivers return an error wrapping
	// ErrConfigurationRejected when the device refuses the combination.
	SetParameters(params SessionParameters) error

	// SetDisplayOrientation rotates the preview output (0, 90, 180 or 270).
	SetDisplayOrientation(degrees int) error

	// SetFrameHandler installs the receiver for frames and autofocus
	// completions. nil stops delivery.
	SetFrameHandler(h FrameHandler)

	// StartPreview binds the live camera output to the surface and starts it.
	StartPreview(surface Surface) error

	// StopPreview stops the live output. Safe when not previewing.
	StopPreview() error

	// RequestAutoFocus starts one autofocus cycle. Completion is reported
	// asynchronously through FrameHandler.OnAutoFocus.
	RequestAutoFocus() error

	// Release closes the handle. The Device must not be used afterwards.
	Release() error
}

// FrameHandler receives per-frame data and autofocus completions from a Device.
//
// OnFrame owns buf only for the duration of the call.
type FrameHandler interface {
	OnFrame(buf FrameBuffer)
	OnAutoFocus(success bool)
}

// Decoder scans a frame for machine-readable symbols.
//
// Scan returns the symbols in decoder-defined order; an empty slice with a
// nil error means nothing was found. Symbols returned together with an
// error are still delivered.
type Decoder interface {
	Scan(buf FrameBuffer) ([]DecodedSymbol, error)
}

// Surface is the host rendering surface. It is created and destroyed by the
// host; the capture pipeline only holds a non-owning reference.
type Surface interface {
	// ID identifies the surface in logs.
	ID() string
	// Size returns the current pixel dimensions.
	Size() (width, height int)
}

// Listener receives decoded payloads. OnDecoded must not block.
type Listener interface {
	OnDecoded(text string)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(text string)

// OnDecoded calls f(text).
func (f ListenerFunc) OnDecoded(text string) { f(text) }

// Dispatcher runs fn on the goroutine the host expects listener calls on.
type Dispatcher func(fn func())

// inline runs fn on the calling goroutine.
func inline(fn func()) { fn() }
