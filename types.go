package scancapture

import (
	"fmt"
	"time"
)

// DeviceIndex identifies a physical camera. NoDevice (-1) means "no camera selected".
type DeviceIndex int

// NoDevice is the sentinel index for "no camera selected".
const NoDevice DeviceIndex = -1

// Valid reports whether the index names a camera (>= 0).
func (i DeviceIndex) Valid() bool { return i >= 0 }

// Facing is the direction a camera points relative to the screen.
type Facing int

const (
	// FacingBack is a camera on the side opposite the screen
	FacingBack Facing = iota
	// FacingFront is a camera on the screen side (preview is mirrored)
	FacingFront
)

// String returns a human-readable string representation of the facing
func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	default:
		return "back"
	}
}

// ParseFacing converts "front"/"back" into a Facing.
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "front":
		return FacingFront, nil
	case "back", "":
		return FacingBack, nil
	default:
		return FacingBack, fmt.Errorf("scan-capture: invalid facing %q (must be front or back)", s)
	}
}

// Rotation is the host display rotation, restricted to quarter turns.
type Rotation int

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// Degrees returns the rotation in degrees (0, 90, 180 or 270)
func (r Rotation) Degrees() int {
	switch r {
	case Rotation90:
		return 90
	case Rotation180:
		return 180
	case Rotation270:
		return 270
	default:
		return 0
	}
}

// RotationFromDegrees maps 0/90/180/270 onto a Rotation.
func RotationFromDegrees(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return Rotation0, fmt.Errorf("scan-capture: invalid rotation %d (must be 0, 90, 180 or 270)", degrees)
	}
}

// Size is a preview resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// String returns the size formatted as WxH
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether no size has been negotiated.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Focus modes understood by the session. Drivers report the subset they support.
const (
	FocusAuto       = "auto"
	FocusContinuous = "continuous-picture"
	FocusFixed      = "fixed"
	FocusInfinity   = "infinity"
	FocusMacro      = "macro"
)

// Flash modes understood by the session.
const (
	FlashAuto  = "auto"
	FlashOff   = "off"
	FlashOn    = "on"
	FlashTorch = "torch"
)

// CameraCapabilities is the immutable snapshot taken when a device is acquired.
type CameraCapabilities struct {
	Facing       Facing
	MountDegrees int
	PreviewSizes []Size
	FocusModes   []string
	FlashModes   []string
}

// SupportsFocus reports whether mode is in the supported focus modes.
func (c CameraCapabilities) SupportsFocus(mode string) bool {
	return contains(c.FocusModes, mode)
}

// SupportsFlash reports whether mode is in the supported flash modes.
func (c CameraCapabilities) SupportsFlash(mode string) bool {
	return contains(c.FlashModes, mode)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share slices with c.
func (c CameraCapabilities) Clone() CameraCapabilities {
	out := c
	out.PreviewSizes = append([]Size(nil), c.PreviewSizes...)
	out.FocusModes = append([]string(nil), c.FocusModes...)
	out.FlashModes = append([]string(nil), c.FlashModes...)
	return out
}

// SessionParameters is the negotiated, mutable device configuration.
// It is re-derived on every acquire.
type SessionParameters struct {
	PreviewSize        Size
	FocusMode          string
	FlashMode          string
	DisplayOrientation int
}

// FrameBuffer is a single preview frame. Data is only valid for the duration
// of one decode call and must not be retained afterwards.
type FrameBuffer struct {
	// Data is the raw frame, luminance plane first (NV21 / Y800 layout)
	Data []byte
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Seq is the driver's monotonic frame counter
	Seq uint64
	// Timestamp is when the driver captured the frame
	Timestamp time.Time
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// DecodedSymbol is one symbol found in a frame.
type DecodedSymbol struct {
	// Text is the decoded payload
	Text string
	// Format names the symbology (e.g. "QR_CODE", "EAN_13"); may be empty
	Format string
}

// State is the lifecycle state of the capture pipeline as seen by the host.
type State int

const (
	// StateIdle means no device and no surface
	StateIdle State = iota
	// StateSurfaceReady means a surface is bound, device acquired or not, no preview
	StateSurfaceReady
	// StatePreviewing means device acquired, surface bound, frame delivery active
	StatePreviewing
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case StateSurfaceReady:
		return "surface-ready"
	case StatePreviewing:
		return "previewing"
	default:
		return "idle"
	}
}

// SessionState is the DeviceSession state machine.
//
//	Closed → Opening → Open ⇄ Previewing → Closed
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionOpen
	SessionPreviewing
)

// String returns a human-readable string representation of the session state
func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "opening"
	case SessionOpen:
		return "open"
	case SessionPreviewing:
		return "previewing"
	default:
		return "closed"
	}
}

// AutoFocusMode selects how the pipeline drives autofocus while previewing.
type AutoFocusMode int

const (
	// AutoFocusLoop re-arms an autofocus request after every completion
	AutoFocusLoop AutoFocusMode = iota
	// AutoFocusOnce issues a single request when preview starts
	AutoFocusOnce
	// AutoFocusOff never requests autofocus
	AutoFocusOff
)

// String returns a human-readable string representation of the mode
func (m AutoFocusMode) String() string {
	switch m {
	case AutoFocusOnce:
		return "once"
	case AutoFocusOff:
		return "off"
	default:
		return "loop"
	}
}

// ParseAutoFocusMode converts "loop", "once" or "off" into an AutoFocusMode.
func ParseAutoFocusMode(s string) (AutoFocusMode, error) {
	switch s {
	case "loop", "":
		return AutoFocusLoop, nil
	case "once":
		return AutoFocusOnce, nil
	case "off":
		return AutoFocusOff, nil
	default:
		return AutoFocusLoop, fmt.Errorf("scan-capture: invalid autofocus mode %q (must be loop, once or off)", s)
	}
}

// DefaultAutoFocusInterval is the delay between an autofocus completion and the next request.
const DefaultAutoFocusInterval = 1000 * time.Millisecond
