package scancapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/retry"
)

// AcquireRetry configures retries of a busy device inside one Acquire call.
// Attempts=0 (default) means a single open attempt.
type AcquireRetry struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

func (r AcquireRetry) config() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = r.Attempts
	if r.Delay > 0 {
		cfg.RetryDelay = r.Delay
	}
	if r.MaxDelay > 0 {
		cfg.MaxRetryDelay = r.MaxDelay
	}
	return cfg
}

// DeviceSession owns at most one open camera handle.
//
// State machine:
//
//	Closed → Opening → Open ⇄ Previewing → Closed
//
// Any operation other than Acquire issued while Closed is a logged no-op.
// Release always frees the handle, even if stopping the preview or
// restoring the default parameters fails (or panics) first.
//
// DeviceSession is safe for concurrent use; every method holds the session
// mutex while it talks to the driver.
type DeviceSession struct {
	driver Driver
	retry  AcquireRetry

	mu       sync.Mutex
	state    SessionState
	index    DeviceIndex
	device   Device
	caps     CameraCapabilities
	defaults SessionParameters
	params   SessionParameters
	retries  uint32
}

// NewDeviceSession creates a closed session backed by driver.
func NewDeviceSession(driver Driver, r AcquireRetry) *DeviceSession {
	return &DeviceSession{
		driver: driver,
		retry:  r,
		state:  SessionClosed,
		index:  NoDevice,
	}
}

// Acquire opens the device at index and snapshots its capabilities and
// default parameters.
//
// Acquiring while a handle is already open is a no-op that returns the
// current capabilities. Busy devices are retried per AcquireRetry; when
// every attempt fails the error wraps ErrDeviceUnavailable and the session
// stays Closed.
func (s *DeviceSession) Acquire(ctx context.Context, index DeviceIndex) (CameraCapabilities, error) {
	if !index.Valid() {
		return CameraCapabilities{}, &DeviceError{Op: "acquire", Index: index, Err: fmt.Errorf("%w: no device selected", ErrDeviceUnavailable)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionClosed {
		slog.Debug("scan-capture: acquire ignored, device already open",
			"device_index", s.index,
			"requested_index", index,
			"state", s.state.String(),
		)
		return s.caps.Clone(), nil
	}

	s.state = SessionOpening

	var dev Device
	open := func(context.Context) error {
		d, err := s.driver.Open(index)
		if err != nil {
			return err
		}
		dev = d
		return nil
	}

	err := retry.Run(ctx, open, s.retry.config(), IsDeviceUnavailable, &retry.State{Retries: &s.retries})
	if err != nil {
		s.state = SessionClosed
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		slog.Warn("scan-capture: device unavailable",
			"device_index", index,
			"error", err,
		)
		return CameraCapabilities{}, &DeviceError{Op: "acquire", Index: index, Err: err}
	}

	s.device = dev
	s.index = index
	s.caps = dev.Capabilities().Clone()
	s.defaults = dev.Parameters()
	s.params = s.defaults
	s.state = SessionOpen

	slog.Info("scan-capture: device acquired",
		"device_index", index,
		"facing", s.caps.Facing.String(),
		"mount_degrees", s.caps.MountDegrees,
		"preview_sizes", len(s.caps.PreviewSizes),
	)

	return s.caps.Clone(), nil
}

// Configure applies the requested parameters, keeping only what the device
// supports: focus and flash modes are set only if listed in the capability
// snapshot. If the driver rejects the set, the session falls back to the
// device defaults (plus display orientation) and logs
// ErrConfigurationRejected. Configure never fails.
func (s *DeviceSession) Configure(want SessionParameters) SessionParameters {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed || s.state == SessionOpening {
		slog.Debug("scan-capture: configure ignored, no open device", "state", s.state.String())
		return SessionParameters{}
	}

	applied := s.params
	if !want.PreviewSize.IsZero() {
		applied.PreviewSize = want.PreviewSize
	}
	if want.FocusMode != "" {
		if s.caps.SupportsFocus(want.FocusMode) {
			applied.FocusMode = want.FocusMode
		} else {
			slog.Debug("scan-capture: focus mode not supported, skipped",
				"device_index", s.index,
				"focus_mode", want.FocusMode,
			)
		}
	}
	if want.FlashMode != "" {
		if s.caps.SupportsFlash(want.FlashMode) {
			applied.FlashMode = want.FlashMode
		} else {
			slog.Debug("scan-capture: flash mode not supported, skipped",
				"device_index", s.index,
				"flash_mode", want.FlashMode,
			)
		}
	}
	applied.DisplayOrientation = want.DisplayOrientation

	if err := s.call("set_parameters", func() error { return s.device.SetParameters(applied) }); err != nil {
		slog.Warn("scan-capture: parameters rejected, falling back to defaults",
			"device_index", s.index,
			"requested", applied,
			"error", fmt.Errorf("%w: %w", ErrConfigurationRejected, err),
		)
		applied = s.defaults
		applied.DisplayOrientation = want.DisplayOrientation
		if err := s.call("set_parameters", func() error { return s.device.SetParameters(applied) }); err != nil {
			slog.Warn("scan-capture: default parameters rejected",
				"device_index", s.index,
				"error", err,
			)
		}
	}

	s.setOrientationLocked(applied.DisplayOrientation)
	applied.DisplayOrientation = s.params.DisplayOrientation
	s.params = applied

	slog.Debug("scan-capture: device configured",
		"device_index", s.index,
		"preview_size", applied.PreviewSize.String(),
		"focus_mode", applied.FocusMode,
		"flash_mode", applied.FlashMode,
		"display_orientation", applied.DisplayOrientation,
	)

	return applied
}

// SetDisplayOrientation rotates the preview of the open device.
func (s *DeviceSession) SetDisplayOrientation(degrees int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed || s.state == SessionOpening {
		slog.Debug("scan-capture: display orientation ignored, no open device", "state", s.state.String())
		return
	}
	s.setOrientationLocked(degrees)
}

func (s *DeviceSession) setOrientationLocked(degrees int) {
	if err := s.call("set_display_orientation", func() error { return s.device.SetDisplayOrientation(degrees) }); err != nil {
		slog.Warn("scan-capture: display orientation rejected",
			"device_index", s.index,
			"degrees", degrees,
			"error", err,
		)
		return
	}
	s.params.DisplayOrientation = degrees
}

// StartPreview installs handler and starts frame delivery onto surface.
//
// Returns ErrNotBound when surface is nil. Starting while already
// previewing, or while Closed, is a no-op.
func (s *DeviceSession) StartPreview(surface Surface, handler FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionClosed, SessionOpening:
		slog.Debug("scan-capture: start preview ignored, no open device", "state", s.state.String())
		return nil
	case SessionPreviewing:
		return nil
	}

	if surface == nil {
		return ErrNotBound
	}

	if err := s.setFrameHandler(s.device, handler); err != nil {
		return &DeviceError{Op: "set_frame_handler", Index: s.index, Err: err}
	}
	if err := s.call("start_preview", func() error { return s.device.StartPreview(surface) }); err != nil {
		s.setFrameHandler(s.device, nil)
		return &DeviceError{Op: "start_preview", Index: s.index, Err: err}
	}
	s.state = SessionPreviewing

	slog.Info("scan-capture: preview started",
		"device_index", s.index,
		"surface", surface.ID(),
		"preview_size", s.params.PreviewSize.String(),
	)
	return nil
}

// StopPreview stops frame delivery and the live preview. The session
// returns to Open even if the driver reports an error.
func (s *DeviceSession) StopPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionPreviewing {
		slog.Debug("scan-capture: stop preview ignored, not previewing", "state", s.state.String())
		return nil
	}

	var err error
	if hErr := s.setFrameHandler(s.device, nil); hErr != nil {
		err = &DeviceError{Op: "set_frame_handler", Index: s.index, Err: hErr}
	}
	if stopErr := s.call("stop_preview", s.device.StopPreview); stopErr != nil {
		err = errors.Join(err, &DeviceError{Op: "stop_preview", Index: s.index, Err: stopErr})
	}
	s.state = SessionOpen

	slog.Info("scan-capture: preview stopped", "device_index", s.index)
	return err
}

// RequestAutoFocus starts one autofocus cycle. Returns ErrNotBound unless
// previewing.
func (s *DeviceSession) RequestAutoFocus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionPreviewing {
		return ErrNotBound
	}
	if err := s.call("auto_focus", s.device.RequestAutoFocus); err != nil {
		return &DeviceError{Op: "auto_focus", Index: s.index, Err: err}
	}
	return nil
}

// Release stops the preview, restores the default parameters and closes
// the handle. Releasing a closed session is a no-op.
//
// The handle is closed and the session reset to Closed no matter what
// happens in the earlier steps; their errors are joined into the result.
func (s *DeviceSession) Release() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed {
		slog.Debug("scan-capture: release ignored, no open device")
		return nil
	}

	dev := s.device
	index := s.index

	defer func() {
		if relErr := s.call("release", dev.Release); relErr != nil {
			err = errors.Join(err, &DeviceError{Op: "release", Index: index, Err: relErr})
		}
		s.device = nil
		s.index = NoDevice
		s.caps = CameraCapabilities{}
		s.defaults = SessionParameters{}
		s.params = SessionParameters{}
		s.state = SessionClosed

		slog.Info("scan-capture: device released", "device_index", index, "error", err)
	}()

	if s.state == SessionPreviewing {
		if hErr := s.setFrameHandler(dev, nil); hErr != nil {
			err = errors.Join(err, &DeviceError{Op: "set_frame_handler", Index: index, Err: hErr})
		}
		if stopErr := s.call("stop_preview", dev.StopPreview); stopErr != nil {
			err = errors.Join(err, &DeviceError{Op: "stop_preview", Index: index, Err: stopErr})
		}
	}

	defaults := s.defaults
	if setErr := s.call("restore_parameters", func() error { return dev.SetParameters(defaults) }); setErr != nil {
		err = errors.Join(err, &DeviceError{Op: "restore_parameters", Index: index, Err: setErr})
	}

	return err
}

// State returns the session state.
func (s *DeviceSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the index of the open device, or NoDevice.
func (s *DeviceSession) Index() DeviceIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Capabilities returns the capability snapshot of the open device.
// ok is false while Closed.
func (s *DeviceSession) Capabilities() (caps CameraCapabilities, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed || s.state == SessionOpening {
		return CameraCapabilities{}, false
	}
	return s.caps.Clone(), true
}

// Parameters returns the parameters currently applied.
func (s *DeviceSession) Parameters() SessionParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// AcquireRetries returns the total number of open retries since creation.
func (s *DeviceSession) AcquireRetries() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *DeviceSession) setFrameHandler(dev Device, h FrameHandler) error {
	return s.call("set_frame_handler", func() error {
		dev.SetFrameHandler(h)
		return nil
	})
}

// call runs one driver operation, converting a panic into an error.
func (s *DeviceSession) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan-capture: driver panic",
				"op", op,
				"device_index", s.index,
				"panic", r,
			)
			err = fmt.Errorf("scan-capture: %s: driver panic: %v", op, r)
		}
	}()
	return fn()
}
