package scancapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Driver opens camera devices (required)
	Driver Driver
	// Decoder scans frames (required)
	Decoder Decoder
	// Listener receives decoded payloads
	Listener Listener
	// Dispatcher marshals listener calls (nil = decode goroutine)
	Dispatcher Dispatcher

	// DeviceIndex is the initial device, NoDevice for none
	DeviceIndex DeviceIndex
	// HostRotation is the initial host display rotation
	HostRotation Rotation

	// FocusMode and FlashMode are requested on every configure when supported.
	// Empty means auto.
	FocusMode string
	FlashMode string

	AutoFocus         AutoFocusMode
	AutoFocusInterval time.Duration
	AcquireRetry      AcquireRetry
	CadenceWindow     int
}

// Stats is a snapshot of the controller for status reporting.
type Stats struct {
	State          State
	SessionState   SessionState
	DeviceIndex    DeviceIndex
	HostRotation   Rotation
	Paused         bool
	Surface        string
	Parameters     SessionParameters
	AcquireRetries uint32
	LastError      string
	Pipeline       PipelineStats
}

// Controller is the top-level orchestrator of the capture pipeline.
//
// It exclusively owns the DeviceSession, SurfaceBinding and ScanPipeline.
// Every control operation (host signals, device switching, surface events)
// is serialized by the controller mutex; frame delivery and listener calls
// run on the pipeline's goroutines.
//
// The controller starts paused: the first OnHostResume acquires the stored
// device index.
type Controller struct {
	cfg ControllerConfig

	ctx    context.Context
	cancel context.CancelFunc

	session  *DeviceSession
	pipeline *ScanPipeline
	binding  *SurfaceBinding

	mu       sync.Mutex
	index    DeviceIndex
	rotation Rotation
	paused   bool
	closed   bool
	lastErr  error
}

// NewController creates a paused controller. Nothing is acquired until
// OnHostResume; while paused, SetDeviceIndex only records the index and the
// device is opened on the next resume.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("scan-capture: driver is required")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("scan-capture: decoder is required")
	}
	if cfg.DeviceIndex < NoDevice {
		cfg.DeviceIndex = NoDevice
	}
	if cfg.FocusMode == "" {
		cfg.FocusMode = FocusAuto
	}
	if cfg.FlashMode == "" {
		cfg.FlashMode = FlashAuto
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		index:    cfg.DeviceIndex,
		rotation: cfg.HostRotation,
		paused:   true,
	}

	c.session = NewDeviceSession(cfg.Driver, cfg.AcquireRetry)
	c.pipeline = NewScanPipeline(PipelineConfig{
		Decoder:           cfg.Decoder,
		Listener:          cfg.Listener,
		Dispatcher:        cfg.Dispatcher,
		Focuser:           c.session,
		AutoFocus:         cfg.AutoFocus,
		AutoFocusInterval: cfg.AutoFocusInterval,
		CadenceWindow:     cfg.CadenceWindow,
	})
	c.binding = NewSurfaceBinding(c.session, c.pipeline, c.sessionParams)

	slog.Info("scan-capture: controller created",
		"device_index", c.index,
		"host_rotation", c.rotation.Degrees(),
		"autofocus", cfg.AutoFocus.String(),
	)

	return c, nil
}

// SetDeviceIndex switches to another camera.
//
// Same index: no-op. Otherwise the current device is released, the index
// updated and, unless the host is paused or index is NoDevice, the new
// device acquired, configured and previewed on the bound surface.
func (c *Controller) SetDeviceIndex(index DeviceIndex) error {
	if index < NoDevice {
		return fmt.Errorf("scan-capture: invalid device index %d", index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index == c.index {
		slog.Debug("scan-capture: device index unchanged", "device_index", index)
		return nil
	}

	slog.Info("scan-capture: switching device", "from", c.index, "to", index)

	c.releaseLocked()
	c.index = index

	if c.paused || c.closed || !index.Valid() {
		return nil
	}
	return c.acquireLocked()
}

// DeviceIndex returns the stored device index, the only state meant to
// survive a teardown and recreation of the host.
func (c *Controller) DeviceIndex() DeviceIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// ActiveDevice returns the index of the open device, or NoDevice. Unlike
// the other methods it does not take the controller mutex and is safe to
// call from a Listener.
func (c *Controller) ActiveDevice() DeviceIndex {
	return c.session.Index()
}

// OnHostPause releases the device.
func (c *Controller) OnHostPause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = true
	c.releaseLocked()
	slog.Info("scan-capture: host paused", "device_index", c.index)
}

// OnHostResume acquires the stored device index and, if a surface is bound,
// starts the preview. Failures are recorded (see Stats.LastError) and leave
// the pipeline idle.
func (c *Controller) OnHostResume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.paused = false
	slog.Info("scan-capture: host resumed", "device_index", c.index)

	if !c.index.Valid() {
		return nil
	}
	return c.acquireLocked()
}

// SetHostRotation records the host display rotation and re-resolves the
// display orientation of the open device.
func (c *Controller) SetHostRotation(r Rotation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r == c.rotation {
		return
	}
	c.rotation = r

	caps, ok := c.session.Capabilities()
	if !ok {
		return
	}
	degrees := ResolveOrientation(r, caps.MountDegrees, caps.Facing == FacingFront)
	c.session.SetDisplayOrientation(degrees)

	slog.Info("scan-capture: host rotation changed",
		"host_rotation", r.Degrees(),
		"display_orientation", degrees,
	)
}

// SurfaceCreated binds the host surface.
func (c *Controller) SurfaceCreated(surface Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(c.binding.Created(surface))
}

// SurfaceChanged renegotiates the preview for a resized surface.
func (c *Controller) SurfaceChanged(format string, width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(c.binding.Changed(format, width, height))
}

// SurfaceDestroyed stops the preview and unbinds the surface. The device
// stays acquired until OnHostPause or SetDeviceIndex.
func (c *Controller) SurfaceDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binding.Destroyed()
}

// State returns the host-visible lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.session.State() == SessionPreviewing {
		return StatePreviewing
	}
	if c.binding.Bound() != nil {
		return StateSurfaceReady
	}
	return StateIdle
}

// LastErr returns the last error surfaced to the controller
// (device unavailable, no preview size candidates, preview start failure).
func (c *Controller) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stats returns a status snapshot.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		State:          c.stateLocked(),
		SessionState:   c.session.State(),
		DeviceIndex:    c.index,
		HostRotation:   c.rotation,
		Paused:         c.paused,
		Parameters:     c.session.Parameters(),
		AcquireRetries: c.session.AcquireRetries(),
		Pipeline:       c.pipeline.Stats(),
	}
	if s := c.binding.Bound(); s != nil {
		st.Surface = s.ID()
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Close releases the device and aborts any acquire in progress. Idempotent.
func (c *Controller) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.paused = true
	c.binding.Destroyed()
	err := c.releaseLocked()

	slog.Info("scan-capture: controller closed", "device_index", c.index)
	return err
}

func (c *Controller) acquireLocked() error {
	caps, err := c.session.Acquire(c.ctx, c.index)
	if err != nil {
		c.record(err)
		return err
	}
	c.lastErr = nil

	c.session.Configure(c.sessionParams(caps, Size{}))

	if c.binding.Bound() == nil {
		return nil
	}
	if err := c.binding.StartPreview(); err != nil {
		c.record(err)
		return err
	}
	return nil
}

func (c *Controller) releaseLocked() error {
	c.pipeline.CancelAutoFocus()
	err := c.session.Release()
	c.pipeline.Stop()

	if err != nil {
		slog.Warn("scan-capture: release completed with errors", "error", err)
	}
	return err
}

// sessionParams derives the requested parameters for caps and the host
// rotation. Called with c.mu held.
func (c *Controller) sessionParams(caps CameraCapabilities, size Size) SessionParameters {
	return SessionParameters{
		PreviewSize:        size,
		FocusMode:          c.cfg.FocusMode,
		FlashMode:          c.cfg.FlashMode,
		DisplayOrientation: ResolveOrientation(c.rotation, caps.MountDegrees, caps.Facing == FacingFront),
	}
}

func (c *Controller) record(err error) {
	if err == nil {
		return
	}
	c.lastErr = err
	if errors.Is(err, ErrNoCandidates) || errors.Is(err, ErrDeviceUnavailable) {
		slog.Warn("scan-capture: pipeline stays idle", "device_index", c.index, "error", err)
		return
	}
	slog.Warn("scan-capture: operation failed", "device_index", c.index, "error", err)
}
