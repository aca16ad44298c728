// Package fakecam is a synthetic camera driver. It backs the tests and the
// --fake mode of the binary: devices report configurable capabilities,
// optionally fail to open, reject parameters or panic on request, and emit
// NV21 frames carrying rendered QR codes.
package fakecam

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// Profile describes one synthetic device.
type Profile struct {
	Capabilities scancapture.CameraCapabilities
	Defaults     scancapture.SessionParameters

	// FPS > 0 starts a frame generator while previewing
	FPS int
	// Payloads are rendered as QR codes, one per frame, cycling; empty means blank frames
	Payloads []string
	// AutoFocusDelay > 0 completes autofocus requests asynchronously after the delay
	AutoFocusDelay time.Duration
}

// DefaultProfile returns a back-facing 90° device with common sizes and
// auto/continuous focus.
func DefaultProfile() Profile {
	return Profile{
		Capabilities: scancapture.CameraCapabilities{
			Facing:       scancapture.FacingBack,
			MountDegrees: 90,
			PreviewSizes: []scancapture.Size{{Width: 640, Height: 480}, {Width: 1280, Height: 720}, {Width: 1920, Height: 1080}},
			FocusModes:   []string{scancapture.FocusAuto, scancapture.FocusContinuous, scancapture.FocusFixed},
			FlashModes:   []string{scancapture.FlashOff, scancapture.FlashTorch},
		},
		Defaults: scancapture.SessionParameters{
			PreviewSize: scancapture.Size{Width: 640, Height: 480},
			FocusMode:   scancapture.FocusFixed,
			FlashMode:   scancapture.FlashOff,
		},
	}
}

// Driver implements scancapture.Driver over synthetic devices.
type Driver struct {
	mu       sync.Mutex
	profiles map[scancapture.DeviceIndex]Profile
	busy     map[scancapture.DeviceIndex]int
	opens    map[scancapture.DeviceIndex]int
	open     map[scancapture.DeviceIndex]*Device
	last     map[scancapture.DeviceIndex]*Device
}

// NewDriver creates a driver with the given devices.
func NewDriver(profiles map[scancapture.DeviceIndex]Profile) *Driver {
	return &Driver{
		profiles: profiles,
		busy:     make(map[scancapture.DeviceIndex]int),
		opens:    make(map[scancapture.DeviceIndex]int),
		open:     make(map[scancapture.DeviceIndex]*Device),
		last:     make(map[scancapture.DeviceIndex]*Device),
	}
}

// SetBusy makes the next n opens of index fail with ErrDeviceUnavailable.
func (d *Driver) SetBusy(index scancapture.DeviceIndex, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy[index] = n
}

// Opens returns how many times index was opened successfully.
func (d *Driver) Opens(index scancapture.DeviceIndex) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens[index]
}

// Device returns the most recently opened handle for index, or nil.
func (d *Driver) Device(index scancapture.DeviceIndex) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[index]
}

// Open implements scancapture.Driver. A device already open elsewhere is busy.
func (d *Driver) Open(index scancapture.DeviceIndex) (scancapture.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[index]
	if !ok {
		return nil, fmt.Errorf("%w: fakecam: no device %d", scancapture.ErrDeviceUnavailable, index)
	}
	if n := d.busy[index]; n > 0 {
		d.busy[index] = n - 1
		return nil, fmt.Errorf("%w: fakecam: device %d busy", scancapture.ErrDeviceUnavailable, index)
	}
	if _, inUse := d.open[index]; inUse {
		return nil, fmt.Errorf("%w: fakecam: device %d already in use", scancapture.ErrDeviceUnavailable, index)
	}

	dev := &Device{
		driver:  d,
		index:   index,
		profile: p,
		params:  p.Defaults,
	}
	d.open[index] = dev
	d.last[index] = dev
	d.opens[index]++

	return dev, nil
}

func (d *Driver) closed(index scancapture.DeviceIndex) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.open, index)
}

// Device is a synthetic open camera handle.
type Device struct {
	driver  *Driver
	index   scancapture.DeviceIndex
	profile Profile

	mu          sync.Mutex
	params      scancapture.SessionParameters
	orientation int
	handler     scancapture.FrameHandler
	surface     scancapture.Surface
	previewing  bool
	released    bool
	afRequests  int
	seq         uint64
	history     []scancapture.SessionParameters
	stopGen     chan struct{}
	genDone     chan struct{}

	// RejectParameters, if set, makes SetParameters fail for matching sets
	RejectParameters func(scancapture.SessionParameters) bool
	// StopPreviewErr is returned by StopPreview
	StopPreviewErr error
	// PanicOnStopPreview makes StopPreview panic
	PanicOnStopPreview bool
	// PanicOnSetFrameHandler makes SetFrameHandler panic
	PanicOnSetFrameHandler bool
}

// Capabilities implements scancapture.Device.
func (v *Device) Capabilities() scancapture.CameraCapabilities {
	return v.profile.Capabilities
}

// Parameters implements scancapture.Device.
func (v *Device) Parameters() scancapture.SessionParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// SetParameters implements scancapture.Device.
func (v *Device) SetParameters(p scancapture.SessionParameters) error {
	v.mu.Lock()
	reject := v.RejectParameters
	v.mu.Unlock()

	if reject != nil && reject(p) {
		return fmt.Errorf("%w: fakecam: %+v", scancapture.ErrConfigurationRejected, p)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.params = p
	v.history = append(v.history, p)
	return nil
}

// SetDisplayOrientation implements scancapture.Device.
func (v *Device) SetDisplayOrientation(degrees int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orientation = degrees
	return nil
}

// SetFrameHandler implements scancapture.Device.
func (v *Device) SetFrameHandler(h scancapture.FrameHandler) {
	if v.PanicOnSetFrameHandler {
		panic("fakecam: set frame handler exploded")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handler = h
}

// StartPreview implements scancapture.Device.
func (v *Device) StartPreview(surface scancapture.Surface) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.released {
		return fmt.Errorf("fakecam: device %d released", v.index)
	}
	if surface == nil {
		return scancapture.ErrNotBound
	}
	if v.previewing {
		return nil
	}
	v.surface = surface
	v.previewing = true

	if v.profile.FPS > 0 {
		v.stopGen = make(chan struct{})
		v.genDone = make(chan struct{})
		go v.generate(v.stopGen, v.genDone)
	}
	return nil
}

// StopPreview implements scancapture.Device.
func (v *Device) StopPreview() error {
	if v.PanicOnStopPreview {
		panic("fakecam: stop preview exploded")
	}
	v.stopGenerator()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.previewing = false
	v.surface = nil
	return v.StopPreviewErr
}

// RequestAutoFocus implements scancapture.Device.
func (v *Device) RequestAutoFocus() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.previewing {
		return fmt.Errorf("fakecam: autofocus while not previewing")
	}
	v.afRequests++

	if delay := v.profile.AutoFocusDelay; delay > 0 {
		time.AfterFunc(delay, func() { v.CompleteAutoFocus(true) })
	}
	return nil
}

// CompleteAutoFocus reports an autofocus completion to the installed handler.
func (v *Device) CompleteAutoFocus(success bool) {
	v.mu.Lock()
	h := v.handler
	v.mu.Unlock()

	if h != nil {
		h.OnAutoFocus(success)
	}
}

// Release implements scancapture.Device.
func (v *Device) Release() error {
	v.stopGenerator()

	v.mu.Lock()
	if v.released {
		v.mu.Unlock()
		return nil
	}
	v.released = true
	v.previewing = false
	v.handler = nil
	v.mu.Unlock()

	v.driver.closed(v.index)
	return nil
}

// Emit delivers one frame to the installed handler if previewing.
// Returns false if the frame was not delivered.
func (v *Device) Emit(data []byte, width, height int) bool {
	v.mu.Lock()
	h := v.handler
	ok := v.previewing && h != nil
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	if !ok {
		return false
	}

	h.OnFrame(scancapture.FrameBuffer{
		Data:      data,
		Width:     width,
		Height:    height,
		Seq:       seq,
		Timestamp: time.Now(),
		TraceID:   uuid.New().String(),
	})
	return true
}

func (v *Device) generate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	size := v.Parameters().PreviewSize
	if size.IsZero() {
		size = scancapture.Size{Width: 640, Height: 480}
	}

	frames := make([][]byte, 0, len(v.profile.Payloads))
	for _, text := range v.profile.Payloads {
		buf, err := RenderQR(text, size.Width, size.Height)
		if err != nil {
			slog.Warn("fakecam: cannot render payload", "error", err)
			continue
		}
		frames = append(frames, buf)
	}
	if len(frames) == 0 {
		frames = append(frames, Blank(size.Width, size.Height))
	}

	ticker := time.NewTicker(time.Second / time.Duration(v.profile.FPS))
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v.Emit(frames[i%len(frames)], size.Width, size.Height)
		}
	}
}

func (v *Device) stopGenerator() {
	v.mu.Lock()
	stop, done := v.stopGen, v.genDone
	v.stopGen, v.genDone = nil, nil
	v.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Previewing reports whether the preview is running.
func (v *Device) Previewing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.previewing
}

// Released reports whether Release was called.
func (v *Device) Released() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

// HasHandler reports whether a frame handler is installed.
func (v *Device) HasHandler() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handler != nil
}

// AutoFocusRequests returns the number of autofocus requests received.
func (v *Device) AutoFocusRequests() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.afRequests
}

// Orientation returns the last display orientation set.
func (v *Device) Orientation() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orientation
}

// History returns every accepted parameter set, in order.
func (v *Device) History() []scancapture.SessionParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]scancapture.SessionParameters(nil), v.history...)
}

// Surface is a fixed-size synthetic rendering surface.
type Surface struct {
	Name   string
	Width  int
	Height int
}

// ID implements scancapture.Surface.
func (s *Surface) ID() string { return s.Name }

// Size implements scancapture.Surface.
func (s *Surface) Size() (int, int) { return s.Width, s.Height }
