// Package gstcam drives V4L2 cameras through GStreamer.
//
// A Device keeps a probe pipeline (v4l2src → fakesink) in READY while it is
// open, which holds the device node. StartPreview swaps it for a streaming
// pipeline that tees the camera into the host sink and an NV21 appsink
// feeding the installed FrameHandler.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// AutoFocusSettle is how long a triggered autofocus sweep is given before
// completion is reported.
const AutoFocusSettle = 600 * time.Millisecond

// Profile describes one camera: its device node and the static parts of its
// capabilities that V4L2 does not report.
type Profile struct {
	Path         string
	Capabilities scancapture.CameraCapabilities
	Defaults     scancapture.SessionParameters
}

// SinkProvider is implemented by surfaces that render through a GStreamer
// sink element. Other surfaces get a fakesink.
type SinkProvider interface {
	SinkElement() string
}

// Driver opens GStreamer-backed devices by index.
type Driver struct {
	mu       sync.Mutex
	profiles map[scancapture.DeviceIndex]Profile
	open     map[scancapture.DeviceIndex]bool
}

// NewDriver creates a driver over the configured profiles.
func NewDriver(profiles map[scancapture.DeviceIndex]Profile) *Driver {
	gst.Init(nil)
	return &Driver{
		profiles: profiles,
		open:     make(map[scancapture.DeviceIndex]bool),
	}
}

// Open builds the probe pipeline and sets it to READY, which opens the device.
func (d *Driver) Open(index scancapture.DeviceIndex) (scancapture.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profile, ok := d.profiles[index]
	if !ok {
		return nil, fmt.Errorf("%w: no profile for device %d", scancapture.ErrDeviceUnavailable, index)
	}
	if d.open[index] {
		return nil, fmt.Errorf("%w: device %d already open", scancapture.ErrDeviceUnavailable, index)
	}

	probe, err := gst.NewPipelineFromString(probeDescription(profile.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: create probe pipeline: %v", scancapture.ErrDeviceUnavailable, err)
	}
	if err := probe.SetState(gst.StateReady); err != nil {
		cause := busError(probe, scancapture.ErrDeviceUnavailable)
		probe.SetState(gst.StateNull)
		slog.Warn("gstcam: open failed", "device_index", index, "path", profile.Path, "error", err, "cause", cause)
		return nil, fmt.Errorf("%w: open %s: %v", scancapture.ErrDeviceUnavailable, profile.Path, cause)
	}

	caps := profile.Capabilities.Clone()
	if sizes := querySizes(probe); len(sizes) > 0 {
		caps.PreviewSizes = sizes
	}

	d.open[index] = true
	slog.Info("gstcam: device opened",
		"device_index", index,
		"path", profile.Path,
		"preview_sizes", len(caps.PreviewSizes),
	)

	return &Device{
		driver: d,
		index:  index,
		path:   profile.Path,
		caps:   caps,
		params: normalizeDefaults(caps, profile.Defaults),
		probe:  probe,
	}, nil
}

func (d *Driver) closed(index scancapture.DeviceIndex) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.open, index)
}

// Device is an open V4L2 camera.
type Device struct {
	driver *Driver
	index  scancapture.DeviceIndex
	path   string
	caps   scancapture.CameraCapabilities

	mu          sync.Mutex
	params      scancapture.SessionParameters
	orientation int
	probe       *gst.Pipeline
	preview     *gst.Pipeline
	source      *gst.Element
	flip        *gst.Element
	cancel      context.CancelFunc
	done        chan struct{}
	released    bool

	handler atomic.Pointer[handlerBox]
	seq     uint64
	errors  uint64
}

type handlerBox struct{ h scancapture.FrameHandler }

// Capabilities returns the capability snapshot taken at open.
func (v *Device) Capabilities() scancapture.CameraCapabilities { return v.caps.Clone() }

// Parameters returns the parameter set currently applied.
func (v *Device) Parameters() scancapture.SessionParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// SetParameters checks the set against the capabilities. The preview size
// takes effect on the next StartPreview.
func (v *Device) SetParameters(p scancapture.SessionParameters) error {
	if len(v.caps.PreviewSizes) > 0 && !containsSize(v.caps.PreviewSizes, p.PreviewSize) {
		return fmt.Errorf("%w: preview size %s", scancapture.ErrConfigurationRejected, p.PreviewSize)
	}
	if p.FocusMode != "" && !v.caps.SupportsFocus(p.FocusMode) {
		return fmt.Errorf("%w: focus mode %q", scancapture.ErrConfigurationRejected, p.FocusMode)
	}
	if p.FlashMode != "" && !v.caps.SupportsFlash(p.FlashMode) {
		return fmt.Errorf("%w: flash mode %q", scancapture.ErrConfigurationRejected, p.FlashMode)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	p.DisplayOrientation = v.orientation
	v.params = p
	return nil
}

// SetDisplayOrientation selects the videoflip method. A running preview
// is re-flipped in place; otherwise the next preview picks it up.
func (v *Device) SetDisplayOrientation(degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("%w: orientation %d", scancapture.ErrConfigurationRejected, degrees)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	orientation := ((degrees % 360) + 360) % 360
	if v.preview != nil && v.flip != nil && orientation != v.orientation {
		if err := v.flip.SetProperty("method", flipMethodValue(orientation)); err != nil {
			return fmt.Errorf("gstcam: set videoflip method %s: %w", flipMethod(orientation), err)
		}
		slog.Debug("gstcam: preview re-oriented", "device_index", v.index, "orientation", orientation)
	}
	v.orientation = orientation
	v.params.DisplayOrientation = orientation
	return nil
}

// SetFrameHandler installs the frame receiver. nil stops delivery.
func (v *Device) SetFrameHandler(h scancapture.FrameHandler) {
	if h == nil {
		v.handler.Store(nil)
		return
	}
	v.handler.Store(&handlerBox{h: h})
}

// StartPreview releases the probe pipeline and starts the streaming one.
func (v *Device) StartPreview(surface scancapture.Surface) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.released {
		return fmt.Errorf("%w: device released", scancapture.ErrNotBound)
	}
	if v.preview != nil {
		return nil
	}

	size := v.params.PreviewSize
	if size.IsZero() {
		width, height := surface.Size()
		size = scancapture.Size{Width: width, Height: height}
	}
	sink := ""
	if sp, ok := surface.(SinkProvider); ok {
		sink = sp.SinkElement()
	}

	desc := previewDescription(v.path, size, v.orientation, sink)
	slog.Debug("gstcam: creating preview pipeline", "pipeline", desc)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("%w: create preview pipeline: %v", scancapture.ErrConfigurationRejected, err)
	}

	appsink, source, flip, err := lookupElements(pipeline)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return v.onNewSample(sink, size)
		},
	})

	// The probe holds the device node; it must let go before streaming.
	if err := v.probe.SetState(gst.StateNull); err != nil {
		slog.Warn("gstcam: failed to release probe pipeline", "device_index", v.index, "error", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		cause := busError(pipeline, scancapture.ErrConfigurationRejected)
		pipeline.SetState(gst.StateNull)
		v.probe.SetState(gst.StateReady)
		return fmt.Errorf("start preview on %s: %w", v.path, cause)
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.preview, v.source, v.flip, v.cancel = pipeline, source, flip, cancel
	v.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		monitorBus(ctx, pipeline, v.index, &v.errors)
	}(v.done)

	slog.Info("gstcam: preview started",
		"device_index", v.index,
		"size", size.String(),
		"orientation", v.orientation,
		"surface", surface.ID(),
	)
	return nil
}

// StopPreview tears down the streaming pipeline and re-opens the probe.
func (v *Device) StopPreview() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopPreviewLocked()
}

func (v *Device) stopPreviewLocked() error {
	if v.preview == nil {
		return nil
	}

	v.cancel()
	err := v.preview.SetState(gst.StateNull)
	select {
	case <-v.done:
	case <-time.After(2 * time.Second):
		slog.Warn("gstcam: bus monitor did not stop in time", "device_index", v.index)
	}
	v.preview, v.source, v.flip, v.cancel, v.done = nil, nil, nil, nil, nil

	if !v.released {
		if rerr := v.probe.SetState(gst.StateReady); rerr != nil {
			slog.Warn("gstcam: failed to re-open probe pipeline", "device_index", v.index, "error", rerr)
		}
	}

	slog.Info("gstcam: preview stopped", "device_index", v.index, "bus_errors", atomic.LoadUint64(&v.errors))
	if err != nil {
		return fmt.Errorf("stop preview on %s: %w", v.path, err)
	}
	return nil
}

// RequestAutoFocus triggers a focus sweep when the focus mode is auto.
// Other modes focus on their own and complete immediately. Completion is
// always reported asynchronously.
func (v *Device) RequestAutoFocus() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.preview == nil {
		return fmt.Errorf("%w: not previewing", scancapture.ErrNotBound)
	}

	delay := time.Duration(0)
	if v.params.FocusMode == scancapture.FocusAuto {
		controls := gst.NewStructureFromString("controls,focus_auto=0,auto_focus_start=1")
		if controls == nil {
			return fmt.Errorf("gstcam: build autofocus controls")
		}
		if err := v.source.SetProperty("extra-controls", controls); err != nil {
			return fmt.Errorf("gstcam: trigger autofocus: %w", err)
		}
		delay = AutoFocusSettle
	}

	time.AfterFunc(delay, func() {
		if box := v.handler.Load(); box != nil {
			box.h.OnAutoFocus(true)
		}
	})
	return nil
}

// Release stops everything and closes the device node.
func (v *Device) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.released {
		return nil
	}
	v.released = true
	v.handler.Store(nil)

	stopErr := v.stopPreviewLocked()
	probeErr := v.probe.SetState(gst.StateNull)
	v.driver.closed(v.index)

	slog.Info("gstcam: device released", "device_index", v.index, "path", v.path)
	if stopErr != nil {
		return stopErr
	}
	if probeErr != nil {
		return fmt.Errorf("release %s: %w", v.path, probeErr)
	}
	return nil
}

// onNewSample copies the frame out of the GStreamer buffer and hands it to
// the frame handler.
func (v *Device) onNewSample(sink *app.Sink, size scancapture.Size) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	box := v.handler.Load()
	if box == nil {
		return gst.FlowOK
	}

	box.h.OnFrame(scancapture.FrameBuffer{
		Data:      frameData,
		Width:     size.Width,
		Height:    size.Height,
		Seq:       atomic.AddUint64(&v.seq, 1),
		Timestamp: time.Now(),
		TraceID:   uuid.New().String(),
	})
	return gst.FlowOK
}

func lookupElements(pipeline *gst.Pipeline) (*app.Sink, *gst.Element, *gst.Element, error) {
	elements, err := pipeline.GetElements()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gstcam: list pipeline elements: %w", err)
	}

	var (
		appsink *app.Sink
		source  *gst.Element
		flip    *gst.Element
	)
	for _, elem := range elements {
		switch elem.GetName() {
		case frameSinkName:
			appsink = app.SinkFromElement(elem)
		case sourceName:
			source = elem
		case flipName:
			flip = elem
		}
	}
	if appsink == nil || source == nil || flip == nil {
		return nil, nil, nil, fmt.Errorf("gstcam: preview pipeline missing %s, %s or %s", frameSinkName, sourceName, flipName)
	}
	return appsink, source, flip, nil
}

// querySizes asks the v4l2src pad for the formats the device supports.
func querySizes(probe *gst.Pipeline) []scancapture.Size {
	elements, err := probe.GetElements()
	if err != nil {
		return nil
	}
	for _, elem := range elements {
		if elem.GetName() != sourceName {
			continue
		}
		pad := elem.GetStaticPad("src")
		if pad == nil {
			return nil
		}
		caps := pad.QueryCaps(nil)
		if caps == nil {
			return nil
		}
		return parseCapsSizes(caps.String())
	}
	return nil
}

// busError pops a pending error message off the pipeline bus, if any.
func busError(pipeline *gst.Pipeline, fallback error) error {
	msg := pipeline.GetPipelineBus().TimedPopFiltered(100*time.Millisecond, gst.MessageError)
	if msg == nil {
		return fallback
	}
	return wrapGError(msg.ParseError(), fallback)
}

// normalizeDefaults makes the profile defaults acceptable to SetParameters
// against the queried capabilities: an unset or unlisted size becomes the
// first listed size, and unsupported focus or flash modes are cleared.
func normalizeDefaults(caps scancapture.CameraCapabilities, p scancapture.SessionParameters) scancapture.SessionParameters {
	if len(caps.PreviewSizes) > 0 && !containsSize(caps.PreviewSizes, p.PreviewSize) {
		p.PreviewSize = caps.PreviewSizes[0]
	}
	if p.FocusMode != "" && !caps.SupportsFocus(p.FocusMode) {
		p.FocusMode = ""
	}
	if p.FlashMode != "" && !caps.SupportsFlash(p.FlashMode) {
		p.FlashMode = ""
	}
	return p
}

func containsSize(sizes []scancapture.Size, s scancapture.Size) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}
