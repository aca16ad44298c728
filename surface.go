package scancapture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ParamsFunc derives the desired session parameters for an open device and
// the preview size chosen for the bound surface (zero if none).
type ParamsFunc func(caps CameraCapabilities, previewSize Size) SessionParameters

// SurfaceBinding couples the host surface lifecycle to the preview of a
// DeviceSession. It holds a non-owning reference to the surface; the device
// itself is never released here.
type SurfaceBinding struct {
	session  *DeviceSession
	pipeline *ScanPipeline
	params   ParamsFunc

	mu      sync.Mutex
	surface Surface
	width   int
	height  int
}

// NewSurfaceBinding creates an unbound SurfaceBinding.
func NewSurfaceBinding(session *DeviceSession, pipeline *ScanPipeline, params ParamsFunc) *SurfaceBinding {
	return &SurfaceBinding{
		session:  session,
		pipeline: pipeline,
		params:   params,
	}
}

// Created binds surface and, if a device is open, starts the preview on it.
func (b *SurfaceBinding) Created(surface Surface) error {
	if surface == nil {
		return ErrNotBound
	}

	w, h := surface.Size()
	b.mu.Lock()
	b.surface = surface
	b.width, b.height = w, h
	b.mu.Unlock()

	slog.Info("scan-capture: surface created", "surface", surface.ID(), "width", w, "height", h)

	if b.session.State() != SessionOpen {
		return nil
	}
	return b.StartPreview()
}

// Changed handles a new surface size. If a device is open the preview is
// stopped, renegotiated for the new size and restarted, and autofocus is
// re-triggered. Driver failures are logged and returned; they never leave
// the pipeline half-started.
func (b *SurfaceBinding) Changed(format string, width, height int) error {
	b.mu.Lock()
	surface := b.surface
	b.width, b.height = width, height
	b.mu.Unlock()

	if surface == nil {
		return ErrNotBound
	}

	slog.Info("scan-capture: surface changed",
		"surface", surface.ID(),
		"format", format,
		"width", width,
		"height", height,
	)

	if b.session.State() == SessionClosed {
		return nil
	}

	b.StopPreview()
	if err := b.StartPreview(); err != nil {
		slog.Warn("scan-capture: preview restart after surface change failed",
			"surface", surface.ID(),
			"error", err,
		)
		return err
	}
	return nil
}

// Destroyed cancels pending autofocus, stops frame delivery and the preview,
// and unbinds the surface. The device stays open.
func (b *SurfaceBinding) Destroyed() {
	b.mu.Lock()
	surface := b.surface
	b.surface = nil
	b.width, b.height = 0, 0
	b.mu.Unlock()

	if surface == nil {
		return
	}

	b.StopPreview()

	slog.Info("scan-capture: surface destroyed",
		"surface", surface.ID(),
		"session_state", b.session.State().String(),
	)
}

// Bound returns the bound surface, or nil.
func (b *SurfaceBinding) Bound() Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.surface
}

// StartPreview negotiates the preview size for the bound surface, configures
// the device and starts frame delivery and autofocus.
//
// Returns ErrNotBound without a surface and ErrNoCandidates when the device
// reports no preview sizes; in both cases nothing is started.
func (b *SurfaceBinding) StartPreview() error {
	b.mu.Lock()
	surface, width, height := b.surface, b.width, b.height
	b.mu.Unlock()

	if surface == nil {
		return ErrNotBound
	}

	caps, ok := b.session.Capabilities()
	if !ok {
		return ErrNotBound
	}
	if b.session.State() == SessionPreviewing {
		return nil
	}

	size, err := SelectPreviewSize(caps.PreviewSizes, width, height)
	if err != nil {
		slog.Warn("scan-capture: cannot negotiate preview size",
			"surface", surface.ID(),
			"width", width,
			"height", height,
			"error", err,
		)
		return err
	}

	b.session.Configure(b.params(caps, size))

	b.pipeline.Start()
	if err := b.session.StartPreview(surface, b.pipeline); err != nil {
		b.pipeline.Stop()
		if errors.Is(err, ErrNotBound) {
			return err
		}
		return fmt.Errorf("scan-capture: start preview on %s: %w", surface.ID(), err)
	}
	b.pipeline.StartAutoFocus()

	slog.Debug("scan-capture: preview bound to surface",
		"surface", surface.ID(),
		"preview_size", size.String(),
	)
	return nil
}

// StopPreview cancels autofocus, stops the preview and the decode loop.
// Safe when not previewing.
func (b *SurfaceBinding) StopPreview() {
	b.pipeline.CancelAutoFocus()
	if err := b.session.StopPreview(); err != nil {
		slog.Warn("scan-capture: stop preview failed", "error", err)
	}
	b.pipeline.Stop()
}
