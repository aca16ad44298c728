package main

import (
	"sync"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// virtualSurface stands in for a host window: a fixed-name surface with a
// mutable size, rendered through a GStreamer sink element.
type virtualSurface struct {
	name string
	sink string

	mu     sync.Mutex
	width  int
	height int
}

var _ scancapture.Surface = (*virtualSurface)(nil)

func newVirtualSurface(name, sink string, width, height int) *virtualSurface {
	return &virtualSurface{name: name, sink: sink, width: width, height: height}
}

func (s *virtualSurface) ID() string { return s.name }

func (s *virtualSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// SinkElement is picked up by the GStreamer driver for the preview branch.
func (s *virtualSurface) SinkElement() string { return s.sink }

func (s *virtualSurface) resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
}
