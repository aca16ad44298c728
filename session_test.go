package scancapture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/fakecam"
)

type nopHandler struct{}

func (nopHandler) OnFrame(scancapture.FrameBuffer) {}
func (nopHandler) OnAutoFocus(bool)                {}

func newDriver() *fakecam.Driver {
	return fakecam.NewDriver(map[scancapture.DeviceIndex]fakecam.Profile{
		0: fakecam.DefaultProfile(),
		1: fakecam.DefaultProfile(),
	})
}

func surface() *fakecam.Surface {
	return &fakecam.Surface{Name: "test-surface", Width: 1280, Height: 720}
}

func TestSession_AcquireTwiceIsNoOp(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	first, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)

	second, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, drv.Opens(0), "second acquire must not reopen")
	assert.Equal(t, first, second)

	caps, ok := s.Capabilities()
	require.True(t, ok)
	assert.Equal(t, first, caps)
	assert.Equal(t, scancapture.SessionOpen, s.State())
}

func TestSession_AcquireUnavailable(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 7)
	assert.ErrorIs(t, err, scancapture.ErrDeviceUnavailable)

	var devErr *scancapture.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, scancapture.DeviceIndex(7), devErr.Index)
	assert.Equal(t, scancapture.SessionClosed, s.State())
	assert.Equal(t, scancapture.NoDevice, s.Index())

	_, err = s.Acquire(context.Background(), scancapture.NoDevice)
	assert.ErrorIs(t, err, scancapture.ErrDeviceUnavailable)
}

func TestSession_AcquireNoRetryByDefault(t *testing.T) {
	drv := newDriver()
	drv.SetBusy(0, 1)
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	assert.True(t, scancapture.IsDeviceUnavailable(err))
	assert.Equal(t, 0, drv.Opens(0))
}

func TestSession_AcquireRetriesBusyDevice(t *testing.T) {
	drv := newDriver()
	drv.SetBusy(0, 2)
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{Attempts: 3, Delay: time.Millisecond})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.AcquireRetries())
}

func TestSession_AcquireRetriesExhausted(t *testing.T) {
	drv := newDriver()
	drv.SetBusy(0, 5)
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{Attempts: 2, Delay: time.Millisecond})

	_, err := s.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, scancapture.ErrDeviceUnavailable)
	assert.Equal(t, scancapture.SessionClosed, s.State())
}

func TestSession_ReleaseIdempotent(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	assert.NoError(t, s.Release(), "release on a never-opened session")

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)

	require.NoError(t, s.Release())
	assert.True(t, dev.Released())
	assert.Equal(t, scancapture.SessionClosed, s.State())
	assert.Equal(t, scancapture.NoDevice, s.Index())

	assert.NoError(t, s.Release())
	assert.Equal(t, scancapture.SessionClosed, s.State())
}

func TestSession_ReleaseRestoresDefaults(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)
	defaults := dev.Parameters()

	s.Configure(scancapture.SessionParameters{
		PreviewSize: scancapture.Size{Width: 1280, Height: 720},
		FocusMode:   scancapture.FocusAuto,
		FlashMode:   scancapture.FlashTorch,
	})
	require.NotEqual(t, defaults, dev.Parameters())

	require.NoError(t, s.Release())
	assert.Equal(t, defaults, dev.Parameters())
}

func TestSession_ReleaseSurvivesPanickingStop(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)
	require.NoError(t, s.StartPreview(surface(), nopHandler{}))

	dev.PanicOnStopPreview = true

	err = s.Release()
	assert.Error(t, err)
	assert.True(t, dev.Released(), "handle must be closed even when stop preview panics")
	assert.Equal(t, scancapture.SessionClosed, s.State())

	// the device is free again
	_, err = s.Acquire(context.Background(), 0)
	assert.NoError(t, err)
}

func TestSession_PanickingSetFrameHandler(t *testing.T) {
	tests := []struct {
		name         string
		previewFirst bool
		act          func(s *scancapture.DeviceSession) error
		wantState    scancapture.SessionState
		wantReleased bool
		wantErr      bool
	}{
		{
			name: "start preview",
			act: func(s *scancapture.DeviceSession) error {
				return s.StartPreview(surface(), nopHandler{})
			},
			wantState: scancapture.SessionOpen,
			wantErr:   true,
		},
		{
			name:         "stop preview",
			previewFirst: true,
			act:          func(s *scancapture.DeviceSession) error { return s.StopPreview() },
			wantState:    scancapture.SessionOpen,
			wantErr:      true,
		},
		{
			name:         "release",
			previewFirst: true,
			act:          func(s *scancapture.DeviceSession) error { return s.Release() },
			wantState:    scancapture.SessionClosed,
			wantReleased: true,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newDriver()
			s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

			_, err := s.Acquire(context.Background(), 0)
			require.NoError(t, err)
			dev := drv.Device(0)
			if tt.previewFirst {
				require.NoError(t, s.StartPreview(surface(), nopHandler{}))
			}

			dev.PanicOnSetFrameHandler = true

			var actErr error
			require.NotPanics(t, func() { actErr = tt.act(s) })
			if tt.wantErr {
				require.Error(t, actErr)
				assert.Contains(t, actErr.Error(), "set_frame_handler")
			}
			assert.Equal(t, tt.wantState, s.State())
			assert.False(t, dev.Previewing())
			assert.Equal(t, tt.wantReleased, dev.Released())

			dev.PanicOnSetFrameHandler = false
			assert.NoError(t, s.Release())
			assert.True(t, dev.Released())
		})
	}
}

func TestSession_ReleaseJoinsStopError(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)
	require.NoError(t, s.StartPreview(surface(), nopHandler{}))

	stopErr := errors.New("surface gone")
	dev.StopPreviewErr = stopErr

	err = s.Release()
	assert.ErrorIs(t, err, stopErr)
	assert.True(t, dev.Released())
}

func TestSession_ConfigureKeepsOnlySupportedModes(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)

	applied := s.Configure(scancapture.SessionParameters{
		FocusMode:          scancapture.FocusMacro, // unsupported
		FlashMode:          scancapture.FlashOn,    // unsupported
		DisplayOrientation: 90,
	})

	assert.Equal(t, scancapture.FocusFixed, applied.FocusMode)
	assert.Equal(t, scancapture.FlashOff, applied.FlashMode)
	assert.Equal(t, 90, applied.DisplayOrientation)
	assert.Equal(t, 90, drv.Device(0).Orientation())
}

func TestSession_ConfigureRejectedFallsBackToDefaults(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})

	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)
	defaults := dev.Parameters()

	dev.RejectParameters = func(p scancapture.SessionParameters) bool {
		return p.FlashMode == scancapture.FlashTorch
	}

	applied := s.Configure(scancapture.SessionParameters{
		PreviewSize: scancapture.Size{Width: 1920, Height: 1080},
		FlashMode:   scancapture.FlashTorch,
	})

	assert.Equal(t, defaults.PreviewSize, applied.PreviewSize)
	assert.Equal(t, defaults.FlashMode, applied.FlashMode)
	assert.Equal(t, scancapture.SessionOpen, s.State(), "rejection must not fail the session")
}

func TestSession_ClosedOperationsAreNoOps(t *testing.T) {
	s := scancapture.NewDeviceSession(newDriver(), scancapture.AcquireRetry{})

	assert.NoError(t, s.StartPreview(surface(), nopHandler{}))
	assert.NoError(t, s.StopPreview())
	assert.Equal(t, scancapture.SessionParameters{}, s.Configure(scancapture.SessionParameters{FocusMode: scancapture.FocusAuto}))
	s.SetDisplayOrientation(90)
	assert.ErrorIs(t, s.RequestAutoFocus(), scancapture.ErrNotBound)

	_, ok := s.Capabilities()
	assert.False(t, ok)
	assert.Equal(t, scancapture.SessionClosed, s.State())
}

func TestSession_StartPreviewWithoutSurface(t *testing.T) {
	s := scancapture.NewDeviceSession(newDriver(), scancapture.AcquireRetry{})
	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)

	err = s.StartPreview(nil, nopHandler{})
	assert.ErrorIs(t, err, scancapture.ErrNotBound)
	assert.Equal(t, scancapture.SessionOpen, s.State())
}

func TestSession_PreviewToggle(t *testing.T) {
	drv := newDriver()
	s := scancapture.NewDeviceSession(drv, scancapture.AcquireRetry{})
	_, err := s.Acquire(context.Background(), 0)
	require.NoError(t, err)
	dev := drv.Device(0)

	require.NoError(t, s.StartPreview(surface(), nopHandler{}))
	assert.Equal(t, scancapture.SessionPreviewing, s.State())
	assert.True(t, dev.Previewing())
	assert.True(t, dev.HasHandler())

	require.NoError(t, s.StopPreview())
	assert.Equal(t, scancapture.SessionOpen, s.State())
	assert.False(t, dev.Previewing())
	assert.False(t, dev.HasHandler())

	assert.NoError(t, s.StopPreview(), "stop without preview is a no-op")
}
