// Package scancapture drives a camera through its acquire/preview/release
// lifecycle and feeds live preview frames to a barcode/QR decoder.
//
// This module is part of Orion 2.0 and implements the "Symbol Scan" bounded
// context: a single-camera capture pipeline whose preview follows a host
// rendering surface it does not control, with display-orientation
// correction, preview-resolution negotiation and a continuous decode loop.
//
// # Quick Start
//
//	ctrl, err := scancapture.NewController(scancapture.ControllerConfig{
//	    Driver:      gstcam.NewDriver(profiles),
//	    Decoder:     zxdecode.New(zxdecode.Config{}),
//	    Listener:    scancapture.ListenerFunc(func(text string) { fmt.Println(text) }),
//	    DeviceIndex: 0,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	ctrl.SurfaceCreated(surface) // host surface is ready
//	ctrl.OnHostResume()          // acquire device 0, configure, preview
//	...
//	ctrl.OnHostPause()           // release the device
//
// # Components
//
//   - ResolveOrientation: host rotation + mount angle + facing → display orientation
//   - SelectPreviewSize: candidate resolutions + viewport → best-fit resolution
//   - DeviceSession: the single open camera handle (Closed → Opening → Open ⇄ Previewing)
//   - SurfaceBinding: surface created/changed/destroyed → preview start/stop
//   - ScanPipeline: frames → Decoder → Listener, plus the autofocus loop
//   - Controller: host pause/resume, device switching, rotation changes
//
// # Lifecycle
//
// Host-visible states:
//
//	Idle ──SurfaceCreated──▶ SurfaceReady ──device open──▶ Previewing
//	  ▲                          │  ▲                          │
//	  └────SurfaceDestroyed──────┘  └──OnHostPause/Destroyed───┘
//
// The controller starts paused. OnHostResume acquires the stored device
// index; OnHostPause releases it. SurfaceDestroyed stops the preview but
// leaves the device open (screen lock does not release the camera).
// SetDeviceIndex with the current index does nothing; any other index
// releases the current device first.
//
// # Frame Hand-off
//
// Frames arrive on driver goroutines through the FrameHandler interface.
// The pipeline keeps a single-slot mailbox: a frame that arrives while the
// previous one is still decoding replaces any unconsumed frame. Recency
// beats completeness; drops are counted in PipelineStats.FramesDropped.
//
// Every symbol of every decoded frame reaches the Listener, in decoder
// order. Repeated payloads are not suppressed; wrap the listener with Dedup
// for that.
//
// # Autofocus
//
// AutoFocusLoop (default) requests autofocus when the preview starts and
// again AutoFocusInterval (1s) after each completion, until the preview
// stops. AutoFocusOnce issues only the first request; AutoFocusOff none.
//
// # Error Handling
//
// Errors are matched with errors.Is against:
//
//   - ErrDeviceUnavailable: open failed (busy, absent, permission)
//   - ErrNotBound: a surface or device is required but missing
//   - ErrConfigurationRejected: driver refused parameters (defaults restored)
//   - ErrNoCandidates: no preview sizes to choose from (pipeline stays idle)
//   - ErrDecodeTransient: one frame failed to decode (skipped)
//
// Steady-state driver failures are logged and degraded, never propagated to
// the host. Only acquisition failures and ErrNoCandidates are returned by
// the controller and recorded in Stats.LastError. There is no automatic
// re-acquire; call SetDeviceIndex or OnHostResume again.
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use and serialized by one
// mutex. Listener calls run on the decode goroutine unless a Dispatcher is
// configured; a Listener must not block and must not call Controller
// methods other than ActiveDevice.
package scancapture
