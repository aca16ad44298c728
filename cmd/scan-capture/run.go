package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/fakecam"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/gstcam"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/state"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/zxdecode"
)

const (
	surfaceFormat = "NV21"
	fakeFPS       = 10
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scanner host",
		Long: `Start the scanner host.

Signals:
  SIGUSR1   pause (release the camera)
  SIGUSR2   resume (re-acquire the camera)
  SIGINT    shut down
  SIGTERM   shut down`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, fake, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			payloads, _ := cmd.Flags().GetStringSlice("payload")
			setupLogger(cfg.Log)
			return run(cfg, fake, payloads)
		},
	}
	cmd.Flags().StringSlice("payload", []string{"scan-capture-demo"}, "QR payloads rendered by the synthetic camera (--fake)")
	return cmd
}

func run(cfg *config.Config, fake bool, payloads []string) error {
	slog.Info("scan-capture: starting",
		"instance_id", cfg.InstanceID,
		"fake", fake,
		"devices", len(cfg.Camera.Devices),
		"version", version,
	)

	driver, err := newDriver(cfg, fake, payloads)
	if err != nil {
		return err
	}

	decoder, err := zxdecode.New(zxdecode.Config{Formats: cfg.Scan.Formats, TryHarder: cfg.Scan.TryHarder})
	if err != nil {
		return err
	}

	index := deviceIndex(cfg.Camera.DeviceIndex)
	if cfg.StateFile != "" {
		saved, ok, err := state.Load(cfg.StateFile)
		switch {
		case err != nil:
			slog.Warn("scan-capture: ignoring unreadable state file", "path", cfg.StateFile, "error", err)
		case ok:
			index = saved
			slog.Info("scan-capture: restored device index", "device_index", index, "path", cfg.StateFile)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		ctrl      *scancapture.Controller
		client    mqtt.Client
		emit      *emitter.MQTTEmitter
		listeners = []scancapture.Listener{scancapture.ListenerFunc(func(text string) {
			slog.Info("scan-capture: symbol decoded", "text", text)
		})}
	)

	if cfg.MQTT.Broker != "" {
		client, err = emitter.Connect(cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		emit = emitter.NewMQTTEmitter(client, emitter.Options{
			Instance:    cfg.InstanceID,
			Topic:       cfg.MQTT.Topics.Symbols,
			HealthTopic: cfg.MQTT.Topics.Health,
			QoS:         cfg.MQTT.QoS["symbols"],
			HealthQoS:   cfg.MQTT.QoS["health"],
			Encoding:    cfg.MQTT.Encoding,
			Device:      func() scancapture.DeviceIndex { return ctrl.ActiveDevice() },
		})
		listeners = append(listeners, emit)
	}

	var listener scancapture.Listener = scancapture.Fanout(listeners...)
	if cfg.Scan.Dedup {
		listener = scancapture.Dedup(listener)
	}

	ctrl, err = scancapture.NewController(scancapture.ControllerConfig{
		Driver:            driver,
		Decoder:           decoder,
		Listener:          listener,
		DeviceIndex:       index,
		HostRotation:      cfg.Camera.Rotation(),
		FocusMode:         cfg.Camera.FocusMode,
		FlashMode:         cfg.Camera.FlashMode,
		AutoFocus:         cfg.Scan.AutoFocusMode(),
		AutoFocusInterval: cfg.Scan.AutoFocusInterval(),
		AcquireRetry:      cfg.Acquire.Retry(),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if emit != nil {
		emit.Start(ctx)
		defer emit.Stop()
	}

	surface := newVirtualSurface("scan-capture-"+cfg.InstanceID, cfg.Surface.Sink, cfg.Surface.Width, cfg.Surface.Height)
	ctrl.SurfaceCreated(surface)
	ctrl.SurfaceChanged(surfaceFormat, cfg.Surface.Width, cfg.Surface.Height)
	if err := ctrl.OnHostResume(); err != nil {
		// Not fatal: the host can select another device over the control plane.
		slog.Warn("scan-capture: initial acquire failed", "device_index", index, "error", err)
	}

	if client != nil {
		handler := control.NewHandler(client, control.Options{
			ControlTopic:  cfg.MQTT.Topics.Control,
			ResponseTopic: cfg.MQTT.Topics.Responses,
			QoS:           cfg.MQTT.QoS["control"],
		}, callbacks(ctrl, surface, cfg.StateFile))
		if err := handler.Start(ctx); err != nil {
			return err
		}
		defer handler.Stop()

		go emit.RunHealth(ctx, cfg.MQTT.HealthInterval(), func() interface{} {
			return statusMap(ctrl.Stats())
		})
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, ctrl); err != nil {
				slog.Error("scan-capture: metrics server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGUSR1:
			ctrl.OnHostPause()
		case syscall.SIGUSR2:
			if err := ctrl.OnHostResume(); err != nil {
				slog.Warn("scan-capture: resume failed", "error", err)
			}
		default:
			slog.Info("scan-capture: received shutdown signal", "signal", sig)
			ctrl.OnHostPause()
			saveState(cfg.StateFile, ctrl.DeviceIndex())
			ctrl.SurfaceDestroyed()
			cancel()
			slog.Info("scan-capture: stopped")
			return nil
		}
	}
	return nil
}

// callbacks maps control plane commands onto controller operations.
func callbacks(ctrl *scancapture.Controller, surface *virtualSurface, stateFile string) control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus: func() map[string]interface{} {
			return statusMap(ctrl.Stats())
		},
		OnSetDevice: func(index int) error {
			err := ctrl.SetDeviceIndex(deviceIndex(index))
			saveState(stateFile, ctrl.DeviceIndex())
			return err
		},
		OnPause: func() error {
			ctrl.OnHostPause()
			return nil
		},
		OnResume: ctrl.OnHostResume,
		OnSetRotation: func(degrees int) error {
			r, err := scancapture.RotationFromDegrees(degrees)
			if err != nil {
				return err
			}
			ctrl.SetHostRotation(r)
			return nil
		},
		OnResizeSurface: func(width, height int) error {
			surface.resize(width, height)
			ctrl.SurfaceChanged(surfaceFormat, width, height)
			return nil
		},
	}
}

// newDriver builds the camera driver from the device profiles.
func newDriver(cfg *config.Config, fake bool, payloads []string) (scancapture.Driver, error) {
	if fake {
		profiles := make(map[scancapture.DeviceIndex]fakecam.Profile, len(cfg.Camera.Devices))
		for _, d := range cfg.Camera.Devices {
			caps, err := d.Capabilities()
			if err != nil {
				return nil, fmt.Errorf("device %d: %w", d.Index, err)
			}
			profile := fakecam.DefaultProfile()
			if len(caps.PreviewSizes) == 0 {
				caps.PreviewSizes = profile.Capabilities.PreviewSizes
			}
			profile.Capabilities = caps
			if defaults := d.Defaults(); !defaults.PreviewSize.IsZero() {
				profile.Defaults = defaults
			}
			profile.FPS = fakeFPS
			profile.Payloads = payloads
			profile.AutoFocusDelay = 300 * time.Millisecond
			profiles[deviceIndex(d.Index)] = profile
		}
		return fakecam.NewDriver(profiles), nil
	}

	profiles := make(map[scancapture.DeviceIndex]gstcam.Profile, len(cfg.Camera.Devices))
	for _, d := range cfg.Camera.Devices {
		caps, err := d.Capabilities()
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", d.Index, err)
		}
		profiles[deviceIndex(d.Index)] = gstcam.Profile{
			Path:         d.Path,
			Capabilities: caps,
			Defaults:     d.Defaults(),
		}
	}
	return gstcam.NewDriver(profiles), nil
}

func saveState(path string, index scancapture.DeviceIndex) {
	if path == "" {
		return
	}
	if err := state.Save(path, index); err != nil {
		slog.Warn("scan-capture: failed to save state", "path", path, "error", err)
	}
}

// statusMap flattens controller stats for get_status and health messages.
func statusMap(st scancapture.Stats) map[string]interface{} {
	p := st.Pipeline
	return map[string]interface{}{
		"state":           st.State.String(),
		"session_state":   st.SessionState.String(),
		"device_index":    int(st.DeviceIndex),
		"host_rotation":   st.HostRotation.Degrees(),
		"paused":          st.Paused,
		"surface":         st.Surface,
		"preview_size":    st.Parameters.PreviewSize.String(),
		"focus_mode":      st.Parameters.FocusMode,
		"flash_mode":      st.Parameters.FlashMode,
		"orientation":     st.Parameters.DisplayOrientation,
		"acquire_retries": st.AcquireRetries,
		"last_error":      st.LastError,
		"frames_received": p.FramesReceived,
		"frames_decoded":  p.FramesDecoded,
		"frames_dropped":  p.FramesDropped,
		"decode_errors":   p.DecodeErrors,
		"symbols":         p.SymbolsEmitted,
		"fps":             p.FPSMean,
		"stable":          p.IsStable,
	}
}

func deviceIndex(i int) scancapture.DeviceIndex { return scancapture.DeviceIndex(i) }

func joinSizes(sizes []scancapture.Size) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}
