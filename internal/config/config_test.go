package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

const minimal = `
instance_id: scanner-test
camera:
  devices:
    - index: 0
      path: /dev/video0
      preview_sizes: ["640x480"]
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Camera.DeviceIndex)
	assert.Equal(t, "back", cfg.Camera.Devices[0].Facing)
	assert.Equal(t, scancapture.FocusAuto, cfg.Camera.FocusMode)
	assert.Equal(t, scancapture.FlashAuto, cfg.Camera.FlashMode)
	assert.Equal(t, 1280, cfg.Surface.Width)
	assert.Equal(t, 720, cfg.Surface.Height)
	assert.Equal(t, "fakesink", cfg.Surface.Sink)
	assert.Equal(t, "loop", cfg.Scan.AutoFocus)
	assert.Equal(t, time.Second, cfg.Scan.AutoFocusInterval())
	assert.Equal(t, scancapture.AcquireRetry{Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}, cfg.Acquire.Retry())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.MQTT.Topics.Symbols, "mqtt disabled without broker")
}

func TestParse_MQTTDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal + "mqtt:\n  broker: tcp://broker:1883\n"))
	require.NoError(t, err)

	assert.Equal(t, "scan-capture-scanner-test", cfg.MQTT.ClientID)
	assert.Equal(t, "care/scans/scanner-test", cfg.MQTT.Topics.Symbols)
	assert.Equal(t, "care/control/scanner-test", cfg.MQTT.Topics.Control)
	assert.Equal(t, "care/control/scanner-test/responses", cfg.MQTT.Topics.Responses)
	assert.Equal(t, "care/health/scanner-test", cfg.MQTT.Topics.Health)
	assert.Equal(t, "msgpack", cfg.MQTT.Encoding)
	assert.Equal(t, byte(1), cfg.MQTT.QoS["symbols"])
	assert.Equal(t, 10*time.Second, cfg.MQTT.HealthInterval())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing instance", func(c *Config) { c.InstanceID = "" }, "instance_id is required"},
		{"bad instance", func(c *Config) { c.InstanceID = "Scanner_01" }, "instance_id must match"},
		{"bad rotation", func(c *Config) { c.Camera.HostRotation = 45 }, "host_rotation"},
		{"bad index", func(c *Config) { c.Camera.DeviceIndex = -2 }, "device_index must be >= -1"},
		{"unknown device", func(c *Config) { c.Camera.DeviceIndex = 3 }, "not found in devices"},
		{"no devices", func(c *Config) { c.Camera.Devices = nil }, "at least one device"},
		{"no path", func(c *Config) { c.Camera.Devices[0].Path = "" }, "path is required"},
		{"bad facing", func(c *Config) { c.Camera.Devices[0].Facing = "side" }, "invalid facing"},
		{"bad mount", func(c *Config) { c.Camera.Devices[0].MountDegrees = 30 }, "mount_degrees"},
		{"bad size", func(c *Config) { c.Camera.Devices[0].PreviewSizes = []string{"640by480"} }, "must be WxH"},
		{"duplicate device", func(c *Config) {
			c.Camera.Devices = append(c.Camera.Devices, c.Camera.Devices[0])
		}, "duplicate index"},
		{"bad autofocus", func(c *Config) { c.Scan.AutoFocus = "sometimes" }, "scan.autofocus"},
		{"bad format", func(c *Config) { c.Scan.Formats = []string{"HOLOGRAM"} }, "scan.formats"},
		{"negative retries", func(c *Config) { c.Acquire.Retries = -1 }, "acquire.retries"},
		{"bad encoding", func(c *Config) {
			c.MQTT.Broker = "tcp://x:1883"
			c.MQTT.Encoding = "xml"
		}, "encoding"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimal))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDeviceConfig_Conversion(t *testing.T) {
	d := DeviceConfig{
		Index:        1,
		Path:         "/dev/video2",
		Facing:       "front",
		MountDegrees: 270,
		FocusModes:   []string{"fixed"},
		PreviewSizes: []string{"640x480", "1280X720"},
		DefaultSize:  "640x480",
		DefaultFocus: "fixed",
	}

	caps, err := d.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, scancapture.FacingFront, caps.Facing)
	assert.Equal(t, 270, caps.MountDegrees)
	assert.Equal(t, []scancapture.Size{{Width: 640, Height: 480}, {Width: 1280, Height: 720}}, caps.PreviewSizes)

	def := d.Defaults()
	assert.Equal(t, scancapture.Size{Width: 640, Height: 480}, def.PreviewSize)
	assert.Equal(t, "fixed", def.FocusMode)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "scan-capture.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "scanner-01", cfg.InstanceID)
	assert.Len(t, cfg.Camera.Devices, 2)
	assert.Equal(t, scancapture.AutoFocusLoop, cfg.Scan.AutoFocusMode())
	assert.Equal(t, scancapture.Rotation0, cfg.Camera.Rotation())
	assert.Equal(t, scancapture.FocusAuto, cfg.Camera.FocusMode)
	assert.True(t, cfg.Scan.Dedup)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
