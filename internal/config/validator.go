package config

import (
	"fmt"
	"regexp"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/zxdecode"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	// Surface defaults
	if cfg.Surface.Width <= 0 {
		cfg.Surface.Width = 1280
	}
	if cfg.Surface.Height <= 0 {
		cfg.Surface.Height = 720
	}
	if cfg.Surface.Sink == "" {
		cfg.Surface.Sink = "fakesink"
	}

	// Scan
	if _, err := scancapture.ParseAutoFocusMode(cfg.Scan.AutoFocus); err != nil {
		return fmt.Errorf("scan.autofocus: %w", err)
	}
	if cfg.Scan.AutoFocus == "" {
		cfg.Scan.AutoFocus = "loop"
	}
	if cfg.Scan.AutoFocusIntervalMS <= 0 {
		cfg.Scan.AutoFocusIntervalMS = int(scancapture.DefaultAutoFocusInterval.Milliseconds())
	}
	if err := zxdecode.ValidateFormats(cfg.Scan.Formats); err != nil {
		return fmt.Errorf("scan.formats: %w", err)
	}

	// Acquire
	if cfg.Acquire.Retries < 0 {
		return fmt.Errorf("acquire.retries must be >= 0")
	}
	if cfg.Acquire.RetryDelayMS <= 0 {
		cfg.Acquire.RetryDelayMS = 200
	}
	if cfg.Acquire.MaxRetryDelayMS <= 0 {
		cfg.Acquire.MaxRetryDelayMS = 2000
	}

	if err := validateMQTT(cfg); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Log
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.DeviceIndex < int(scancapture.NoDevice) {
		return fmt.Errorf("device_index must be >= -1, got %d", c.DeviceIndex)
	}
	if _, err := scancapture.RotationFromDegrees(c.HostRotation); err != nil {
		return fmt.Errorf("host_rotation: %w", err)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	if c.FocusMode == "" {
		c.FocusMode = scancapture.FocusAuto
	}
	if c.FlashMode == "" {
		c.FlashMode = scancapture.FlashAuto
	}

	seen := make(map[int]bool)
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Index < 0 {
			return fmt.Errorf("device %d: index must be >= 0", i)
		}
		if seen[d.Index] {
			return fmt.Errorf("device %d: duplicate index %d", i, d.Index)
		}
		seen[d.Index] = true

		if d.Path == "" {
			return fmt.Errorf("device %d: path is required", d.Index)
		}
		if d.Facing == "" {
			d.Facing = "back"
		}
		if _, err := scancapture.RotationFromDegrees(d.MountDegrees); err != nil {
			return fmt.Errorf("device %d: mount_degrees: %w", d.Index, err)
		}
		if _, err := d.Capabilities(); err != nil {
			return fmt.Errorf("device %d: %w", d.Index, err)
		}
		if d.DefaultSize != "" {
			if _, err := ParseSize(d.DefaultSize); err != nil {
				return fmt.Errorf("device %d: default_size: %w", d.Index, err)
			}
		}
	}

	if c.DeviceIndex >= 0 && !seen[c.DeviceIndex] {
		return fmt.Errorf("device_index %d not found in devices", c.DeviceIndex)
	}
	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT
	if m.Broker == "" {
		return nil
	}

	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("scan-capture-%s", cfg.InstanceID)
	}

	// Set default topics if not provided
	if m.Topics.Symbols == "" {
		m.Topics.Symbols = fmt.Sprintf("care/scans/%s", cfg.InstanceID)
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("care/control/%s", cfg.InstanceID)
	}
	if m.Topics.Responses == "" {
		m.Topics.Responses = fmt.Sprintf("care/control/%s/responses", cfg.InstanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("care/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"symbols": 1,
			"control": 1,
			"health":  0,
		}
	}
	for topic, qos := range m.QoS {
		if qos > 2 {
			return fmt.Errorf("qos %q must be 0, 1 or 2", topic)
		}
	}

	switch m.Encoding {
	case "":
		m.Encoding = "msgpack"
	case "msgpack", "json":
	default:
		return fmt.Errorf("encoding must be msgpack or json")
	}

	if m.HealthIntervalS <= 0 {
		m.HealthIntervalS = 10
	}
	return nil
}
