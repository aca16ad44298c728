package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// Config represents the complete scan-capture configuration
type Config struct {
	InstanceID string        `yaml:"instance_id"`
	Camera     CameraConfig  `yaml:"camera"`
	Surface    SurfaceConfig `yaml:"surface"`
	Scan       ScanConfig    `yaml:"scan"`
	Acquire    AcquireConfig `yaml:"acquire"`
	StateFile  string        `yaml:"state_file"` // device index persistence (empty = disabled)
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Log        LogConfig     `yaml:"log"`
}

// CameraConfig contains camera selection and device profiles
type CameraConfig struct {
	DeviceIndex  int            `yaml:"device_index"`  // -1 = no camera selected
	HostRotation int            `yaml:"host_rotation"` // 0, 90, 180, 270
	FocusMode    string         `yaml:"focus_mode"`    // requested when supported (default: auto)
	FlashMode    string         `yaml:"flash_mode"`    // requested when supported (default: auto)
	Devices      []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one physical camera
type DeviceConfig struct {
	Index        int      `yaml:"index"`
	Path         string   `yaml:"path"`          // e.g. /dev/video0
	Facing       string   `yaml:"facing"`        // front, back
	MountDegrees int      `yaml:"mount_degrees"` // 0, 90, 180, 270
	FocusModes   []string `yaml:"focus_modes"`
	FlashModes   []string `yaml:"flash_modes"`
	PreviewSizes []string `yaml:"preview_sizes"` // "WxH", fallback when caps cannot be queried
	DefaultSize  string   `yaml:"default_size"`  // "WxH"
	DefaultFocus string   `yaml:"default_focus"`
	DefaultFlash string   `yaml:"default_flash"`
}

// SurfaceConfig sizes the virtual rendering surface
type SurfaceConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Sink   string `yaml:"sink"` // GStreamer sink element for the preview branch
}

// ScanConfig contains decoder and autofocus settings
type ScanConfig struct {
	AutoFocus           string   `yaml:"autofocus"` // loop, once, off
	AutoFocusIntervalMS int      `yaml:"autofocus_interval_ms"`
	Formats             []string `yaml:"formats"`
	TryHarder           bool     `yaml:"try_harder"`
	Dedup               bool     `yaml:"dedup"` // suppress consecutive identical payloads
}

// AcquireConfig contains busy-device retry settings
type AcquireConfig struct {
	Retries         int `yaml:"retries"`
	RetryDelayMS    int `yaml:"retry_delay_ms"`
	MaxRetryDelayMS int `yaml:"max_retry_delay_ms"`
}

// MQTTConfig contains MQTT broker settings (empty broker = disabled)
type MQTTConfig struct {
	Broker          string          `yaml:"broker"`
	ClientID        string          `yaml:"client_id"`
	Topics          MQTTTopics      `yaml:"topics"`
	QoS             map[string]byte `yaml:"qos"`
	Encoding        string          `yaml:"encoding"` // msgpack, json
	HealthIntervalS int             `yaml:"health_interval_s"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Symbols   string `yaml:"symbols"`
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
	Health    string `yaml:"health"`
}

// MetricsConfig contains the Prometheus endpoint (empty listen = disabled)
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig contains slog handler settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ParseSize parses "WxH" into a Size
func ParseSize(s string) (scancapture.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return scancapture.Size{}, fmt.Errorf("size %q must be WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return scancapture.Size{}, fmt.Errorf("size %q: invalid width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return scancapture.Size{}, fmt.Errorf("size %q: invalid height", s)
	}
	return scancapture.Size{Width: width, Height: height}, nil
}

// Capabilities converts the profile into a capability snapshot
func (d DeviceConfig) Capabilities() (scancapture.CameraCapabilities, error) {
	facing, err := scancapture.ParseFacing(d.Facing)
	if err != nil {
		return scancapture.CameraCapabilities{}, err
	}

	sizes := make([]scancapture.Size, 0, len(d.PreviewSizes))
	for _, s := range d.PreviewSizes {
		size, err := ParseSize(s)
		if err != nil {
			return scancapture.CameraCapabilities{}, err
		}
		sizes = append(sizes, size)
	}

	return scancapture.CameraCapabilities{
		Facing:       facing,
		MountDegrees: d.MountDegrees,
		PreviewSizes: sizes,
		FocusModes:   append([]string(nil), d.FocusModes...),
		FlashModes:   append([]string(nil), d.FlashModes...),
	}, nil
}

// Defaults returns the parameter set the device starts with
func (d DeviceConfig) Defaults() scancapture.SessionParameters {
	p := scancapture.SessionParameters{
		FocusMode: d.DefaultFocus,
		FlashMode: d.DefaultFlash,
	}
	if size, err := ParseSize(d.DefaultSize); err == nil {
		p.PreviewSize = size
	}
	return p
}

// Rotation returns the configured host rotation
func (c CameraConfig) Rotation() scancapture.Rotation {
	r, _ := scancapture.RotationFromDegrees(c.HostRotation)
	return r
}

// AutoFocusMode returns the parsed autofocus mode
func (s ScanConfig) AutoFocusMode() scancapture.AutoFocusMode {
	m, _ := scancapture.ParseAutoFocusMode(s.AutoFocus)
	return m
}

// AutoFocusInterval returns the autofocus re-arm delay
func (s ScanConfig) AutoFocusInterval() time.Duration {
	return time.Duration(s.AutoFocusIntervalMS) * time.Millisecond
}

// Retry converts the acquire section
func (a AcquireConfig) Retry() scancapture.AcquireRetry {
	return scancapture.AcquireRetry{
		Attempts: a.Retries,
		Delay:    time.Duration(a.RetryDelayMS) * time.Millisecond,
		MaxDelay: time.Duration(a.MaxRetryDelayMS) * time.Millisecond,
	}
}

// HealthInterval returns the health publishing period
func (m MQTTConfig) HealthInterval() time.Duration {
	return time.Duration(m.HealthIntervalS) * time.Second
}
