// Package state persists the selected device index across restarts.
//
// The device index is the only state that survives a teardown of the
// capture pipeline; it is written as a small YAML document.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// State is the persisted document.
type State struct {
	DeviceIndex int       `yaml:"device_index"`
	SavedAt     time.Time `yaml:"saved_at"`
}

// Load reads the state file. ok is false when the file does not exist.
func Load(path string) (idx scancapture.DeviceIndex, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return scancapture.NoDevice, false, nil
	}
	if err != nil {
		return scancapture.NoDevice, false, fmt.Errorf("state: read %s: %w", path, err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return scancapture.NoDevice, false, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if st.DeviceIndex < int(scancapture.NoDevice) {
		return scancapture.NoDevice, false, fmt.Errorf("state: invalid device_index %d", st.DeviceIndex)
	}

	return scancapture.DeviceIndex(st.DeviceIndex), true, nil
}

// Save writes the state file atomically (temp file + rename).
func Save(path string, idx scancapture.DeviceIndex) error {
	data, err := yaml.Marshal(State{DeviceIndex: int(idx), SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
