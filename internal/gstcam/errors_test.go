package gstcam

import (
	"testing"

	"github.com/stretchr/testify/assert"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		debug string
		want  ErrorCategory
	}{
		{"busy", "Device '/dev/video0' is busy", "", ErrCategoryDevice},
		{"missing", "Cannot identify device '/dev/video9'.", "No such file or directory", ErrCategoryDevice},
		{"permission", "Could not open device '/dev/video0' for reading and writing.", "Permission denied", ErrCategoryDevice},
		{"not negotiated", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryNegotiation},
		{"caps", "Device does not support the requested caps", "", ErrCategoryNegotiation},
		{"other", "Internal data stream error.", "streaming stopped, reason error (-5)", ErrCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.msg, tt.debug))
		})
	}
}

func TestErrorCategory_Sentinel(t *testing.T) {
	assert.ErrorIs(t, ErrCategoryDevice.Sentinel(), scancapture.ErrDeviceUnavailable)
	assert.ErrorIs(t, ErrCategoryNegotiation.Sentinel(), scancapture.ErrConfigurationRejected)
	assert.NoError(t, ErrCategoryUnknown.Sentinel())
	assert.Equal(t, ErrCategoryUnknown, Classify(nil))
}

func TestErrorCategory_String(t *testing.T) {
	assert.Equal(t, "device", ErrCategoryDevice.String())
	assert.Equal(t, "negotiation", ErrCategoryNegotiation.String())
	assert.Equal(t, "unknown", ErrCategoryUnknown.String())
}
