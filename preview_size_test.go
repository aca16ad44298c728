package scancapture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var landscape = []Size{{640, 480}, {1280, 720}, {1920, 1080}}

func TestSelectPreviewSize(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Size
		w, h       int
		want       Size
	}{
		{
			name:       "portrait viewport falls back to closest height",
			candidates: landscape,
			w:          1080, h: 1920,
			want: Size{1920, 1080},
		},
		{
			name:       "landscape 16:9 viewport matches ratio",
			candidates: landscape,
			w:          1280, h: 720,
			want: Size{1280, 720},
		},
		{
			name:       "ratio filter beats closer height",
			candidates: []Size{{900, 880}, {1280, 720}},
			w:          1600, h: 900,
			want: Size{1280, 720},
		},
		{
			name:       "4:3 viewport",
			candidates: landscape,
			w:          800, h: 600,
			want: Size{640, 480},
		},
		{
			name:       "tie keeps first candidate",
			candidates: []Size{{1000, 550}, {1100, 650}},
			w:          1000, h: 600,
			want: Size{1000, 550},
		},
		{
			name:       "zero width viewport uses height only",
			candidates: landscape,
			w:          0, h: 700,
			want: Size{1280, 720},
		},
		{
			name:       "single candidate",
			candidates: []Size{{320, 240}},
			w:          1080, h: 1920,
			want: Size{320, 240},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectPreviewSize(tt.candidates, tt.w, tt.h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectPreviewSize_NoCandidates(t *testing.T) {
	_, err := SelectPreviewSize(nil, 1080, 1920)
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = SelectPreviewSize([]Size{}, 0, 0)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestSelectPreviewSize_Idempotent(t *testing.T) {
	viewports := [][2]int{{1080, 1920}, {1920, 1080}, {640, 480}, {1, 1}, {0, 0}}
	for _, vp := range viewports {
		first, err1 := SelectPreviewSize(landscape, vp[0], vp[1])
		second, err2 := SelectPreviewSize(landscape, vp[0], vp[1])
		assert.Equal(t, err1, err2)
		assert.Equal(t, first, second)
	}
}

func TestSelectPreviewSize_FallbackAlwaysAnswers(t *testing.T) {
	// no candidate is within tolerance of a 10:1 portrait viewport
	got, err := SelectPreviewSize(landscape, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, Size{1920, 1080}, got)
}
