package zxdecode

import (
	"errors"
	"testing"

	"github.com/makiuchi-d/gozxing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/fakecam"
)

func TestScan_DecodesRenderedQR(t *testing.T) {
	dec, err := New(Config{Formats: []string{"QR_CODE"}})
	require.NoError(t, err)

	tests := []struct {
		name          string
		text          string
		width, height int
	}{
		{"vga", "https://example.com/item/42", 640, 480},
		{"hd", "ORDER-0001", 1280, 720},
		{"portrait", "hello scanner", 480, 640},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := fakecam.RenderQR(tt.text, tt.width, tt.height)
			require.NoError(t, err)

			symbols, err := dec.Scan(scancapture.FrameBuffer{Data: data, Width: tt.width, Height: tt.height})
			require.NoError(t, err)
			require.Len(t, symbols, 1)
			assert.Equal(t, tt.text, symbols[0].Text)
			assert.Equal(t, "QR_CODE", symbols[0].Format)
		})
	}
}

func TestScan_DecodesEveryQRInFrame(t *testing.T) {
	dec, err := New(Config{Formats: []string{"QR_CODE"}})
	require.NoError(t, err)

	tests := []struct {
		name          string
		texts         []string
		width, height int
	}{
		{"two", []string{"SHELF-A1", "SHELF-B2"}, 1280, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := fakecam.RenderQRs(tt.texts, tt.width, tt.height)
			require.NoError(t, err)

			symbols, err := dec.Scan(scancapture.FrameBuffer{Data: data, Width: tt.width, Height: tt.height})
			require.NoError(t, err)

			var got []string
			for _, s := range symbols {
				assert.Equal(t, "QR_CODE", s.Format)
				got = append(got, s.Text)
			}
			assert.ElementsMatch(t, tt.texts, got)
		})
	}
}

func TestDecode_ReaderErrorKeepsOtherSymbols(t *testing.T) {
	failing := readerFunc(func(*gozxing.BinaryBitmap, map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
		return nil, errors.New("reader exploded")
	})
	nothing := readerFunc(func(*gozxing.BinaryBitmap, map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
		return nil, gozxing.NewNotFoundException()
	})
	found := readerFunc(func(*gozxing.BinaryBitmap, map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
		return []*gozxing.Result{gozxing.NewResult("ITEM-7", nil, nil, gozxing.BarcodeFormat_CODE_128)}, nil
	})

	tests := []struct {
		name      string
		readers   []symbolReader
		wantTexts []string
		wantErr   bool
	}{
		{"error then symbol", []symbolReader{failing, found}, []string{"ITEM-7"}, false},
		{"symbol then error", []symbolReader{found, failing}, []string{"ITEM-7"}, false},
		{"error only", []symbolReader{nothing, failing}, nil, true},
		{"nothing found", []symbolReader{nothing, nothing}, nil, false},
	}

	data := fakecam.Blank(64, 48)
	src, err := gozxing.NewPlanarYUVLuminanceSource(data, 64, 48, 0, 0, 64, 48, false)
	require.NoError(t, err)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decoder{readers: tt.readers}

			symbols, err := d.decode(bmp)
			if tt.wantErr {
				assert.ErrorIs(t, err, scancapture.ErrDecodeTransient)
				assert.ErrorContains(t, err, "reader exploded")
				assert.Empty(t, symbols)
				return
			}
			require.NoError(t, err)

			var got []string
			for _, s := range symbols {
				got = append(got, s.Text)
			}
			assert.Equal(t, tt.wantTexts, got)
		})
	}
}

func TestScan_BlankFrameFindsNothing(t *testing.T) {
	dec, err := New(Config{})
	require.NoError(t, err)

	symbols, err := dec.Scan(scancapture.FrameBuffer{Data: fakecam.Blank(320, 240), Width: 320, Height: 240})
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestScan_ShortFrameIsTransient(t *testing.T) {
	dec, err := New(Config{})
	require.NoError(t, err)

	_, err = dec.Scan(scancapture.FrameBuffer{Data: make([]byte, 10), Width: 320, Height: 240})
	assert.ErrorIs(t, err, scancapture.ErrDecodeTransient)

	_, err = dec.Scan(scancapture.FrameBuffer{})
	assert.ErrorIs(t, err, scancapture.ErrDecodeTransient)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Formats: []string{"QR_CODE", "HOLOGRAM"}})
	assert.ErrorContains(t, err, "HOLOGRAM")

	_, err = New(Config{Formats: []string{"qr_code", "ean_13"}})
	assert.NoError(t, err, "format names are case-insensitive")
}
