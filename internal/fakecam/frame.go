package fakecam

import (
	"fmt"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Blank returns a mid-grey NV21 frame of width×height.
func Blank(width, height int) []byte {
	buf := make([]byte, width*height*3/2)
	for i := range buf {
		buf[i] = 128
	}
	return buf
}

// RenderQR returns an NV21 frame of width×height with text encoded as a
// QR code centered on a white background. The luminance plane carries the
// code; the chroma plane is neutral.
func RenderQR(text string, width, height int) ([]byte, error) {
	return RenderQRs([]string{text}, width, height)
}

// RenderQRs is RenderQR for several codes. The frame is split into equal
// columns, one code centered in each, left to right.
func RenderQRs(texts []string, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("fakecam: invalid frame size %dx%d", width, height)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("fakecam: no text to encode")
	}

	cell := width / len(texts)
	side := cell
	if height < side {
		side = height
	}
	side = side * 3 / 4

	buf := make([]byte, width*height*3/2)
	luma := buf[:width*height]
	for i := range luma {
		luma[i] = 255
	}
	for i := width * height; i < len(buf); i++ {
		buf[i] = 128
	}

	for n, text := range texts {
		matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, side, side, nil)
		if err != nil {
			return nil, fmt.Errorf("fakecam: encode qr %q: %w", text, err)
		}

		mw, mh := matrix.GetWidth(), matrix.GetHeight()
		left := n*cell + (cell-mw)/2
		top := (height - mh) / 2
		for y := 0; y < mh; y++ {
			py := top + y
			if py < 0 || py >= height {
				continue
			}
			for x := 0; x < mw; x++ {
				px := left + x
				if px < n*cell || px >= (n+1)*cell || px >= width {
					continue
				}
				if matrix.Get(x, y) {
					luma[py*width+px] = 0
				}
			}
		}
	}

	return buf, nil
}
