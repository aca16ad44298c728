// Package zxdecode adapts the zxing port github.com/makiuchi-d/gozxing to
// the scancapture.Decoder interface.
package zxdecode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// Config selects the symbologies and effort of the decoder.
type Config struct {
	// Formats lists zxing format names (QR_CODE, DATA_MATRIX, EAN_13, CODE_128, ...).
	// Empty means QR_CODE plus every 1D format.
	Formats []string
	// TryHarder trades speed for accuracy
	TryHarder bool
}

var formatNames = map[string]gozxing.BarcodeFormat{
	"QR_CODE":     gozxing.BarcodeFormat_QR_CODE,
	"DATA_MATRIX": gozxing.BarcodeFormat_DATA_MATRIX,
	"EAN_13":      gozxing.BarcodeFormat_EAN_13,
	"EAN_8":       gozxing.BarcodeFormat_EAN_8,
	"UPC_A":       gozxing.BarcodeFormat_UPC_A,
	"UPC_E":       gozxing.BarcodeFormat_UPC_E,
	"CODE_39":     gozxing.BarcodeFormat_CODE_39,
	"CODE_93":     gozxing.BarcodeFormat_CODE_93,
	"CODE_128":    gozxing.BarcodeFormat_CODE_128,
	"ITF":         gozxing.BarcodeFormat_ITF,
	"CODABAR":     gozxing.BarcodeFormat_CODABAR,
}

var oneDFormats = map[gozxing.BarcodeFormat]bool{
	gozxing.BarcodeFormat_EAN_13:   true,
	gozxing.BarcodeFormat_EAN_8:    true,
	gozxing.BarcodeFormat_UPC_A:    true,
	gozxing.BarcodeFormat_UPC_E:    true,
	gozxing.BarcodeFormat_CODE_39:  true,
	gozxing.BarcodeFormat_CODE_93:  true,
	gozxing.BarcodeFormat_CODE_128: true,
	gozxing.BarcodeFormat_ITF:      true,
	gozxing.BarcodeFormat_CODABAR:  true,
}

// ValidateFormats reports the first unknown format name.
func ValidateFormats(names []string) error {
	for _, n := range names {
		if _, ok := formatNames[strings.ToUpper(n)]; !ok {
			return fmt.Errorf("zxdecode: unknown format %q", n)
		}
	}
	return nil
}

// symbolReader decodes zero or more symbols from one bitmap.
type symbolReader interface {
	read(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)
}

// singleReader wraps a zxing reader that finds at most one symbol.
type singleReader struct {
	r gozxing.Reader
}

func (s singleReader) read(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
	defer s.r.Reset()
	result, err := s.r.Decode(bmp, hints)
	if err != nil {
		return nil, err
	}
	return []*gozxing.Result{result}, nil
}

// qrReader finds every QR code in the bitmap. An empty multi result falls
// back to the single-code reader.
type qrReader struct {
	multi  multi.MultipleBarcodeReader
	single singleReader
}

func newQRReader() qrReader {
	return qrReader{
		multi:  multiqr.NewQRCodeMultiReader(),
		single: singleReader{r: qrcode.NewQRCodeReader()},
	}
}

func (q qrReader) read(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
	results, err := q.multi.DecodeMultiple(bmp, hints)
	if err == nil && len(results) > 0 {
		return results, nil
	}
	if err != nil && !noSymbol(err) {
		return nil, err
	}
	return q.single.read(bmp, hints)
}

// readerFunc adapts a function to symbolReader.
type readerFunc func(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)

func (f readerFunc) read(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
	return f(bmp, hints)
}

// Decoder implements scancapture.Decoder. Readers run in a fixed order
// (QR, Data Matrix, 1D), so symbols come back in that order. The QR reader
// returns every code it detects; Data Matrix and 1D contribute at most one
// symbol per frame.
//
// Decoder is not safe for concurrent use; the scan pipeline calls it from a
// single goroutine.
type Decoder struct {
	readers []symbolReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// New creates a decoder for cfg. Unknown format names are an error.
func New(cfg Config) (*Decoder, error) {
	if err := ValidateFormats(cfg.Formats); err != nil {
		return nil, err
	}

	wanted := make(map[gozxing.BarcodeFormat]bool)
	if len(cfg.Formats) == 0 {
		wanted[gozxing.BarcodeFormat_QR_CODE] = true
		for f := range oneDFormats {
			wanted[f] = true
		}
	}
	for _, n := range cfg.Formats {
		wanted[formatNames[strings.ToUpper(n)]] = true
	}

	hints := make(map[gozxing.DecodeHintType]interface{})
	if cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	var oned1D []gozxing.BarcodeFormat
	for f := range wanted {
		if oneDFormats[f] {
			oned1D = append(oned1D, f)
		}
	}

	d := &Decoder{hints: hints}
	if wanted[gozxing.BarcodeFormat_QR_CODE] {
		d.readers = append(d.readers, newQRReader())
	}
	if wanted[gozxing.BarcodeFormat_DATA_MATRIX] {
		d.readers = append(d.readers, singleReader{r: datamatrix.NewDataMatrixReader()})
	}
	if len(oned1D) > 0 {
		oneDHints := map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_POSSIBLE_FORMATS: oned1D,
		}
		if cfg.TryHarder {
			oneDHints[gozxing.DecodeHintType_TRY_HARDER] = true
		}
		d.readers = append(d.readers, singleReader{r: oned.NewMultiFormatOneDReader(oneDHints)})
	}

	return d, nil
}

// Scan implements scancapture.Decoder.
//
// The first Width×Height bytes of the frame are read as the luminance plane
// (NV21, NV12, I420 and GREY all start with it). Frames too short for
// their dimensions fail with ErrDecodeTransient.
func (d *Decoder) Scan(buf scancapture.FrameBuffer) ([]scancapture.DecodedSymbol, error) {
	if buf.Width <= 0 || buf.Height <= 0 || len(buf.Data) < buf.Width*buf.Height {
		return nil, fmt.Errorf("%w: frame %dx%d with %d bytes",
			scancapture.ErrDecodeTransient, buf.Width, buf.Height, len(buf.Data))
	}

	src, err := gozxing.NewPlanarYUVLuminanceSource(
		buf.Data, buf.Width, buf.Height, 0, 0, buf.Width, buf.Height, false)
	if err != nil {
		return nil, fmt.Errorf("%w: luminance source: %w", scancapture.ErrDecodeTransient, err)
	}

	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, fmt.Errorf("%w: binarize: %w", scancapture.ErrDecodeTransient, err)
	}

	return d.decode(bmp)
}

// decode runs every reader. A reader failure does not stop the others;
// it is reported only when no reader found anything.
func (d *Decoder) decode(bmp *gozxing.BinaryBitmap) ([]scancapture.DecodedSymbol, error) {
	var (
		symbols  []scancapture.DecodedSymbol
		firstErr error
	)
	for _, r := range d.readers {
		results, err := r.read(bmp, d.hints)
		if err != nil {
			if !noSymbol(err) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, result := range results {
			symbols = append(symbols, scancapture.DecodedSymbol{
				Text:   result.GetText(),
				Format: result.GetBarcodeFormat().String(),
			})
		}
	}

	if len(symbols) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %w", scancapture.ErrDecodeTransient, firstErr)
	}
	return symbols, nil
}

// noSymbol reports whether err only means "nothing recognizable here".
func noSymbol(err error) bool {
	var (
		notFound gozxing.NotFoundException
		checksum gozxing.ChecksumException
		format   gozxing.FormatException
	)
	return errors.As(err, &notFound) || errors.As(err, &checksum) || errors.As(err, &format)
}
