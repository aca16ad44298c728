package gstcam

import (
	"fmt"
	"strconv"
	"strings"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// frameSinkName is the name of the appsink feeding the scan pipeline.
const frameSinkName = "frames"

// sourceName is the name of the v4l2src element.
const sourceName = "src"

// flipName is the name of the videoflip element on the preview branch.
const flipName = "flip"

// probeDescription holds the device open in READY without streaming.
func probeDescription(path string) string {
	return fmt.Sprintf("v4l2src name=%s device=%s ! fakesink", sourceName, path)
}

// previewDescription builds the streaming pipeline:
//
//	v4l2src → caps(size) → tee ─┬→ queue → videoconvert → videoflip → <sink>
//	                            └→ queue → videoconvert → caps(NV21) → appsink
func previewDescription(path string, size scancapture.Size, degrees int, sink string) string {
	if sink == "" {
		sink = "fakesink sync=false"
	}
	return fmt.Sprintf(
		"v4l2src name=%s device=%s ! video/x-raw,width=%d,height=%d ! tee name=t "+
			"t. ! queue leaky=downstream max-size-buffers=2 ! videoconvert ! videoflip name=%s method=%s ! %s "+
			"t. ! queue leaky=downstream max-size-buffers=1 ! videoconvert ! video/x-raw,format=NV21 ! "+
			"appsink name=%s max-buffers=1 drop=true sync=false",
		sourceName, path, size.Width, size.Height, flipName, flipMethod(degrees), sink, frameSinkName,
	)
}

// flipMethods lists the videoflip methods per quarter turn. value is the
// GstVideoFlipMethod enum value used when the method changes at runtime.
var flipMethods = [4]struct {
	nick  string
	value int
}{
	{"none", 0},
	{"clockwise", 1},
	{"rotate-180", 2},
	{"counterclockwise", 3},
}

func quarterTurns(degrees int) int {
	return (((degrees % 360) + 360) % 360) / 90
}

// flipMethod maps a display orientation onto a videoflip method nick.
func flipMethod(degrees int) string { return flipMethods[quarterTurns(degrees)].nick }

// flipMethodValue maps a display orientation onto a videoflip method value.
func flipMethodValue(degrees int) int { return flipMethods[quarterTurns(degrees)].value }

// parseCapsSizes extracts the fixed raw-video sizes from a caps string,
// in order, without duplicates. Ranges and non-raw structures are skipped.
func parseCapsSizes(caps string) []scancapture.Size {
	var (
		sizes []scancapture.Size
		seen  = make(map[scancapture.Size]bool)
	)
	for _, structure := range strings.Split(caps, ";") {
		structure = strings.TrimSpace(structure)
		if !strings.HasPrefix(structure, "video/x-raw") {
			continue
		}
		w, okW := intField(structure, "width")
		h, okH := intField(structure, "height")
		if !okW || !okH {
			continue
		}
		size := scancapture.Size{Width: w, Height: h}
		if seen[size] {
			continue
		}
		seen[size] = true
		sizes = append(sizes, size)
	}
	return sizes
}

// intField reads "name=(int)N" or "name=N" from a caps structure string.
func intField(structure, name string) (int, bool) {
	for _, field := range strings.Split(structure, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok || key != name {
			continue
		}
		value = strings.TrimPrefix(strings.TrimSpace(value), "(int)")
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
