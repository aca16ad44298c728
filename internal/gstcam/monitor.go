package gstcam

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

// monitorBus logs pipeline errors until ctx is cancelled. Steady-state
// failures are counted and logged, never surfaced to the host.
func monitorBus(ctx context.Context, pipeline *gst.Pipeline, index scancapture.DeviceIndex, errors *uint64) {
	bus := pipeline.GetPipelineBus()
	startedAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstcam: context cancelled, stopping bus monitor", "device_index", index)
			return
		default:
		}

		// Short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstcam: end of stream", "device_index", index, "uptime", time.Since(startedAt))

		case gst.MessageError:
			gerr := msg.ParseError()
			atomic.AddUint64(errors, 1)
			slog.Error("gstcam: pipeline error",
				"device_index", index,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", Classify(gerr).String(),
				"uptime", time.Since(startedAt),
			)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstcam: pipeline state changed", "device_index", index, "from", old, "to", new)
			}
		}
	}
}
