package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

type fixedStats scancapture.Stats

func (f fixedStats) Stats() scancapture.Stats { return scancapture.Stats(f) }

func gather(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string][]*dto.Metric)
	for _, mf := range families {
		out[mf.GetName()] = mf.GetMetric()
	}
	return out
}

func TestCollector(t *testing.T) {
	src := fixedStats{
		State:          scancapture.StatePreviewing,
		DeviceIndex:    1,
		AcquireRetries: 2,
		Pipeline: scancapture.PipelineStats{
			FramesReceived: 100,
			FramesDecoded:  60,
			FramesDropped:  40,
			SymbolsEmitted: 5,
			FPSMean:        29.5,
		},
	}

	c := NewCollector(src)
	assert.Equal(t, 14, testutil.CollectAndCount(c))

	m := gather(t, c)
	assert.Equal(t, 1.0, m["scan_capture_device_index"][0].GetGauge().GetValue())
	assert.Equal(t, 100.0, m["scan_capture_frames_received_total"][0].GetCounter().GetValue())
	assert.Equal(t, 40.0, m["scan_capture_frames_dropped_total"][0].GetCounter().GetValue())
	assert.Equal(t, 5.0, m["scan_capture_symbols_total"][0].GetCounter().GetValue())
	assert.Equal(t, 2.0, m["scan_capture_acquire_retries_total"][0].GetCounter().GetValue())
	assert.Equal(t, 29.5, m["scan_capture_frame_rate_fps"][0].GetGauge().GetValue())

	states := map[string]float64{}
	for _, metric := range m["scan_capture_state"] {
		states[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"idle": 0, "surface-ready": 0, "previewing": 1}, states)
}

func TestPackageCounters(t *testing.T) {
	before := testutil.ToFloat64(ControlCommands.WithLabelValues("pause", "ok"))
	ControlCommands.WithLabelValues("pause", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ControlCommands.WithLabelValues("pause", "ok")))
}
