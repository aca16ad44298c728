// Package metrics exposes scan-capture counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

var (
	SymbolsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_capture_symbols_published_total",
			Help: "Total number of decoded symbols published to MQTT",
		},
		[]string{"encoding"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_capture_publish_failures_total",
			Help: "Total number of failed MQTT publishes",
		},
	)

	ControlCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_capture_control_commands_total",
			Help: "Total number of control commands by command and outcome",
		},
		[]string{"command", "status"},
	)

	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_capture_publish_latency_seconds",
			Help:    "MQTT publish round-trip latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// StatsSource is implemented by *scancapture.Controller.
type StatsSource interface {
	Stats() scancapture.Stats
}

// Collector reports controller stats on every scrape.
type Collector struct {
	src StatsSource

	state          *prometheus.Desc
	deviceIndex    *prometheus.Desc
	framesReceived *prometheus.Desc
	framesDecoded  *prometheus.Desc
	framesDropped  *prometheus.Desc
	decodeErrors   *prometheus.Desc
	symbols        *prometheus.Desc
	afRequests     *prometheus.Desc
	afFailures     *prometheus.Desc
	acquireRetries *prometheus.Desc
	fps            *prometheus.Desc
	jitter         *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src StatsSource) *Collector {
	return &Collector{
		src:            src,
		state:          prometheus.NewDesc("scan_capture_state", "Lifecycle state (1 for the current state)", []string{"state"}, nil),
		deviceIndex:    prometheus.NewDesc("scan_capture_device_index", "Selected device index (-1 = none)", nil, nil),
		framesReceived: prometheus.NewDesc("scan_capture_frames_received_total", "Frames delivered by the camera", nil, nil),
		framesDecoded:  prometheus.NewDesc("scan_capture_frames_decoded_total", "Frames passed through the decoder", nil, nil),
		framesDropped:  prometheus.NewDesc("scan_capture_frames_dropped_total", "Frames replaced before decoding", nil, nil),
		decodeErrors:   prometheus.NewDesc("scan_capture_decode_errors_total", "Frames skipped after a decode error", nil, nil),
		symbols:        prometheus.NewDesc("scan_capture_symbols_total", "Symbols forwarded to the listener", nil, nil),
		afRequests:     prometheus.NewDesc("scan_capture_autofocus_requests_total", "Autofocus requests issued", nil, nil),
		afFailures:     prometheus.NewDesc("scan_capture_autofocus_failures_total", "Autofocus cycles reported unsuccessful", nil, nil),
		acquireRetries: prometheus.NewDesc("scan_capture_acquire_retries_total", "Busy-device open retries", nil, nil),
		fps:            prometheus.NewDesc("scan_capture_frame_rate_fps", "Mean frame rate over the cadence window", nil, nil),
		jitter:         prometheus.NewDesc("scan_capture_frame_jitter_seconds", "Mean inter-frame jitter over the cadence window", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.deviceIndex, c.framesReceived, c.framesDecoded, c.framesDropped,
		c.decodeErrors, c.symbols, c.afRequests, c.afFailures, c.acquireRetries, c.fps, c.jitter,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	p := st.Pipeline

	for _, s := range []scancapture.State{scancapture.StateIdle, scancapture.StateSurfaceReady, scancapture.StatePreviewing} {
		v := 0.0
		if s == st.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}

	ch <- prometheus.MustNewConstMetric(c.deviceIndex, prometheus.GaugeValue, float64(st.DeviceIndex))
	ch <- prometheus.MustNewConstMetric(c.framesReceived, prometheus.CounterValue, float64(p.FramesReceived))
	ch <- prometheus.MustNewConstMetric(c.framesDecoded, prometheus.CounterValue, float64(p.FramesDecoded))
	ch <- prometheus.MustNewConstMetric(c.framesDropped, prometheus.CounterValue, float64(p.FramesDropped))
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(p.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.symbols, prometheus.CounterValue, float64(p.SymbolsEmitted))
	ch <- prometheus.MustNewConstMetric(c.afRequests, prometheus.CounterValue, float64(p.AutoFocusRequests))
	ch <- prometheus.MustNewConstMetric(c.afFailures, prometheus.CounterValue, float64(p.AutoFocusFailures))
	ch <- prometheus.MustNewConstMetric(c.acquireRetries, prometheus.CounterValue, float64(st.AcquireRetries))
	ch <- prometheus.MustNewConstMetric(c.fps, prometheus.GaugeValue, p.FPSMean)
	ch <- prometheus.MustNewConstMetric(c.jitter, prometheus.GaugeValue, p.JitterMean)
}

// Serve registers src with the default registry and serves /metrics on
// listen until ctx is cancelled.
func Serve(ctx context.Context, listen string, src StatsSource) error {
	if err := prometheus.Register(NewCollector(src)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics: serving", "listen", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
