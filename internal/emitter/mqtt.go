// Package emitter publishes decoded symbols and health reports over MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/metrics"
)

const (
	EncodingMsgpack = "msgpack"
	EncodingJSON    = "json"

	defaultQueueSize = 64
	publishTimeout   = 2 * time.Second
)

// Publisher is the subset of mqtt.Client the emitter needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// SymbolEvent is the payload published for every decoded symbol.
type SymbolEvent struct {
	ID          string    `json:"id" msgpack:"id"`
	Instance    string    `json:"instance" msgpack:"instance"`
	DeviceIndex int       `json:"device_index" msgpack:"device_index"`
	Text        string    `json:"text" msgpack:"text"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Options configures an MQTTEmitter.
type Options struct {
	Instance    string
	Topic       string
	HealthTopic string
	QoS         byte
	HealthQoS   byte
	Encoding    string // msgpack (default) or json
	QueueSize   int
	// Device reports the active device index; must not block
	Device func() scancapture.DeviceIndex
}

// Stats contains emitter statistics
type Stats struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// MQTTEmitter implements scancapture.Listener.
//
// OnDecoded never blocks: events are queued and published by a background
// goroutine (waiting up to 2s per publish). When the queue is full the
// event is dropped and counted.
type MQTTEmitter struct {
	pub  Publisher
	opts Options

	mu     sync.RWMutex
	queue  chan SymbolEvent
	closed bool
	done   chan struct{}

	published uint64 // atomic
	dropped   uint64 // atomic
	errors    uint64 // atomic
}

// NewMQTTEmitter creates an emitter. Call Start before use.
func NewMQTTEmitter(pub Publisher, opts Options) *MQTTEmitter {
	if opts.Encoding == "" {
		opts.Encoding = EncodingMsgpack
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &MQTTEmitter{
		pub:   pub,
		opts:  opts,
		queue: make(chan SymbolEvent, opts.QueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the publish goroutine. It exits when ctx is cancelled or
// Stop is called.
func (e *MQTTEmitter) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop drains the queue and stops the publish goroutine. Idempotent.
func (e *MQTTEmitter) Stop() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-time.After(3 * time.Second):
		slog.Warn("emitter: publish goroutine did not exit within timeout")
	}
}

// OnDecoded implements scancapture.Listener.
func (e *MQTTEmitter) OnDecoded(text string) {
	ev := SymbolEvent{
		ID:          uuid.New().String(),
		Instance:    e.opts.Instance,
		DeviceIndex: int(scancapture.NoDevice),
		Text:        text,
		Timestamp:   time.Now().UTC(),
	}
	if e.opts.Device != nil {
		ev.DeviceIndex = int(e.opts.Device())
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		atomic.AddUint64(&e.dropped, 1)
		return
	}

	select {
	case e.queue <- ev:
	default:
		atomic.AddUint64(&e.dropped, 1)
		slog.Warn("emitter: queue full, dropping symbol event", "id", ev.ID)
	}
}

func (e *MQTTEmitter) run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.queue:
			if !ok {
				return
			}
			if err := e.publish(ev); err != nil {
				slog.Warn("emitter: publish failed", "id", ev.ID, "error", err)
			}
		}
	}
}

func (e *MQTTEmitter) publish(ev SymbolEvent) error {
	payload, err := Encode(ev, e.opts.Encoding)
	if err != nil {
		e.fail()
		return err
	}

	start := time.Now()
	token := e.pub.Publish(e.opts.Topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.fail()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	metrics.SymbolsPublished.WithLabelValues(e.opts.Encoding).Inc()
	atomic.AddUint64(&e.published, 1)

	slog.Debug("emitter: symbol published",
		"topic", e.opts.Topic,
		"qos", e.opts.QoS,
		"size", len(payload),
	)
	return nil
}

func (e *MQTTEmitter) fail() {
	atomic.AddUint64(&e.errors, 1)
	metrics.PublishFailures.Inc()
}

// PublishHealth publishes v as JSON to the health topic.
func (e *MQTTEmitter) PublishHealth(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("emitter: marshal health: %w", err)
	}

	token := e.pub.Publish(e.opts.HealthTopic, e.opts.HealthQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("emitter: health publish timeout")
	}
	return token.Error()
}

// RunHealth publishes report() every interval until ctx is cancelled.
func (e *MQTTEmitter) RunHealth(ctx context.Context, interval time.Duration, report func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.PublishHealth(report()); err != nil {
				slog.Warn("emitter: health publish failed", "error", err)
			}
		}
	}
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&e.published),
		Dropped:   atomic.LoadUint64(&e.dropped),
		Errors:    atomic.LoadUint64(&e.errors),
	}
}

// Encode serializes ev with the given encoding.
func Encode(ev SymbolEvent, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingJSON:
		return json.Marshal(ev)
	case EncodingMsgpack, "":
		return msgpack.Marshal(ev)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", encoding)
	}
}

// Connect establishes a connection to the MQTT broker with auto-reconnect.
func Connect(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	client := mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return client, nil
}
