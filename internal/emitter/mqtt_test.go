package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	scancapture "github.com/e7canasta/orion-care-sensor/modules/scan-capture"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
	gate chan struct{} // if non-nil, each publish waits for a token
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: p.err}
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func TestEmitter_PublishesMsgpack(t *testing.T) {
	pub := &fakePublisher{}
	e := NewMQTTEmitter(pub, Options{
		Instance: "scanner-01",
		Topic:    "care/scans/scanner-01",
		QoS:      1,
		Device:   func() scancapture.DeviceIndex { return 2 },
	})
	e.Start(context.Background())

	e.OnDecoded("ORDER-42")
	e.Stop()

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "care/scans/scanner-01", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var ev SymbolEvent
	require.NoError(t, msgpack.Unmarshal(msgs[0].payload, &ev))
	assert.Equal(t, "ORDER-42", ev.Text)
	assert.Equal(t, "scanner-01", ev.Instance)
	assert.Equal(t, 2, ev.DeviceIndex)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, Stats{Published: 1}, e.Stats())
}

func TestEmitter_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	e := NewMQTTEmitter(pub, Options{Topic: "scans", Encoding: EncodingJSON})
	e.Start(context.Background())

	e.OnDecoded("a")
	e.OnDecoded("b")
	e.Stop()

	msgs := pub.messages()
	require.Len(t, msgs, 2)

	var texts []string
	for _, m := range msgs {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		texts = append(texts, ev["text"].(string))
		assert.Equal(t, float64(-1), ev["device_index"])
	}
	assert.Equal(t, []string{"a", "b"}, texts)
}

func TestEmitter_PublishErrorsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker said no")}
	e := NewMQTTEmitter(pub, Options{Topic: "scans"})
	e.Start(context.Background())

	e.OnDecoded("x")
	e.Stop()

	assert.Equal(t, Stats{Errors: 1}, e.Stats())
}

func TestEmitter_FullQueueDropsWithoutBlocking(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	e := NewMQTTEmitter(pub, Options{Topic: "scans", QueueSize: 1})
	e.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.OnDecoded("burst")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnDecoded blocked")
	}

	close(pub.gate)
	e.Stop()

	st := e.Stats()
	assert.Equal(t, uint64(10), st.Published+st.Dropped)
	assert.GreaterOrEqual(t, st.Dropped, uint64(8))
}

func TestEmitter_AfterStopDrops(t *testing.T) {
	e := NewMQTTEmitter(&fakePublisher{}, Options{Topic: "scans"})
	e.Start(context.Background())
	e.Stop()
	e.Stop()

	e.OnDecoded("late")
	assert.Equal(t, uint64(1), e.Stats().Dropped)
}

func TestEmitter_PublishHealth(t *testing.T) {
	pub := &fakePublisher{}
	e := NewMQTTEmitter(pub, Options{HealthTopic: "care/health/x"})

	require.NoError(t, e.PublishHealth(map[string]int{"frames": 3}))

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "care/health/x", msgs[0].topic)
	assert.JSONEq(t, `{"frames":3}`, string(msgs[0].payload))
}

func TestEncode_UnknownEncoding(t *testing.T) {
	_, err := Encode(SymbolEvent{}, "xml")
	assert.Error(t, err)
}
