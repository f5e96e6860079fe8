package targets

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/relay"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publication struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker implements the parts of mqtt.Client the sink uses
type fakeBroker struct {
	mqtt.Client
	opts       *mqtt.ClientOptions
	connected  bool
	connectErr error
	hang       bool
	published  []publication
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Connect() mqtt.Token {
	if b.hang {
		return pendingToken()
	}
	if b.connectErr != nil {
		return completedToken(b.connectErr)
	}
	b.connected = true
	return completedToken(nil)
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	b.published = append(b.published, publication{topic, qos, retained, payload.([]byte)})
	return completedToken(nil)
}

func (b *fakeBroker) Disconnect(uint) { b.connected = false }

func newTestMQTTSink(t *testing.T) (*MQTTSink, *fakeBroker) {
	t.Helper()

	sink, err := NewMQTTSink(&MQTTConfig{
		Broker:    "tcp://broker.test:1883",
		Username:  "ranger",
		Password:  "secret",
		QoS:       1,
		Container: "wildwatch/device-01",
		Timeout:   time.Second,
	})
	require.NoError(t, err)

	broker := &fakeBroker{}
	sink.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		broker.opts = opts
		return broker
	}
	return sink, broker
}

func TestMQTTSink_RelayPublishesRetained(t *testing.T) {
	t.Parallel()
	sink, broker := newTestMQTTSink(t)

	r, err := relay.New(relay.Config{Object: "detections.csv"}, sink, bytesSource("header\nrow\n"))
	require.NoError(t, err)

	res := r.Run(t.Context(), false)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, relay.ContainerFound, res.Container)
	assert.Equal(t, relay.ObjectCreated, res.Object, "first publish in this process is a create")

	res = r.Run(t.Context(), true)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, relay.ObjectUpdated, res.Object)

	require.Len(t, broker.published, 2)
	p := broker.published[0]
	assert.Equal(t, "wildwatch/device-01/detections.csv", p.topic)
	assert.Equal(t, byte(1), p.qos)
	assert.True(t, p.retained)
	assert.Equal(t, "header\nrow\n", string(p.payload))

	require.NotNil(t, broker.opts)
	assert.Equal(t, "ranger", broker.opts.Username)
	assert.True(t, broker.opts.CleanSession)
	assert.Contains(t, broker.opts.ClientID, "wildwatch-")
}

func TestMQTTSink_UnknownTopicIsNotFound(t *testing.T) {
	t.Parallel()
	sink, _ := newTestMQTTSink(t)

	_, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.ErrorIs(t, err, relay.ErrObjectNotFound)

	err = sink.UpdateObject(t.Context(), "detections.csv", []byte("x"), "v")
	require.ErrorIs(t, err, relay.ErrObjectNotFound)
}

func TestMQTTSink_StaleVersionConflicts(t *testing.T) {
	t.Parallel()
	sink, _ := newTestMQTTSink(t)

	require.NoError(t, sink.CreateObject(t.Context(), "detections.csv", []byte("v1")))
	err := sink.UpdateObject(t.Context(), "detections.csv", []byte("v2"), "not-the-hash")
	require.ErrorIs(t, err, relay.ErrConflict)
}

func TestMQTTSink_ConnectFailure(t *testing.T) {
	t.Parallel()
	sink, broker := newTestMQTTSink(t)
	broker.connectErr = assert.AnError

	_, err := sink.EnsureContainer(t.Context())
	require.ErrorIs(t, err, assert.AnError)

	broker.connectErr = nil
	_, err = sink.EnsureContainer(t.Context())
	require.NoError(t, err, "the same client reconnects")
}

func TestMQTTSink_ConnectHonoursContext(t *testing.T) {
	t.Parallel()
	sink, broker := newTestMQTTSink(t)
	broker.hang = true

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sink.EnsureContainer(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMQTTSink_Close(t *testing.T) {
	t.Parallel()
	sink, broker := newTestMQTTSink(t)

	_, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.False(t, broker.connected)
}

func TestNewMQTTSink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTSink(&MQTTConfig{Container: "c"})
	require.Error(t, err)

	_, err = NewMQTTSink(&MQTTConfig{Broker: "tcp://b:1883", QoS: 3, Container: "c"})
	require.Error(t, err)

	sink, err := NewMQTTSink(&MQTTConfig{Broker: "tcp://b:1883", ClientID: "fixed", Container: "c"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", sink.cfg.ClientID)
}
