package messagebus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thing(t *testing.T, m *core.Model, id int64, name string) *model.Entity {
	t.Helper()
	return model.NewEntity(m.Thing).With(core.EpID, model.IntID(id)).With(core.EpName, name)
}

func newModel(t *testing.T) *core.Model {
	t.Helper()
	m, err := core.NewModel(model.IDKindInteger)
	require.NoError(t, err)
	return m
}

func TestInternalBusDeliversToAllListeners(t *testing.T) {
	m := newModel(t)
	bus := NewInternalBus(workers.Options{Workers: 1, QueueSize: 10})

	var mu sync.Mutex
	var first, second []model.EventType
	bus.Subscribe(func(_ context.Context, msg *model.EntityChangedMessage) error {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, msg.Event)
		return nil
	})
	bus.Subscribe(func(_ context.Context, msg *model.EntityChangedMessage) error {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, msg.Event)
		return errors.New("listener failure does not stop delivery")
	})

	e := thing(t, m, 1, "a")
	msgs := []*model.EntityChangedMessage{
		model.NewCreateMessage(e),
		model.NewUpdateMessage(e, thing(t, m, 1, "b")),
		model.NewDeleteMessage(e),
	}
	require.NoError(t, bus.Publish(context.Background(), msgs))
	require.NoError(t, bus.Close(context.Background()))

	want := []model.EventType{model.EventCreate, model.EventUpdate, model.EventDelete}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
	assert.ErrorIs(t, bus.Publish(context.Background(), msgs), ErrClosed)
}

func TestInternalBusReportsDroppedMessages(t *testing.T) {
	m := newModel(t)
	bus := NewInternalBus(workers.Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(func(_ context.Context, _ *model.EntityChangedMessage) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	msg := model.NewCreateMessage(thing(t, m, 1, "a"))
	require.NoError(t, bus.Publish(context.Background(), []*model.EntityChangedMessage{msg}))
	<-started

	err := bus.Publish(context.Background(), []*model.EntityChangedMessage{msg, msg, msg})
	assert.ErrorIs(t, err, workers.ErrQueueFull)
	assert.Contains(t, err.Error(), "dropped 2 of 3")

	close(release)
	require.NoError(t, bus.Close(context.Background()))
}

func TestEncodeSummary(t *testing.T) {
	m := newModel(t)
	before := thing(t, m, 7, "a")
	after := thing(t, m, 7, "b")

	data, err := EncodeSummary(model.NewUpdateMessage(before, after))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{
		"event":      "UPDATE",
		"entityType": "Thing",
		"@iot.id":    float64(7),
		"changed":    []any{"name"},
	}, got)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload any) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(p.err)
}

func TestMQTTBusPublishesPerEntityTypeTopic(t *testing.T) {
	m := newModel(t)
	client := &fakePublisher{}
	bus := newMQTTBus(client, MQTTOptions{TopicPrefix: "v1.1/", QoS: 1, Workers: workers.Options{Workers: 2}}, nil)

	obs := model.NewEntity(m.Observation).With(core.EpID, model.IntID(3))
	msgs := []*model.EntityChangedMessage{
		model.NewCreateMessage(thing(t, m, 1, "a")),
		model.NewCreateMessage(obs),
	}
	require.NoError(t, bus.Publish(context.Background(), msgs))
	require.NoError(t, bus.Close(context.Background()))

	topics := map[string]bool{}
	for _, p := range client.sent {
		topics[p.topic] = true
		assert.Equal(t, byte(1), p.qos)
	}
	assert.Equal(t, map[string]bool{"v1.1/Things": true, "v1.1/Observations": true}, topics)
}

func TestMQTTBusCustomEncoder(t *testing.T) {
	m := newModel(t)
	client := &fakePublisher{}
	encode := func(msg *model.EntityChangedMessage) ([]byte, error) {
		return json.Marshal(NewPayload(msg, map[string]any{"name": msg.Entity.Value(core.EpName)}))
	}
	bus := newMQTTBus(client, MQTTOptions{}, encode)
	require.NoError(t, bus.Publish(context.Background(), []*model.EntityChangedMessage{model.NewDeleteMessage(thing(t, m, 2, "gone"))}))
	require.NoError(t, bus.Close(context.Background()))

	require.Len(t, client.sent, 1)
	assert.Equal(t, "Things", client.sent[0].topic)
	assert.JSONEq(t, `{"event":"DELETE","entityType":"Thing","@iot.id":2,"entity":{"name":"gone"}}`, string(client.sent[0].payload))
}
