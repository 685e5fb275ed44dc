package messagebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/workers"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// MQTTOptions configures an MQTT bus.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// TopicPrefix is prepended to the plural entity type name, as in
	// "v1.1/Things".
	TopicPrefix string
	Workers     workers.Options
}

// publisher is the part of a paho client used for sending.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
}

// MQTTBus publishes change messages to an MQTT broker, one topic per entity
// type.
type MQTTBus struct {
	client publisher
	opts   MQTTOptions
	encode Encoder
	logger *slog.Logger
	pool   *workers.Pool[*model.EntityChangedMessage]
	close  func()
}

// ConnectMQTT connects to the broker and starts the publishing workers. A
// nil encode uses EncodeSummary.
func ConnectMQTT(opts MQTTOptions, encode Encoder) (*MQTTBus, error) {
	client := pahomqtt.NewClient(clientOptions(opts))
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	b := newMQTTBus(client, opts, encode)
	b.close = func() { client.Disconnect(defaultDisconnectQuiesce) }
	return b, nil
}

func clientOptions(opts MQTTOptions) *pahomqtt.ClientOptions {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectTimeout(defaultConnectTimeout)
	o.SetKeepAlive(defaultKeepAlive)
	return o
}

func newMQTTBus(client publisher, opts MQTTOptions, encode Encoder) *MQTTBus {
	if encode == nil {
		encode = EncodeSummary
	}
	b := &MQTTBus{client: client, opts: opts, encode: encode, logger: slog.Default()}
	b.pool = workers.New("mqtt-bus", opts.Workers, b.send)
	b.pool.Start()
	return b
}

// SetLogger sets the logger for failed publishes.
func (b *MQTTBus) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger
	b.pool.SetLogger(logger)
}

// Topic returns the topic messages about entities of type t go to.
func (b *MQTTBus) Topic(t *model.EntityType) string {
	prefix := strings.TrimSuffix(b.opts.TopicPrefix, "/")
	if prefix == "" {
		return t.PluralName()
	}
	return prefix + "/" + t.PluralName()
}

func (b *MQTTBus) send(ctx context.Context, msg *model.EntityChangedMessage) error {
	if msg.Entity == nil {
		return nil
	}
	payload, err := b.encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.EntityTypeName(), err)
	}
	topic := b.Topic(msg.Entity.EntityType())
	token := b.client.Publish(topic, b.opts.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(defaultPublishTimeout):
		return fmt.Errorf("publish to %s: timeout after %v", topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.logger.Debug("Published change message", "topic", topic, "event", msg.Event)
	return nil
}

// Publish queues msgs for sending.
func (b *MQTTBus) Publish(_ context.Context, msgs []*model.EntityChangedMessage) error {
	return submitAll(b.pool, msgs)
}

// Status reports the state of the publishing workers.
func (b *MQTTBus) Status() []workers.Status { return b.pool.Status() }

// Close sends the queued messages until ctx ends and disconnects.
func (b *MQTTBus) Close(ctx context.Context) error {
	err := b.pool.Shutdown(ctx)
	if b.close != nil {
		b.close()
	}
	return err
}
