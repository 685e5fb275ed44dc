// Package messagebus delivers the change messages of committed
// transactions to listeners, either in process or over MQTT.
package messagebus

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
)

// ErrClosed is returned when publishing to a bus after Close.
var ErrClosed = errors.New("message bus is closed")

// Listener receives one change message.
type Listener func(ctx context.Context, msg *model.EntityChangedMessage) error

// Bus accepts change messages and delivers them asynchronously.
type Bus interface {
	// Publish queues msgs for delivery. Messages that do not fit the queue
	// are dropped and reported through the returned error.
	Publish(ctx context.Context, msgs []*model.EntityChangedMessage) error
	// Close stops accepting messages and delivers the queued ones until ctx
	// ends.
	Close(ctx context.Context) error
}

// Payload is the wire form of a change message.
type Payload struct {
	Event      model.EventType `json:"event"`
	EntityType string          `json:"entityType"`
	ID         any             `json:"@iot.id,omitempty"`
	Changed    []string        `json:"changed,omitempty"`
	Entity     any             `json:"entity,omitempty"`
}

// Encoder turns a change message into a message body.
type Encoder func(msg *model.EntityChangedMessage) ([]byte, error)

// EncodeSummary encodes the event, the entity key and the names of the
// changed properties, without the entity itself.
func EncodeSummary(msg *model.EntityChangedMessage) ([]byte, error) {
	return json.Marshal(NewPayload(msg, nil))
}

// NewPayload builds the payload of msg carrying entity as its body.
func NewPayload(msg *model.EntityChangedMessage, entity any) Payload {
	p := Payload{Event: msg.Event, EntityType: msg.EntityTypeName(), Entity: entity}
	if msg.Entity != nil {
		if id := msg.Entity.ID(); id != nil {
			p.ID = id.Value()
		}
	}
	for _, ep := range msg.Changes.EntityProperties {
		p.Changed = append(p.Changed, ep.JSONName())
	}
	for _, np := range msg.Changes.NavigationProperties {
		p.Changed = append(p.Changed, np.Name())
	}
	return p
}
