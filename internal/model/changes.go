package model

// ChangeSet lists the properties in which two entities differ.
type ChangeSet struct {
	EntityProperties     []*EntityPropertyMain
	NavigationProperties []*NavigationPropertyMain
}

// IsEmpty reports whether no property differs.
func (c ChangeSet) IsEmpty() bool {
	return len(c.EntityProperties) == 0 && len(c.NavigationProperties) == 0
}

// Contains reports whether p is part of the change set.
func (c ChangeSet) Contains(p Property) bool {
	for _, q := range c.EntityProperties {
		if q == p {
			return true
		}
	}
	for _, q := range c.NavigationProperties {
		if q == p {
			return true
		}
	}
	return false
}

// EventType classifies an entity change.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// EntityChangedMessage is emitted after a committed create, update or delete
// for the change-notification layer.
type EntityChangedMessage struct {
	Event   EventType
	Entity  *Entity
	Changes ChangeSet
}

// NewCreateMessage marks every set property of e as changed.
func NewCreateMessage(e *Entity) *EntityChangedMessage {
	msg := &EntityChangedMessage{Event: EventCreate, Entity: e}
	for _, p := range e.SetProperties() {
		switch tp := p.(type) {
		case *EntityPropertyMain:
			msg.Changes.EntityProperties = append(msg.Changes.EntityProperties, tp)
		case *NavigationPropertyMain:
			msg.Changes.NavigationProperties = append(msg.Changes.NavigationProperties, tp)
		}
	}
	return msg
}

// NewUpdateMessage carries the properties that differ between before and after.
func NewUpdateMessage(before, after *Entity) *EntityChangedMessage {
	return &EntityChangedMessage{Event: EventUpdate, Entity: after, Changes: before.Diff(after)}
}

// NewDeleteMessage reports the removal of e.
func NewDeleteMessage(e *Entity) *EntityChangedMessage {
	return &EntityChangedMessage{Event: EventDelete, Entity: e}
}

// EntityTypeName returns the type name of the changed entity.
func (m *EntityChangedMessage) EntityTypeName() string {
	if m.Entity == nil || m.Entity.entityType == nil {
		return ""
	}
	return m.Entity.entityType.name
}
