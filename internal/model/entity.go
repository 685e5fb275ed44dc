package model

import (
	"fmt"
)

// Entity is one record of an EntityType. Property presence is tracked
// separately from the value: a property can be unset, set to nil or set to a
// value, and all three states are distinguishable.
type Entity struct {
	entityType     *EntityType
	values         map[Property]any
	selfLink       string
	navigationLink string
	selectNames    []string
	exportObject   bool
	query          any
}

// NewEntity creates an empty entity of type t. A nil type is allowed and
// fixed later with SetEntityType.
func NewEntity(t *EntityType) *Entity {
	return &Entity{entityType: t, values: make(map[Property]any), exportObject: true}
}

// EntityType returns the schema of the entity.
func (e *Entity) EntityType() *EntityType { return e.entityType }

// SetEntityType assigns the schema. Changing an already assigned type checks
// every property that is set against the new type.
func (e *Entity) SetEntityType(t *EntityType) error {
	if e.entityType == t {
		return nil
	}
	if t == nil {
		return fmt.Errorf("%w: entity type can not be cleared", ErrIllegalArgument)
	}
	for p := range e.values {
		if !t.HasProperty(p) {
			return UnknownPropertyError(t, p.Name())
		}
	}
	e.entityType = t
	return nil
}

func (e *Entity) checkProperty(p Property) error {
	if e.entityType == nil {
		return fmt.Errorf("%w: entity has no type", ErrIllegalArgument)
	}
	if !e.entityType.HasProperty(p) {
		name := "<nil>"
		if p != nil {
			name = p.Name()
		}
		return UnknownPropertyError(e.entityType, name)
	}
	return nil
}

// Get returns the value of p, or nil when p is unset.
func (e *Entity) Get(p Property) (any, error) {
	if err := e.checkProperty(p); err != nil {
		return nil, err
	}
	return e.values[p], nil
}

// Value is Get without the schema check, for callers that already resolved
// p against the entity type.
func (e *Entity) Value(p Property) any {
	return e.values[p]
}

// Set assigns v to p and marks p as set, also when v is nil.
func (e *Entity) Set(p Property, v any) error {
	if err := e.checkProperty(p); err != nil {
		return err
	}
	e.values[p] = v
	return nil
}

// With is Set for static construction; it panics on unknown properties.
func (e *Entity) With(p Property, v any) *Entity {
	if err := e.Set(p, v); err != nil {
		panic(err)
	}
	return e
}

// Unset clears the value of p and its set flag.
func (e *Entity) Unset(p Property) {
	delete(e.values, p)
}

// IsSet reports whether p was explicitly assigned.
func (e *Entity) IsSet(p Property) bool {
	_, ok := e.values[p]
	return ok
}

// SetProperties returns the assigned properties in schema order.
func (e *Entity) SetProperties() []Property {
	if e.entityType == nil {
		return nil
	}
	out := make([]Property, 0, len(e.values))
	for _, p := range e.entityType.properties {
		if _, ok := e.values[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Entity returns the to-one navigation value of np, or nil.
func (e *Entity) Entity(np *NavigationPropertyMain) *Entity {
	v, _ := e.values[np].(*Entity)
	return v
}

// EntitySet returns the to-many navigation value of np, or nil.
func (e *Entity) EntitySet(np *NavigationPropertyMain) *EntitySet {
	v, _ := e.values[np].(*EntitySet)
	return v
}

// PrimaryKeyValues returns the key tuple, possibly not fully set.
func (e *Entity) PrimaryKeyValues() PkValue {
	if e == nil || e.entityType == nil {
		return PkValue{}
	}
	return e.entityType.primaryKeyValues(e)
}

// SetPrimaryKeyValues assigns the key properties from pk.
func (e *Entity) SetPrimaryKeyValues(pk PkValue) error {
	if e.entityType == nil || e.entityType.primaryKey == nil {
		return fmt.Errorf("%w: entity has no primary key", ErrIllegalArgument)
	}
	key := e.entityType.primaryKey
	if pk.Size() != key.Size() {
		return fmt.Errorf("%w: primary key of %s has %d values, got %d", ErrIllegalArgument, e.entityType.name, key.Size(), pk.Size())
	}
	for i, k := range key.keys {
		e.values[k] = pk.values[i]
	}
	return nil
}

// ID returns the identifier of a single-key entity, or nil.
func (e *Entity) ID() ID {
	pk := e.PrimaryKeyValues()
	if pk.Size() != 1 {
		return nil
	}
	id, _ := pk.Get(0).(ID)
	return id
}

func (e *Entity) SelfLink() string              { return e.selfLink }
func (e *Entity) SetSelfLink(link string)       { e.selfLink = link }
func (e *Entity) NavigationLink() string        { return e.navigationLink }
func (e *Entity) SetNavigationLink(link string) { e.navigationLink = link }
func (e *Entity) SelectNames() []string         { return e.selectNames }
func (e *Entity) SetSelectNames(names []string) { e.selectNames = names }
func (e *Entity) IsExportObject() bool          { return e.exportObject }
func (e *Entity) SetExportObject(export bool)   { e.exportObject = export }
func (e *Entity) Query() any                    { return e.query }
func (e *Entity) SetQuery(q any)                { e.query = q }

// Clone returns a shallow copy with its own value map.
func (e *Entity) Clone() *Entity {
	c := *e
	c.values = make(map[Property]any, len(e.values))
	for p, v := range e.values {
		c.values[p] = v
	}
	return &c
}

// Merge copies every set property of other into e.
func (e *Entity) Merge(other *Entity) error {
	for p, v := range other.values {
		if err := e.Set(p, v); err != nil {
			return err
		}
	}
	return nil
}

// Diff compares e with other property by property, entity properties first,
// then navigation properties.
func (e *Entity) Diff(other *Entity) ChangeSet {
	var cs ChangeSet
	if e.entityType == nil {
		return cs
	}
	for _, p := range e.entityType.entityProperties {
		if !ValuesEqual(e.values[p], other.values[p]) {
			cs.EntityProperties = append(cs.EntityProperties, p)
		}
	}
	for _, np := range e.entityType.navProperties {
		if !ValuesEqual(e.values[np], other.values[np]) {
			cs.NavigationProperties = append(cs.NavigationProperties, np)
		}
	}
	return cs
}

// ValidateCreate checks required properties and runs the validator chain.
func (e *Entity) ValidateCreate() error {
	if e.entityType == nil {
		return fmt.Errorf("%w: entity has no type", ErrIllegalArgument)
	}
	for _, v := range e.entityType.validators {
		if err := v.ValidateCreate(e); err != nil {
			return err
		}
	}
	for _, p := range e.entityType.properties {
		if !e.entityType.required[p] {
			continue
		}
		if isNil(e.values[p]) {
			return IncompleteEntityError(e.entityType, p.Name(), "is required")
		}
	}
	return nil
}

// ValidateUpdate runs the validator chain for an update. Required
// properties may be omitted, but not set to nil.
func (e *Entity) ValidateUpdate() error {
	if e.entityType == nil {
		return fmt.Errorf("%w: entity has no type", ErrIllegalArgument)
	}
	for p, v := range e.values {
		if e.entityType.required[p] && isNil(v) {
			return IncompleteEntityError(e.entityType, p.Name(), "can not be set to null")
		}
	}
	for _, v := range e.entityType.validators {
		if err := v.ValidateUpdate(e); err != nil {
			return err
		}
	}
	return nil
}

// CompleteFromParent links e to the parent it is created under. via is the
// navigation property of the parent leading to e; its inverse, or else the
// first navigation property of e targeting the parent type, receives the
// parent stub.
func (e *Entity) CompleteFromParent(parent *Entity, via *NavigationPropertyMain) error {
	if parent == nil || e.entityType == nil {
		return nil
	}
	var back *NavigationPropertyMain
	if via != nil && via.inverse != nil && via.inverse.source == e.entityType {
		back = via.inverse
	} else {
		np, err := e.entityType.NavigationPropertyTo(parent.entityType)
		if err != nil {
			return err
		}
		back = np
	}
	stub := NewEntity(parent.entityType)
	if err := stub.SetPrimaryKeyValues(parent.PrimaryKeyValues()); err != nil {
		return err
	}
	stub.SetExportObject(false)
	if !back.entitySet {
		return e.Set(back, stub)
	}
	set := e.EntitySet(back)
	if set == nil {
		set = NewEntitySet(parent.entityType)
		if err := e.Set(back, set); err != nil {
			return err
		}
	}
	for _, existing := range set.items {
		if existing.PrimaryKeyValues().Equal(stub.PrimaryKeyValues()) {
			return nil
		}
	}
	return set.Add(stub)
}

func (e *Entity) String() string {
	if e.entityType == nil {
		return "Entity(?)"
	}
	return fmt.Sprintf("%s(%s)", e.entityType.name, e.PrimaryKeyValues().String())
}
