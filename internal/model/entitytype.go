package model

import "fmt"

// EntityType is the closed schema of one kind of entity. It is built once
// during registry construction and read-only afterwards.
type EntityType struct {
	name       string
	plural     string
	adminOnly  bool
	registry   *Registry
	properties []Property

	entityProperties []*EntityPropertyMain
	navProperties    []*NavigationPropertyMain
	required         map[Property]bool
	primaryKey       *PrimaryKey
	validators       []EntityValidator
}

// NewEntityType creates an empty entity type.
func NewEntityType(name, plural string) *EntityType {
	return &EntityType{name: name, plural: plural, required: make(map[Property]bool)}
}

// AddEntityProperty adds p to the type. Required properties must be present
// on create.
func (t *EntityType) AddEntityProperty(p *EntityPropertyMain, required bool) *EntityType {
	t.mustBeOpen()
	t.properties = append(t.properties, p)
	t.entityProperties = append(t.entityProperties, p)
	if required {
		t.required[p] = true
	}
	return t
}

// AddNavigationProperty adds np to the type.
func (t *EntityType) AddNavigationProperty(np *NavigationPropertyMain, required bool) *EntityType {
	t.mustBeOpen()
	if np.source != nil && np.source != t {
		panic(fmt.Sprintf("navigation property %s already belongs to %s", np.name, np.source.name))
	}
	np.source = t
	t.properties = append(t.properties, np)
	t.navProperties = append(t.navProperties, np)
	if required {
		t.required[np] = true
	}
	return t
}

// SetPrimaryKey declares the key properties, which must already be added.
func (t *EntityType) SetPrimaryKey(keys ...*EntityPropertyMain) *EntityType {
	t.mustBeOpen()
	for _, k := range keys {
		if !t.HasProperty(k) {
			panic(fmt.Sprintf("key property %s is not part of %s", k.name, t.name))
		}
	}
	t.primaryKey = NewPrimaryKey(keys...)
	return t
}

// AddValidator appends a validator to the chain run on create and update.
func (t *EntityType) AddValidator(v EntityValidator) *EntityType {
	t.validators = append(t.validators, v)
	return t
}

// SetAdminOnly hides the type from principals without the admin role.
func (t *EntityType) SetAdminOnly(adminOnly bool) *EntityType {
	t.adminOnly = adminOnly
	return t
}

func (t *EntityType) mustBeOpen() {
	if t.registry != nil && t.registry.initialized {
		panic(fmt.Sprintf("entity type %s is frozen", t.name))
	}
}

func (t *EntityType) Name() string                                    { return t.name }
func (t *EntityType) PluralName() string                              { return t.plural }
func (t *EntityType) IsAdminOnly() bool                               { return t.adminOnly }
func (t *EntityType) Registry() *Registry                             { return t.registry }
func (t *EntityType) Properties() []Property                          { return t.properties }
func (t *EntityType) EntityProperties() []*EntityPropertyMain         { return t.entityProperties }
func (t *EntityType) NavigationProperties() []*NavigationPropertyMain { return t.navProperties }
func (t *EntityType) PrimaryKey() *PrimaryKey                         { return t.primaryKey }
func (t *EntityType) Validators() []EntityValidator                   { return t.validators }
func (t *EntityType) String() string                                  { return t.name }

// IsRequired reports whether p must be set on create.
func (t *EntityType) IsRequired(p Property) bool {
	return t.required[p]
}

// HasProperty reports whether p belongs to this type.
func (t *EntityType) HasProperty(p Property) bool {
	if p == nil {
		return false
	}
	for _, q := range t.properties {
		if q == p {
			return true
		}
	}
	return false
}

// Property resolves a name, JSON name or alias to a property of this type.
func (t *EntityType) Property(name string) (Property, error) {
	for _, p := range t.properties {
		if p.matches(name) {
			return p, nil
		}
	}
	return nil, UnknownPropertyError(t, name)
}

// EntityProperty resolves name to an entity property of this type.
func (t *EntityType) EntityProperty(name string) (*EntityPropertyMain, error) {
	for _, p := range t.entityProperties {
		if p.matches(name) {
			return p, nil
		}
	}
	return nil, UnknownPropertyError(t, name)
}

// NavigationProperty resolves name to a navigation property of this type.
func (t *EntityType) NavigationProperty(name string) (*NavigationPropertyMain, error) {
	for _, np := range t.navProperties {
		if np.matches(name) {
			return np, nil
		}
	}
	return nil, NoRelationError(t, name)
}

// NavigationPropertyTo returns the navigation property pointing at target.
// When several exist the first declared wins.
func (t *EntityType) NavigationPropertyTo(target *EntityType) (*NavigationPropertyMain, error) {
	for _, np := range t.navProperties {
		if np.target == target {
			return np, nil
		}
	}
	name := "<nil>"
	if target != nil {
		name = target.name
	}
	return nil, NoRelationError(t, name)
}

// PrimaryKeyValues extracts the key tuple of e for this type.
func (t *EntityType) primaryKeyValues(e *Entity) PkValue {
	if t.primaryKey == nil {
		return PkValue{}
	}
	pk := NewPkValue(t.primaryKey.Size())
	for i, k := range t.primaryKey.keys {
		pk.values[i] = e.Value(k)
	}
	return pk
}
