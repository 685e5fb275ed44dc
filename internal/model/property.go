package model

// PropertyType tags the value type of an entity property.
type PropertyType int

const (
	TypeID PropertyType = iota
	TypeSelfLink
	TypeString
	TypeNumber
	TypeInteger
	TypeBoolean
	TypeTimeInstant
	TypeTimeInterval
	TypeTimeValue
	TypeGeoJSON
	TypeObject
	TypeUnitOfMeasurement
	TypeUnitOfMeasurementList
	TypeStringList
	TypeAny
	TypePassword
)

var propertyTypeNames = map[PropertyType]string{
	TypeID:                    "Id",
	TypeSelfLink:              "SelfLink",
	TypeString:                "String",
	TypeNumber:                "Number",
	TypeInteger:               "Integer",
	TypeBoolean:               "Boolean",
	TypeTimeInstant:           "TimeInstant",
	TypeTimeInterval:          "TimeInterval",
	TypeTimeValue:             "TimeValue",
	TypeGeoJSON:               "GeoJSON",
	TypeObject:                "Object",
	TypeUnitOfMeasurement:     "UnitOfMeasurement",
	TypeUnitOfMeasurementList: "UnitOfMeasurementList",
	TypeStringList:            "StringList",
	TypeAny:                   "Any",
	TypePassword:              "Password",
}

func (t PropertyType) String() string {
	if n, ok := propertyTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Property is either an entity property or a navigation property. The set
// is closed: only *EntityPropertyMain and *NavigationPropertyMain implement it.
type Property interface {
	Name() string
	// JSONName is the field name used on the wire.
	JSONName() string
	IsNavigation() bool
	matches(name string) bool
}

// EntityPropertyMain describes a primitive or complex property. Descriptors
// are immutable singletons shared between entity types.
type EntityPropertyMain struct {
	name      string
	jsonName  string
	aliases   []string
	typ       PropertyType
	writeOnly bool
	readOnly  bool
}

// PropertyOption configures an entity property descriptor.
type PropertyOption func(*EntityPropertyMain)

// WithAliases adds alternative names accepted on input and in queries.
func WithAliases(aliases ...string) PropertyOption {
	return func(p *EntityPropertyMain) { p.aliases = append(p.aliases, aliases...) }
}

// WithJSONName overrides the wire name, which defaults to the property name.
func WithJSONName(name string) PropertyOption {
	return func(p *EntityPropertyMain) { p.jsonName = name }
}

// WriteOnly marks a property that is stored but never read back.
func WriteOnly() PropertyOption {
	return func(p *EntityPropertyMain) { p.writeOnly = true }
}

// ReadOnly marks a property that clients can not write.
func ReadOnly() PropertyOption {
	return func(p *EntityPropertyMain) { p.readOnly = true }
}

// NewEntityProperty creates an entity property descriptor.
func NewEntityProperty(name string, typ PropertyType, opts ...PropertyOption) *EntityPropertyMain {
	p := &EntityPropertyMain{name: name, jsonName: name, typ: typ}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EntityPropertyMain) Name() string       { return p.name }
func (p *EntityPropertyMain) JSONName() string   { return p.jsonName }
func (p *EntityPropertyMain) IsNavigation() bool { return false }
func (p *EntityPropertyMain) Type() PropertyType { return p.typ }
func (p *EntityPropertyMain) Aliases() []string  { return p.aliases }
func (p *EntityPropertyMain) IsWriteOnly() bool  { return p.writeOnly }
func (p *EntityPropertyMain) IsReadOnly() bool   { return p.readOnly }
func (p *EntityPropertyMain) String() string     { return p.name }

func (p *EntityPropertyMain) matches(name string) bool {
	if name == p.name || name == p.jsonName {
		return true
	}
	for _, a := range p.aliases {
		if a == name {
			return true
		}
	}
	return false
}

// NavigationPropertyMain is a relation from one entity type to another,
// either to a single entity or to a set.
type NavigationPropertyMain struct {
	name       string
	targetName string
	entitySet  bool
	source     *EntityType
	target     *EntityType
	inverse    *NavigationPropertyMain
	inverseOf  string
}

// NewNavigationPropertyEntity creates a to-one navigation property.
func NewNavigationPropertyEntity(name, target string) *NavigationPropertyMain {
	return &NavigationPropertyMain{name: name, targetName: target}
}

// NewNavigationPropertyEntitySet creates a to-many navigation property.
func NewNavigationPropertyEntitySet(name, target string) *NavigationPropertyMain {
	return &NavigationPropertyMain{name: name, targetName: target, entitySet: true}
}

// WithInverse names the navigation property of the target type pointing back.
func (np *NavigationPropertyMain) WithInverse(name string) *NavigationPropertyMain {
	np.inverseOf = name
	return np
}

func (np *NavigationPropertyMain) Name() string                     { return np.name }
func (np *NavigationPropertyMain) JSONName() string                 { return np.name }
func (np *NavigationPropertyMain) IsNavigation() bool               { return true }
func (np *NavigationPropertyMain) IsEntitySet() bool                { return np.entitySet }
func (np *NavigationPropertyMain) SourceType() *EntityType          { return np.source }
func (np *NavigationPropertyMain) TargetType() *EntityType          { return np.target }
func (np *NavigationPropertyMain) Inverse() *NavigationPropertyMain { return np.inverse }
func (np *NavigationPropertyMain) String() string                   { return np.name }

func (np *NavigationPropertyMain) matches(name string) bool {
	return name == np.name
}
