package model

import (
	"errors"
	"fmt"
)

// Registry holds all entity types of a service. It is constructed once at
// startup; after Init it is read-only and safe for concurrent readers.
type Registry struct {
	idKind      IDKind
	types       []*EntityType
	byName      map[string]*EntityType
	byPlural    map[string]*EntityType
	properties  map[string]*EntityPropertyMain
	initialized bool
}

// NewRegistry creates an empty registry whose generated identifiers use kind.
func NewRegistry(kind IDKind) *Registry {
	return &Registry{
		idKind:     kind,
		byName:     make(map[string]*EntityType),
		byPlural:   make(map[string]*EntityType),
		properties: make(map[string]*EntityPropertyMain),
	}
}

// IDKind returns the identifier kind of the registry.
func (r *Registry) IDKind() IDKind { return r.idKind }

// Register adds an entity type.
func (r *Registry) Register(t *EntityType) error {
	if r.initialized {
		return fmt.Errorf("%w: registry already initialized", ErrIllegalArgument)
	}
	if _, exists := r.byName[t.name]; exists {
		return fmt.Errorf("%w: entity type %s already registered", ErrIllegalArgument, t.name)
	}
	if _, exists := r.byPlural[t.plural]; exists {
		return fmt.Errorf("%w: entity set %s already registered", ErrIllegalArgument, t.plural)
	}
	t.registry = r
	r.types = append(r.types, t)
	r.byName[t.name] = t
	r.byPlural[t.plural] = t
	for _, p := range t.entityProperties {
		r.properties[p.name] = p
		r.properties[p.jsonName] = p
		for _, a := range p.aliases {
			r.properties[a] = p
		}
	}
	return nil
}

// MustRegister is Register for static model definitions.
func (r *Registry) MustRegister(types ...*EntityType) *Registry {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Init resolves navigation targets and inverses and freezes the registry.
func (r *Registry) Init() error {
	if r.initialized {
		return nil
	}
	var errs []error
	for _, t := range r.types {
		if t.primaryKey == nil {
			errs = append(errs, fmt.Errorf("%w: entity type %s has no primary key", ErrIllegalArgument, t.name))
		}
		for _, np := range t.navProperties {
			target, ok := r.byName[np.targetName]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s.%s targets unknown type %s", ErrIllegalArgument, t.name, np.name, np.targetName))
				continue
			}
			np.target = target
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, t := range r.types {
		for _, np := range t.navProperties {
			if np.inverseOf == "" {
				continue
			}
			inv, err := np.target.NavigationProperty(np.inverseOf)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: inverse of %s.%s: %v", ErrIllegalArgument, t.name, np.name, err))
				continue
			}
			np.inverse = inv
			inv.inverse = np
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.initialized = true
	return nil
}

// EntityTypes returns all registered types in registration order.
func (r *Registry) EntityTypes() []*EntityType { return r.types }

// EntityTypeByName looks up a type by its singular name.
func (r *Registry) EntityTypeByName(name string) (*EntityType, error) {
	if t, ok := r.byName[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: entity type %s", ErrNotFound, name)
}

// EntityTypeByPlural looks up a type by its entity set name.
func (r *Registry) EntityTypeByPlural(plural string) (*EntityType, error) {
	if t, ok := r.byPlural[plural]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: entity set %s", ErrNotFound, plural)
}

// PropertyByName resolves an entity property by name across all types.
func (r *Registry) PropertyByName(name string) (Property, error) {
	if p, ok := r.properties[name]; ok {
		return p, nil
	}
	return nil, UnknownPropertyError(nil, name)
}

// PropertySetFor returns the closed property set of t.
func (r *Registry) PropertySetFor(t *EntityType) []Property {
	return t.properties
}

// NavigationTargetFor returns the navigation property leading from source to dest.
func (r *Registry) NavigationTargetFor(source, dest *EntityType) (*NavigationPropertyMain, error) {
	return source.NavigationPropertyTo(dest)
}
