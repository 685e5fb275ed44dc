package query

import (
	"fmt"
	"strings"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// ElementKind distinguishes collection and single-entity path segments.
type ElementKind int

const (
	ElementEntitySet ElementKind = iota
	ElementEntity
)

// PathElement is one segment of a resource path. The first element names an
// entity set, each further element follows a navigation property of its
// parent.
type PathElement struct {
	Kind       ElementKind
	EntityType *model.EntityType
	Navigation *model.NavigationPropertyMain
	Key        model.PkValue
	Parent     *PathElement
}

// HasKey reports whether the element addresses one entity by key.
func (e *PathElement) HasKey() bool {
	return e.Key.Size() > 0
}

// ResourcePath is the parsed chain of segments addressing an entity or a
// collection, such as Things(1)/Datastreams.
type ResourcePath struct {
	ServiceRoot string
	Elements    []*PathElement
}

// NewPath starts a path at the entity set of t.
func NewPath(serviceRoot string, t *model.EntityType) *ResourcePath {
	return &ResourcePath{
		ServiceRoot: strings.TrimSuffix(serviceRoot, "/"),
		Elements:    []*PathElement{{Kind: ElementEntitySet, EntityType: t}},
	}
}

// Main returns the last element.
func (p *ResourcePath) Main() *PathElement {
	return p.Elements[len(p.Elements)-1]
}

// EntityType returns the type addressed by the path.
func (p *ResourcePath) EntityType() *model.EntityType {
	return p.Main().EntityType
}

// IsCollection reports whether the path addresses a set.
func (p *ResourcePath) IsCollection() bool {
	return p.Main().Kind == ElementEntitySet
}

// WithKey narrows the last collection element to the entity with key pk.
func (p *ResourcePath) WithKey(pk model.PkValue) (*ResourcePath, error) {
	main := p.Main()
	if main.Kind != ElementEntitySet {
		return nil, fmt.Errorf("%w: %s does not address a collection", model.ErrParse, p.String())
	}
	if key := main.EntityType.PrimaryKey(); pk.Size() != key.Size() {
		return nil, fmt.Errorf("%w: %s needs %d key values, got %d", model.ErrParse, main.EntityType.Name(), key.Size(), pk.Size())
	}
	main.Kind = ElementEntity
	main.Key = pk
	return p, nil
}

// Navigate appends a segment following np from the last element.
func (p *ResourcePath) Navigate(np *model.NavigationPropertyMain) (*ResourcePath, error) {
	main := p.Main()
	if !main.EntityType.HasProperty(np) {
		return nil, model.NoRelationError(main.EntityType, np.Name())
	}
	if main.Kind == ElementEntitySet {
		return nil, fmt.Errorf("%w: can not navigate from collection %s", model.ErrParse, p.String())
	}
	kind := ElementEntity
	if np.IsEntitySet() {
		kind = ElementEntitySet
	}
	p.Elements = append(p.Elements, &PathElement{Kind: kind, EntityType: np.TargetType(), Navigation: np, Parent: main})
	return p, nil
}

// Parent returns the closest ancestor element addressing a single entity,
// or nil.
func (p *ResourcePath) Parent() *PathElement {
	for e := p.Main().Parent; e != nil; e = e.Parent {
		if e.Kind == ElementEntity {
			return e
		}
	}
	return nil
}

// String renders the path relative to the service root.
func (p *ResourcePath) String() string {
	var b strings.Builder
	for i, e := range p.Elements {
		b.WriteByte('/')
		if i == 0 {
			b.WriteString(e.EntityType.PluralName())
		} else {
			b.WriteString(e.Navigation.Name())
		}
		if e.HasKey() {
			b.WriteString("(" + e.Key.URL(e.EntityType.PrimaryKey()) + ")")
		}
	}
	return b.String()
}

// URL renders the absolute path.
func (p *ResourcePath) URL() string {
	return p.ServiceRoot + p.String()
}

// ParsePath parses a path such as /Things(1)/Datastreams against the
// registry. Only single-valued keys are accepted in the literal form.
func ParsePath(registry *model.Registry, serviceRoot, path string) (*ResourcePath, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty resource path", model.ErrParse)
	}
	var p *ResourcePath
	for i, segment := range strings.Split(path, "/") {
		name, literal, hasKey, err := splitSegment(segment)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			t, err := registry.EntityTypeByPlural(name)
			if err != nil {
				return nil, err
			}
			p = NewPath(serviceRoot, t)
		} else {
			np, err := p.EntityType().NavigationProperty(name)
			if err != nil {
				return nil, err
			}
			if _, err := p.Navigate(np); err != nil {
				return nil, err
			}
		}
		if !hasKey {
			continue
		}
		pk, err := parseKey(registry, p.EntityType(), literal)
		if err != nil {
			return nil, err
		}
		if _, err := p.WithKey(pk); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func splitSegment(segment string) (name, key string, hasKey bool, err error) {
	open := strings.IndexByte(segment, '(')
	if open < 0 {
		return segment, "", false, nil
	}
	if !strings.HasSuffix(segment, ")") {
		return "", "", false, fmt.Errorf("%w: malformed segment %q", model.ErrParse, segment)
	}
	return segment[:open], segment[open+1 : len(segment)-1], true, nil
}

func parseKey(registry *model.Registry, t *model.EntityType, literal string) (model.PkValue, error) {
	key := t.PrimaryKey()
	if key.Size() != 1 {
		return model.PkValue{}, fmt.Errorf("%w: composite key literals are not supported for %s", model.ErrParse, t.Name())
	}
	kind := registry.IDKind()
	if key.Key(0).Type() != model.TypeID {
		kind = model.IDKindString
	}
	id, err := model.ParseID(kind, literal)
	if err != nil {
		return model.PkValue{}, err
	}
	if key.Key(0).Type() != model.TypeID {
		return model.PkValueOf(id.String())
	}
	return model.PkValueOf(id)
}
