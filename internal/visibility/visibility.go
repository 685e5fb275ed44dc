// Package visibility decides which properties and navigation links of an
// entity graph are rendered for a query, and generates the self, navigation
// and custom links.
package visibility

import (
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
)

// Visibility is the projection of one entity type under one query. Each
// expanded navigation property has its own nested projection.
type Visibility struct {
	entityType *model.EntityType
	allProps   bool
	properties map[*model.EntityPropertyMain]bool
	navLinks   map[*model.NavigationPropertyMain]bool
	expanded   map[*model.NavigationPropertyMain]*Visibility
}

// New computes the projection of q over t. Without $select every readable
// entity property and a navigation link per relation are visible. With
// $select only the selected properties and the key are visible, and
// navigation links only for selected relations.
func New(t *model.EntityType, q *query.Query) *Visibility {
	v := &Visibility{
		entityType: t,
		properties: make(map[*model.EntityPropertyMain]bool),
		navLinks:   make(map[*model.NavigationPropertyMain]bool),
		expanded:   make(map[*model.NavigationPropertyMain]*Visibility),
	}
	if !q.HasSelect() {
		v.allProps = true
		for _, ep := range t.EntityProperties() {
			if !ep.IsWriteOnly() {
				v.properties[ep] = true
			}
		}
		for _, np := range t.NavigationProperties() {
			v.navLinks[np] = true
		}
	} else {
		for _, key := range t.PrimaryKey().Keys() {
			v.properties[key] = true
		}
		for _, p := range q.Select {
			switch tp := p.(type) {
			case *model.EntityPropertyMain:
				if !tp.IsWriteOnly() {
					v.properties[tp] = true
				}
			case *model.NavigationPropertyMain:
				v.navLinks[tp] = true
			}
		}
	}
	if q == nil {
		return v
	}
	for _, ex := range q.Expand {
		sub := New(ex.Property.TargetType(), ex.Query)
		if existing, ok := v.expanded[ex.Property]; ok {
			existing.Merge(sub)
			continue
		}
		v.expanded[ex.Property] = sub
	}
	return v
}

// Merge widens v by o. A property or link visible in either is visible in
// the result, recursively for expansions present in both.
func (v *Visibility) Merge(o *Visibility) {
	if o == nil {
		return
	}
	v.allProps = v.allProps || o.allProps
	for p := range o.properties {
		v.properties[p] = true
	}
	for np := range o.navLinks {
		v.navLinks[np] = true
	}
	for np, sub := range o.expanded {
		if existing, ok := v.expanded[np]; ok {
			existing.Merge(sub)
			continue
		}
		v.expanded[np] = sub
	}
}

// EntityType returns the projected type.
func (v *Visibility) EntityType() *model.EntityType { return v.entityType }

// AllProperties reports whether the projection is unrestricted by $select.
func (v *Visibility) AllProperties() bool { return v.allProps }

// IsVisible reports whether the entity property p is rendered.
func (v *Visibility) IsVisible(p *model.EntityPropertyMain) bool {
	return v.properties[p]
}

// HasNavigationLink reports whether a navigation link is rendered for np.
func (v *Visibility) HasNavigationLink(np *model.NavigationPropertyMain) bool {
	return v.navLinks[np]
}

// Expanded returns the projection of the expansion of np, or nil.
func (v *Visibility) Expanded(np *model.NavigationPropertyMain) *Visibility {
	return v.expanded[np]
}

// Properties returns the visible entity properties in schema order.
func (v *Visibility) Properties() []*model.EntityPropertyMain {
	var out []*model.EntityPropertyMain
	for _, ep := range v.entityType.EntityProperties() {
		if v.properties[ep] {
			out = append(out, ep)
		}
	}
	return out
}

// NavigationLinks returns the relations rendered as links in schema order.
func (v *Visibility) NavigationLinks() []*model.NavigationPropertyMain {
	var out []*model.NavigationPropertyMain
	for _, np := range v.entityType.NavigationProperties() {
		if v.navLinks[np] {
			out = append(out, np)
		}
	}
	return out
}

// ExpandedProperties returns the expanded relations in schema order.
func (v *Visibility) ExpandedProperties() []*model.NavigationPropertyMain {
	var out []*model.NavigationPropertyMain
	for _, np := range v.entityType.NavigationProperties() {
		if _, ok := v.expanded[np]; ok {
			out = append(out, np)
		}
	}
	return out
}

// SelectNames returns the JSON names of the visible entity properties.
func (v *Visibility) SelectNames() []string {
	props := v.Properties()
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = p.JSONName()
	}
	return out
}
