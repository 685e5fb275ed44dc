package visibility

import (
	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/shopspring/decimal"
)

// Renderer turns entity graphs into JSON-ready maps under a projection.
type Renderer struct {
	linker *Linker

	// Hidden reports entity types whose navigation links and expansions are
	// left out, such as admin-only types for ordinary principals.
	Hidden func(t *model.EntityType) bool
}

// NewRenderer creates a renderer using l for links.
func NewRenderer(l *Linker) *Renderer {
	return &Renderer{linker: l}
}

// Linker returns the link generator of the renderer.
func (r *Renderer) Linker() *Linker { return r.linker }

func (r *Renderer) hidden(t *model.EntityType) bool {
	return r.Hidden != nil && r.Hidden(t)
}

// Entity renders e. requestPath is the URL of the current request, used
// for relative navigation links.
func (r *Renderer) Entity(e *model.Entity, v *Visibility, requestPath string) map[string]any {
	if e == nil {
		return nil
	}
	out := make(map[string]any)
	self := e.SelfLink()
	if self == "" {
		self = r.linker.SelfLink(e)
	}
	if self != "" {
		out[SelfLinkKey] = self
	}
	for _, ep := range v.Properties() {
		if !e.IsSet(ep) {
			continue
		}
		out[ep.JSONName()] = r.value(ep, e.Value(ep))
	}
	for _, np := range v.NavigationLinks() {
		if r.hidden(np.TargetType()) {
			continue
		}
		if link := r.linker.NavigationLink(e, np, requestPath); link != "" {
			out[np.Name()+NavigationLinkSuffix] = link
		}
	}
	for _, np := range v.ExpandedProperties() {
		if r.hidden(np.TargetType()) {
			continue
		}
		sub := v.Expanded(np)
		if np.IsEntitySet() {
			set := e.EntitySet(np)
			if set == nil {
				continue
			}
			out[np.Name()] = r.Items(set, sub, requestPath)
			if set.Count() >= 0 {
				out[np.Name()+CountSuffix] = set.Count()
			}
			if set.NextLink() != "" {
				out[np.Name()+NextLinkSuffix] = set.NextLink()
			}
			continue
		}
		if !e.IsSet(np) {
			continue
		}
		out[np.Name()] = r.Entity(e.Entity(np), sub, requestPath)
	}
	return out
}

// Items renders the held entities of set.
func (r *Renderer) Items(set *model.EntitySet, v *Visibility, requestPath string) []map[string]any {
	items := make([]map[string]any, 0, set.Len())
	for _, e := range set.All() {
		items = append(items, r.Entity(e, v, requestPath))
	}
	return items
}

// EntitySet renders set as a collection response with value, count and
// next link.
func (r *Renderer) EntitySet(set *model.EntitySet, v *Visibility, requestPath string) map[string]any {
	out := map[string]any{"value": r.Items(set, v, requestPath)}
	if set.Count() >= 0 {
		out[CountSuffix] = set.Count()
	}
	if set.NextLink() != "" {
		out[NextLinkSuffix] = set.NextLink()
	}
	return out
}

func (r *Renderer) value(ep *model.EntityPropertyMain, v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case model.ID:
		return t.Value()
	case model.TimeValue:
		return t.String()
	case decimal.Decimal:
		// Rendered as a bare JSON number with all digits kept.
		return json.Number(t.String())
	case model.Properties:
		if ep.Type() == model.TypeObject {
			return r.linker.CustomLinks(t)
		}
	case map[string]any:
		if ep.Type() == model.TypeObject {
			return r.linker.CustomLinks(t)
		}
	}
	return v
}
