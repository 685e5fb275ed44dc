package visibility

import (
	"strings"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// Annotation suffixes of the JSON encoding.
const (
	SelfLinkKey          = "@iot.selfLink"
	NavigationLinkSuffix = "@iot.navigationLink"
	IDSuffix             = "@iot.id"
	CountSuffix          = "@iot.count"
	NextLinkSuffix       = "@iot.nextLink"
)

// DefaultCustomLinkDepth bounds the recursion into nested property objects.
const DefaultCustomLinkDepth = 5

// LinkSettings configures link generation.
type LinkSettings struct {
	// ServiceRoot is the absolute root URL, such as http://host/v1.1.
	ServiceRoot string

	// RelativeNavigationLinks renders navigation links relative to the
	// request path instead of absolute.
	RelativeNavigationLinks bool

	// CustomLinks enables the substitution of name.Type@iot.id members of
	// object properties.
	CustomLinks bool

	// CustomLinkDepth bounds the object nesting searched for custom links.
	// 0 means DefaultCustomLinkDepth.
	CustomLinkDepth int
}

// Linker generates the links of entities against one service root.
type Linker struct {
	settings LinkSettings
	registry *model.Registry
}

// NewLinker creates a linker resolving custom link types in registry.
func NewLinker(registry *model.Registry, settings LinkSettings) *Linker {
	settings.ServiceRoot = strings.TrimSuffix(settings.ServiceRoot, "/")
	if settings.CustomLinkDepth <= 0 {
		settings.CustomLinkDepth = DefaultCustomLinkDepth
	}
	return &Linker{settings: settings, registry: registry}
}

// SelfLink renders {serviceRoot}/{EntityTypePlural}({key}), or "" when the
// key of e is not set.
func (l *Linker) SelfLink(e *model.Entity) string {
	pk := e.PrimaryKeyValues()
	if pk.Size() == 0 || !pk.IsFullySet() {
		return ""
	}
	t := e.EntityType()
	return l.settings.ServiceRoot + "/" + t.PluralName() + "(" + pk.URL(t.PrimaryKey()) + ")"
}

// NavigationLink renders the link of relation np of e. With relative links
// enabled and a request path given, the link is relative to requestPath.
func (l *Linker) NavigationLink(e *model.Entity, np *model.NavigationPropertyMain, requestPath string) string {
	self := e.SelfLink()
	if self == "" {
		self = l.SelfLink(e)
	}
	if self == "" {
		return ""
	}
	link := self + "/" + np.Name()
	if l.settings.RelativeNavigationLinks && requestPath != "" {
		return RelativePath(requestPath, link)
	}
	return link
}

// Apply sets the self link of e and of every entity expanded below it.
func (l *Linker) Apply(e *model.Entity, v *Visibility) {
	if e == nil {
		return
	}
	e.SetSelfLink(l.SelfLink(e))
	e.SetSelectNames(v.SelectNames())
	for _, np := range v.ExpandedProperties() {
		sub := v.Expanded(np)
		if np.IsEntitySet() {
			if set := e.EntitySet(np); set != nil {
				for _, child := range set.All() {
					l.Apply(child, sub)
				}
			}
			continue
		}
		l.Apply(e.Entity(np), sub)
	}
}

// CustomLinks returns a copy of props where every member named
// name.Type@iot.id with a value gets a sibling name.Type@iot.navigationLink
// pointing at the entity of that type. Nested objects are searched up to the
// configured depth.
func (l *Linker) CustomLinks(props map[string]any) map[string]any {
	if !l.settings.CustomLinks || props == nil {
		return props
	}
	return l.customLinks(props, l.settings.CustomLinkDepth)
}

func (l *Linker) customLinks(props map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	for k, v := range props {
		if nested, ok := asObject(v); ok {
			if depth > 1 {
				out[k] = l.customLinks(nested, depth-1)
			}
			continue
		}
		name, ok := strings.CutSuffix(k, IDSuffix)
		if !ok || v == nil {
			continue
		}
		dot := strings.LastIndexByte(name, '.')
		if dot <= 0 || dot == len(name)-1 {
			continue
		}
		t, err := l.registry.EntityTypeByName(name[dot+1:])
		if err != nil {
			continue
		}
		id, err := model.IDFromValue(l.registry.IDKind(), v)
		if err != nil {
			continue
		}
		out[name+NavigationLinkSuffix] = l.settings.ServiceRoot + "/" + t.PluralName() + "(" + id.URL() + ")"
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case model.Properties:
		return t, true
	}
	return nil, false
}

// RelativePath renders target relative to the directory of base. Both are
// absolute URLs or absolute paths of the same service.
func RelativePath(base, target string) string {
	bs := strings.Split(stripScheme(base), "/")
	ts := strings.Split(stripScheme(target), "/")
	// The last base segment is the addressed resource, not a directory.
	bs = bs[:len(bs)-1]
	common := 0
	for common < len(bs) && common < len(ts) && bs[common] == ts[common] {
		common++
	}
	if common == 0 {
		return target
	}
	var sb strings.Builder
	for i := common; i < len(bs); i++ {
		sb.WriteString("../")
	}
	sb.WriteString(strings.Join(ts[common:], "/"))
	return sb.String()
}

func stripScheme(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[i+3:]
	}
	return u
}
