package sensorthings

import (
	"context"
	"fmt"
	"slices"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/query"
)

// Principal is the authenticated caller of an operation, as established by
// the surrounding server.
type Principal struct {
	Name  string
	Roles []string
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && slices.Contains(p.Roles, core.RoleAdmin)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal of ctx, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

func isAdmin(ctx context.Context) bool {
	return PrincipalFromContext(ctx).IsAdmin()
}

// checkPathAccess rejects paths touching admin-only entity types unless
// the caller is an admin.
func checkPathAccess(ctx context.Context, path *query.ResourcePath) error {
	if isAdmin(ctx) {
		return nil
	}
	for _, e := range path.Elements {
		if e.EntityType.IsAdminOnly() {
			return fmt.Errorf("%w: %s requires the %s role", model.ErrForbidden, e.EntityType.PluralName(), core.RoleAdmin)
		}
	}
	return nil
}

// hiddenFor returns the type filter of the renderer for the caller of ctx.
func hiddenFor(ctx context.Context) func(t *model.EntityType) bool {
	if isAdmin(ctx) {
		return nil
	}
	return (*model.EntityType).IsAdminOnly
}
