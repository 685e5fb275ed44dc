package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
)

func (s *Session) newReadContext() *ReadContext {
	return &ReadContext{
		Dialect:  s.store.schema.dialect,
		Registry: s.store.schema.registry,
		DataSize: NewDataSize(s.store.settings.MaxDataSize),
	}
}

// compile builds the statement state for path and q: the selected columns,
// the filters and the sort keys.
func (s *Session) compile(path *query.ResourcePath, q *query.Query) (*QueryState, error) {
	if err := q.Validate(path.EntityType()); err != nil {
		return nil, err
	}
	qs, err := NewQueryState(s.store.schema, path)
	if err != nil {
		return nil, err
	}
	qs.SelectProperties(q.Select)
	if err := qs.SetFilter(q.Filter); err != nil {
		return nil, err
	}
	if err := qs.SetSkipFilter(q.SkipFilter); err != nil {
		return nil, err
	}
	if err := qs.AddOrderBy(q.OrderBy); err != nil {
		return nil, err
	}
	return qs, nil
}

// GetEntity reads the single entity addressed by path, with its expansions.
func (s *Session) GetEntity(ctx context.Context, path *query.ResourcePath, q *query.Query) (*model.Entity, error) {
	if q == nil {
		q = query.New()
	}
	return s.readEntity(ctx, path, q, s.newReadContext())
}

func (s *Session) readEntity(ctx context.Context, path *query.ResourcePath, q *query.Query, rc *ReadContext) (*model.Entity, error) {
	if path.IsCollection() {
		return nil, fmt.Errorf("%w: %s addresses a collection", model.ErrIllegalArgument, path)
	}
	qs, err := s.compile(path, q)
	if err != nil {
		return nil, err
	}
	rows, err := qs.statement(-1, 0).QueryContext(ctx, s.tx)
	if err != nil {
		return nil, err
	}
	it := newResultIterator(rows, qs.root.table, qs.selected, rc, 1)
	it.query = q
	defer it.Close()
	if !rows.Next() {
		if err := it.Close(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, path)
	}
	e, err := it.scan()
	if err != nil {
		return nil, err
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	if err := s.expand(ctx, e, q, rc); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntitySet reads one page of the collection addressed by path, with the
// expansions of every entity.
func (s *Session) GetEntitySet(ctx context.Context, path *query.ResourcePath, q *query.Query) (*model.EntitySet, error) {
	if q == nil {
		q = query.New()
	}
	return s.readEntitySet(ctx, path, q, s.newReadContext())
}

func (s *Session) readEntitySet(ctx context.Context, path *query.ResourcePath, q *query.Query, rc *ReadContext) (*model.EntitySet, error) {
	set, _, err := s.openEntitySet(ctx, path, q, rc)
	if err != nil {
		return nil, err
	}
	if err := set.Materialize(); err != nil {
		return nil, err
	}
	for _, e := range set.All() {
		if err := s.expand(ctx, e, q, rc); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Stream opens one page of the collection addressed by path and calls fn
// with a set decoding entities while fn iterates it with Each. The next link
// is known once iteration ends. Queries with $expand are read eagerly, since
// expansions need statements of their own.
func (s *Session) Stream(ctx context.Context, path *query.ResourcePath, q *query.Query, fn func(set *model.EntitySet) error) error {
	if q == nil {
		q = query.New()
	}
	if len(q.Expand) > 0 {
		set, err := s.readEntitySet(ctx, path, q, s.newReadContext())
		if err != nil {
			return err
		}
		return fn(set)
	}
	set, it, err := s.openEntitySet(ctx, path, q, s.newReadContext())
	if err != nil {
		return err
	}
	defer it.Close()
	if err := fn(set); err != nil {
		return err
	}
	return it.Close()
}

// openEntitySet runs the count, when requested, and then the page statement.
// One row more than the page size is fetched to detect a following page.
func (s *Session) openEntitySet(ctx context.Context, path *query.ResourcePath, q *query.Query, rc *ReadContext) (*model.EntitySet, *ResultIterator, error) {
	if !path.IsCollection() {
		return nil, nil, fmt.Errorf("%w: %s does not address a collection", model.ErrIllegalArgument, path)
	}
	qs, err := s.compile(path, q)
	if err != nil {
		return nil, nil, err
	}

	set := model.NewEntitySet(path.EntityType())
	if q.CountOrDefault(s.store.settings.DefaultCount) {
		n, err := qs.countStatement().CountContext(ctx, s.tx)
		if err != nil {
			return nil, nil, err
		}
		set.SetCount(n)
	}

	top := s.store.settings.top(q)
	rows, err := qs.statement(top+1, q.Skip).QueryContext(ctx, s.tx)
	if err != nil {
		return nil, nil, err
	}
	it := newResultIterator(rows, qs.root.table, qs.selected, rc, top)
	it.query = q
	baseURL := path.URL()
	it.onDone = func(count int, more bool) {
		if more && count > 0 {
			set.SetNextLink(q.NextLink(baseURL, count))
		}
	}
	set.SetSource(it)
	return set, it, nil
}

// expand reads the related entities requested by the $expand of q into e.
// Each expansion is its own statement over the path parent(key)/navigation,
// paged by the nested query.
func (s *Session) expand(ctx context.Context, e *model.Entity, q *query.Query, rc *ReadContext) error {
	for _, ex := range q.Expand {
		np := ex.Property
		sub := ex.Query
		if sub == nil {
			sub = query.New()
		}
		path, err := query.NewPath(s.store.settings.ServiceRoot, e.EntityType()).WithKey(e.PrimaryKeyValues())
		if err != nil {
			return err
		}
		if path, err = path.Navigate(np); err != nil {
			return err
		}

		if np.IsEntitySet() {
			set, err := s.readEntitySet(ctx, path, sub, rc)
			if err != nil {
				return fmt.Errorf("failed to expand %s: %w", np.Name(), err)
			}
			if err := e.Set(np, set); err != nil {
				return err
			}
			continue
		}

		related, err := s.readEntity(ctx, path, sub, rc)
		if errors.Is(err, model.ErrNotFound) {
			if err := e.Set(np, nil); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", np.Name(), err)
		}
		if err := e.Set(np, related); err != nil {
			return err
		}
	}
	return nil
}

// exists reports whether an entity of t with key pk is stored.
func (s *Session) exists(ctx context.Context, t *Table, pk model.PkValue) (bool, error) {
	d := s.tx.dialect
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", d.Quote(t.name), d.Quote(t.keyColumns[0]))
	var n int64
	if err := s.tx.queryRow(ctx, stmt, rawKeyValue(pk.Get(0))).Scan(&n); err != nil {
		return false, sqlError(err)
	}
	return n > 0, nil
}
