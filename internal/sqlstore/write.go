package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
)

func (s *Session) writeContext() *WriteContext {
	return &WriteContext{Dialect: s.store.schema.dialect, Registry: s.store.schema.registry}
}

func (s *Session) table(e *model.Entity) (*Table, error) {
	if e == nil || e.EntityType() == nil {
		return nil, fmt.Errorf("%w: entity has no type", model.ErrIllegalArgument)
	}
	return s.store.schema.Table(e.EntityType())
}

// Insert creates e. Related entities without a key are created as well: to-one
// targets before e, to-many targets after it with their back reference set.
// Related entities with a key must exist and are linked to e. The insert hook
// of the table runs last, then a create message is queued.
func (s *Session) Insert(ctx context.Context, e *model.Entity) error {
	table, err := s.table(e)
	if err != nil {
		return err
	}
	if err := e.ValidateCreate(); err != nil {
		return err
	}
	if err := s.resolveToOne(ctx, table, e); err != nil {
		return err
	}
	if err := s.generateKey(e); err != nil {
		return err
	}

	row := make(map[string]any)
	wc := s.writeContext()
	for _, pf := range table.fields.All() {
		if pf.Converter.Insert == nil || !e.IsSet(pf.Property) {
			continue
		}
		if err := pf.Converter.Insert(wc, e, row); err != nil {
			return err
		}
	}
	for _, col := range table.keyColumns {
		if v, ok := row[col]; ok && v == nil {
			delete(row, col)
		}
	}

	key, err := s.insertRow(ctx, table, row)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", table.entityType.Name(), err)
	}
	if err := e.SetPrimaryKeyValues(key); err != nil {
		return err
	}

	if err := s.resolveToMany(ctx, table, e); err != nil {
		return err
	}
	if table.afterInsert != nil {
		if err := table.afterInsert(ctx, s, e); err != nil {
			return err
		}
	}
	s.tx.addEvent(model.NewCreateMessage(e))
	return nil
}

// generateKey assigns a fresh identifier to entities of a registry using
// UUID or string identifiers. Integer identifiers come from the database.
func (s *Session) generateKey(e *model.Entity) error {
	keys := e.EntityType().PrimaryKey().Keys()
	if len(keys) != 1 || keys[0].Type() != model.TypeID || e.Value(keys[0]) != nil {
		return nil
	}
	switch s.store.schema.registry.IDKind() {
	case model.IDKindUUID:
		return e.Set(keys[0], model.NewUUIDID())
	case model.IDKindString:
		return e.Set(keys[0], model.StringID(uuid.NewString()))
	}
	return nil
}

// insertRow writes row and returns the stored key.
func (s *Session) insertRow(ctx context.Context, table *Table, row map[string]any) (model.PkValue, error) {
	d := s.tx.dialect
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	returning := make([]string, len(table.keyColumns))
	for i, col := range table.keyColumns {
		returning[i] = d.Quote(col)
	}

	var stmt string
	var args []any
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", d.Quote(table.name), strings.Join(returning, ", "))
	} else {
		quoted := make([]string, len(cols))
		values := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = d.Quote(col)
			switch v := row[col].(type) {
			case SQLExpr:
				values[i] = v.SQL
				args = append(args, v.Args...)
			default:
				values[i] = "?"
				args = append(args, v)
			}
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", d.Quote(table.name),
			strings.Join(quoted, ", "), strings.Join(values, ", "), strings.Join(returning, ", "))
	}

	raw := make([]any, len(table.keyColumns))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.tx.queryRow(ctx, stmt, args...).Scan(ptrs...); err != nil {
		return model.PkValue{}, sqlError(err)
	}

	values := make([]any, len(raw))
	for i, v := range raw {
		key, err := keyFromValue(s.store.schema.registry, table.entityType, v)
		if err != nil {
			return model.PkValue{}, err
		}
		values[i] = key
	}
	return model.PkValueOf(values...)
}

// resolveToOne makes sure every to-one target of e is stored: targets with
// a key must exist, targets without one are inserted.
func (s *Session) resolveToOne(ctx context.Context, table *Table, e *model.Entity) error {
	for _, np := range table.entityType.NavigationProperties() {
		if np.IsEntitySet() {
			continue
		}
		related := e.Entity(np)
		if related == nil {
			continue
		}
		if err := s.resolveRelated(ctx, table, np, related); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) resolveRelated(ctx context.Context, table *Table, np *model.NavigationPropertyMain, related *model.Entity) error {
	if !related.PrimaryKeyValues().IsFullySet() {
		return s.Insert(ctx, related)
	}
	target, err := s.store.schema.Table(np.TargetType())
	if err != nil {
		return err
	}
	ok, err := s.exists(ctx, target, related.PrimaryKeyValues())
	if err != nil {
		return err
	}
	if !ok {
		return model.IncompleteEntityError(table.entityType, np.Name(),
			fmt.Sprintf("%s %s does not exist", target.entityType.Name(), related.PrimaryKeyValues()))
	}
	return nil
}

// resolveToMany stores the to-many targets of the already stored entity e.
// New targets of a foreign key relation get e as back reference before they
// are inserted. Link table relations get a row for every target.
func (s *Session) resolveToMany(ctx context.Context, table *Table, e *model.Entity) error {
	for _, np := range table.entityType.NavigationProperties() {
		if !np.IsEntitySet() {
			continue
		}
		set := e.EntitySet(np)
		if set.Len() == 0 {
			continue
		}
		rel, err := table.Relation(np)
		if err != nil {
			return err
		}
		_, linkTable := rel.(*manyToMany)
		for _, child := range set.All() {
			if child.PrimaryKeyValues().IsFullySet() {
				if err := s.resolveRelated(ctx, table, np, child); err != nil {
					return err
				}
				if err := rel.link(ctx, s.tx, e, child); err != nil {
					return err
				}
				continue
			}
			if !linkTable {
				if err := child.CompleteFromParent(e, np); err != nil {
					return err
				}
			}
			if err := s.Insert(ctx, child); err != nil {
				return err
			}
			if linkTable {
				if err := rel.link(ctx, s.tx, e, child); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Update applies the set properties of e to the stored entity with key pk
// and returns the resulting change message. Changing the key is rejected.
func (s *Session) Update(ctx context.Context, pk model.PkValue, e *model.Entity) (*model.EntityChangedMessage, error) {
	table, err := s.table(e)
	if err != nil {
		return nil, err
	}
	t := table.entityType
	for i, key := range t.PrimaryKey().Keys() {
		if i < pk.Size() && e.IsSet(key) && !model.ValuesEqual(e.Value(key), pk.Get(i)) {
			return nil, model.InvalidStateError(t, "the primary key can not be changed")
		}
	}
	if err := e.SetPrimaryKeyValues(pk); err != nil {
		return nil, err
	}

	before, err := s.load(ctx, t, pk)
	if err != nil {
		return nil, err
	}
	if err := e.ValidateUpdate(); err != nil {
		return nil, err
	}
	if err := s.resolveToOne(ctx, table, e); err != nil {
		return nil, err
	}

	row := make(map[string]any)
	wc := s.writeContext()
	for _, pf := range table.fields.All() {
		if pf.Converter.Update == nil || !e.IsSet(pf.Property) {
			continue
		}
		if err := pf.Converter.Update(wc, e, row); err != nil {
			return nil, err
		}
	}
	for _, col := range table.keyColumns {
		delete(row, col)
	}
	if len(row) > 0 {
		if err := s.updateRow(ctx, table, pk, row); err != nil {
			return nil, err
		}
	}

	if err := s.resolveToMany(ctx, table, e); err != nil {
		return nil, err
	}

	after := before.Clone()
	if err := after.Merge(e); err != nil {
		return nil, err
	}
	msg := model.NewUpdateMessage(before, after)
	s.tx.addEvent(msg)
	return msg, nil
}

func (s *Session) updateRow(ctx context.Context, table *Table, pk model.PkValue, row map[string]any) error {
	d := s.tx.dialect
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	var args []any
	for i, col := range cols {
		switch v := row[col].(type) {
		case SQLExpr:
			sets[i] = d.Quote(col) + " = " + v.SQL
			args = append(args, v.Args...)
		default:
			sets[i] = d.Quote(col) + " = ?"
			args = append(args, v)
		}
	}
	args = append(args, rawKeyValue(pk.Get(0)))
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.Quote(table.name), strings.Join(sets, ", "), d.Quote(table.keyColumns[0]))
	res, err := s.tx.exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table.entityType.Name(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, table.entityType.Name(), pk)
	}
	return nil
}

// Delete removes the entity of type t with key pk. Dependent rows are
// removed by the foreign key constraints of the schema.
func (s *Session) Delete(ctx context.Context, t *model.EntityType, pk model.PkValue) error {
	table, err := s.store.schema.Table(t)
	if err != nil {
		return err
	}
	before, err := s.load(ctx, t, pk)
	if err != nil {
		return err
	}

	d := s.tx.dialect
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Quote(table.name), d.Quote(table.keyColumns[0]))
	res, err := s.tx.exec(ctx, stmt, rawKeyValue(pk.Get(0)))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", t.Name(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, t.Name(), pk)
	}
	s.tx.addEvent(model.NewDeleteMessage(before))
	return nil
}

// load reads the stored state of one entity without a data size limit.
func (s *Session) load(ctx context.Context, t *model.EntityType, pk model.PkValue) (*model.Entity, error) {
	path, err := query.NewPath(s.store.settings.ServiceRoot, t).WithKey(pk)
	if err != nil {
		return nil, err
	}
	rc := &ReadContext{Dialect: s.store.schema.dialect, Registry: s.store.schema.registry}
	return s.readEntity(ctx, path, query.New(), rc)
}
