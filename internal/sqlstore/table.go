package sqlstore

import (
	"context"
	"fmt"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// AfterInsertFunc runs after an entity and its related entities have been
// inserted, in the same transaction.
type AfterInsertFunc func(ctx context.Context, s *Session, e *model.Entity) error

// TableDef is the declarative description of one table: the entity type it
// stores, the bindings of its properties and its relations.
type TableDef struct {
	Name        string
	EntityType  *model.EntityType
	Bindings    []Binding
	Relations   []Relation
	AfterInsert AfterInsertFunc
}

// Table is a TableDef resolved against a schema.
type Table struct {
	name        string
	entityType  *model.EntityType
	fields      *FieldRegistry
	relations   map[*model.NavigationPropertyMain]Relation
	keyColumns  []string
	afterInsert AfterInsertFunc
}

func newTable(def TableDef) (*Table, error) {
	t := &Table{
		name:        def.Name,
		entityType:  def.EntityType,
		fields:      newFieldRegistry(),
		relations:   make(map[*model.NavigationPropertyMain]Relation),
		afterInsert: def.AfterInsert,
	}
	for _, b := range def.Bindings {
		if !def.EntityType.HasProperty(b.fields.Property) {
			return nil, fmt.Errorf("%w: table %s binds %s which is not a property of %s",
				model.ErrIllegalArgument, def.Name, b.fields.Property.Name(), def.EntityType.Name())
		}
		t.fields.AddEntry(b.fields)
	}
	for _, key := range def.EntityType.PrimaryKey().Keys() {
		pf, err := t.fields.Fields(key)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", def.Name, err)
		}
		if len(pf.Columns) != 1 {
			return nil, fmt.Errorf("%w: key %s of table %s must map to one column", model.ErrIllegalArgument, key.Name(), def.Name)
		}
		t.keyColumns = append(t.keyColumns, pf.Columns[0])
	}
	for _, r := range def.Relations {
		t.relations[r.Navigation()] = r
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// EntityType returns the stored entity type.
func (t *Table) EntityType() *model.EntityType { return t.entityType }

// Fields returns the field binding registry of the table.
func (t *Table) Fields() *FieldRegistry { return t.fields }

// KeyColumns returns the primary key columns in key order.
func (t *Table) KeyColumns() []string { return t.keyColumns }

// Relation returns the relation behind np.
func (t *Table) Relation(np *model.NavigationPropertyMain) (Relation, error) {
	r, ok := t.relations[np]
	if !ok {
		return nil, model.NoRelationError(t.entityType, np.Name())
	}
	return r, nil
}

// joinKind selects the SQL join used for a relation.
type joinKind string

const (
	leftJoin  joinKind = "LEFT JOIN"
	innerJoin joinKind = "JOIN"
)

// Relation is the storage of one navigation property.
type Relation interface {
	Navigation() *model.NavigationPropertyMain
	Target() *Table
	// IsToMany reports whether a join can produce several rows per source row.
	IsToMany() bool

	resolve(s *Schema, source *Table) error
	join(qs *QueryState, source *TableRef, kind joinKind) *TableRef
	// link stores the association of an already inserted source and
	// target entity when it is not held in a column of the source row.
	link(ctx context.Context, tx *Tx, source, target *model.Entity) error
}

// ManyToOne is a relation held in a foreign key column of the source table.
func ManyToOne(np *model.NavigationPropertyMain, fkColumn string) Relation {
	return &manyToOne{relationBase: relationBase{np: np}, fkColumn: fkColumn}
}

// OneToMany is a relation held in a foreign key column of the target table.
func OneToMany(np *model.NavigationPropertyMain, targetFKColumn string) Relation {
	return &oneToMany{relationBase: relationBase{np: np}, fkColumn: targetFKColumn}
}

// ManyToMany is a relation held in a link table with one column pointing to
// each side.
func ManyToMany(np *model.NavigationPropertyMain, linkTable, sourceColumn, targetColumn string) Relation {
	return &manyToMany{relationBase: relationBase{np: np}, linkTable: linkTable, sourceColumn: sourceColumn, targetColumn: targetColumn}
}

type relationBase struct {
	np     *model.NavigationPropertyMain
	source *Table
	target *Table
}

func (r *relationBase) Navigation() *model.NavigationPropertyMain { return r.np }
func (r *relationBase) Target() *Table                            { return r.target }

func (r *relationBase) resolve(s *Schema, source *Table) error {
	target, err := s.Table(r.np.TargetType())
	if err != nil {
		return fmt.Errorf("relation %s of %s: %w", r.np.Name(), source.name, err)
	}
	if len(source.keyColumns) != 1 || len(target.keyColumns) != 1 {
		return fmt.Errorf("%w: relation %s of %s needs single column keys", model.ErrIllegalArgument, r.np.Name(), source.name)
	}
	r.source = source
	r.target = target
	return nil
}

type manyToOne struct {
	relationBase
	fkColumn string
}

func (r *manyToOne) IsToMany() bool { return false }

func (r *manyToOne) join(qs *QueryState, source *TableRef, kind joinKind) *TableRef {
	ref := qs.newRef(r.target)
	qs.addJoin(fmt.Sprintf("%s %s AS %s ON %s = %s", kind, qs.dialect.Quote(r.target.name), qs.dialect.Quote(ref.alias),
		ref.column(qs.dialect, r.target.keyColumns[0]), source.column(qs.dialect, r.fkColumn)))
	return ref
}

func (r *manyToOne) link(context.Context, *Tx, *model.Entity, *model.Entity) error {
	return nil
}

type oneToMany struct {
	relationBase
	fkColumn string
}

func (r *oneToMany) IsToMany() bool { return true }

func (r *oneToMany) join(qs *QueryState, source *TableRef, kind joinKind) *TableRef {
	ref := qs.newRef(r.target)
	qs.addJoin(fmt.Sprintf("%s %s AS %s ON %s = %s", kind, qs.dialect.Quote(r.target.name), qs.dialect.Quote(ref.alias),
		ref.column(qs.dialect, r.fkColumn), source.column(qs.dialect, r.source.keyColumns[0])))
	return ref
}

// link points the foreign key of an existing target row at source.
func (r *oneToMany) link(ctx context.Context, tx *Tx, source, target *model.Entity) error {
	d := tx.dialect
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", d.Quote(r.target.name), d.Quote(r.fkColumn), d.Quote(r.target.keyColumns[0]))
	res, err := tx.exec(ctx, stmt, rawKeyValue(source.PrimaryKeyValues().Get(0)), rawKeyValue(target.PrimaryKeyValues().Get(0)))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, r.target.entityType.Name(), target.PrimaryKeyValues())
	}
	return nil
}

type manyToMany struct {
	relationBase
	linkTable    string
	sourceColumn string
	targetColumn string
}

func (r *manyToMany) IsToMany() bool { return true }

func (r *manyToMany) join(qs *QueryState, source *TableRef, kind joinKind) *TableRef {
	d := qs.dialect
	linkAlias := qs.nextAlias()
	ref := qs.newRef(r.target)
	qs.addJoin(fmt.Sprintf("%s %s AS %s ON %s = %s", kind, d.Quote(r.linkTable), d.Quote(linkAlias),
		d.Column(linkAlias, r.sourceColumn), source.column(d, r.source.keyColumns[0])))
	qs.addJoin(fmt.Sprintf("%s %s AS %s ON %s = %s", kind, d.Quote(r.target.name), d.Quote(ref.alias),
		ref.column(d, r.target.keyColumns[0]), d.Column(linkAlias, r.targetColumn)))
	return ref
}

// link inserts a link table row. Existing links are kept.
func (r *manyToMany) link(ctx context.Context, tx *Tx, source, target *model.Entity) error {
	d := tx.dialect
	src := rawKeyValue(source.PrimaryKeyValues().Get(0))
	dst := rawKeyValue(target.PrimaryKeyValues().Get(0))
	var exists int
	check := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?", d.Quote(r.linkTable), d.Quote(r.sourceColumn), d.Quote(r.targetColumn))
	if err := tx.queryRow(ctx, check, src, dst).Scan(&exists); err != nil {
		return sqlError(err)
	}
	if exists > 0 {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", d.Quote(r.linkTable), d.Quote(r.sourceColumn), d.Quote(r.targetColumn))
	_, err := tx.exec(ctx, stmt, src, dst)
	return err
}

// Schema is the set of tables of one registry.
type Schema struct {
	dialect  Dialect
	registry *model.Registry
	tables   map[*model.EntityType]*Table
	order    []*Table
}

// NewSchema resolves the table definitions. Every entity type of the
// registry needs exactly one table.
func NewSchema(dialect Dialect, registry *model.Registry, defs ...TableDef) (*Schema, error) {
	s := &Schema{dialect: dialect, registry: registry, tables: make(map[*model.EntityType]*Table)}
	for _, def := range defs {
		if _, exists := s.tables[def.EntityType]; exists {
			return nil, fmt.Errorf("%w: entity type %s mapped twice", model.ErrIllegalArgument, def.EntityType.Name())
		}
		t, err := newTable(def)
		if err != nil {
			return nil, err
		}
		s.tables[def.EntityType] = t
		s.order = append(s.order, t)
	}
	for _, et := range registry.EntityTypes() {
		if _, ok := s.tables[et]; !ok {
			return nil, fmt.Errorf("%w: no table for entity type %s", model.ErrIllegalArgument, et.Name())
		}
	}
	for _, t := range s.order {
		for _, r := range t.relations {
			if err := r.resolve(s, t); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Dialect returns the SQL dialect of the schema.
func (s *Schema) Dialect() Dialect { return s.dialect }

// Registry returns the entity registry the schema maps.
func (s *Schema) Registry() *model.Registry { return s.registry }

// Table returns the table storing t.
func (s *Schema) Table(t *model.EntityType) (*Table, error) {
	table, ok := s.tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: no table for entity type %s", model.ErrIllegalArgument, t.Name())
	}
	return table, nil
}

// Tables returns every table in definition order.
func (s *Schema) Tables() []*Table { return s.order }
