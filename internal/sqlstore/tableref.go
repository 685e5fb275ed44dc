package sqlstore

import (
	"fmt"
	"strconv"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
)

// TableRef is one aliased table of a compiled statement. It remembers the
// joins made from it, so each navigation edge is joined at most once.
type TableRef struct {
	table *Table
	alias string
	joins map[*model.NavigationPropertyMain]*TableRef
}

// Table returns the referenced table.
func (r *TableRef) Table() *Table { return r.table }

// Alias returns the statement-unique alias.
func (r *TableRef) Alias() string { return r.alias }

// GetJoin returns the join already made for np, or nil.
func (r *TableRef) GetJoin(np *model.NavigationPropertyMain) *TableRef {
	return r.joins[np]
}

// AddJoin records the join made for np.
func (r *TableRef) AddJoin(np *model.NavigationPropertyMain, ref *TableRef) {
	if r.joins == nil {
		r.joins = make(map[*model.NavigationPropertyMain]*TableRef)
	}
	r.joins[np] = ref
}

func (r *TableRef) column(d Dialect, column string) string {
	return d.Column(r.alias, column)
}

// orderField is one compiled sort key.
type orderField struct {
	expr       SQLExpr
	descending bool
}

// QueryState is the compilation state of one SELECT statement.
type QueryState struct {
	dialect  Dialect
	schema   *Schema
	root     *TableRef
	aliasSeq int

	selected    []*PropertyFields
	selectedSet map[model.Property]bool
	joins       []string

	pathWhere  []SQLExpr
	filter     *SQLExpr
	skipFilter *SQLExpr
	orderBy    []orderField

	distinctRequired bool
}

// NewQueryState starts a statement over the table of the entity type the
// path addresses and constrains it to the path.
func NewQueryState(schema *Schema, path *query.ResourcePath) (*QueryState, error) {
	table, err := schema.Table(path.EntityType())
	if err != nil {
		return nil, err
	}
	qs := &QueryState{dialect: schema.dialect, schema: schema, selectedSet: make(map[model.Property]bool)}
	qs.root = qs.newRef(table)
	if err := qs.constrainPath(path); err != nil {
		return nil, err
	}
	return qs, nil
}

// Root returns the reference of the queried table.
func (qs *QueryState) Root() *TableRef { return qs.root }

// DistinctRequired reports whether a to-many join may duplicate root rows.
func (qs *QueryState) DistinctRequired() bool { return qs.distinctRequired }

func (qs *QueryState) nextAlias() string {
	alias := "e" + strconv.Itoa(qs.aliasSeq)
	qs.aliasSeq++
	return alias
}

func (qs *QueryState) newRef(t *Table) *TableRef {
	return &TableRef{table: t, alias: qs.nextAlias()}
}

func (qs *QueryState) addJoin(clause string) {
	qs.joins = append(qs.joins, clause)
}

// constrainPath walks from the addressed element back to the first segment.
// Each step joins the parent through the inverse navigation and pins its
// key. Keys make every step unique, so these joins never duplicate rows and
// are kept out of the join memo: a filter on the same relation must still
// see every related entity.
func (qs *QueryState) constrainPath(path *query.ResourcePath) error {
	ref := qs.root
	el := path.Main()
	for {
		if el.HasKey() {
			qs.pathWhere = append(qs.pathWhere, keyCondition(qs.dialect, ref, el.Key))
		}
		if el.Parent == nil {
			return nil
		}
		inverse := el.Navigation.Inverse()
		if inverse == nil {
			return model.NoRelationError(el.EntityType, el.Parent.EntityType.Name())
		}
		rel, err := ref.table.Relation(inverse)
		if err != nil {
			return err
		}
		ref = rel.join(qs, ref, innerJoin)
		el = el.Parent
	}
}

func keyCondition(d Dialect, ref *TableRef, pk model.PkValue) SQLExpr {
	expr := SQLExpr{}
	for i, col := range ref.table.keyColumns {
		if i > 0 {
			expr.SQL += " AND "
		}
		expr.SQL += ref.column(d, col) + " = ?"
		expr.Args = append(expr.Args, rawKeyValue(pk.Get(i)))
	}
	return expr
}

// Join resolves a navigation chain starting at the root, reusing earlier
// joins of the same edges.
func (qs *QueryState) Join(chain ...*model.NavigationPropertyMain) (*TableRef, error) {
	ref := qs.root
	for _, np := range chain {
		if j := ref.GetJoin(np); j != nil {
			ref = j
			continue
		}
		rel, err := ref.table.Relation(np)
		if err != nil {
			return nil, err
		}
		j := rel.join(qs, ref, leftJoin)
		ref.AddJoin(np, j)
		if rel.IsToMany() {
			qs.distinctRequired = true
		}
		ref = j
	}
	return ref, nil
}

// resolvePath joins all navigation segments of p and returns the reference
// holding the last segment and its binding.
func (qs *QueryState) resolvePath(p *query.Path) (*TableRef, *PropertyFields, error) {
	if len(p.Segments) == 0 {
		return nil, nil, fmt.Errorf("%w: empty property path", model.ErrParse)
	}
	chain := make([]*model.NavigationPropertyMain, 0, len(p.Segments)-1)
	for _, seg := range p.Segments[:len(p.Segments)-1] {
		np, ok := seg.(*model.NavigationPropertyMain)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s is not a navigation property in %s", model.ErrParse, seg.Name(), p)
		}
		chain = append(chain, np)
	}
	ref, err := qs.Join(chain...)
	if err != nil {
		return nil, nil, err
	}
	last := p.Last()
	pf := ref.table.fields.SelectFieldsForProperty(last)
	if pf == nil {
		if !ref.table.entityType.HasProperty(last) {
			return nil, nil, model.UnknownPropertyError(ref.table.entityType, last.Name())
		}
		return nil, nil, fmt.Errorf("%w: %s can not be used in an expression", model.ErrParse, last.Name())
	}
	return ref, pf, nil
}

// SelectProperties adds the bindings of props to the select list. Without
// props the default set of the root table is selected. Key columns are
// always selected.
func (qs *QueryState) SelectProperties(props []model.Property) {
	fields := qs.root.table.fields
	for _, key := range qs.root.table.entityType.PrimaryKey().Keys() {
		if pf := fields.SelectFieldsForProperty(key); pf != nil {
			qs.selectField(pf)
		}
	}
	for _, pf := range fields.FieldsForProperties(props) {
		qs.selectField(pf)
	}
}

func (qs *QueryState) selectField(pf *PropertyFields) {
	if qs.selectedSet[pf.Property] {
		return
	}
	qs.selectedSet[pf.Property] = true
	qs.selected = append(qs.selected, pf)
}

// Selected returns the selected bindings of the root table in column order.
func (qs *QueryState) Selected() []*PropertyFields { return qs.selected }

// SetFilter compiles the user filter.
func (qs *QueryState) SetFilter(e query.Expression) error {
	if e == nil {
		return nil
	}
	expr, err := qs.compileCondition(e)
	if err != nil {
		return err
	}
	qs.filter = &expr
	return nil
}

// SetSkipFilter compiles the keyset paging condition. It applies to the
// page but not to the count.
func (qs *QueryState) SetSkipFilter(e query.Expression) error {
	if e == nil {
		return nil
	}
	expr, err := qs.compileCondition(e)
	if err != nil {
		return err
	}
	qs.skipFilter = &expr
	return nil
}

// AddOrderBy compiles the sort keys and appends the primary key as the last
// key, giving a total order for stable paging.
func (qs *QueryState) AddOrderBy(orders []query.OrderBy) error {
	for _, o := range orders {
		exprs, err := qs.compileOrder(o.Expr)
		if err != nil {
			return err
		}
		for _, e := range exprs {
			qs.orderBy = append(qs.orderBy, orderField{expr: e, descending: o.Descending})
		}
	}
	for _, col := range qs.root.table.keyColumns {
		qs.orderBy = append(qs.orderBy, orderField{expr: SQLExpr{SQL: qs.root.column(qs.dialect, col)}})
	}
	return nil
}

// conditions returns the path conditions and the user filter.
func (qs *QueryState) conditions() []SQLExpr {
	out := append([]SQLExpr{}, qs.pathWhere...)
	if qs.filter != nil {
		out = append(out, *qs.filter)
	}
	return out
}

// statement renders the page statement. top < 0 means no limit.
func (qs *QueryState) statement(top, skip int) *statementBuilder {
	b := newStatementBuilder(qs.dialect).From(qs.root.table.name, qs.root.alias)
	for _, pf := range qs.selected {
		for _, col := range pf.Columns {
			b.Select(qs.root.column(qs.dialect, col))
		}
	}
	if qs.distinctRequired {
		// DISTINCT needs the sort expressions in the select list.
		b.Distinct()
		for _, o := range qs.orderBy {
			b.SelectExpr(o.expr)
		}
	}
	for _, j := range qs.joins {
		b.Join(j)
	}
	for _, w := range qs.conditions() {
		b.WhereExpr(w)
	}
	if qs.skipFilter != nil {
		b.WhereExpr(*qs.skipFilter)
	}
	for _, o := range qs.orderBy {
		b.OrderByExpr(o.expr, o.descending)
	}
	if top >= 0 {
		b.Limit(top)
	}
	b.Offset(skip)
	return b
}

// countStatement renders the COUNT statement for the user filter.
func (qs *QueryState) countStatement() *statementBuilder {
	b := newStatementBuilder(qs.dialect).From(qs.root.table.name, qs.root.alias)
	for _, col := range qs.root.table.keyColumns {
		b.Select(qs.root.column(qs.dialect, col))
	}
	if qs.distinctRequired {
		b.Distinct()
	}
	for _, j := range qs.joins {
		b.Join(j)
	}
	for _, w := range qs.conditions() {
		b.WhereExpr(w)
	}
	return b
}
