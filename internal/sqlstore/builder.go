package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// statementBuilder accumulates the clauses of one SELECT statement. Clauses
// carry their own arguments. Placeholders stay ? until the transaction
// rebinds them for the dialect.
type statementBuilder struct {
	dialect  Dialect
	table    string
	alias    string
	distinct bool
	selects  []SQLExpr
	joins    []string
	wheres   []SQLExpr
	orderBys []SQLExpr
	limit    *int
	offset   int
}

func newStatementBuilder(d Dialect) *statementBuilder {
	return &statementBuilder{dialect: d}
}

// From sets the root table and its alias.
func (b *statementBuilder) From(table, alias string) *statementBuilder {
	b.table = table
	b.alias = alias
	return b
}

// Distinct makes the statement SELECT DISTINCT.
func (b *statementBuilder) Distinct() *statementBuilder {
	b.distinct = true
	return b
}

// Select adds plain column expressions.
func (b *statementBuilder) Select(cols ...string) *statementBuilder {
	for _, c := range cols {
		b.selects = append(b.selects, SQLExpr{SQL: c})
	}
	return b
}

// SelectExpr adds an expression with arguments.
func (b *statementBuilder) SelectExpr(e SQLExpr) *statementBuilder {
	b.selects = append(b.selects, e)
	return b
}

// Join adds a JOIN clause.
func (b *statementBuilder) Join(clause string) *statementBuilder {
	b.joins = append(b.joins, clause)
	return b
}

// Where adds a condition. Conditions are joined with AND.
func (b *statementBuilder) Where(sql string, args ...any) *statementBuilder {
	return b.WhereExpr(SQLExpr{SQL: sql, Args: args})
}

// WhereExpr adds a compiled condition.
func (b *statementBuilder) WhereExpr(e SQLExpr) *statementBuilder {
	b.wheres = append(b.wheres, e)
	return b
}

// OrderByExpr adds a sort key.
func (b *statementBuilder) OrderByExpr(e SQLExpr, descending bool) *statementBuilder {
	if descending {
		e.SQL += " DESC"
	}
	b.orderBys = append(b.orderBys, e)
	return b
}

// Limit sets the LIMIT.
func (b *statementBuilder) Limit(n int) *statementBuilder {
	b.limit = &n
	return b
}

// Offset sets the OFFSET.
func (b *statementBuilder) Offset(n int) *statementBuilder {
	b.offset = n
	return b
}

func (b *statementBuilder) writeFrom(sql *strings.Builder, args *[]any) {
	if b.table != "" {
		sql.WriteString(" FROM ")
		sql.WriteString(b.dialect.Quote(b.table))
		if b.alias != "" {
			sql.WriteString(" AS ")
			sql.WriteString(b.dialect.Quote(b.alias))
		}
	}

	for _, join := range b.joins {
		sql.WriteString(" ")
		sql.WriteString(join)
	}

	if len(b.wheres) > 0 {
		sql.WriteString(" WHERE ")
		whereClauses := make([]string, 0, len(b.wheres))
		for _, w := range b.wheres {
			whereClauses = append(whereClauses, "("+w.SQL+")")
			*args = append(*args, w.Args...)
		}
		sql.WriteString(strings.Join(whereClauses, " AND "))
	}
}

// toSQL renders the statement with ? placeholders.
func (b *statementBuilder) toSQL(withOrder bool) (string, []any) {
	var sql strings.Builder
	var args []any

	sql.WriteString("SELECT ")
	if b.distinct {
		sql.WriteString("DISTINCT ")
	}
	if len(b.selects) > 0 {
		cols := make([]string, 0, len(b.selects))
		for _, s := range b.selects {
			cols = append(cols, s.SQL)
			args = append(args, s.Args...)
		}
		sql.WriteString(strings.Join(cols, ", "))
	} else {
		sql.WriteString("*")
	}

	b.writeFrom(&sql, &args)

	if !withOrder {
		return sql.String(), args
	}

	if len(b.orderBys) > 0 {
		sql.WriteString(" ORDER BY ")
		orders := make([]string, 0, len(b.orderBys))
		for _, o := range b.orderBys {
			orders = append(orders, o.SQL)
			args = append(args, o.Args...)
		}
		sql.WriteString(strings.Join(orders, ", "))
	}

	if b.limit != nil {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", *b.limit))
	} else if b.offset > 0 && b.dialect == DialectSQLite {
		// SQLite only accepts OFFSET after a LIMIT
		sql.WriteString(" LIMIT -1")
	}

	if b.offset > 0 {
		sql.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
	}

	return sql.String(), args
}

// ToSQL builds the final SELECT statement with ? placeholders.
func (b *statementBuilder) ToSQL() (string, []any) {
	return b.toSQL(true)
}

// ToCountSQL builds a COUNT(*) statement over the rows selected without
// order and paging. DISTINCT statements are counted through a subquery.
func (b *statementBuilder) ToCountSQL() (string, []any) {
	var sql strings.Builder
	var args []any

	if b.distinct {
		innerSQL, innerArgs := b.toSQL(false)
		sql.WriteString("SELECT COUNT(*) FROM (")
		sql.WriteString(innerSQL)
		sql.WriteString(") AS count_subquery")
		args = innerArgs
	} else {
		sql.WriteString("SELECT COUNT(*)")
		b.writeFrom(&sql, &args)
	}

	return sql.String(), args
}

// QueryContext executes the statement.
func (b *statementBuilder) QueryContext(ctx context.Context, tx *Tx) (*sql.Rows, error) {
	query, args := b.ToSQL()
	return tx.query(ctx, query, args...)
}

// CountContext executes the count statement and returns the count.
func (b *statementBuilder) CountContext(ctx context.Context, tx *Tx) (int64, error) {
	query, args := b.ToCountSQL()

	var count int64
	if err := tx.queryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, sqlError(err)
	}

	return count, nil
}
