package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// ResultIterator converts the rows of a page statement into entities, one
// row at a time. It stops after limit entities, or after the entity that
// makes the data size exceed its limit, and then records whether more rows
// were available.
type ResultIterator struct {
	rows   *sql.Rows
	table  *Table
	fields []*PropertyFields
	rc     *ReadContext
	limit  int
	query  any

	width   int
	count   int
	current *model.Entity
	more    bool
	done    bool
	err     error
	onDone  func(count int, more bool)
}

func newResultIterator(rows *sql.Rows, table *Table, fields []*PropertyFields, rc *ReadContext, limit int) *ResultIterator {
	return &ResultIterator{rows: rows, table: table, fields: fields, rc: rc, limit: limit}
}

// Next advances to the next entity.
func (it *ResultIterator) Next() bool {
	if it.done {
		return false
	}
	if (it.limit >= 0 && it.count >= it.limit) || it.rc.DataSize.Exceeded() {
		it.more = it.rows.Next()
		it.finish()
		return false
	}
	if !it.rows.Next() {
		it.finish()
		return false
	}
	e, err := it.scan()
	if err != nil {
		it.err = err
		it.finish()
		return false
	}
	it.current = e
	it.count++
	return true
}

// Entity returns the current entity.
func (it *ResultIterator) Entity() *model.Entity { return it.current }

// Err returns the first error met while iterating.
func (it *ResultIterator) Err() error { return it.err }

// Close releases the rows. It is safe to call more than once.
func (it *ResultIterator) Close() error {
	it.finish()
	return it.err
}

// More reports whether rows beyond the returned entities exist. It is only
// meaningful once iteration has ended.
func (it *ResultIterator) More() bool { return it.more }

// Count returns the number of entities returned so far.
func (it *ResultIterator) Count() int { return it.count }

func (it *ResultIterator) finish() {
	if it.done {
		return
	}
	it.done = true
	if err := it.rows.Err(); err != nil && it.err == nil {
		it.err = sqlError(err)
	}
	if err := it.rows.Close(); err != nil && it.err == nil {
		it.err = sqlError(err)
	}
	if it.onDone != nil && it.err == nil {
		it.onDone(it.count, it.more)
	}
}

func (it *ResultIterator) scan() (*model.Entity, error) {
	if it.width == 0 {
		cols, err := it.rows.Columns()
		if err != nil {
			return nil, sqlError(err)
		}
		it.width = len(cols)
	}
	values := make([]any, it.width)
	ptrs := make([]any, it.width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, sqlError(err)
	}
	return entityFromRow(it.table, it.fields, it.rc, values, it.query)
}

// entityFromRow assembles an entity from the leading columns of a row, one
// binding after the other.
func entityFromRow(t *Table, fields []*PropertyFields, rc *ReadContext, values []any, q any) (*model.Entity, error) {
	e := model.NewEntity(t.entityType)
	offset := 0
	for _, pf := range fields {
		n := len(pf.Columns)
		if offset+n > len(values) {
			return nil, errors.New("result row has fewer columns than selected")
		}
		if pf.Converter.Read != nil {
			if err := pf.Converter.Read(rc, values[offset:offset+n], e); err != nil {
				return nil, err
			}
		}
		offset += n
	}
	e.SetQuery(q)
	return e, nil
}
