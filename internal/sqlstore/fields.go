package sqlstore

import (
	"fmt"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// SQLExpr is a value that is written as an SQL expression instead of a
// plain placeholder, such as a server side password hash.
type SQLExpr struct {
	SQL  string
	Args []any
}

// DataSize accounts the bytes of string and JSON values read for one
// response. A zero max disables the limit.
type DataSize struct {
	max  int64
	used int64
}

// NewDataSize creates an accounting limited to max bytes.
func NewDataSize(max int64) *DataSize {
	return &DataSize{max: max}
}

// Add records n bytes.
func (d *DataSize) Add(n int) {
	if d != nil {
		d.used += int64(n)
	}
}

// Used returns the bytes recorded so far.
func (d *DataSize) Used() int64 {
	if d == nil {
		return 0
	}
	return d.used
}

// Exceeded reports whether more than max bytes were recorded.
func (d *DataSize) Exceeded() bool {
	return d != nil && d.max > 0 && d.used > d.max
}

// ReadContext is passed to read converters while decoding one result set.
type ReadContext struct {
	Dialect  Dialect
	Registry *model.Registry
	DataSize *DataSize
}

// WriteContext is passed to insert and update converters.
type WriteContext struct {
	Dialect  Dialect
	Registry *model.Registry
}

// ReadFunc decodes the column values of one property into e.
type ReadFunc func(rc *ReadContext, values []any, e *model.Entity) error

// WriteFunc adds the column values of one property of e to row.
type WriteFunc func(wc *WriteContext, e *model.Entity, row map[string]any) error

// ConverterRecord is the read, insert and update behavior of one property.
// A nil Insert or Update means the property is never written.
type ConverterRecord struct {
	Read   ReadFunc
	Insert WriteFunc
	Update WriteFunc
}

// operandKind tells the filter compiler how the columns of a property are
// compared.
type operandKind int

const (
	operandValue operandKind = iota
	operandInterval
	operandJSON
	operandResult
)

// PropertyFields binds one property to its columns in one table.
type PropertyFields struct {
	Property  model.Property
	Columns   []string
	Converter ConverterRecord

	kind     operandKind
	readable bool
}

// Readable reports whether the property is part of SELECT statements.
func (pf *PropertyFields) Readable() bool {
	return pf.readable && len(pf.Columns) > 0
}

// FieldRegistry is the binding of every property of one table.
type FieldRegistry struct {
	entries map[model.Property]*PropertyFields
	order   []*PropertyFields
}

func newFieldRegistry() *FieldRegistry {
	return &FieldRegistry{entries: make(map[model.Property]*PropertyFields)}
}

// AddEntry registers pf. Registering a property twice is a schema error.
func (r *FieldRegistry) AddEntry(pf *PropertyFields) {
	if _, exists := r.entries[pf.Property]; exists {
		panic(fmt.Sprintf("property %s registered twice", pf.Property.Name()))
	}
	r.entries[pf.Property] = pf
	r.order = append(r.order, pf)
}

// SelectFieldsForProperty returns the readable binding of p, or nil when p
// has no columns in this table.
func (r *FieldRegistry) SelectFieldsForProperty(p model.Property) *PropertyFields {
	pf, ok := r.entries[p]
	if !ok || !pf.Readable() {
		return nil
	}
	return pf
}

// FieldsForProperties returns the readable bindings of props. Without props
// all readable bindings of the table are returned.
func (r *FieldRegistry) FieldsForProperties(props []model.Property) []*PropertyFields {
	var out []*PropertyFields
	if len(props) == 0 {
		for _, pf := range r.order {
			if pf.Readable() {
				out = append(out, pf)
			}
		}
		return out
	}
	for _, p := range props {
		if pf := r.SelectFieldsForProperty(p); pf != nil {
			out = append(out, pf)
		}
	}
	return out
}

// Fields returns the binding of p for writing.
func (r *FieldRegistry) Fields(p model.Property) (*PropertyFields, error) {
	pf, ok := r.entries[p]
	if !ok {
		return nil, fmt.Errorf("%w: no column binding for %s", model.ErrIllegalArgument, p.Name())
	}
	return pf, nil
}

// All returns every binding in registration order.
func (r *FieldRegistry) All() []*PropertyFields {
	return r.order
}
