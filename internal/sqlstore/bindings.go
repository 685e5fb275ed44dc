package sqlstore

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/shopspring/decimal"
)

// Binding is one row of a declarative table description: a property, its
// columns and its converters.
type Binding struct {
	fields *PropertyFields
}

func binding(p model.Property, kind operandKind, readable bool, conv ConverterRecord, columns ...string) Binding {
	return Binding{fields: &PropertyFields{Property: p, Columns: columns, Converter: conv, kind: kind, readable: readable}}
}

func simpleWrite(p model.Property, column string, convert func(wc *WriteContext, v any) (any, error)) WriteFunc {
	return func(wc *WriteContext, e *model.Entity, row map[string]any) error {
		v := e.Value(p)
		if v == nil {
			row[column] = nil
			return nil
		}
		out, err := convert(wc, v)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name(), err)
		}
		row[column] = out
		return nil
	}
}

// ID binds the primary key column. Identifiers are converted to the kind of
// the registry.
func ID(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(wc *WriteContext, v any) (any, error) {
		if id, ok := v.(model.ID); ok {
			return id.Value(), nil
		}
		return v, nil
	})
	return binding(p, operandValue, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			id, err := model.IDFromValue(rc.Registry.IDKind(), values[0])
			if err != nil {
				return err
			}
			if id == nil {
				return e.Set(p, nil)
			}
			return e.Set(p, id)
		},
		Insert: write,
	}, column)
}

// String binds a text column. Read bytes count toward the data size.
func String(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(_ *WriteContext, v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a string, got %T", model.ErrInvalidState, v)
		}
		return s, nil
	})
	return binding(p, operandValue, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			s, ok := asString(values[0])
			if !ok {
				return e.Set(p, nil)
			}
			rc.DataSize.Add(len(s))
			return e.Set(p, s)
		},
		Insert: write,
		Update: write,
	}, column)
}

// Number binds a numeric column, read back as decimal.Decimal.
func Number(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(_ *WriteContext, v any) (any, error) {
		d, err := asDecimal(v)
		if err != nil {
			return nil, err
		}
		f, _ := d.Float64()
		return f, nil
	})
	return binding(p, operandValue, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			if values[0] == nil {
				return e.Set(p, nil)
			}
			d, err := asDecimal(values[0])
			if err != nil {
				return err
			}
			return e.Set(p, d)
		},
		Insert: write,
		Update: write,
	}, column)
}

// Password binds a one-way hashed secret. It is never read back.
func Password(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(wc *WriteContext, v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a string, got %T", model.ErrInvalidState, v)
		}
		return wc.Dialect.PasswordExpr(s)
	})
	return binding(p, operandValue, false, ConverterRecord{Insert: write, Update: write}, column)
}

// TimeInstant binds a timestamp column.
func TimeInstant(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(wc *WriteContext, v any) (any, error) {
		tv, ok := v.(model.TimeValue)
		if !ok {
			return nil, fmt.Errorf("%w: expected a time instant, got %T", model.ErrInvalidState, v)
		}
		return wc.Dialect.TimeArg(tv.Start()), nil
	})
	return binding(p, operandInterval, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			t, err := asTime(values[0])
			if err != nil {
				return err
			}
			if t == nil {
				return e.Set(p, nil)
			}
			return e.Set(p, model.NewTimeInstant(*t))
		},
		Insert: write,
		Update: write,
	}, column)
}

func intervalWrite(p model.Property, startCol, endCol string) WriteFunc {
	return func(wc *WriteContext, e *model.Entity, row map[string]any) error {
		v := e.Value(p)
		if v == nil {
			row[startCol] = nil
			row[endCol] = nil
			return nil
		}
		tv, ok := v.(model.TimeValue)
		if !ok {
			return fmt.Errorf("property %s: %w: expected a time value, got %T", p.Name(), model.ErrInvalidState, v)
		}
		row[startCol] = wc.Dialect.TimeArg(tv.Start())
		row[endCol] = wc.Dialect.TimeArg(tv.End())
		return nil
	}
}

func readTimes(values []any) (*time.Time, *time.Time, error) {
	start, err := asTime(values[0])
	if err != nil {
		return nil, nil, err
	}
	end, err := asTime(values[1])
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// TimeInterval binds an interval stored as start and end columns. A null
// start counts as the maximum instant and a null end as the minimum one;
// an interval whose end then precedes its start reads as nil.
func TimeInterval(p *model.EntityPropertyMain, startCol, endCol string) Binding {
	write := intervalWrite(p, startCol, endCol)
	return binding(p, operandInterval, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			start, end, err := readTimes(values)
			if err != nil {
				return err
			}
			iv := model.IntervalFromTimes(start, end)
			if iv == nil {
				return e.Set(p, nil)
			}
			return e.Set(p, *iv)
		},
		Insert: write,
		Update: write,
	}, startCol, endCol)
}

// TimeValue binds a property holding an instant or an interval. Equal
// bounds read as an instant.
func TimeValue(p *model.EntityPropertyMain, startCol, endCol string) Binding {
	write := intervalWrite(p, startCol, endCol)
	return binding(p, operandInterval, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			start, end, err := readTimes(values)
			if err != nil {
				return err
			}
			return e.Set(p, model.TimeValueFromTimes(start, end))
		},
		Insert: write,
		Update: write,
	}, startCol, endCol)
}

// JSON binds a property serialized as a JSON document. The decoded Go type
// follows the property type. Read bytes count toward the data size.
func JSON(p *model.EntityPropertyMain, column string) Binding {
	write := simpleWrite(p, column, func(_ *WriteContext, v any) (any, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return string(b), nil
	})
	return binding(p, operandJSON, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			s, ok := asString(values[0])
			if !ok {
				return e.Set(p, nil)
			}
			rc.DataSize.Add(len(s))
			v, err := decodeJSONProperty(p.Type(), s)
			if err != nil {
				return fmt.Errorf("property %s: %w", p.Name(), err)
			}
			return e.Set(p, v)
		},
		Insert: write,
		Update: write,
	}, column)
}

func decodeJSONProperty(t model.PropertyType, s string) (any, error) {
	switch t {
	case model.TypeObject:
		var v model.Properties
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	case model.TypeGeoJSON:
		var v model.Geometry
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	case model.TypeUnitOfMeasurement:
		var v model.UnitOfMeasurement
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	case model.TypeUnitOfMeasurementList:
		var v []model.UnitOfMeasurement
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	case model.TypeStringList:
		var v []string
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	default:
		var v any
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	}
}

// ToOne binds a to-one navigation property to its foreign key column. Reads
// produce a stub entity carrying only the key; writes require the related
// entity to have its key.
func ToOne(np *model.NavigationPropertyMain, column string) Binding {
	write := func(wc *WriteContext, e *model.Entity, row map[string]any) error {
		v := e.Value(np)
		related, _ := v.(*model.Entity)
		if related == nil {
			row[column] = nil
			return nil
		}
		pk := related.PrimaryKeyValues()
		if !pk.IsFullySet() {
			return model.IncompleteEntityError(e.EntityType(), np.Name(), "related entity has no id")
		}
		row[column] = rawKeyValue(pk.Get(0))
		return nil
	}
	return binding(np, operandValue, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			if values[0] == nil {
				return e.Set(np, nil)
			}
			target := np.TargetType()
			key, err := keyFromValue(rc.Registry, target, values[0])
			if err != nil {
				return err
			}
			stub := model.NewEntity(target)
			if err := stub.SetPrimaryKeyValues(model.MustPkValue(key)); err != nil {
				return err
			}
			stub.SetExportObject(false)
			return e.Set(np, stub)
		},
		Insert: write,
		Update: write,
	}, column)
}

// ToMany registers a to-many navigation property. It has no columns: the
// related entities are stored and loaded through their own table.
func ToMany(np *model.NavigationPropertyMain) Binding {
	return binding(np, operandValue, false, ConverterRecord{})
}

// keyFromValue converts a raw key column value for the key property of t.
func keyFromValue(registry *model.Registry, t *model.EntityType, v any) (any, error) {
	if t.PrimaryKey().Key(0).Type() != model.TypeID {
		s, ok := asString(v)
		if !ok {
			return nil, fmt.Errorf("%w: invalid key value %v", model.ErrParse, v)
		}
		return s, nil
	}
	return model.IDFromValue(registry.IDKind(), v)
}

// rawKeyValue converts a key value to a statement argument.
func rawKeyValue(v any) any {
	if id, ok := v.(model.ID); ok {
		return id.Value()
	}
	return v
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case json.Number:
		return decimal.NewFromString(string(t))
	case string:
		return decimal.NewFromString(t)
	case []byte:
		return decimal.NewFromString(string(t))
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: expected a number, got %T", model.ErrInvalidState, v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func asTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		u := t.UTC()
		return &u, nil
	case []byte:
		return asTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				u := parsed.UTC()
				return &u, nil
			}
		}
		return nil, fmt.Errorf("%w: invalid timestamp %q", model.ErrParse, t)
	case int64:
		u := time.Unix(t, 0).UTC()
		return &u, nil
	default:
		return nil, fmt.Errorf("%w: unexpected time value %T", model.ErrParse, v)
	}
}

// Result types stored in the RESULT_TYPE column of observations.
const (
	resultTypeNumber  = 0
	resultTypeBoolean = 1
	resultTypeString  = 2
	resultTypeJSON    = 3
)

// Result binds the polymorphic observation result. Numbers keep their exact
// text in the string column next to a numeric copy used for filtering and
// sorting, and read back as decimal.Decimal.
func Result(p *model.EntityPropertyMain, typeCol, numberCol, stringCol, boolCol, jsonCol string) Binding {
	write := func(wc *WriteContext, e *model.Entity, row map[string]any) error {
		row[typeCol], row[numberCol], row[stringCol], row[boolCol], row[jsonCol] = nil, nil, nil, nil, nil
		switch v := e.Value(p).(type) {
		case nil:
		case bool:
			row[typeCol] = resultTypeBoolean
			row[boolCol] = v
		case string:
			row[typeCol] = resultTypeString
			row[stringCol] = v
		case decimal.Decimal, float64, float32, int64, int, json.Number:
			d, err := asDecimal(v)
			if err != nil {
				return err
			}
			f, _ := d.Float64()
			row[typeCol] = resultTypeNumber
			row[numberCol] = f
			row[stringCol] = d.String()
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			row[typeCol] = resultTypeJSON
			row[jsonCol] = string(b)
		}
		return nil
	}
	return binding(p, operandResult, true, ConverterRecord{
		Read: func(rc *ReadContext, values []any, e *model.Entity) error {
			if values[0] == nil {
				return e.Set(p, nil)
			}
			typ, err := asDecimal(values[0])
			if err != nil {
				return err
			}
			switch typ.IntPart() {
			case resultTypeNumber:
				d, err := asDecimal(values[2])
				if err != nil {
					return err
				}
				return e.Set(p, d)
			case resultTypeBoolean:
				return e.Set(p, asBool(values[3]))
			case resultTypeString:
				s, _ := asString(values[2])
				rc.DataSize.Add(len(s))
				return e.Set(p, s)
			default:
				s, ok := asString(values[4])
				if !ok {
					return e.Set(p, nil)
				}
				rc.DataSize.Add(len(s))
				v, err := decodeJSONProperty(model.TypeAny, s)
				if err != nil {
					return err
				}
				return e.Set(p, v)
			}
		},
		Insert: write,
		Update: write,
	}, typeCol, numberCol, stringCol, boolCol, jsonCol)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case string:
		return t == "1" || t == "true" || t == "t"
	case []byte:
		return asBool(string(t))
	}
	return false
}
