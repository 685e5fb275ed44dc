package model

import (
	"reflect"

	"github.com/shopspring/decimal"
)

// UnitOfMeasurement is the complex unit property of (Multi)Datastreams.
type UnitOfMeasurement struct {
	Name       string `json:"name,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Definition string `json:"definition,omitempty"`
}

// Geometry is an opaque GeoJSON object. Parsing into geometry types is left
// to the caller; equality is structural.
type Geometry map[string]any

// Properties is a free-form JSON object.
type Properties map[string]any

// ValuesEqual compares two property values structurally. Time values,
// decimals, entities (by key) and nested maps compare by value.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	switch av := a.(type) {
	case TimeValue:
		return timeValueEqual(av, b)
	case decimal.Decimal:
		switch bv := b.(type) {
		case decimal.Decimal:
			return av.Equal(bv)
		case float64:
			return av.Equal(decimal.NewFromFloat(bv))
		case int64:
			return av.Equal(decimal.NewFromInt(bv))
		}
		return false
	case *Entity:
		bv, ok := b.(*Entity)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return av.PrimaryKeyValues().Equal(bv.PrimaryKeyValues())
	case *EntitySet:
		bv, ok := b.(*EntitySet)
		if !ok {
			return false
		}
		return entitySetsEqual(av, bv)
	case ID:
		bv, ok := b.(ID)
		return ok && av == bv
	}
	if _, ok := b.(decimal.Decimal); ok {
		return ValuesEqual(b, a)
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func entitySetsEqual(a, b *EntitySet) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Len() != b.Len() {
		return false
	}
	for i, e := range a.items {
		if !ValuesEqual(e, b.items[i]) {
			return false
		}
	}
	return true
}

// normalize converts named map types to plain maps so that a Properties
// value equals a map[string]any with the same content.
func normalize(v any) any {
	switch t := v.(type) {
	case Properties:
		return map[string]any(t)
	case Geometry:
		return map[string]any(t)
	}
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
