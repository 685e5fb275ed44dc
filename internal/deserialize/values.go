package deserialize

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/shopspring/decimal"
)

// valueReaderFunc decodes the next JSON value as a property value.
type valueReaderFunc func(dec *json.Decoder) (any, error)

func valueReader(registry *model.Registry, t model.PropertyType) valueReaderFunc {
	switch t {
	case model.TypeID:
		return func(dec *json.Decoder) (any, error) {
			v, err := readAny(dec)
			if err != nil || v == nil {
				return nil, err
			}
			return model.IDFromValue(registry.IDKind(), v)
		}
	case model.TypeString, model.TypePassword:
		return func(dec *json.Decoder) (any, error) {
			var s *string
			if err := dec.Decode(&s); err != nil {
				return nil, err
			}
			if s == nil {
				return nil, nil
			}
			return *s, nil
		}
	case model.TypeNumber:
		return func(dec *json.Decoder) (any, error) {
			v, err := readAny(dec)
			if err != nil || v == nil {
				return nil, err
			}
			n, ok := v.(json.Number)
			if !ok {
				return nil, fmt.Errorf("expected a number, got %T", v)
			}
			return decimal.NewFromString(string(n))
		}
	case model.TypeInteger:
		return func(dec *json.Decoder) (any, error) {
			var n *int64
			if err := dec.Decode(&n); err != nil {
				return nil, err
			}
			if n == nil {
				return nil, nil
			}
			return *n, nil
		}
	case model.TypeBoolean:
		return func(dec *json.Decoder) (any, error) {
			var b *bool
			if err := dec.Decode(&b); err != nil {
				return nil, err
			}
			if b == nil {
				return nil, nil
			}
			return *b, nil
		}
	case model.TypeTimeInstant:
		return timeReader(func(s string) (any, error) { return model.ParseTimeInstant(s) })
	case model.TypeTimeInterval:
		return timeReader(func(s string) (any, error) { return model.ParseTimeInterval(s) })
	case model.TypeTimeValue:
		return timeReader(func(s string) (any, error) { return model.ParseTimeValue(s) })
	case model.TypeGeoJSON:
		return func(dec *json.Decoder) (any, error) {
			m, err := readObject(dec)
			if err != nil || m == nil {
				return nil, err
			}
			return model.Geometry(m), nil
		}
	case model.TypeObject:
		return func(dec *json.Decoder) (any, error) {
			m, err := readObject(dec)
			if err != nil || m == nil {
				return nil, err
			}
			return model.Properties(m), nil
		}
	case model.TypeUnitOfMeasurement:
		return func(dec *json.Decoder) (any, error) {
			var u *model.UnitOfMeasurement
			if err := dec.Decode(&u); err != nil {
				return nil, err
			}
			if u == nil {
				return nil, nil
			}
			return *u, nil
		}
	case model.TypeUnitOfMeasurementList:
		return func(dec *json.Decoder) (any, error) {
			var units []model.UnitOfMeasurement
			if err := dec.Decode(&units); err != nil {
				return nil, err
			}
			return units, nil
		}
	case model.TypeStringList:
		return func(dec *json.Decoder) (any, error) {
			var list []string
			if err := dec.Decode(&list); err != nil {
				return nil, err
			}
			return list, nil
		}
	}
	// Any: observation results, quality and metadata. A top-level number
	// keeps its exact digits.
	return func(dec *json.Decoder) (any, error) {
		v, err := readAny(dec)
		if err != nil {
			return nil, err
		}
		if n, ok := v.(json.Number); ok {
			return decimal.NewFromString(string(n))
		}
		return normalize(v), nil
	}
}

func timeReader(parse func(s string) (any, error)) valueReaderFunc {
	return func(dec *json.Decoder) (any, error) {
		var s *string
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		return parse(*s)
	}
}

func readAny(dec *json.Decoder) (any, error) {
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func readObject(dec *json.Decoder) (map[string]any, error) {
	v, err := readAny(dec)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return normalize(m).(map[string]any), nil
}

// normalize replaces the json.Number values of a decoded document by int64
// where they are integral and float64 otherwise, so the document encodes
// back unchanged and compares naturally.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalize(x)
		}
		return t
	}
	return v
}
