package model

import (
	"fmt"
	"strings"
)

// PrimaryKey is the ordered list of key properties of an entity type.
type PrimaryKey struct {
	keys []*EntityPropertyMain
}

// NewPrimaryKey creates a primary key over the given properties.
func NewPrimaryKey(keys ...*EntityPropertyMain) *PrimaryKey {
	if len(keys) == 0 {
		panic("primary key needs at least one property")
	}
	return &PrimaryKey{keys: keys}
}

// Size returns the number of key properties.
func (pk *PrimaryKey) Size() int { return len(pk.keys) }

// Key returns the key property at position i.
func (pk *PrimaryKey) Key(i int) *EntityPropertyMain { return pk.keys[i] }

// Keys returns the key properties in order.
func (pk *PrimaryKey) Keys() []*EntityPropertyMain { return pk.keys }

// IndexOf returns the position of p in the key, or -1.
func (pk *PrimaryKey) IndexOf(p Property) int {
	for i, k := range pk.keys {
		if Property(k) == p {
			return i
		}
	}
	return -1
}

// PkValue is a fixed-length tuple of key values aligned with a PrimaryKey.
type PkValue struct {
	values []any
}

// NewPkValue returns an unset key tuple of the given size.
func NewPkValue(size int) PkValue {
	return PkValue{values: make([]any, size)}
}

// PkValueOf creates a key tuple from values. Nesting a PkValue is illegal.
func PkValueOf(values ...any) (PkValue, error) {
	for i, v := range values {
		switch v.(type) {
		case PkValue, *PkValue:
			return PkValue{}, fmt.Errorf("%w: PkValue at position %d can not contain a PkValue", ErrIllegalArgument, i)
		}
	}
	out := make([]any, len(values))
	copy(out, values)
	return PkValue{values: out}, nil
}

// MustPkValue is PkValueOf that panics on error, for literals known to be valid.
func MustPkValue(values ...any) PkValue {
	pk, err := PkValueOf(values...)
	if err != nil {
		panic(err)
	}
	return pk
}

// Size returns the tuple length.
func (v PkValue) Size() int { return len(v.values) }

// Get returns the value at position i.
func (v PkValue) Get(i int) any { return v.values[i] }

// Values returns a copy of the tuple values.
func (v PkValue) Values() []any {
	out := make([]any, len(v.values))
	copy(out, v.values)
	return out
}

// IsFullySet reports whether every position holds a value.
func (v PkValue) IsFullySet() bool {
	if len(v.values) == 0 {
		return false
	}
	for _, x := range v.values {
		if x == nil {
			return false
		}
	}
	return true
}

// IsFullyUnset reports whether no position holds a value.
func (v PkValue) IsFullyUnset() bool {
	for _, x := range v.values {
		if x != nil {
			return false
		}
	}
	return true
}

// Equal compares two tuples position by position.
func (v PkValue) Equal(o PkValue) bool {
	if len(v.values) != len(o.values) {
		return false
	}
	for i := range v.values {
		if !ValuesEqual(v.values[i], o.values[i]) {
			return false
		}
	}
	return true
}

// Key returns a string usable as a map key for the tuple.
func (v PkValue) Key() string {
	parts := make([]string, len(v.values))
	for i, x := range v.values {
		parts[i] = fmt.Sprintf("%T:%v", x, x)
	}
	return strings.Join(parts, "|")
}

// URL renders the tuple as a resource-path key literal. Single keys render
// bare (5 or 'a'), composite keys as name=value pairs.
func (v PkValue) URL(pk *PrimaryKey) string {
	if len(v.values) == 1 {
		return literalURL(v.values[0])
	}
	parts := make([]string, len(v.values))
	for i, x := range v.values {
		name := ""
		if pk != nil && i < pk.Size() {
			name = pk.Key(i).Name()
		}
		parts[i] = name + "=" + literalURL(x)
	}
	return strings.Join(parts, ",")
}

func (v PkValue) String() string {
	return v.URL(nil)
}

func literalURL(x any) string {
	switch t := x.(type) {
	case ID:
		return t.URL()
	case string:
		return StringID(t).URL()
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}
