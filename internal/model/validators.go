package model

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// EntityValidator is one link of the validation chain attached to an entity
// type. Validators may also fill in defaults.
type EntityValidator interface {
	ValidateCreate(e *Entity) error
	ValidateUpdate(e *Entity) error
}

// ValidatorFuncs adapts two functions to an EntityValidator. A nil function
// accepts everything.
type ValidatorFuncs struct {
	Create func(e *Entity) error
	Update func(e *Entity) error
}

func (v ValidatorFuncs) ValidateCreate(e *Entity) error {
	if v.Create == nil {
		return nil
	}
	return v.Create(e)
}

func (v ValidatorFuncs) ValidateUpdate(e *Entity) error {
	if v.Update == nil {
		return nil
	}
	return v.Update(e)
}

// ExactlyOneOf requires exactly one of props to be non-nil on create. On
// update at most one of them may be given.
func ExactlyOneOf(props ...Property) EntityValidator {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name()
	}
	count := func(e *Entity) int {
		n := 0
		for _, p := range props {
			if !isNil(e.values[p]) {
				n++
			}
		}
		return n
	}
	return ValidatorFuncs{
		Create: func(e *Entity) error {
			if count(e) != 1 {
				return InvalidStateError(e.entityType, "exactly one of "+strings.Join(names, ", ")+" must be set")
			}
			return nil
		},
		Update: func(e *Entity) error {
			if count(e) > 1 {
				return InvalidStateError(e.entityType, "only one of "+strings.Join(names, ", ")+" can be set")
			}
			return nil
		},
	}
}

// FillNow sets p to the current instant on create when it is absent.
func FillNow(p *EntityPropertyMain) EntityValidator {
	return ValidatorFuncs{
		Create: func(e *Entity) error {
			if isNil(e.values[p]) {
				e.values[p] = Now()
			}
			return nil
		},
	}
}

// FillValue sets p to a copy of another property when p is absent on create.
func FillValue(p, from *EntityPropertyMain) EntityValidator {
	return ValidatorFuncs{
		Create: func(e *Entity) error {
			if isNil(e.values[p]) && !isNil(e.values[from]) {
				e.values[p] = e.values[from]
			}
			return nil
		},
	}
}

type jsonSchemaValidator struct {
	property *EntityPropertyMain
	schema   *gojsonschema.Schema
}

// JSONSchema validates the JSON object held by p against a JSON schema.
func JSONSchema(p *EntityPropertyMain, schema string) (EntityValidator, error) {
	compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schema for %s: %v", ErrIllegalArgument, p.name, err)
	}
	return &jsonSchemaValidator{property: p, schema: compiled}, nil
}

func (v *jsonSchemaValidator) ValidateCreate(e *Entity) error { return v.validate(e) }
func (v *jsonSchemaValidator) ValidateUpdate(e *Entity) error { return v.validate(e) }

func (v *jsonSchemaValidator) validate(e *Entity) error {
	value, ok := e.values[v.property]
	if !ok || isNil(value) {
		return nil
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(normalize(value)))
	if err != nil {
		return newPropertyError(ErrInvalidState, e.entityType, v.property.name, err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return newPropertyError(ErrInvalidState, e.entityType, v.property.name, strings.Join(msgs, "; "))
	}
	return nil
}
