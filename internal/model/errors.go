package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by every layer. Client errors surface as 4xx upstream,
// ErrIllegalArgument indicates a broken schema or table mapping.
var (
	ErrUnknownProperty      = errors.New("unknown property")
	ErrUnrecognizedProperty = errors.New("unrecognized property")
	ErrNoRelation           = errors.New("no relation")
	ErrIncompleteEntity     = errors.New("incomplete entity")
	ErrInvalidState         = errors.New("invalid state")
	ErrParse                = errors.New("parse error")
	ErrIllegalArgument      = errors.New("illegal argument")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
)

// PropertyError carries the entity type and property that caused a failure.
type PropertyError struct {
	Kind       error
	EntityType string
	Property   string
	Message    string
}

func (e *PropertyError) Error() string {
	msg := e.Kind.Error()
	if e.EntityType != "" && e.Property != "" {
		msg = fmt.Sprintf("%s: %s.%s", msg, e.EntityType, e.Property)
	} else if e.Property != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Property)
	} else if e.EntityType != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.EntityType)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *PropertyError) Unwrap() error {
	return e.Kind
}

func newPropertyError(kind error, entityType *EntityType, property, message string) *PropertyError {
	err := &PropertyError{Kind: kind, Property: property, Message: message}
	if entityType != nil {
		err.EntityType = entityType.Name()
	}
	return err
}

// UnknownPropertyError reports a property that is not part of the entity type.
func UnknownPropertyError(entityType *EntityType, property string) error {
	return newPropertyError(ErrUnknownProperty, entityType, property, "")
}

// UnrecognizedPropertyError reports an input member that does not name a
// property of the entity type.
func UnrecognizedPropertyError(entityType *EntityType, property string) error {
	return newPropertyError(ErrUnrecognizedProperty, entityType, property, "")
}

// IncompleteEntityError reports a missing required property.
func IncompleteEntityError(entityType *EntityType, property, message string) error {
	return newPropertyError(ErrIncompleteEntity, entityType, property, message)
}

// InvalidStateError reports a violated cross-property constraint.
func InvalidStateError(entityType *EntityType, message string) error {
	return newPropertyError(ErrInvalidState, entityType, "", message)
}

// NoRelationError reports an unresolvable navigation from source to target.
func NoRelationError(source *EntityType, target string) error {
	return newPropertyError(ErrNoRelation, source, target, "")
}

// StatusCode maps an error from the taxonomy to the HTTP status the
// surrounding request layer should answer with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownProperty),
		errors.Is(err, ErrUnrecognizedProperty),
		errors.Is(err, ErrNoRelation),
		errors.Is(err, ErrIncompleteEntity),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrParse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
