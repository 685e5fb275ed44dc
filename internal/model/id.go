package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// IDKind identifies the persistence type backing entity identifiers.
type IDKind int

const (
	IDKindInteger IDKind = iota
	IDKindString
	IDKindUUID
)

func (k IDKind) String() string {
	switch k {
	case IDKindInteger:
		return "integer"
	case IDKindString:
		return "string"
	case IDKindUUID:
		return "uuid"
	default:
		return fmt.Sprintf("IDKind(%d)", int(k))
	}
}

// ParseIDKind resolves a configuration name to an IDKind.
func ParseIDKind(name string) (IDKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "integer", "long", "int":
		return IDKindInteger, nil
	case "string":
		return IDKindString, nil
	case "uuid":
		return IDKindUUID, nil
	default:
		return 0, fmt.Errorf("%w: unknown id kind %q", ErrParse, name)
	}
}

// ID is an immutable entity identifier. Implementations are comparable
// values, so == and map keys are structural.
type ID interface {
	Kind() IDKind
	// Value returns the raw value bound to SQL statements.
	Value() any
	// URL returns the literal used in resource paths, e.g. Things(5) or Things('a').
	URL() string
	// JSON returns the JSON literal of the identifier.
	JSON() string
	String() string
}

// IntID is an integer identifier.
type IntID int64

func (id IntID) Kind() IDKind   { return IDKindInteger }
func (id IntID) Value() any     { return int64(id) }
func (id IntID) URL() string    { return strconv.FormatInt(int64(id), 10) }
func (id IntID) JSON() string   { return strconv.FormatInt(int64(id), 10) }
func (id IntID) String() string { return strconv.FormatInt(int64(id), 10) }

// StringID is a free-form string identifier.
type StringID string

func (id StringID) Kind() IDKind { return IDKindString }
func (id StringID) Value() any   { return string(id) }

func (id StringID) URL() string {
	escaped := strings.ReplaceAll(url.PathEscape(string(id)), "%27", "''")
	return "'" + escaped + "'"
}

func (id StringID) JSON() string   { return strconv.Quote(string(id)) }
func (id StringID) String() string { return string(id) }

// UUIDID is a UUID identifier.
type UUIDID uuid.UUID

func (id UUIDID) Kind() IDKind   { return IDKindUUID }
func (id UUIDID) Value() any     { return uuid.UUID(id).String() }
func (id UUIDID) URL() string    { return "'" + uuid.UUID(id).String() + "'" }
func (id UUIDID) JSON() string   { return `"` + uuid.UUID(id).String() + `"` }
func (id UUIDID) String() string { return uuid.UUID(id).String() }

// NewUUIDID returns a random UUID identifier.
func NewUUIDID() UUIDID {
	return UUIDID(uuid.New())
}

// ParseID parses a URL literal (as produced by ID.URL) into an identifier of
// the given kind. Quotes are optional for string and UUID literals.
func ParseID(kind IDKind, literal string) (ID, error) {
	literal = strings.TrimSpace(literal)
	switch kind {
	case IDKindInteger:
		v, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid integer id %q", ErrParse, literal)
		}
		return IntID(v), nil
	case IDKindString:
		raw := unquoteLiteral(literal)
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid string id %q: %v", ErrParse, literal, err)
		}
		return StringID(strings.ReplaceAll(unescaped, "''", "'")), nil
	case IDKindUUID:
		v, err := uuid.Parse(unquoteLiteral(literal))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid uuid id %q", ErrParse, literal)
		}
		return UUIDID(v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported id kind %s", ErrIllegalArgument, kind)
	}
}

// IDFromValue converts a raw value read from storage or a decoded JSON
// literal into an identifier of the given kind.
func IDFromValue(kind IDKind, value any) (ID, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case ID:
		if v.Kind() != kind {
			return nil, fmt.Errorf("%w: expected %s id, got %s", ErrParse, kind, v.Kind())
		}
		return v, nil
	case []byte:
		return IDFromValue(kind, string(v))
	}
	switch kind {
	case IDKindInteger:
		switch v := value.(type) {
		case int64:
			return IntID(v), nil
		case int:
			return IntID(int64(v)), nil
		case int32:
			return IntID(int64(v)), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("%w: non-integral id %v", ErrParse, v)
			}
			return IntID(int64(v)), nil
		case fmt.Stringer:
			return ParseID(kind, v.String())
		case string:
			return ParseID(kind, v)
		}
	case IDKindString:
		switch v := value.(type) {
		case string:
			return StringID(v), nil
		case fmt.Stringer:
			return StringID(v.String()), nil
		}
	case IDKindUUID:
		switch v := value.(type) {
		case string:
			return ParseID(kind, v)
		case uuid.UUID:
			return UUIDID(v), nil
		case [16]byte:
			return UUIDID(v), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot convert %T to %s id", ErrParse, value, kind)
}

func unquoteLiteral(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
