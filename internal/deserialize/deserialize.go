// Package deserialize decodes JSON request bodies into entities of a
// registry. Decoding is token driven, so nested entities and entity sets are
// built while the input is read.
package deserialize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/model"
)

// Decoder decodes entities of one registry. Per-type decoders are built on
// first use and shared by all later calls, including nested ones.
type Decoder struct {
	registry *model.Registry
	strict   bool

	mu    sync.RWMutex
	types map[*model.EntityType]*typeDecoder
}

// NewDecoder creates a decoder for registry. In strict mode unknown members
// fail with model.ErrUnrecognizedProperty; otherwise they are skipped.
func NewDecoder(registry *model.Registry, strict bool) *Decoder {
	return &Decoder{registry: registry, strict: strict, types: make(map[*model.EntityType]*typeDecoder)}
}

// Decode reads one JSON object from r as an entity of type t.
func (d *Decoder) Decode(r io.Reader, t *model.EntityType) (*model.Entity, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	e, err := d.forType(t).decodeObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after entity", model.ErrParse)
	}
	return e, nil
}

// DecodeBytes is Decode over a byte slice.
func (d *Decoder) DecodeBytes(data []byte, t *model.EntityType) (*model.Entity, error) {
	return d.Decode(bytes.NewReader(data), t)
}

func (d *Decoder) forType(t *model.EntityType) *typeDecoder {
	d.mu.RLock()
	td, ok := d.types[t]
	d.mu.RUnlock()
	if ok {
		return td
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if td, ok := d.types[t]; ok {
		return td
	}
	td = &typeDecoder{decoder: d, entityType: t, fields: make(map[string]fieldDecoder)}
	for _, p := range t.Properties() {
		fd := td.fieldFor(p)
		td.fields[p.JSONName()] = fd
		td.fields[p.Name()] = fd
		if ep, ok := p.(*model.EntityPropertyMain); ok {
			for _, alias := range ep.Aliases() {
				td.fields[alias] = fd
			}
		}
	}
	d.types[t] = td
	return td
}

// fieldDecoder reads the value of one member into e.
type fieldDecoder func(dec *json.Decoder, e *model.Entity) error

type typeDecoder struct {
	decoder    *Decoder
	entityType *model.EntityType
	fields     map[string]fieldDecoder
}

func (td *typeDecoder) decodeObject(dec *json.Decoder) (*model.Entity, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	return td.decodeMembers(dec)
}

// decodeMembers reads the members of an object whose opening brace is
// already consumed, up to and including the closing brace.
func (td *typeDecoder) decodeMembers(dec *json.Decoder) (*model.Entity, error) {
	e := model.NewEntity(td.entityType)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseError(err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a member name, got %v", model.ErrParse, tok)
		}
		fd, ok := td.fields[name]
		if !ok {
			if td.decoder.strict && !isAnnotation(name) {
				return nil, model.UnrecognizedPropertyError(td.entityType, name)
			}
			if err := skip(dec); err != nil {
				return nil, err
			}
			continue
		}
		if err := fd(dec, e); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return e, nil
}

func (td *typeDecoder) fieldFor(p model.Property) fieldDecoder {
	switch tp := p.(type) {
	case *model.NavigationPropertyMain:
		if tp.IsEntitySet() {
			return td.entitySetField(tp)
		}
		return td.entityField(tp)
	case *model.EntityPropertyMain:
		if tp.IsReadOnly() {
			return func(dec *json.Decoder, _ *model.Entity) error { return skip(dec) }
		}
		read := valueReader(td.decoder.registry, tp.Type())
		return func(dec *json.Decoder, e *model.Entity) error {
			v, err := read(dec)
			if err != nil {
				return fmt.Errorf("%w: %s of %s: %v", model.ErrParse, tp.Name(), td.entityType.Name(), err)
			}
			return e.Set(tp, v)
		}
	}
	return func(dec *json.Decoder, _ *model.Entity) error { return skip(dec) }
}

func (td *typeDecoder) entityField(np *model.NavigationPropertyMain) fieldDecoder {
	return func(dec *json.Decoder, e *model.Entity) error {
		tok, err := dec.Token()
		if err != nil {
			return parseError(err)
		}
		if tok == nil {
			return e.Set(np, nil)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return fmt.Errorf("%w: %s expects an object, got %v", model.ErrParse, np.Name(), tok)
		}
		related, err := td.decoder.forType(np.TargetType()).decodeMembers(dec)
		if err != nil {
			return fmt.Errorf("in %s: %w", np.Name(), err)
		}
		return e.Set(np, related)
	}
}

func (td *typeDecoder) entitySetField(np *model.NavigationPropertyMain) fieldDecoder {
	return func(dec *json.Decoder, e *model.Entity) error {
		tok, err := dec.Token()
		if err != nil {
			return parseError(err)
		}
		if tok == nil {
			return e.Set(np, nil)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return fmt.Errorf("%w: %s expects an array, got %v", model.ErrParse, np.Name(), tok)
		}
		target := td.decoder.forType(np.TargetType())
		set := model.NewEntitySet(np.TargetType())
		for dec.More() {
			child, err := target.decodeObject(dec)
			if err != nil {
				return fmt.Errorf("in %s: %w", np.Name(), err)
			}
			if err := set.Add(child); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
		return e.Set(np, set)
	}
}

// isAnnotation reports control information such as @iot.selfLink or
// Datastreams@iot.navigationLink, which clients may echo back.
func isAnnotation(name string) bool {
	return strings.Contains(name, "@")
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return parseError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", model.ErrParse, want, tok)
	}
	return nil
}

func skip(dec *json.Decoder) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return parseError(err)
	}
	return nil
}

func parseError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected end of input", model.ErrParse)
	}
	return fmt.Errorf("%w: %v", model.ErrParse, err)
}
