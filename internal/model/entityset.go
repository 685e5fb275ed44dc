package model

import "fmt"

// EntitySet is an ordered collection of entities of one type with paging
// metadata. Count is -1 when the total is unknown.
type EntitySet struct {
	entityType *EntityType
	items      []*Entity
	count      int64
	nextLink   string
	source     EntityIterator
}

// EntityIterator is a forward-only source of entities, typically backed by
// an open SQL cursor.
type EntityIterator interface {
	Next() bool
	Entity() *Entity
	Err() error
	Close() error
}

// NewEntitySet creates an empty set. A nil type is inferred from the first
// added entity.
func NewEntitySet(t *EntityType) *EntitySet {
	return &EntitySet{entityType: t, count: -1}
}

// Add appends e. Entities of a different type are rejected.
func (s *EntitySet) Add(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrIllegalArgument)
	}
	if s.entityType == nil {
		s.entityType = e.entityType
	} else if e.entityType == nil {
		if err := e.SetEntityType(s.entityType); err != nil {
			return err
		}
	} else if e.entityType != s.entityType {
		return fmt.Errorf("%w: can not add %s to a set of %s", ErrIllegalArgument, e.entityType.name, s.entityType.name)
	}
	s.items = append(s.items, e)
	return nil
}

func (s *EntitySet) EntityType() *EntityType { return s.entityType }
func (s *EntitySet) All() []*Entity          { return s.items }
func (s *EntitySet) Count() int64            { return s.count }
func (s *EntitySet) SetCount(n int64)        { s.count = n }
func (s *EntitySet) NextLink() string        { return s.nextLink }
func (s *EntitySet) SetNextLink(link string) { s.nextLink = link }

// Len returns the number of entities held.
func (s *EntitySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Get returns the i-th entity.
func (s *EntitySet) Get(i int) *Entity { return s.items[i] }

// SetSource attaches a lazy source. Its entities are yielded by Each after
// the ones already held, without being stored.
func (s *EntitySet) SetSource(it EntityIterator) { s.source = it }

// Each calls fn for every entity, draining and closing the lazy source.
func (s *EntitySet) Each(fn func(e *Entity) error) error {
	for _, e := range s.items {
		if err := fn(e); err != nil {
			return err
		}
	}
	if s.source == nil {
		return nil
	}
	it := s.source
	s.source = nil
	defer it.Close()
	for it.Next() {
		e := it.Entity()
		if s.entityType == nil {
			s.entityType = e.entityType
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return it.Err()
}

// Materialize drains the lazy source into the set.
func (s *EntitySet) Materialize() error {
	if s.source == nil {
		return nil
	}
	it := s.source
	s.source = nil
	defer it.Close()
	for it.Next() {
		if err := s.Add(it.Entity()); err != nil {
			return err
		}
	}
	return it.Err()
}
