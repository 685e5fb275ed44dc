package model

import (
	"errors"
	"testing"
	"time"
)

type testSchema struct {
	registry   *Registry
	thing      *EntityType
	datastream *EntityType
	multi      *EntityType
	obs        *EntityType

	id, name, description, props, phenomenonTime *EntityPropertyMain
	npDatastreams, npThing, npObservations       *NavigationPropertyMain
	npObsDatastream, npObsMulti                  *NavigationPropertyMain
	npMultiObservations                          *NavigationPropertyMain
}

func newTestSchema(t *testing.T) *testSchema {
	t.Helper()
	s := &testSchema{
		id:             NewEntityProperty("id", TypeID, WithJSONName("@iot.id"), WithAliases("ID")),
		name:           NewEntityProperty("name", TypeString),
		description:    NewEntityProperty("description", TypeString),
		props:          NewEntityProperty("properties", TypeObject),
		phenomenonTime: NewEntityProperty("phenomenonTime", TypeTimeValue),
	}
	s.npDatastreams = NewNavigationPropertyEntitySet("Datastreams", "Datastream").WithInverse("Thing")
	s.npThing = NewNavigationPropertyEntity("Thing", "Thing")
	s.npObservations = NewNavigationPropertyEntitySet("Observations", "Observation").WithInverse("Datastream")
	s.npObsDatastream = NewNavigationPropertyEntity("Datastream", "Datastream")
	s.npObsMulti = NewNavigationPropertyEntity("MultiDatastream", "MultiDatastream")
	s.npMultiObservations = NewNavigationPropertyEntitySet("Observations", "Observation").WithInverse("MultiDatastream")

	s.thing = NewEntityType("Thing", "Things").
		AddEntityProperty(s.id, false).
		AddEntityProperty(s.name, true).
		AddEntityProperty(s.description, true).
		AddEntityProperty(s.props, false).
		AddNavigationProperty(s.npDatastreams, false).
		SetPrimaryKey(s.id)
	s.datastream = NewEntityType("Datastream", "Datastreams").
		AddEntityProperty(s.id, false).
		AddEntityProperty(s.name, true).
		AddNavigationProperty(s.npThing, true).
		AddNavigationProperty(s.npObservations, false).
		SetPrimaryKey(s.id)
	s.multi = NewEntityType("MultiDatastream", "MultiDatastreams").
		AddEntityProperty(s.id, false).
		AddEntityProperty(s.name, true).
		AddNavigationProperty(s.npMultiObservations, false).
		SetPrimaryKey(s.id)
	s.obs = NewEntityType("Observation", "Observations").
		AddEntityProperty(s.id, false).
		AddEntityProperty(s.phenomenonTime, false).
		AddNavigationProperty(s.npObsDatastream, false).
		AddNavigationProperty(s.npObsMulti, false).
		SetPrimaryKey(s.id).
		AddValidator(FillNow(s.phenomenonTime)).
		AddValidator(ExactlyOneOf(s.npObsDatastream, s.npObsMulti))

	s.registry = NewRegistry(IDKindInteger).MustRegister(s.thing, s.datastream, s.multi, s.obs)
	if err := s.registry.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func TestEntity_SetGetTriState(t *testing.T) {
	s := newTestSchema(t)
	e := NewEntity(s.thing)

	if e.IsSet(s.name) {
		t.Fatal("Expected name to be unset initially")
	}
	if err := e.Set(s.name, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !e.IsSet(s.name) {
		t.Error("Expected name to be set after setting nil")
	}
	v, err := e.Get(s.name)
	if err != nil || v != nil {
		t.Errorf("Expected nil value, got %v (%v)", v, err)
	}

	if err := e.Set(s.name, "Thing 1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _ = e.Get(s.name)
	if v != "Thing 1" {
		t.Errorf("Expected 'Thing 1', got %v", v)
	}

	e.Unset(s.name)
	if e.IsSet(s.name) {
		t.Error("Expected name to be unset after Unset")
	}
}

func TestEntity_UnknownProperty(t *testing.T) {
	s := newTestSchema(t)
	e := NewEntity(s.thing)

	if _, err := e.Get(s.phenomenonTime); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Expected ErrUnknownProperty, got %v", err)
	}
	if err := e.Set(s.npObsDatastream, nil); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Expected ErrUnknownProperty, got %v", err)
	}
}

func TestEntity_SetEntityTypeRevalidates(t *testing.T) {
	s := newTestSchema(t)
	e := NewEntity(nil)

	if err := e.SetEntityType(s.thing); err != nil {
		t.Fatalf("SetEntityType failed: %v", err)
	}
	e.With(s.description, "shared by Thing only")
	if err := e.SetEntityType(s.datastream); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Expected ErrUnknownProperty when switching type, got %v", err)
	}
	if e.EntityType() != s.thing {
		t.Error("Expected type to stay Thing after failed switch")
	}

	e.Unset(s.description)
	e.With(s.name, "n")
	if err := e.SetEntityType(s.datastream); err != nil {
		t.Errorf("Expected switch to succeed, got %v", err)
	}
}

func TestEntity_Diff(t *testing.T) {
	s := newTestSchema(t)
	a := NewEntity(s.thing).With(s.id, IntID(1)).With(s.name, "a").
		With(s.props, Properties{"k": []any{1.0, "x"}})
	b := a.Clone()

	if cs := a.Diff(b); !cs.IsEmpty() {
		t.Errorf("Expected empty diff, got %+v", cs)
	}

	b.With(s.props, map[string]any{"k": []any{1.0, "x"}})
	if cs := a.Diff(b); !cs.IsEmpty() {
		t.Errorf("Expected structurally equal maps to compare equal, got %+v", cs)
	}

	b.With(s.name, "b")
	b.With(s.npDatastreams, NewEntitySet(s.datastream))
	cs := a.Diff(b)
	if len(cs.EntityProperties) != 1 || cs.EntityProperties[0] != s.name {
		t.Errorf("Expected name to differ, got %v", cs.EntityProperties)
	}
	if len(cs.NavigationProperties) != 1 || cs.NavigationProperties[0] != s.npDatastreams {
		t.Errorf("Expected Datastreams to differ, got %v", cs.NavigationProperties)
	}
}

func TestEntity_DiffTimeValues(t *testing.T) {
	s := newTestSchema(t)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	iv, err := NewTimeInterval(t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewTimeInterval failed: %v", err)
	}
	same, _ := NewTimeInterval(t0.In(time.FixedZone("x", 3600)), t0.Add(time.Hour))

	a := NewEntity(s.obs).With(s.phenomenonTime, iv)
	b := NewEntity(s.obs).With(s.phenomenonTime, same)
	if cs := a.Diff(b); !cs.IsEmpty() {
		t.Errorf("Expected equal intervals, got %+v", cs)
	}

	b.With(s.phenomenonTime, NewTimeInstant(t0))
	if cs := a.Diff(b); !cs.Contains(s.phenomenonTime) {
		t.Error("Expected instant and interval to differ")
	}
}

func TestEntity_ValidateCreateRequired(t *testing.T) {
	s := newTestSchema(t)
	e := NewEntity(s.thing).With(s.name, "n")

	err := e.ValidateCreate()
	if !errors.Is(err, ErrIncompleteEntity) {
		t.Fatalf("Expected ErrIncompleteEntity, got %v", err)
	}
	var pe *PropertyError
	if !errors.As(err, &pe) || pe.Property != "description" || pe.EntityType != "Thing" {
		t.Errorf("Expected error on Thing.description, got %v", err)
	}

	e.With(s.description, "d")
	if err := e.ValidateCreate(); err != nil {
		t.Errorf("Expected valid entity, got %v", err)
	}
}

func TestEntity_ObservationExclusivity(t *testing.T) {
	s := newTestSchema(t)
	ds := NewEntity(s.datastream).With(s.id, IntID(1))
	mds := NewEntity(s.multi).With(s.id, IntID(2))

	both := NewEntity(s.obs).With(s.npObsDatastream, ds).With(s.npObsMulti, mds)
	if err := both.ValidateCreate(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState with both set, got %v", err)
	}

	neither := NewEntity(s.obs)
	if err := neither.ValidateCreate(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState with neither set, got %v", err)
	}

	one := NewEntity(s.obs).With(s.npObsDatastream, ds)
	if err := one.ValidateCreate(); err != nil {
		t.Errorf("Expected success with exactly one set, got %v", err)
	}
	if !one.IsSet(s.phenomenonTime) {
		t.Error("Expected phenomenonTime to be filled with now")
	}
}

func TestEntity_ValidateUpdateRejectsNullRequired(t *testing.T) {
	s := newTestSchema(t)
	e := NewEntity(s.thing).With(s.name, nil)
	if err := e.ValidateUpdate(); !errors.Is(err, ErrIncompleteEntity) {
		t.Errorf("Expected ErrIncompleteEntity, got %v", err)
	}
	if err := NewEntity(s.thing).ValidateUpdate(); err != nil {
		t.Errorf("Expected empty update to validate, got %v", err)
	}
}

func TestEntity_CompleteFromParent(t *testing.T) {
	s := newTestSchema(t)
	thing := NewEntity(s.thing).With(s.id, IntID(7))

	ds := NewEntity(s.datastream).With(s.name, "ds")
	if err := ds.CompleteFromParent(thing, s.npDatastreams); err != nil {
		t.Fatalf("CompleteFromParent failed: %v", err)
	}
	parent := ds.Entity(s.npThing)
	if parent == nil || parent.ID() != IntID(7) {
		t.Fatalf("Expected Thing(7) stub, got %v", parent)
	}
	if parent.IsExportObject() {
		t.Error("Expected parent stub not to be exported")
	}

	obs := NewEntity(s.obs)
	if err := obs.CompleteFromParent(ds.With(s.id, IntID(3)), nil); err != nil {
		t.Fatalf("CompleteFromParent failed: %v", err)
	}
	if obs.Entity(s.npObsDatastream).ID() != IntID(3) {
		t.Error("Expected Observation to reference Datastream(3)")
	}

	if err := NewEntity(s.multi).CompleteFromParent(thing, nil); !errors.Is(err, ErrNoRelation) {
		t.Errorf("Expected ErrNoRelation, got %v", err)
	}
}

func TestEntitySet_TypeInference(t *testing.T) {
	s := newTestSchema(t)
	set := NewEntitySet(nil)
	if set.Count() != -1 {
		t.Errorf("Expected count -1, got %d", set.Count())
	}
	if err := set.Add(NewEntity(s.thing)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if set.EntityType() != s.thing {
		t.Errorf("Expected inferred type Thing, got %v", set.EntityType())
	}
	if err := set.Add(NewEntity(s.datastream)); !errors.Is(err, ErrIllegalArgument) {
		t.Errorf("Expected ErrIllegalArgument for mixed types, got %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("Expected 1 entity, got %d", set.Len())
	}
}

type sliceIterator struct {
	items  []*Entity
	pos    int
	closed bool
}

func (it *sliceIterator) Next() bool      { it.pos++; return it.pos <= len(it.items) }
func (it *sliceIterator) Entity() *Entity { return it.items[it.pos-1] }
func (it *sliceIterator) Err() error      { return nil }
func (it *sliceIterator) Close() error    { it.closed = true; return nil }

func TestEntitySet_LazySource(t *testing.T) {
	s := newTestSchema(t)
	it := &sliceIterator{items: []*Entity{NewEntity(s.thing), NewEntity(s.thing)}}
	set := NewEntitySet(s.thing)
	set.SetSource(it)

	n := 0
	if err := set.Each(func(*Entity) error { n++; return nil }); err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 entities, got %d", n)
	}
	if set.Len() != 0 {
		t.Errorf("Expected lazy entities not to be stored, got %d", set.Len())
	}
	if !it.closed {
		t.Error("Expected source to be closed")
	}
}

func TestRegistry_Lookups(t *testing.T) {
	s := newTestSchema(t)

	if p, err := s.registry.PropertyByName("@iot.id"); err != nil || p != s.id {
		t.Errorf("Expected id by JSON name, got %v (%v)", p, err)
	}
	if p, err := s.thing.Property("ID"); err != nil || p != s.id {
		t.Errorf("Expected id by alias, got %v (%v)", p, err)
	}
	if _, err := s.registry.PropertyByName("nope"); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Expected ErrUnknownProperty, got %v", err)
	}
	np, err := s.registry.NavigationTargetFor(s.datastream, s.thing)
	if err != nil || np != s.npThing {
		t.Errorf("Expected Datastream.Thing, got %v (%v)", np, err)
	}
	if _, err := s.registry.NavigationTargetFor(s.thing, s.multi); !errors.Is(err, ErrNoRelation) {
		t.Errorf("Expected ErrNoRelation, got %v", err)
	}
	if s.npDatastreams.Inverse() != s.npThing || s.npThing.Inverse() != s.npDatastreams {
		t.Error("Expected Thing.Datastreams and Datastream.Thing to be inverses")
	}
	if s.npThing.TargetType() != s.thing || s.npThing.SourceType() != s.datastream {
		t.Error("Expected Datastream.Thing to be resolved")
	}
}

func TestRegistry_InitRejectsUnknownTarget(t *testing.T) {
	id := NewEntityProperty("id", TypeID)
	broken := NewEntityType("Broken", "Brokens").
		AddEntityProperty(id, false).
		AddNavigationProperty(NewNavigationPropertyEntity("Missing", "Missing"), false).
		SetPrimaryKey(id)
	r := NewRegistry(IDKindInteger).MustRegister(broken)
	if err := r.Init(); !errors.Is(err, ErrIllegalArgument) {
		t.Errorf("Expected ErrIllegalArgument, got %v", err)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{UnknownPropertyError(nil, "x"), 400},
		{InvalidStateError(nil, "x"), 400},
		{ErrNotFound, 404},
		{ErrForbidden, 403},
		{ErrIllegalArgument, 500},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
