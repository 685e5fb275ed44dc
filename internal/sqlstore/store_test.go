package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/query"
	"github.com/nlstn/go-sensorthings/internal/sqlstore/migrations"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type storeFixture struct {
	store  *Store
	m      *core.Model
	events []*model.EntityChangedMessage
}

func newTestStore(t *testing.T, settings Settings) *storeFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// Every connection of an in-memory database is a database of its own.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrations.Apply(context.Background(), sqlDB, "sqlite"); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	m, err := core.NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	schema, err := CoreSchema(DialectSQLite, m)
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}
	if settings.ServiceRoot == "" {
		settings.ServiceRoot = "http://localhost/v1.1"
	}
	if settings.DefaultTop == 0 {
		settings.DefaultTop = 100
	}
	f := &storeFixture{store: NewStore(db, schema, settings), m: m}
	f.store.OnCommit(func(_ context.Context, events []*model.EntityChangedMessage) {
		f.events = append(f.events, events...)
	})
	return f
}

func (f *storeFixture) thing(name string) *model.Entity {
	return model.NewEntity(f.m.Thing).
		With(core.EpName, name).
		With(core.EpDescription, "thing "+name).
		With(core.EpProperties, model.Properties{"owner": "alice", "floor": float64(2)})
}

func (f *storeFixture) location(name string) *model.Entity {
	return model.NewEntity(f.m.Location).
		With(core.EpName, name).
		With(core.EpDescription, "location "+name).
		With(core.EpEncodingType, "application/geo+json").
		With(core.EpLocation, model.Geometry{"type": "Point", "coordinates": []any{float64(8), float64(52)}})
}

func (f *storeFixture) datastream(name string, thing *model.Entity) *model.Entity {
	sensor := model.NewEntity(f.m.Sensor).
		With(core.EpName, "sensor").
		With(core.EpDescription, "a sensor").
		With(core.EpEncodingType, "application/pdf").
		With(core.EpMetadata, "http://example.org/sensor.pdf")
	op := model.NewEntity(f.m.ObservedProperty).
		With(core.EpName, "temperature").
		With(core.EpDefinition, "http://example.org/temperature").
		With(core.EpDescription, "air temperature")
	return model.NewEntity(f.m.Datastream).
		With(core.EpName, name).
		With(core.EpDescription, "datastream "+name).
		With(core.EpObservationType, core.ObservationTypeMeasurement).
		With(core.EpUnitOfMeasurement, model.UnitOfMeasurement{Name: "degree Celsius", Symbol: "degC"}).
		With(f.m.NpDatastreamThing, thing).
		With(f.m.NpDatastreamSensor, sensor).
		With(f.m.NpDatastreamObsProp, op)
}

func (f *storeFixture) observation(ds *model.Entity, at time.Time, result any) *model.Entity {
	return model.NewEntity(f.m.Observation).
		With(core.EpPhenomenonTime, model.NewTimeInstant(at)).
		With(core.EpResult, result).
		With(f.m.NpObservationDatastream, ds)
}

func (f *storeFixture) insert(t *testing.T, e *model.Entity) *model.Entity {
	t.Helper()
	if err := f.store.Insert(context.Background(), e); err != nil {
		t.Fatalf("Failed to insert %s: %v", e.EntityType().Name(), err)
	}
	return e
}

func (f *storeFixture) collection(t *testing.T, et *model.EntityType) *query.ResourcePath {
	t.Helper()
	return query.NewPath(f.store.settings.ServiceRoot, et)
}

func (f *storeFixture) below(t *testing.T, parent *model.Entity, np *model.NavigationPropertyMain) *query.ResourcePath {
	t.Helper()
	path, err := query.NewPath(f.store.settings.ServiceRoot, parent.EntityType()).WithKey(parent.PrimaryKeyValues())
	if err != nil {
		t.Fatalf("Failed to build path: %v", err)
	}
	if path, err = path.Navigate(np); err != nil {
		t.Fatalf("Failed to navigate: %v", err)
	}
	return path
}

func TestStore_InsertThingWithLocationCreatesHistoricalLocation(t *testing.T) {
	f := newTestStore(t, Settings{})
	loc := f.location("office")
	set := model.NewEntitySet(f.m.Location)
	if err := set.Add(loc); err != nil {
		t.Fatalf("Failed to add location: %v", err)
	}
	thing := f.insert(t, f.thing("t1").With(f.m.NpThingLocations, set))

	if thing.ID() == nil || loc.ID() == nil {
		t.Fatalf("Expected generated ids, got thing %v location %v", thing.ID(), loc.ID())
	}

	hls, err := f.store.GetEntitySet(context.Background(), f.below(t, thing, f.m.NpThingHistoricalLocations), nil)
	if err != nil {
		t.Fatalf("Failed to read historical locations: %v", err)
	}
	if hls.Len() != 1 {
		t.Fatalf("Expected 1 historical location, got %d", hls.Len())
	}

	locs, err := f.store.GetEntitySet(context.Background(), f.below(t, hls.Get(0), f.m.NpHistLocationLocations), nil)
	if err != nil {
		t.Fatalf("Failed to read locations of historical location: %v", err)
	}
	if locs.Len() != 1 || !locs.Get(0).PrimaryKeyValues().Equal(loc.PrimaryKeyValues()) {
		t.Errorf("Expected the historical location to reference %v, got %d locations", loc.ID(), locs.Len())
	}

	var types []string
	for _, e := range f.events {
		if e.Event != model.EventCreate {
			t.Errorf("Expected create events only, got %v", e.Event)
		}
		types = append(types, e.EntityTypeName())
	}
	expected := "Location,HistoricalLocation,Thing"
	if strings.Join(types, ",") != expected {
		t.Errorf("Expected events %s, got %s", expected, strings.Join(types, ","))
	}
}

func TestStore_InsertRejectsMissingRelatedEntity(t *testing.T) {
	f := newTestStore(t, Settings{})
	missing := model.NewEntity(f.m.Thing).With(core.EpID, model.IntID(42))
	ds := f.datastream("ds", missing)

	err := f.store.Insert(context.Background(), ds)
	if !errors.Is(err, model.ErrIncompleteEntity) {
		t.Fatalf("Expected ErrIncompleteEntity, got %v", err)
	}
	if len(f.events) != 0 {
		t.Errorf("Expected no events after a failed insert, got %d", len(f.events))
	}

	things, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Thing), nil)
	if err != nil {
		t.Fatalf("Failed to read things: %v", err)
	}
	if things.Len() != 0 {
		t.Errorf("Expected the failed insert to be rolled back, got %d things", things.Len())
	}
}

func TestStore_ObservationNeedsExactlyOneDatastream(t *testing.T) {
	f := newTestStore(t, Settings{})
	obs := model.NewEntity(f.m.Observation).With(core.EpResult, decimal.NewFromInt(1))

	if err := f.store.Insert(context.Background(), obs); err == nil {
		t.Fatal("Expected an observation without datastream to be rejected")
	}
}

func TestStore_PagingBelowParent(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	other := f.insert(t, f.thing("t2"))
	for i := 0; i < 5; i++ {
		f.insert(t, f.datastream("ds", thing))
	}
	f.insert(t, f.datastream("foreign", other))

	path := f.below(t, thing, f.m.NpThingDatastreams)
	set, err := f.store.GetEntitySet(context.Background(), path, query.New().WithTop(2))
	if err != nil {
		t.Fatalf("Failed to read datastreams: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Expected 2 datastreams, got %d", set.Len())
	}
	if set.Count() != -1 {
		t.Errorf("Expected count to be unset, got %d", set.Count())
	}
	if !strings.Contains(set.NextLink(), "$skip=2") || !strings.HasPrefix(set.NextLink(), path.URL()) {
		t.Errorf("Expected a next link to skip 2 below %s, got %q", path.URL(), set.NextLink())
	}

	last, err := f.store.GetEntitySet(context.Background(), path, &query.Query{Skip: 4, Top: intPtr(2), Count: boolPtr(true)})
	if err != nil {
		t.Fatalf("Failed to read last page: %v", err)
	}
	if last.Len() != 1 {
		t.Errorf("Expected 1 datastream on the last page, got %d", last.Len())
	}
	if last.NextLink() != "" {
		t.Errorf("Expected no next link on the last page, got %q", last.NextLink())
	}
	if last.Count() != 5 {
		t.Errorf("Expected count 5, got %d", last.Count())
	}
}

func TestStore_FilterAndOrder(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	ds := f.insert(t, f.datastream("ds", thing))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []any{decimal.NewFromInt(1), decimal.RequireFromString("3.25"), decimal.NewFromInt(7), "high", true} {
		f.insert(t, f.observation(ds, base.Add(time.Duration(i)*time.Hour), r))
	}
	observations := f.collection(t, f.m.Observation)

	tests := []struct {
		name     string
		filter   query.Expression
		order    []query.OrderBy
		expected []string
	}{
		{
			name:     "numeric result",
			filter:   query.Gt(query.Prop(core.EpResult), query.Lit(decimal.NewFromInt(2))),
			order:    []query.OrderBy{query.Desc(query.Prop(core.EpResult))},
			expected: []string{"7", "3.25"},
		},
		{
			name:     "string result",
			filter:   query.Eq(query.Prop(core.EpResult), query.Lit("high")),
			expected: []string{"high"},
		},
		{
			name:     "boolean result",
			filter:   query.Eq(query.Prop(core.EpResult), query.Lit(true)),
			expected: []string{"true"},
		},
		{
			name:     "phenomenon time before",
			filter:   query.Lt(query.Prop(core.EpPhenomenonTime), query.Lit(model.NewTimeInstant(base.Add(90*time.Minute)))),
			expected: []string{"1", "3.25"},
		},
		{
			name:     "through navigation",
			filter:   query.Eq(query.Prop(f.m.NpObservationDatastream, core.EpName), query.Lit("ds")),
			order:    []query.OrderBy{query.Asc(query.Prop(core.EpPhenomenonTime))},
			expected: []string{"1", "3.25", "7", "high", "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &query.Query{Filter: tt.filter, OrderBy: tt.order}
			set, err := f.store.GetEntitySet(context.Background(), observations, q)
			if err != nil {
				t.Fatalf("Failed to read observations: %v", err)
			}
			var got []string
			for _, e := range set.All() {
				got = append(got, resultString(e.Value(core.EpResult)))
			}
			if strings.Join(got, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("Expected results %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestStore_ToManyFilterReturnsEachEntityOnce(t *testing.T) {
	f := newTestStore(t, Settings{})
	for _, name := range []string{"t1", "t2", "t3"} {
		thing := f.insert(t, f.thing(name))
		f.insert(t, f.datastream("a", thing))
		f.insert(t, f.datastream("b", thing))
		f.insert(t, f.datastream("a", thing))
	}
	things := f.collection(t, f.m.Thing)
	dsName := query.Prop(f.m.NpThingDatastreams, core.EpName)

	tests := []struct {
		name     string
		q        *query.Query
		expected []string
		count    int64
		nextLink bool
	}{
		{
			name:     "several matching rows",
			q:        &query.Query{Filter: query.Eq(dsName, query.Lit("a")), Count: boolPtr(true)},
			expected: []string{"t1", "t2", "t3"},
			count:    3,
		},
		{
			name:     "every row matches",
			q:        &query.Query{Filter: query.Ne(dsName, query.Lit("z")), OrderBy: []query.OrderBy{query.Desc(query.Prop(core.EpName))}, Count: boolPtr(true)},
			expected: []string{"t3", "t2", "t1"},
			count:    3,
		},
		{
			name:     "paged",
			q:        &query.Query{Filter: query.Eq(dsName, query.Lit("b")), Top: intPtr(1), Skip: 1, Count: boolPtr(true)},
			expected: []string{"t2"},
			count:    3,
			nextLink: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := f.store.GetEntitySet(context.Background(), things, tt.q)
			if err != nil {
				t.Fatalf("Failed to read things: %v", err)
			}
			var got []string
			for _, e := range set.All() {
				got = append(got, e.Value(core.EpName).(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("Expected things %v, got %v", tt.expected, got)
			}
			if set.Count() != tt.count {
				t.Errorf("Expected count %d, got %d", tt.count, set.Count())
			}
			if (set.NextLink() != "") != tt.nextLink {
				t.Errorf("Expected next link %v, got %q", tt.nextLink, set.NextLink())
			}
		})
	}
}

func TestStore_OrderThroughToManyIsRejected(t *testing.T) {
	f := newTestStore(t, Settings{})
	for _, name := range []string{"t1", "t2"} {
		thing := f.insert(t, f.thing(name))
		f.insert(t, f.datastream("a", thing))
		f.insert(t, f.datastream("b", thing))
	}
	q := &query.Query{
		OrderBy: []query.OrderBy{query.Asc(query.Prop(f.m.NpThingDatastreams, core.EpName))},
		Count:   boolPtr(true),
	}

	_, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Thing), q)
	if !errors.Is(err, model.ErrParse) {
		t.Fatalf("Expected ErrParse for ordering by a collection, got %v", err)
	}
	if err := q.Validate(f.m.Thing); !errors.Is(err, model.ErrParse) {
		t.Errorf("Expected Validate to reject ordering by a collection, got %v", err)
	}

	// Ordering through a to-one navigation stays allowed.
	below := &query.Query{OrderBy: []query.OrderBy{query.Asc(query.Prop(f.m.NpDatastreamThing, core.EpName))}}
	set, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Datastream), below)
	if err != nil {
		t.Fatalf("Failed to read datastreams: %v", err)
	}
	if set.Len() != 4 {
		t.Errorf("Expected 4 datastreams, got %d", set.Len())
	}
}

func resultString(v any) string {
	switch r := v.(type) {
	case decimal.Decimal:
		return r.String()
	case string:
		return r
	case bool:
		if r {
			return "true"
		}
		return "false"
	}
	return "?"
}

func TestStore_ObservationExtendsDatastreamTimes(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	ds := f.insert(t, f.datastream("ds", thing))
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	last := first.Add(3 * time.Hour)
	f.insert(t, f.observation(ds, last, decimal.NewFromInt(2)))
	f.insert(t, f.observation(ds, first, decimal.NewFromInt(1)))

	path, _ := query.NewPath(f.store.settings.ServiceRoot, f.m.Datastream).WithKey(ds.PrimaryKeyValues())
	stored, err := f.store.GetEntity(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Failed to read datastream: %v", err)
	}
	iv, ok := stored.Value(core.EpPhenomenonTimeDs).(model.TimeInterval)
	if !ok {
		t.Fatalf("Expected a phenomenon time interval, got %T", stored.Value(core.EpPhenomenonTimeDs))
	}
	if !iv.Start().Equal(first) || !iv.End().Equal(last) {
		t.Errorf("Expected interval %v/%v, got %v", first, last, iv)
	}
	if stored.Value(core.EpResultTimeDs) != nil {
		t.Errorf("Expected no result time, got %v", stored.Value(core.EpResultTimeDs))
	}
}

func TestStore_ObservationDefaultsPhenomenonTime(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	ds := f.insert(t, f.datastream("ds", thing))
	obs := model.NewEntity(f.m.Observation).
		With(core.EpResult, decimal.NewFromInt(5)).
		With(f.m.NpObservationDatastream, ds)
	f.insert(t, obs)

	if _, ok := obs.Value(core.EpPhenomenonTime).(model.TimeValue); !ok {
		t.Errorf("Expected phenomenonTime to be filled, got %v", obs.Value(core.EpPhenomenonTime))
	}
}

func TestStore_CreateBelowParentPath(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	ds := f.insert(t, f.datastream("ds", thing))

	obs := model.NewEntity(f.m.Observation).With(core.EpResult, "ok")
	if err := obs.CompleteFromParent(ds, f.m.NpDatastreamObservations); err != nil {
		t.Fatalf("Failed to complete from parent: %v", err)
	}
	f.insert(t, obs)

	set, err := f.store.GetEntitySet(context.Background(), f.below(t, ds, f.m.NpDatastreamObservations), nil)
	if err != nil {
		t.Fatalf("Failed to read observations: %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("Expected 1 observation below the datastream, got %d", set.Len())
	}
}

func TestStore_Expand(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	for i := 0; i < 3; i++ {
		f.insert(t, f.datastream("ds", thing))
	}

	path, _ := query.NewPath(f.store.settings.ServiceRoot, f.m.Thing).WithKey(thing.PrimaryKeyValues())
	q := &query.Query{Expand: []*query.Expand{query.NewExpand(query.New().WithTop(2), f.m.NpThingDatastreams, f.m.NpDatastreamSensor)}}
	stored, err := f.store.GetEntity(context.Background(), path, q)
	if err != nil {
		t.Fatalf("Failed to read thing: %v", err)
	}
	set := stored.EntitySet(f.m.NpThingDatastreams)
	if set.Len() != 3 {
		t.Fatalf("Expected 3 expanded datastreams, got %d", set.Len())
	}
	sensor := set.Get(0).Entity(f.m.NpDatastreamSensor)
	if sensor == nil || sensor.Value(core.EpName) != "sensor" {
		t.Errorf("Expected the expanded sensor with its name, got %v", sensor)
	}
}

func TestStore_ExpandPagesNestedSet(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	for i := 0; i < 3; i++ {
		f.insert(t, f.datastream("ds", thing))
	}

	path, _ := query.NewPath(f.store.settings.ServiceRoot, f.m.Thing).WithKey(thing.PrimaryKeyValues())
	q := &query.Query{Expand: []*query.Expand{query.NewExpand(query.New().WithTop(2), f.m.NpThingDatastreams)}}
	stored, err := f.store.GetEntity(context.Background(), path, q)
	if err != nil {
		t.Fatalf("Failed to read thing: %v", err)
	}
	set := stored.EntitySet(f.m.NpThingDatastreams)
	if set.Len() != 2 {
		t.Fatalf("Expected 2 expanded datastreams, got %d", set.Len())
	}
	if !strings.Contains(set.NextLink(), "/Datastreams?") {
		t.Errorf("Expected a next link for the expanded set, got %q", set.NextLink())
	}
}

func TestStore_DataSizeLimit(t *testing.T) {
	f := newTestStore(t, Settings{MaxDataSize: 40})
	for i := 0; i < 4; i++ {
		f.insert(t, f.thing(strings.Repeat("x", 30)))
	}

	set, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Thing), nil)
	if err != nil {
		t.Fatalf("Failed to read things: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("Expected iteration to stop after the first entity, got %d", set.Len())
	}
	if !strings.Contains(set.NextLink(), "$skip=1") {
		t.Errorf("Expected a next link skipping 1, got %q", set.NextLink())
	}
}

func TestStore_Stream(t *testing.T) {
	f := newTestStore(t, Settings{})
	for i := 0; i < 3; i++ {
		f.insert(t, f.thing("t"))
	}

	var seen int
	var next string
	err := f.store.Stream(context.Background(), f.collection(t, f.m.Thing), query.New().WithTop(2), func(set *model.EntitySet) error {
		err := set.Each(func(e *model.Entity) error {
			seen++
			return nil
		})
		next = set.NextLink()
		return err
	})
	if err != nil {
		t.Fatalf("Failed to stream: %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected 2 streamed entities, got %d", seen)
	}
	if next == "" {
		t.Error("Expected a next link after streaming")
	}
}

func TestStore_Update(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	f.events = nil

	patch := model.NewEntity(f.m.Thing).With(core.EpName, "renamed")
	msg, err := f.store.Update(context.Background(), thing.PrimaryKeyValues(), patch)
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if !msg.Changes.Contains(core.EpName) || msg.Changes.Contains(core.EpDescription) {
		t.Errorf("Expected only name to change, got %+v", msg.Changes)
	}
	if msg.Entity.Value(core.EpDescription) != "thing t1" {
		t.Errorf("Expected the untouched description to be kept, got %v", msg.Entity.Value(core.EpDescription))
	}
	if len(f.events) != 1 || f.events[0].Event != model.EventUpdate {
		t.Errorf("Expected one update event, got %v", f.events)
	}

	path, _ := query.NewPath(f.store.settings.ServiceRoot, f.m.Thing).WithKey(thing.PrimaryKeyValues())
	stored, err := f.store.GetEntity(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Failed to read thing: %v", err)
	}
	if stored.Value(core.EpName) != "renamed" {
		t.Errorf("Expected stored name renamed, got %v", stored.Value(core.EpName))
	}
}

func TestStore_UpdateRejectsKeyChange(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))

	patch := model.NewEntity(f.m.Thing).With(core.EpID, model.IntID(999))
	_, err := f.store.Update(context.Background(), thing.PrimaryKeyValues(), patch)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestStore_UpdateRejectsNullRequired(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))

	patch := model.NewEntity(f.m.Thing).With(core.EpName, nil)
	_, err := f.store.Update(context.Background(), thing.PrimaryKeyValues(), patch)
	if !errors.Is(err, model.ErrIncompleteEntity) {
		t.Errorf("Expected ErrIncompleteEntity, got %v", err)
	}
}

func TestStore_DeleteCascades(t *testing.T) {
	f := newTestStore(t, Settings{})
	thing := f.insert(t, f.thing("t1"))
	f.insert(t, f.datastream("ds", thing))

	if err := f.store.Delete(context.Background(), f.m.Thing, thing.PrimaryKeyValues()); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	err := f.store.Delete(context.Background(), f.m.Thing, thing.PrimaryKeyValues())
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}

	set, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Datastream), nil)
	if err != nil {
		t.Fatalf("Failed to read datastreams: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("Expected datastreams to be deleted with their thing, got %d", set.Len())
	}
}

func TestStore_NestedTransactionJoinsOuter(t *testing.T) {
	f := newTestStore(t, Settings{})
	boom := errors.New("boom")

	err := f.store.InTransaction(context.Background(), func(ctx context.Context, s *Session) error {
		if _, ok := TransactionFromContext(ctx); !ok {
			t.Error("Expected the transaction in the context")
		}
		if err := f.store.Insert(ctx, f.thing("inner")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if len(f.events) != 0 {
		t.Errorf("Expected no events from a rolled back transaction, got %d", len(f.events))
	}

	set, err := f.store.GetEntitySet(context.Background(), f.collection(t, f.m.Thing), nil)
	if err != nil {
		t.Fatalf("Failed to read things: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("Expected the inner insert to be rolled back, got %d things", set.Len())
	}
}

func TestStore_NotFound(t *testing.T) {
	f := newTestStore(t, Settings{})
	path, _ := query.NewPath(f.store.settings.ServiceRoot, f.m.Thing).WithKey(model.MustPkValue(model.IntID(7)))

	_, err := f.store.GetEntity(context.Background(), path, nil)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
