package sqlstore

import (
	"errors"
	"strings"
	"testing"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/query"
)

func newTestSchema(t *testing.T) (*Schema, *core.Model) {
	t.Helper()
	m, err := core.NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	schema, err := CoreSchema(DialectSQLite, m)
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}
	return schema, m
}

func TestQueryState_SingleJoinForFilterAndOrder(t *testing.T) {
	schema, m := newTestSchema(t)
	qs, err := NewQueryState(schema, query.NewPath("", m.Observation))
	if err != nil {
		t.Fatalf("Failed to create query state: %v", err)
	}
	dsName := query.Prop(m.NpObservationDatastream, core.EpName)
	if err := qs.SetFilter(query.Eq(dsName, query.Lit("a"))); err != nil {
		t.Fatalf("Failed to compile filter: %v", err)
	}
	if err := qs.AddOrderBy([]query.OrderBy{query.Asc(dsName)}); err != nil {
		t.Fatalf("Failed to compile orderby: %v", err)
	}
	qs.SelectProperties(nil)

	sql, args := qs.statement(10, 0).ToSQL()
	if n := strings.Count(sql, "JOIN"); n != 1 {
		t.Errorf("Expected 1 join, got %d in %s", n, sql)
	}
	if qs.DistinctRequired() {
		t.Error("Expected no DISTINCT for a to-one join")
	}
	if !strings.Contains(sql, `ORDER BY "e1"."NAME", "e0"."ID" LIMIT 10`) {
		t.Errorf("Expected order by datastream name then id, got %s", sql)
	}
	if len(args) != 1 || args[0] != "a" {
		t.Errorf("Expected args [a], got %v", args)
	}
}

func TestQueryState_ToManyFilterRequiresDistinct(t *testing.T) {
	schema, m := newTestSchema(t)
	qs, err := NewQueryState(schema, query.NewPath("", m.Thing))
	if err != nil {
		t.Fatalf("Failed to create query state: %v", err)
	}
	if err := qs.SetFilter(query.Eq(query.Prop(m.NpThingDatastreams, core.EpName), query.Lit("a"))); err != nil {
		t.Fatalf("Failed to compile filter: %v", err)
	}
	if err := qs.AddOrderBy([]query.OrderBy{query.Desc(query.Prop(core.EpName))}); err != nil {
		t.Fatalf("Failed to compile orderby: %v", err)
	}
	qs.SelectProperties([]model.Property{core.EpDescription})

	if !qs.DistinctRequired() {
		t.Fatal("Expected DISTINCT for a to-many join")
	}
	sql, _ := qs.statement(10, 0).ToSQL()
	expected := `SELECT DISTINCT "e0"."ID", "e0"."DESCRIPTION", "e0"."NAME", "e0"."ID" FROM "THINGS" AS "e0" LEFT JOIN "DATASTREAMS" AS "e1" ON "e1"."THING_ID" = "e0"."ID" WHERE ("e1"."NAME" = ?) ORDER BY "e0"."NAME" DESC, "e0"."ID" LIMIT 10`
	if sql != expected {
		t.Errorf("Expected SQL %s, got %s", expected, sql)
	}

	count, _ := qs.countStatement().ToCountSQL()
	if !strings.Contains(count, "count_subquery") {
		t.Errorf("Expected a DISTINCT count subquery, got %s", count)
	}
}

func TestQueryState_PathConstraint(t *testing.T) {
	schema, m := newTestSchema(t)
	path, err := query.NewPath("", m.Thing).WithKey(model.MustPkValue(model.IntID(1)))
	if err != nil {
		t.Fatalf("Failed to build path: %v", err)
	}
	if _, err := path.Navigate(m.NpThingDatastreams); err != nil {
		t.Fatalf("Failed to navigate: %v", err)
	}
	qs, err := NewQueryState(schema, path)
	if err != nil {
		t.Fatalf("Failed to create query state: %v", err)
	}
	if err := qs.SetFilter(query.Eq(query.Prop(m.NpDatastreamThing, core.EpName), query.Lit("x"))); err != nil {
		t.Fatalf("Failed to compile filter: %v", err)
	}
	qs.SelectProperties([]model.Property{core.EpName})

	sql, args := qs.statement(-1, 0).ToSQL()
	if !strings.Contains(sql, `JOIN "THINGS" AS "e1" ON "e1"."ID" = "e0"."THING_ID"`) {
		t.Errorf("Expected an inner join to the parent, got %s", sql)
	}
	if !strings.Contains(sql, `LEFT JOIN "THINGS" AS "e2"`) {
		t.Errorf("Expected the filter to join the parent table again, got %s", sql)
	}
	if !strings.Contains(sql, `WHERE ("e1"."ID" = ?) AND ("e2"."NAME" = ?)`) {
		t.Errorf("Expected the key condition before the filter, got %s", sql)
	}
	if len(args) != 2 || args[0] != int64(1) || args[1] != "x" {
		t.Errorf("Expected args [1 x], got %v", args)
	}
	if qs.DistinctRequired() {
		t.Error("Expected path joins not to require DISTINCT")
	}
}

func TestQueryState_ManyToManyPath(t *testing.T) {
	schema, m := newTestSchema(t)
	path, _ := query.NewPath("", m.Thing).WithKey(model.MustPkValue(model.IntID(3)))
	if _, err := path.Navigate(m.NpThingLocations); err != nil {
		t.Fatalf("Failed to navigate: %v", err)
	}
	qs, err := NewQueryState(schema, path)
	if err != nil {
		t.Fatalf("Failed to create query state: %v", err)
	}
	qs.SelectProperties([]model.Property{core.EpName})

	sql, _ := qs.statement(-1, 0).ToSQL()
	if !strings.Contains(sql, `JOIN "THINGS_LOCATIONS" AS "e1" ON "e1"."LOCATION_ID" = "e0"."ID"`) {
		t.Errorf("Expected a join through the link table, got %s", sql)
	}
	if !strings.Contains(sql, `JOIN "THINGS" AS "e2" ON "e2"."ID" = "e1"."THING_ID"`) {
		t.Errorf("Expected a join to the parent, got %s", sql)
	}
}

func TestQueryState_FilterErrors(t *testing.T) {
	schema, m := newTestSchema(t)

	tests := []struct {
		name     string
		filter   query.Expression
		expected error
	}{
		{"unknown property", query.Eq(query.Prop(core.EpResult), query.Lit(1)), model.ErrUnknownProperty},
		{"null with gt", query.Gt(query.Prop(core.EpName), query.Lit(nil)), model.ErrParse},
		{"time against string", query.Lt(query.Prop(m.NpThingHistoricalLocations, core.EpTime), query.Lit("x")), model.ErrParse},
		{"not a condition", query.Prop(core.EpName), model.ErrParse},
		{"unknown function", query.Call("frobnicate", query.Prop(core.EpName)), model.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := NewQueryState(schema, query.NewPath("", m.Thing))
			if err != nil {
				t.Fatalf("Failed to create query state: %v", err)
			}
			err = qs.SetFilter(tt.filter)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestQueryState_Functions(t *testing.T) {
	schema, m := newTestSchema(t)

	tests := []struct {
		name     string
		filter   query.Expression
		contains string
	}{
		{"json member", query.Eq(query.Prop(core.EpProperties).Sub("owner"), query.Lit("alice")), `json_extract("e0"."PROPERTIES"`},
		{"startswith", query.Call("startswith", query.Prop(core.EpName), query.Lit("ab")), `substr("e0"."NAME"`},
		{"tolower", query.Eq(query.Call("tolower", query.Prop(core.EpName)), query.Lit("ab")), `lower("e0"."NAME") = ?`},
		{"not", &query.Not{Operand: query.Eq(query.Prop(core.EpName), query.Lit("ab"))}, `NOT (`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := NewQueryState(schema, query.NewPath("", m.Thing))
			if err != nil {
				t.Fatalf("Failed to create query state: %v", err)
			}
			if err := qs.SetFilter(tt.filter); err != nil {
				t.Fatalf("Failed to compile filter: %v", err)
			}
			if !strings.Contains(qs.filter.SQL, tt.contains) {
				t.Errorf("Expected %q in %s", tt.contains, qs.filter.SQL)
			}
		})
	}
}

func TestTimeIntervalBinding_NullBoundsReadAsNil(t *testing.T) {
	schema, m := newTestSchema(t)
	table, err := schema.Table(m.Datastream)
	if err != nil {
		t.Fatalf("Failed to get table: %v", err)
	}
	pf, err := table.Fields().Fields(core.EpPhenomenonTimeDs)
	if err != nil {
		t.Fatalf("Failed to get fields: %v", err)
	}
	e := model.NewEntity(m.Datastream)
	rc := &ReadContext{Dialect: DialectSQLite, Registry: schema.Registry()}
	if err := pf.Converter.Read(rc, []any{nil, nil}, e); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if !e.IsSet(core.EpPhenomenonTimeDs) || e.Value(core.EpPhenomenonTimeDs) != nil {
		t.Errorf("Expected a set nil interval, got %v", e.Value(core.EpPhenomenonTimeDs))
	}
}
