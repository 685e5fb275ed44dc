package sensorthings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nlstn/go-sensorthings/internal/config"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/query"
	"github.com/nlstn/go-sensorthings/internal/sqlstore/migrations"
	"github.com/nlstn/go-sensorthings/internal/workers"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testRoot = "http://localhost:8080/v1.1"

func newTestService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := migrations.Apply(context.Background(), sqlDB, "sqlite"); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	if cfg.ServiceRoot == "" {
		cfg.ServiceRoot = testRoot
	}
	s, err := NewService(db, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return s
}

func create(t *testing.T, s *Service, path, body string) map[string]any {
	t.Helper()
	out, err := s.Create(context.Background(), path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	return out
}

const datastreamBody = `{
	"name": "air temperature",
	"description": "temperature on the roof",
	"observationType": "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Measurement",
	"unitOfMeasurement": {"name": "degree Celsius", "symbol": "degC"},
	"Thing": {"name": "station", "description": "weather station"},
	"Sensor": {"name": "pt100", "description": "sensor", "encodingType": "application/pdf", "metadata": "http://example.org/pt100.pdf"},
	"ObservedProperty": {"name": "temperature", "definition": "http://example.org/temperature", "description": "air temperature"}
}`

func TestNewService_RequiresDatabase(t *testing.T) {
	if _, err := NewService(nil, ServiceConfig{}); err == nil {
		t.Error("Expected error for nil database, got nil")
	}
}

func TestService_CreateAndGet(t *testing.T) {
	s := newTestService(t, ServiceConfig{})

	thing := create(t, s, "/Things", `{
		"name": "station",
		"description": "weather station",
		"properties": {"owner": "alice"},
		"Locations": [{"name": "roof", "description": "roof", "encodingType": "application/geo+json", "location": {"type": "Point", "coordinates": [8, 52]}}]
	}`)
	id, ok := thing["@iot.id"].(int64)
	if !ok {
		t.Fatalf("Expected an integer @iot.id, got %T", thing["@iot.id"])
	}
	wantSelf := testRoot + "/Things(" + model.IntID(id).URL() + ")"
	if thing["@iot.selfLink"] != wantSelf {
		t.Errorf("Expected selfLink %s, got %v", wantSelf, thing["@iot.selfLink"])
	}

	got, err := s.Get(context.Background(), "/Things("+model.IntID(id).URL()+")", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got["name"] != "station" {
		t.Errorf("Expected name station, got %v", got["name"])
	}
	if got["Locations@iot.navigationLink"] != wantSelf+"/Locations" {
		t.Errorf("Expected Locations navigation link, got %v", got["Locations@iot.navigationLink"])
	}

	hls, err := s.Get(context.Background(), "/Things("+model.IntID(id).URL()+")/HistoricalLocations", query.New().WithCount(true))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hls["@iot.count"] != int64(1) {
		t.Errorf("Expected one historical location, got %v", hls["@iot.count"])
	}
}

func TestService_CreateBelowParent(t *testing.T) {
	s := newTestService(t, ServiceConfig{})
	ds := create(t, s, "/Datastreams", datastreamBody)
	dsPath := "/Datastreams(" + model.IntID(ds["@iot.id"].(int64)).URL() + ")"

	create(t, s, dsPath+"/Observations", `{"phenomenonTime": "2024-01-01T00:00:00Z", "result": 21.5}`)
	create(t, s, dsPath+"/Observations", `{"phenomenonTime": "2024-01-01T01:00:00Z", "result": 22}`)

	obs, err := s.Get(context.Background(), dsPath+"/Observations", query.New().WithTop(1))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	values := obs["value"].([]map[string]any)
	if len(values) != 1 {
		t.Fatalf("Expected 1 observation on the page, got %d", len(values))
	}
	if obs["@iot.nextLink"] == nil {
		t.Error("Expected a next link for the second observation")
	}

	var streamed int
	err = s.Stream(context.Background(), dsPath+"/Observations", nil, func(map[string]any) error {
		streamed++
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if streamed != 2 {
		t.Errorf("Expected 2 streamed observations, got %d", streamed)
	}
}

func TestService_CreateRejectsEntityPath(t *testing.T) {
	s := newTestService(t, ServiceConfig{})
	thing := create(t, s, "/Things", `{"name": "n", "description": "d"}`)

	_, err := s.Create(context.Background(), "/Things("+model.IntID(thing["@iot.id"].(int64)).URL()+")", strings.NewReader(`{}`))
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestService_UpdateDeleteAndMessages(t *testing.T) {
	s := newTestService(t, ServiceConfig{})
	bus := s.EnableInternalBus(workers.Options{Workers: 1})

	var mu sync.Mutex
	var events []string
	bus.Subscribe(func(_ context.Context, msg *model.EntityChangedMessage) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, string(msg.Event)+" "+msg.EntityTypeName())
		return nil
	})

	thing := create(t, s, "/Things", `{"name": "before", "description": "d"}`)
	path := "/Things(" + model.IntID(thing["@iot.id"].(int64)).URL() + ")"

	updated, err := s.Update(context.Background(), path, strings.NewReader(`{"name": "after"}`))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated["name"] != "after" || updated["description"] != "d" {
		t.Errorf("Expected merged entity, got %v", updated)
	}

	if err := s.Delete(context.Background(), path); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(context.Background(), path, nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []string{"CREATE Thing", "UPDATE Thing", "DELETE Thing"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("Expected events %v, got %v", want, events)
	}
}

func TestService_AdminOnlyTypes(t *testing.T) {
	s := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := s.Get(ctx, "/Users", nil); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("Expected ErrForbidden without principal, got %v", err)
	}
	user := WithPrincipal(ctx, &Principal{Name: "bob", Roles: []string{"read"}})
	if _, err := s.Get(user, "/Roles", nil); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for non-admin, got %v", err)
	}

	admin := WithPrincipal(ctx, &Principal{Name: "root", Roles: []string{core.RoleAdmin}})
	got, err := s.Get(admin, "/Users", nil)
	if err != nil {
		t.Fatalf("Get() as admin error = %v", err)
	}
	if n := len(got["value"].([]map[string]any)); n != 0 {
		t.Errorf("Expected no users, got %d", n)
	}
}

func TestService_ExpandDepthLimit(t *testing.T) {
	s := newTestService(t, ServiceConfig{MaxExpandDepth: 1})
	m := s.Model()

	q := query.New()
	q.Expand = []*query.Expand{query.NewExpand(nil, m.NpThingDatastreams, m.NpDatastreamSensor)}
	if _, err := s.Get(context.Background(), "/Things", q); !errors.Is(err, model.ErrIllegalArgument) {
		t.Errorf("Expected ErrIllegalArgument for depth 2, got %v", err)
	}

	q.Expand = []*query.Expand{query.NewExpand(nil, m.NpThingDatastreams)}
	if _, err := s.Get(context.Background(), "/Things", q); err != nil {
		t.Errorf("Expected depth 1 to pass, got %v", err)
	}
}

func TestService_EncodeMessage(t *testing.T) {
	s := newTestService(t, ServiceConfig{})
	e := model.NewEntity(s.Model().Thing).
		With(core.EpID, model.IntID(4)).
		With(core.EpName, "n")

	data, err := s.EncodeMessage(model.NewCreateMessage(e))
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	for _, want := range []string{`"event":"CREATE"`, `"entityType":"Thing"`, `"@iot.selfLink":"` + testRoot + `/Things(4)"`, `"name":"n"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %s in %s", want, data)
		}
	}
}

func TestOpen(t *testing.T) {
	settings := config.Default()
	settings.Database.DSN = "file::memory:"
	settings.Logging.Level = "error"

	s, err := Open(context.Background(), settings, "test")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = s.Close(context.Background()) }()

	if s.ServiceRoot() != settings.ServiceRoot() {
		t.Errorf("Expected service root %s, got %s", settings.ServiceRoot(), s.ServiceRoot())
	}
	create(t, s, "/Things", `{"name": "n", "description": "d"}`)
}
