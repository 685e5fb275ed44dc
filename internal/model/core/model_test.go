package core

import (
	"errors"
	"testing"

	"github.com/nlstn/go-sensorthings/internal/model"
)

func TestNewModel(t *testing.T) {
	m, err := NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if len(m.Registry.EntityTypes()) != 11 {
		t.Errorf("Expected 11 entity types, got %d", len(m.Registry.EntityTypes()))
	}
	if et, err := m.Registry.EntityTypeByPlural("FeaturesOfInterest"); err != nil || et != m.FeatureOfInterest {
		t.Errorf("Expected FeaturesOfInterest to resolve, got %v (%v)", et, err)
	}
	if m.NpThingLocations.Inverse() != m.NpLocationThings {
		t.Error("Expected Thing.Locations and Location.Things to be inverses")
	}
	if m.NpMultiDatastreamObsProps.Inverse() != m.NpObsPropMultiDatastreams {
		t.Error("Expected MultiDatastream.ObservedProperties inverse to be resolved")
	}
	if !m.User.IsAdminOnly() || m.Thing.IsAdminOnly() {
		t.Error("Expected only User and Role to be admin-only")
	}
}

func TestNewModel_Independent(t *testing.T) {
	a, err := NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	b, err := NewModel(model.IDKindUUID)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if a.NpDatastreamThing == b.NpDatastreamThing {
		t.Error("Expected models to own separate navigation properties")
	}
	if b.Registry.IDKind() != model.IDKindUUID {
		t.Errorf("Expected UUID ids, got %s", b.Registry.IDKind())
	}
}

func TestObservation_DatastreamExclusivity(t *testing.T) {
	m, err := NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	ds := model.NewEntity(m.Datastream).With(EpID, model.IntID(1))
	mds := model.NewEntity(m.MultiDatastream).With(EpID, model.IntID(1))

	tests := []struct {
		name    string
		ds, mds *model.Entity
		wantErr error
	}{
		{"both", ds, mds, model.ErrInvalidState},
		{"neither", nil, nil, model.ErrInvalidState},
		{"datastream", ds, nil, nil},
		{"multidatastream", nil, mds, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := model.NewEntity(m.Observation).With(EpResult, 21.5)
			if tt.ds != nil {
				obs.With(m.NpObservationDatastream, tt.ds)
			}
			if tt.mds != nil {
				obs.With(m.NpObservationMultiDatastream, tt.mds)
			}
			err := obs.ValidateCreate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMultiDatastream_UnitCount(t *testing.T) {
	m, err := NewModel(model.IDKindInteger)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	md := model.NewEntity(m.MultiDatastream).
		With(EpName, "wind").
		With(EpDescription, "speed and direction").
		With(EpMultiObservationDataTypes, []string{ObservationTypeMeasurement, ObservationTypeMeasurement}).
		With(EpUnitOfMeasurements, []model.UnitOfMeasurement{{Name: "m/s"}}).
		With(m.NpMultiDatastreamThing, model.NewEntity(m.Thing).With(EpID, model.IntID(1))).
		With(m.NpMultiDatastreamSensor, model.NewEntity(m.Sensor).With(EpID, model.IntID(1))).
		With(m.NpMultiDatastreamObsProps, model.NewEntitySet(m.ObservedProperty))

	if err := md.ValidateCreate(); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}
	md.With(EpUnitOfMeasurements, []model.UnitOfMeasurement{{Name: "m/s"}, {Name: "deg"}})
	if err := md.ValidateCreate(); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if md.Value(EpObservationType) != ObservationTypeComplex {
		t.Errorf("Expected complex observation type, got %v", md.Value(EpObservationType))
	}
}

func TestWithPropertiesSchema(t *testing.T) {
	schema := `{"type":"object","required":["owner"],"properties":{"owner":{"type":"string"}}}`
	m, err := NewModel(model.IDKindInteger, WithPropertiesSchema("Thing", schema))
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	thing := model.NewEntity(m.Thing).
		With(EpName, "n").
		With(EpDescription, "d").
		With(EpProperties, model.Properties{"color": "red"})
	if err := thing.ValidateCreate(); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected schema violation, got %v", err)
	}
	thing.With(EpProperties, model.Properties{"owner": "alice"})
	if err := thing.ValidateCreate(); err != nil {
		t.Errorf("Expected valid properties, got %v", err)
	}

	if _, err := NewModel(model.IDKindInteger, WithPropertiesSchema("Nope", schema)); err == nil {
		t.Error("Expected unknown entity type to fail")
	}
}
