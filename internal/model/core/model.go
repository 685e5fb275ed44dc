package core

import (
	"fmt"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// Model is one instance of the sensing data model. Navigation properties
// belong to exactly one entity type, so each Model owns its own set.
type Model struct {
	Registry *model.Registry

	Thing              *model.EntityType
	Location           *model.EntityType
	HistoricalLocation *model.EntityType
	Sensor             *model.EntityType
	ObservedProperty   *model.EntityType
	Datastream         *model.EntityType
	MultiDatastream    *model.EntityType
	Observation        *model.EntityType
	FeatureOfInterest  *model.EntityType
	User               *model.EntityType
	Role               *model.EntityType

	NpThingLocations              *model.NavigationPropertyMain
	NpThingHistoricalLocations    *model.NavigationPropertyMain
	NpThingDatastreams            *model.NavigationPropertyMain
	NpThingMultiDatastreams       *model.NavigationPropertyMain
	NpLocationThings              *model.NavigationPropertyMain
	NpLocationHistLocations       *model.NavigationPropertyMain
	NpHistLocationThing           *model.NavigationPropertyMain
	NpHistLocationLocations       *model.NavigationPropertyMain
	NpSensorDatastreams           *model.NavigationPropertyMain
	NpSensorMultiDatastreams      *model.NavigationPropertyMain
	NpObsPropDatastreams          *model.NavigationPropertyMain
	NpObsPropMultiDatastreams     *model.NavigationPropertyMain
	NpDatastreamThing             *model.NavigationPropertyMain
	NpDatastreamSensor            *model.NavigationPropertyMain
	NpDatastreamObsProp           *model.NavigationPropertyMain
	NpDatastreamObservations      *model.NavigationPropertyMain
	NpMultiDatastreamThing        *model.NavigationPropertyMain
	NpMultiDatastreamSensor       *model.NavigationPropertyMain
	NpMultiDatastreamObsProps     *model.NavigationPropertyMain
	NpMultiDatastreamObservations *model.NavigationPropertyMain
	NpObservationDatastream       *model.NavigationPropertyMain
	NpObservationMultiDatastream  *model.NavigationPropertyMain
	NpObservationFeature          *model.NavigationPropertyMain
	NpFeatureObservations         *model.NavigationPropertyMain
	NpUserRoles                   *model.NavigationPropertyMain
	NpRoleUsers                   *model.NavigationPropertyMain
}

// Option adjusts a model before its registry is frozen.
type Option func(m *Model) error

// WithValidator appends v to the validator chain of the named entity type.
func WithValidator(entityType string, v model.EntityValidator) Option {
	return func(m *Model) error {
		t, err := m.Registry.EntityTypeByName(entityType)
		if err != nil {
			return err
		}
		t.AddValidator(v)
		return nil
	}
}

// WithPropertiesSchema validates the properties object of the named entity
// type against a JSON schema.
func WithPropertiesSchema(entityType, schema string) Option {
	return func(m *Model) error {
		v, err := model.JSONSchema(EpProperties, schema)
		if err != nil {
			return err
		}
		return WithValidator(entityType, v)(m)
	}
}

// NewModel builds and freezes the model. Generated identifiers use kind.
func NewModel(kind model.IDKind, opts ...Option) (*Model, error) {
	m := &Model{
		NpThingLocations:              model.NewNavigationPropertyEntitySet("Locations", "Location").WithInverse("Things"),
		NpThingHistoricalLocations:    model.NewNavigationPropertyEntitySet("HistoricalLocations", "HistoricalLocation").WithInverse("Thing"),
		NpThingDatastreams:            model.NewNavigationPropertyEntitySet("Datastreams", "Datastream").WithInverse("Thing"),
		NpThingMultiDatastreams:       model.NewNavigationPropertyEntitySet("MultiDatastreams", "MultiDatastream").WithInverse("Thing"),
		NpLocationThings:              model.NewNavigationPropertyEntitySet("Things", "Thing"),
		NpLocationHistLocations:       model.NewNavigationPropertyEntitySet("HistoricalLocations", "HistoricalLocation").WithInverse("Locations"),
		NpHistLocationThing:           model.NewNavigationPropertyEntity("Thing", "Thing"),
		NpHistLocationLocations:       model.NewNavigationPropertyEntitySet("Locations", "Location"),
		NpSensorDatastreams:           model.NewNavigationPropertyEntitySet("Datastreams", "Datastream").WithInverse("Sensor"),
		NpSensorMultiDatastreams:      model.NewNavigationPropertyEntitySet("MultiDatastreams", "MultiDatastream").WithInverse("Sensor"),
		NpObsPropDatastreams:          model.NewNavigationPropertyEntitySet("Datastreams", "Datastream").WithInverse("ObservedProperty"),
		NpObsPropMultiDatastreams:     model.NewNavigationPropertyEntitySet("MultiDatastreams", "MultiDatastream").WithInverse("ObservedProperties"),
		NpDatastreamThing:             model.NewNavigationPropertyEntity("Thing", "Thing"),
		NpDatastreamSensor:            model.NewNavigationPropertyEntity("Sensor", "Sensor"),
		NpDatastreamObsProp:           model.NewNavigationPropertyEntity("ObservedProperty", "ObservedProperty"),
		NpDatastreamObservations:      model.NewNavigationPropertyEntitySet("Observations", "Observation").WithInverse("Datastream"),
		NpMultiDatastreamThing:        model.NewNavigationPropertyEntity("Thing", "Thing"),
		NpMultiDatastreamSensor:       model.NewNavigationPropertyEntity("Sensor", "Sensor"),
		NpMultiDatastreamObsProps:     model.NewNavigationPropertyEntitySet("ObservedProperties", "ObservedProperty"),
		NpMultiDatastreamObservations: model.NewNavigationPropertyEntitySet("Observations", "Observation").WithInverse("MultiDatastream"),
		NpObservationDatastream:       model.NewNavigationPropertyEntity("Datastream", "Datastream"),
		NpObservationMultiDatastream:  model.NewNavigationPropertyEntity("MultiDatastream", "MultiDatastream"),
		NpObservationFeature:          model.NewNavigationPropertyEntity("FeatureOfInterest", "FeatureOfInterest"),
		NpFeatureObservations:         model.NewNavigationPropertyEntitySet("Observations", "Observation").WithInverse("FeatureOfInterest"),
		NpUserRoles:                   model.NewNavigationPropertyEntitySet("Roles", "Role").WithInverse("Users"),
		NpRoleUsers:                   model.NewNavigationPropertyEntitySet("Users", "User"),
	}

	m.Thing = model.NewEntityType("Thing", "Things").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpThingLocations, false).
		AddNavigationProperty(m.NpThingHistoricalLocations, false).
		AddNavigationProperty(m.NpThingDatastreams, false).
		AddNavigationProperty(m.NpThingMultiDatastreams, false).
		SetPrimaryKey(EpID)

	m.Location = model.NewEntityType("Location", "Locations").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpEncodingType, true).
		AddEntityProperty(EpLocation, true).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpLocationThings, false).
		AddNavigationProperty(m.NpLocationHistLocations, false).
		SetPrimaryKey(EpID)

	m.HistoricalLocation = model.NewEntityType("HistoricalLocation", "HistoricalLocations").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpTime, true).
		AddNavigationProperty(m.NpHistLocationThing, true).
		AddNavigationProperty(m.NpHistLocationLocations, false).
		SetPrimaryKey(EpID)

	m.Sensor = model.NewEntityType("Sensor", "Sensors").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpEncodingType, true).
		AddEntityProperty(EpMetadata, true).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpSensorDatastreams, false).
		AddNavigationProperty(m.NpSensorMultiDatastreams, false).
		SetPrimaryKey(EpID)

	m.ObservedProperty = model.NewEntityType("ObservedProperty", "ObservedProperties").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDefinition, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpObsPropDatastreams, false).
		AddNavigationProperty(m.NpObsPropMultiDatastreams, false).
		SetPrimaryKey(EpID)

	m.Datastream = model.NewEntityType("Datastream", "Datastreams").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpObservationType, true).
		AddEntityProperty(EpUnitOfMeasurement, true).
		AddEntityProperty(EpObservedArea, false).
		AddEntityProperty(EpPhenomenonTimeDs, false).
		AddEntityProperty(EpResultTimeDs, false).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpDatastreamThing, true).
		AddNavigationProperty(m.NpDatastreamSensor, true).
		AddNavigationProperty(m.NpDatastreamObsProp, true).
		AddNavigationProperty(m.NpDatastreamObservations, false).
		SetPrimaryKey(EpID)

	m.MultiDatastream = model.NewEntityType("MultiDatastream", "MultiDatastreams").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpObservationType, false).
		AddEntityProperty(EpMultiObservationDataTypes, true).
		AddEntityProperty(EpUnitOfMeasurements, true).
		AddEntityProperty(EpObservedArea, false).
		AddEntityProperty(EpPhenomenonTimeDs, false).
		AddEntityProperty(EpResultTimeDs, false).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpMultiDatastreamThing, true).
		AddNavigationProperty(m.NpMultiDatastreamSensor, true).
		AddNavigationProperty(m.NpMultiDatastreamObsProps, true).
		AddNavigationProperty(m.NpMultiDatastreamObservations, false).
		SetPrimaryKey(EpID).
		AddValidator(multiDatastreamValidator{})

	m.Observation = model.NewEntityType("Observation", "Observations").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpPhenomenonTime, false).
		AddEntityProperty(EpResultTime, false).
		AddEntityProperty(EpResult, true).
		AddEntityProperty(EpResultQuality, false).
		AddEntityProperty(EpValidTime, false).
		AddEntityProperty(EpParameters, false).
		AddNavigationProperty(m.NpObservationDatastream, false).
		AddNavigationProperty(m.NpObservationMultiDatastream, false).
		AddNavigationProperty(m.NpObservationFeature, false).
		SetPrimaryKey(EpID).
		AddValidator(model.FillNow(EpPhenomenonTime)).
		AddValidator(model.ExactlyOneOf(m.NpObservationDatastream, m.NpObservationMultiDatastream))

	m.FeatureOfInterest = model.NewEntityType("FeatureOfInterest", "FeaturesOfInterest").
		AddEntityProperty(EpID, false).
		AddEntityProperty(EpName, true).
		AddEntityProperty(EpDescription, true).
		AddEntityProperty(EpEncodingType, true).
		AddEntityProperty(EpFeature, true).
		AddEntityProperty(EpProperties, false).
		AddNavigationProperty(m.NpFeatureObservations, false).
		SetPrimaryKey(EpID)

	m.User = model.NewEntityType("User", "Users").
		AddEntityProperty(EpUsername, true).
		AddEntityProperty(EpUserPass, false).
		AddNavigationProperty(m.NpUserRoles, false).
		SetPrimaryKey(EpUsername).
		SetAdminOnly(true)

	m.Role = model.NewEntityType("Role", "Roles").
		AddEntityProperty(EpRolename, true).
		AddEntityProperty(EpDescription, false).
		AddNavigationProperty(m.NpRoleUsers, false).
		SetPrimaryKey(EpRolename).
		SetAdminOnly(true)

	m.Registry = model.NewRegistry(kind).MustRegister(
		m.Thing, m.Location, m.HistoricalLocation, m.Sensor, m.ObservedProperty,
		m.Datastream, m.MultiDatastream, m.Observation, m.FeatureOfInterest,
		m.User, m.Role,
	)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply model option: %w", err)
		}
	}
	if err := m.Registry.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize model: %w", err)
	}
	return m, nil
}

// multiDatastreamValidator fixes the observation type and checks that every
// observation data type has a unit.
type multiDatastreamValidator struct{}

func (multiDatastreamValidator) ValidateCreate(e *model.Entity) error {
	if err := e.Set(EpObservationType, ObservationTypeComplex); err != nil {
		return err
	}
	return checkUnitCount(e)
}

func (multiDatastreamValidator) ValidateUpdate(e *model.Entity) error {
	if e.IsSet(EpObservationType) {
		if v := e.Value(EpObservationType); v != nil && v != ObservationTypeComplex {
			return model.InvalidStateError(e.EntityType(), "observationType of a MultiDatastream must be "+ObservationTypeComplex)
		}
	}
	if e.IsSet(EpUnitOfMeasurements) != e.IsSet(EpMultiObservationDataTypes) {
		return model.InvalidStateError(e.EntityType(), "unitOfMeasurements and multiObservationDataTypes must be updated together")
	}
	return checkUnitCount(e)
}

func checkUnitCount(e *model.Entity) error {
	units, _ := e.Value(EpUnitOfMeasurements).([]model.UnitOfMeasurement)
	types, _ := e.Value(EpMultiObservationDataTypes).([]string)
	if len(units) != len(types) {
		return model.InvalidStateError(e.EntityType(), fmt.Sprintf("%d unitOfMeasurements for %d multiObservationDataTypes", len(units), len(types)))
	}
	return nil
}
