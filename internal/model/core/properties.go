// Package core defines the standard sensing data model: Things with their
// Locations, Datastreams of Observations made by Sensors of
// ObservedProperties, and the admin-only User and Role types.
package core

import "github.com/nlstn/go-sensorthings/internal/model"

// Entity property descriptors. They carry no per-registry state and are
// shared by all entity types and all models.
var (
	EpID                        = model.NewEntityProperty("id", model.TypeID, model.WithJSONName("@iot.id"), model.WithAliases("ID"))
	EpName                      = model.NewEntityProperty("name", model.TypeString)
	EpDescription               = model.NewEntityProperty("description", model.TypeString)
	EpDefinition                = model.NewEntityProperty("definition", model.TypeString)
	EpEncodingType              = model.NewEntityProperty("encodingType", model.TypeString)
	EpMetadata                  = model.NewEntityProperty("metadata", model.TypeAny)
	EpProperties                = model.NewEntityProperty("properties", model.TypeObject)
	EpLocation                  = model.NewEntityProperty("location", model.TypeGeoJSON)
	EpFeature                   = model.NewEntityProperty("feature", model.TypeGeoJSON)
	EpObservedArea              = model.NewEntityProperty("observedArea", model.TypeGeoJSON, model.ReadOnly())
	EpObservationType           = model.NewEntityProperty("observationType", model.TypeString)
	EpMultiObservationDataTypes = model.NewEntityProperty("multiObservationDataTypes", model.TypeStringList)
	EpUnitOfMeasurement         = model.NewEntityProperty("unitOfMeasurement", model.TypeUnitOfMeasurement)
	EpUnitOfMeasurements        = model.NewEntityProperty("unitOfMeasurements", model.TypeUnitOfMeasurementList)
	EpTime                      = model.NewEntityProperty("time", model.TypeTimeInstant)

	// Datastreams aggregate the times of their observations as intervals.
	EpPhenomenonTimeDs = model.NewEntityProperty("phenomenonTime", model.TypeTimeInterval, model.ReadOnly())
	EpResultTimeDs     = model.NewEntityProperty("resultTime", model.TypeTimeInterval, model.ReadOnly())

	EpPhenomenonTime = model.NewEntityProperty("phenomenonTime", model.TypeTimeValue)
	EpResultTime     = model.NewEntityProperty("resultTime", model.TypeTimeInstant)
	EpValidTime      = model.NewEntityProperty("validTime", model.TypeTimeInterval)
	EpResult         = model.NewEntityProperty("result", model.TypeAny)
	EpResultQuality  = model.NewEntityProperty("resultQuality", model.TypeAny)
	EpParameters     = model.NewEntityProperty("parameters", model.TypeObject)

	EpUsername = model.NewEntityProperty("username", model.TypeString)
	EpUserPass = model.NewEntityProperty("userPass", model.TypePassword, model.WriteOnly())
	EpRolename = model.NewEntityProperty("rolename", model.TypeString)
)

// Observation types.
const (
	ObservationTypeMeasurement = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Measurement"
	ObservationTypeComplex     = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_ComplexObservation"
)

// RoleAdmin is the role allowed to see admin-only entity types.
const RoleAdmin = "admin"
