package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
)

// CoreSchema maps the standard sensing data model to its tables.
func CoreSchema(d Dialect, m *core.Model) (*Schema, error) {
	return NewSchema(d, m.Registry,
		TableDef{
			Name:       "THINGS",
			EntityType: m.Thing,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToMany(m.NpThingLocations),
				ToMany(m.NpThingHistoricalLocations),
				ToMany(m.NpThingDatastreams),
				ToMany(m.NpThingMultiDatastreams),
			},
			Relations: []Relation{
				ManyToMany(m.NpThingLocations, "THINGS_LOCATIONS", "THING_ID", "LOCATION_ID"),
				OneToMany(m.NpThingHistoricalLocations, "THING_ID"),
				OneToMany(m.NpThingDatastreams, "THING_ID"),
				OneToMany(m.NpThingMultiDatastreams, "THING_ID"),
			},
			AfterInsert: historicalLocationFor(m),
		},
		TableDef{
			Name:       "LOCATIONS",
			EntityType: m.Location,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				String(core.EpEncodingType, "ENCODING_TYPE"),
				JSON(core.EpLocation, "LOCATION"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToMany(m.NpLocationThings),
				ToMany(m.NpLocationHistLocations),
			},
			Relations: []Relation{
				ManyToMany(m.NpLocationThings, "THINGS_LOCATIONS", "LOCATION_ID", "THING_ID"),
				ManyToMany(m.NpLocationHistLocations, "LOCATIONS_HIST_LOCATIONS", "LOCATION_ID", "HIST_LOCATION_ID"),
			},
		},
		TableDef{
			Name:       "HIST_LOCATIONS",
			EntityType: m.HistoricalLocation,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				TimeInstant(core.EpTime, "TIME"),
				ToOne(m.NpHistLocationThing, "THING_ID"),
				ToMany(m.NpHistLocationLocations),
			},
			Relations: []Relation{
				ManyToOne(m.NpHistLocationThing, "THING_ID"),
				ManyToMany(m.NpHistLocationLocations, "LOCATIONS_HIST_LOCATIONS", "HIST_LOCATION_ID", "LOCATION_ID"),
			},
		},
		TableDef{
			Name:       "SENSORS",
			EntityType: m.Sensor,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				String(core.EpEncodingType, "ENCODING_TYPE"),
				JSON(core.EpMetadata, "METADATA"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToMany(m.NpSensorDatastreams),
				ToMany(m.NpSensorMultiDatastreams),
			},
			Relations: []Relation{
				OneToMany(m.NpSensorDatastreams, "SENSOR_ID"),
				OneToMany(m.NpSensorMultiDatastreams, "SENSOR_ID"),
			},
		},
		TableDef{
			Name:       "OBS_PROPERTIES",
			EntityType: m.ObservedProperty,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDefinition, "DEFINITION"),
				String(core.EpDescription, "DESCRIPTION"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToMany(m.NpObsPropDatastreams),
				ToMany(m.NpObsPropMultiDatastreams),
			},
			Relations: []Relation{
				OneToMany(m.NpObsPropDatastreams, "OBS_PROPERTY_ID"),
				ManyToMany(m.NpObsPropMultiDatastreams, "MULTI_DATASTREAMS_OBS_PROPERTIES", "OBS_PROPERTY_ID", "MULTI_DATASTREAM_ID"),
			},
		},
		TableDef{
			Name:       "DATASTREAMS",
			EntityType: m.Datastream,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				String(core.EpObservationType, "OBSERVATION_TYPE"),
				JSON(core.EpUnitOfMeasurement, "UNIT_OF_MEASUREMENT"),
				JSON(core.EpObservedArea, "OBSERVED_AREA"),
				TimeInterval(core.EpPhenomenonTimeDs, "PHENOMENON_TIME_START", "PHENOMENON_TIME_END"),
				TimeInterval(core.EpResultTimeDs, "RESULT_TIME_START", "RESULT_TIME_END"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToOne(m.NpDatastreamThing, "THING_ID"),
				ToOne(m.NpDatastreamSensor, "SENSOR_ID"),
				ToOne(m.NpDatastreamObsProp, "OBS_PROPERTY_ID"),
				ToMany(m.NpDatastreamObservations),
			},
			Relations: []Relation{
				ManyToOne(m.NpDatastreamThing, "THING_ID"),
				ManyToOne(m.NpDatastreamSensor, "SENSOR_ID"),
				ManyToOne(m.NpDatastreamObsProp, "OBS_PROPERTY_ID"),
				OneToMany(m.NpDatastreamObservations, "DATASTREAM_ID"),
			},
		},
		TableDef{
			Name:       "MULTI_DATASTREAMS",
			EntityType: m.MultiDatastream,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				String(core.EpObservationType, "OBSERVATION_TYPE"),
				JSON(core.EpMultiObservationDataTypes, "MULTI_OBSERVATION_DATATYPES"),
				JSON(core.EpUnitOfMeasurements, "UNIT_OF_MEASUREMENTS"),
				JSON(core.EpObservedArea, "OBSERVED_AREA"),
				TimeInterval(core.EpPhenomenonTimeDs, "PHENOMENON_TIME_START", "PHENOMENON_TIME_END"),
				TimeInterval(core.EpResultTimeDs, "RESULT_TIME_START", "RESULT_TIME_END"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToOne(m.NpMultiDatastreamThing, "THING_ID"),
				ToOne(m.NpMultiDatastreamSensor, "SENSOR_ID"),
				ToMany(m.NpMultiDatastreamObsProps),
				ToMany(m.NpMultiDatastreamObservations),
			},
			Relations: []Relation{
				ManyToOne(m.NpMultiDatastreamThing, "THING_ID"),
				ManyToOne(m.NpMultiDatastreamSensor, "SENSOR_ID"),
				ManyToMany(m.NpMultiDatastreamObsProps, "MULTI_DATASTREAMS_OBS_PROPERTIES", "MULTI_DATASTREAM_ID", "OBS_PROPERTY_ID"),
				OneToMany(m.NpMultiDatastreamObservations, "MULTI_DATASTREAM_ID"),
			},
		},
		TableDef{
			Name:       "FEATURES",
			EntityType: m.FeatureOfInterest,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				String(core.EpName, "NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				String(core.EpEncodingType, "ENCODING_TYPE"),
				JSON(core.EpFeature, "FEATURE"),
				JSON(core.EpProperties, "PROPERTIES"),
				ToMany(m.NpFeatureObservations),
			},
			Relations: []Relation{
				OneToMany(m.NpFeatureObservations, "FEATURE_ID"),
			},
		},
		TableDef{
			Name:       "OBSERVATIONS",
			EntityType: m.Observation,
			Bindings: []Binding{
				ID(core.EpID, "ID"),
				TimeValue(core.EpPhenomenonTime, "PHENOMENON_TIME_START", "PHENOMENON_TIME_END"),
				TimeInstant(core.EpResultTime, "RESULT_TIME"),
				Result(core.EpResult, "RESULT_TYPE", "RESULT_NUMBER", "RESULT_STRING", "RESULT_BOOLEAN", "RESULT_JSON"),
				JSON(core.EpResultQuality, "RESULT_QUALITY"),
				TimeInterval(core.EpValidTime, "VALID_TIME_START", "VALID_TIME_END"),
				JSON(core.EpParameters, "PARAMETERS"),
				ToOne(m.NpObservationDatastream, "DATASTREAM_ID"),
				ToOne(m.NpObservationMultiDatastream, "MULTI_DATASTREAM_ID"),
				ToOne(m.NpObservationFeature, "FEATURE_ID"),
			},
			Relations: []Relation{
				ManyToOne(m.NpObservationDatastream, "DATASTREAM_ID"),
				ManyToOne(m.NpObservationMultiDatastream, "MULTI_DATASTREAM_ID"),
				ManyToOne(m.NpObservationFeature, "FEATURE_ID"),
			},
			AfterInsert: extendDatastreamTimes(m),
		},
		TableDef{
			Name:       "USERS",
			EntityType: m.User,
			Bindings: []Binding{
				String(core.EpUsername, "USER_NAME"),
				Password(core.EpUserPass, "USER_PASS"),
				ToMany(m.NpUserRoles),
			},
			Relations: []Relation{
				ManyToMany(m.NpUserRoles, "USER_ROLES", "USER_NAME", "ROLE_NAME"),
			},
		},
		TableDef{
			Name:       "ROLES",
			EntityType: m.Role,
			Bindings: []Binding{
				String(core.EpRolename, "ROLE_NAME"),
				String(core.EpDescription, "DESCRIPTION"),
				ToMany(m.NpRoleUsers),
			},
			Relations: []Relation{
				ManyToMany(m.NpRoleUsers, "USER_ROLES", "ROLE_NAME", "USER_NAME"),
			},
		},
	)
}

// historicalLocationFor records a HistoricalLocation when a Thing is
// created together with its Locations.
func historicalLocationFor(m *core.Model) AfterInsertFunc {
	return func(ctx context.Context, s *Session, thing *model.Entity) error {
		locations := thing.EntitySet(m.NpThingLocations)
		if locations.Len() == 0 {
			return nil
		}
		hl := model.NewEntity(m.HistoricalLocation).
			With(core.EpTime, model.Now()).
			With(m.NpHistLocationThing, thing)
		set := model.NewEntitySet(m.Location)
		for _, l := range locations.All() {
			if err := set.Add(l); err != nil {
				return err
			}
		}
		hl.With(m.NpHistLocationLocations, set)
		if err := s.Insert(ctx, hl); err != nil {
			return fmt.Errorf("failed to create historical location: %w", err)
		}
		return nil
	}
}

// extendDatastreamTimes widens the phenomenon and result time of the
// Datastream or MultiDatastream of a new Observation to include it.
func extendDatastreamTimes(m *core.Model) AfterInsertFunc {
	return func(ctx context.Context, s *Session, obs *model.Entity) error {
		table := "DATASTREAMS"
		parent := obs.Entity(m.NpObservationDatastream)
		if parent == nil {
			table = "MULTI_DATASTREAMS"
			parent = obs.Entity(m.NpObservationMultiDatastream)
		}
		if parent == nil {
			return nil
		}
		d := s.tx.dialect
		var sets []string
		var args []any
		widen := func(col string, op string, t any) {
			c := d.Quote(col)
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s IS NULL OR %s %s ? THEN ? ELSE %s END", c, c, c, op, c))
			args = append(args, t, t)
		}
		if tv, ok := obs.Value(core.EpPhenomenonTime).(model.TimeValue); ok {
			widen("PHENOMENON_TIME_START", ">", d.TimeArg(tv.Start()))
			widen("PHENOMENON_TIME_END", "<", d.TimeArg(tv.End()))
		}
		if tv, ok := obs.Value(core.EpResultTime).(model.TimeValue); ok {
			widen("RESULT_TIME_START", ">", d.TimeArg(tv.Start()))
			widen("RESULT_TIME_END", "<", d.TimeArg(tv.End()))
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, rawKeyValue(parent.PrimaryKeyValues().Get(0)))
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.Quote(table), strings.Join(sets, ", "), d.Quote("ID"))
		_, err := s.tx.exec(ctx, stmt, args...)
		return err
	}
}
