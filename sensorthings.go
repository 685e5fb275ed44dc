// Package sensorthings implements the core of an OGC SensorThings API
// service on a relational database.
//
// A Service binds the sensing data model (Things, Locations, Datastreams,
// Observations and their relations) to tables, compiles resource paths and
// query options into SQL, renders results with self and navigation links,
// and publishes a change message for every committed create, update or
// delete.
//
// # Example
//
//	db, _ := gorm.Open(sqlite.Open("file:sta.db"), &gorm.Config{})
//	service, err := sensorthings.NewService(db, sensorthings.ServiceConfig{
//	    ServiceRoot: "http://localhost:8080/v1.1",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	thing, err := service.Create(ctx, "/Things", strings.NewReader(`{"name": "n", "description": "d"}`))
//
// Routing HTTP requests and parsing $filter or $orderby text are left to the
// surrounding server, which hands parsed query.Query values to Get.
package sensorthings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nlstn/go-sensorthings/internal/deserialize"
	"github.com/nlstn/go-sensorthings/internal/messagebus"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/model/core"
	"github.com/nlstn/go-sensorthings/internal/observability"
	"github.com/nlstn/go-sensorthings/internal/query"
	"github.com/nlstn/go-sensorthings/internal/sqlstore"
	"github.com/nlstn/go-sensorthings/internal/visibility"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// DefaultTop is the page size when neither $top nor ServiceConfig.DefaultTop is set.
	DefaultTop = 100

	// DefaultMaxExpandDepth bounds the nesting of $expand.
	DefaultMaxExpandDepth = 10
)

// ServiceConfig controls optional service behaviours.
type ServiceConfig struct {
	// ServiceRoot is the absolute versioned root URL, such as
	// http://localhost:8080/v1.1. Self links and next links start with it.
	ServiceRoot string

	// DefaultTop is the page size used when a query sets no $top.
	DefaultTop int

	// MaxTop clamps $top. 0 disables the clamp.
	MaxTop int

	// DefaultCount is used when a query does not set $count.
	DefaultCount bool

	// MaxExpandDepth limits the nesting of $expand. If set to 0 or left
	// unset, DefaultMaxExpandDepth is used.
	MaxExpandDepth int

	// MaxDataSize limits the string and JSON bytes of one collection page.
	// Reading stops after the entity crossing it and a next link points at
	// the rest. 0 disables the limit.
	MaxDataSize int64

	// CustomLinks turns name.Type@iot.id members of properties objects into
	// navigation links.
	CustomLinks     bool
	CustomLinkDepth int

	// RelativeNavigationLinks renders navigation links relative to the
	// request path.
	RelativeNavigationLinks bool

	// StrictDeserialization rejects unknown members in request bodies.
	StrictDeserialization bool

	// IDKind selects integer, string or UUID identifiers.
	IDKind model.IDKind

	// ModelOptions adjust the data model, for example with extra
	// validators.
	ModelOptions []core.Option
}

// Service reads and writes SensorThings entities.
type Service struct {
	db       *gorm.DB
	model    *core.Model
	schema   *sqlstore.Schema
	store    *sqlstore.Store
	decoder  *deserialize.Decoder
	renderer *visibility.Renderer
	cfg      ServiceConfig

	// logger is used for structured logging throughout the service
	logger *slog.Logger
	// observability holds tracing and metrics, nil until SetObservability
	observability *observability.Config

	busMu sync.RWMutex
	bus   messagebus.Bus
	// closeDB is set when the service opened the connection itself
	closeDB func() error
}

// NewService creates a service on db with the standard data model. The
// tables must exist; see Open for a service that migrates them.
func NewService(db *gorm.DB, cfg ServiceConfig) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("sensorthings: database handle is required")
	}
	if cfg.DefaultTop <= 0 {
		cfg.DefaultTop = DefaultTop
	}
	if cfg.MaxExpandDepth <= 0 {
		cfg.MaxExpandDepth = DefaultMaxExpandDepth
	}

	dialect, err := sqlstore.DialectFor(db)
	if err != nil {
		return nil, err
	}
	m, err := core.NewModel(cfg.IDKind, cfg.ModelOptions...)
	if err != nil {
		return nil, err
	}
	schema, err := sqlstore.CoreSchema(dialect, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build table schema: %w", err)
	}

	s := &Service{
		db:     db,
		model:  m,
		schema: schema,
		store: sqlstore.NewStore(db, schema, sqlstore.Settings{
			ServiceRoot:  cfg.ServiceRoot,
			DefaultTop:   cfg.DefaultTop,
			MaxTop:       cfg.MaxTop,
			DefaultCount: cfg.DefaultCount,
			MaxDataSize:  cfg.MaxDataSize,
		}),
		decoder: deserialize.NewDecoder(m.Registry, cfg.StrictDeserialization),
		renderer: visibility.NewRenderer(visibility.NewLinker(m.Registry, visibility.LinkSettings{
			ServiceRoot:             cfg.ServiceRoot,
			RelativeNavigationLinks: cfg.RelativeNavigationLinks,
			CustomLinks:             cfg.CustomLinks,
			CustomLinkDepth:         cfg.CustomLinkDepth,
		})),
		cfg:    cfg,
		logger: slog.Default(),
	}
	s.store.OnCommit(s.publish)
	return s, nil
}

// SetLogger sets a custom logger for the service.
// If logger is nil, slog.Default() is used.
func (s *Service) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
	s.store.SetLogger(logger)
	return nil
}

// ObservabilityConfig configures tracing and metrics for the service. All
// providers are optional; when nil, the corresponding feature is disabled.
type ObservabilityConfig struct {
	// TracerProvider provides the OpenTelemetry tracer.
	TracerProvider trace.TracerProvider

	// MeterProvider provides the OpenTelemetry meter.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in telemetry data.
	// Defaults to "sensorthings" if not specified.
	ServiceName string

	// ServiceVersion is reported in telemetry attributes.
	ServiceVersion string

	// EnableDetailedDBTracing creates one span per SQL statement.
	EnableDetailedDBTracing bool

	// EnableServerTiming records statement and operation timings in the
	// servertiming header of the request context, if present.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the
// service.
func (s *Service) SetObservability(cfg ObservabilityConfig) error {
	opts := []observability.Option{observability.WithLogger(s.logger)}
	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableDetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}

	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	s.observability = obsCfg
	s.store.SetObserver(obsCfg)

	s.logger.Info("Observability configured",
		"tracing_enabled", cfg.TracerProvider != nil,
		"metrics_enabled", cfg.MeterProvider != nil,
	)
	return nil
}

// Observability returns the current observability configuration, or nil.
func (s *Service) Observability() *observability.Config { return s.observability }

// SetMessageBus sets the bus change messages are published to after
// commit. A nil bus disables publishing.
func (s *Service) SetMessageBus(bus messagebus.Bus) {
	s.busMu.Lock()
	s.bus = bus
	s.busMu.Unlock()
}

// Model returns the data model of the service.
func (s *Service) Model() *core.Model { return s.model }

// Registry returns the entity type registry of the service.
func (s *Service) Registry() *model.Registry { return s.model.Registry }

// Store returns the persistence layer.
func (s *Service) Store() *sqlstore.Store { return s.store }

// ServiceRoot returns the absolute root URL.
func (s *Service) ServiceRoot() string { return s.cfg.ServiceRoot }

// publish hands committed change messages to the bus. Messages about
// admin-only entities are not published.
func (s *Service) publish(ctx context.Context, events []*model.EntityChangedMessage) {
	s.busMu.RLock()
	bus := s.bus
	s.busMu.RUnlock()
	if bus == nil {
		return
	}

	out := make([]*model.EntityChangedMessage, 0, len(events))
	for _, msg := range events {
		if msg.Entity != nil && msg.Entity.EntityType().IsAdminOnly() {
			continue
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		return
	}
	if err := bus.Publish(ctx, out); err != nil {
		s.logger.Warn("Failed to publish change messages", "count", len(out), "error", err)
	}
}

// EncodeMessage renders msg with its entity as a JSON message body.
func (s *Service) EncodeMessage(msg *model.EntityChangedMessage) ([]byte, error) {
	var entity map[string]any
	if msg.Entity != nil {
		v := visibility.New(msg.Entity.EntityType(), query.New())
		entity = s.renderer.Entity(msg.Entity, v, "")
	}
	return json.Marshal(messagebus.NewPayload(msg, entity))
}

// Close stops the message bus, delivering queued messages until ctx ends,
// and closes the database if the service opened it.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var errs []error

	s.busMu.Lock()
	bus := s.bus
	s.bus = nil
	s.busMu.Unlock()
	if bus != nil {
		if err := bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing message bus: %w", err))
		}
	}
	if s.closeDB != nil {
		if err := s.closeDB(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		s.closeDB = nil
	}
	return errors.Join(errs...)
}
