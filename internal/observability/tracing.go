package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrEntitySet   = attribute.Key("sensorthings.entity_set")
	AttrEntityKey   = attribute.Key("sensorthings.entity_key")
	AttrOperation   = attribute.Key("sensorthings.operation")
	AttrQuery       = attribute.Key("sensorthings.query")
	AttrResultCount = attribute.Key("sensorthings.result_count")
	AttrStatementID = attribute.Key("db.statement.fingerprint")
	AttrDBSystem    = attribute.Key("db.system")
)

// Tracer starts the spans of service operations.
type Tracer struct {
	tracer  trace.Tracer
	service string
}

func newTracer(t trace.Tracer, service string) *Tracer {
	return &Tracer{tracer: t, service: service}
}

func (t *Tracer) start(ctx context.Context, operation, entitySet string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("service.name", t.service),
		AttrOperation.String(operation),
		AttrEntitySet.String(entitySet),
	)
	return t.tracer.Start(ctx, "sensorthings."+operation, trace.WithAttributes(attrs...))
}

// StartEntityRead starts the span of a single entity read.
func (t *Tracer) StartEntityRead(ctx context.Context, entitySet, path string) (context.Context, trace.Span) {
	return t.start(ctx, "read", entitySet, AttrEntityKey.String(path))
}

// StartCollectionRead starts the span of a collection read.
func (t *Tracer) StartCollectionRead(ctx context.Context, entitySet, query string) (context.Context, trace.Span) {
	return t.start(ctx, "read_collection", entitySet, AttrQuery.String(query))
}

// StartEntityCreate starts the span of an insert.
func (t *Tracer) StartEntityCreate(ctx context.Context, entitySet string) (context.Context, trace.Span) {
	return t.start(ctx, "create", entitySet)
}

// StartEntityUpdate starts the span of an update.
func (t *Tracer) StartEntityUpdate(ctx context.Context, entitySet, path string) (context.Context, trace.Span) {
	return t.start(ctx, "update", entitySet, AttrEntityKey.String(path))
}

// StartEntityDelete starts the span of a delete.
func (t *Tracer) StartEntityDelete(ctx context.Context, entitySet, path string) (context.Context, trace.Span) {
	return t.start(ctx, "delete", entitySet, AttrEntityKey.String(path))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
