package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments of the service.
type Metrics struct {
	operations        metric.Int64Counter
	operationErrors   metric.Int64Counter
	operationDuration metric.Float64Histogram
	statements        metric.Int64Counter
	statementErrors   metric.Int64Counter
	statementDuration metric.Float64Histogram
}

func newMetrics(m metric.Meter) (*Metrics, error) {
	var out Metrics
	var err error
	if out.operations, err = m.Int64Counter("sensorthings.operations",
		metric.WithDescription("Number of service operations")); err != nil {
		return nil, err
	}
	if out.operationErrors, err = m.Int64Counter("sensorthings.operation.errors",
		metric.WithDescription("Number of failed service operations")); err != nil {
		return nil, err
	}
	if out.operationDuration, err = m.Float64Histogram("sensorthings.operation.duration",
		metric.WithDescription("Duration of service operations"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if out.statements, err = m.Int64Counter("sensorthings.db.statements",
		metric.WithDescription("Number of executed SQL statements")); err != nil {
		return nil, err
	}
	if out.statementErrors, err = m.Int64Counter("sensorthings.db.statement.errors",
		metric.WithDescription("Number of failed SQL statements")); err != nil {
		return nil, err
	}
	if out.statementDuration, err = m.Float64Histogram("sensorthings.db.statement.duration",
		metric.WithDescription("Duration of SQL statements"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &out, nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordOperation counts one service operation on entitySet.
func (m *Metrics) RecordOperation(ctx context.Context, operation, entitySet string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(AttrOperation.String(operation), AttrEntitySet.String(entitySet))
	m.operations.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, milliseconds(elapsed), attrs)
	if err != nil {
		m.operationErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordStatement(ctx context.Context, fingerprint string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(AttrStatementID.String(fingerprint))
	m.statements.Add(ctx, 1, attrs)
	m.statementDuration.Record(ctx, milliseconds(elapsed), attrs)
	if err != nil {
		m.statementErrors.Add(ctx, 1, attrs)
	}
}
