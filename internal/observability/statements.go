package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	servertiming "github.com/mitchellh/go-server-timing"
	"go.opentelemetry.io/otel/trace"
)

// Fingerprint returns a short stable identifier of a SQL statement. Keys
// are bound as parameters, so statements differing only in values share the
// fingerprint.
func Fingerprint(statement string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(statement))
}

// ObserveStatement records one executed statement: metrics always, a span
// when detailed DB tracing is on, and a Server-Timing metric when the
// context carries a timing header.
func (c *Config) ObserveStatement(ctx context.Context, statement string, elapsed time.Duration, err error) {
	fp := Fingerprint(statement)
	if c.metrics != nil {
		c.metrics.recordStatement(ctx, fp, elapsed, err)
	}
	if c.detailedDBTracing && c.tracer != nil {
		end := time.Now()
		_, span := c.tracer.tracer.Start(ctx, "sensorthings.db.statement",
			trace.WithTimestamp(end.Add(-elapsed)),
			trace.WithAttributes(AttrStatementID.String(fp)),
			trace.WithSpanKind(trace.SpanKindClient))
		if err != nil {
			span.RecordError(err)
		}
		span.End(trace.WithTimestamp(end))
	}
	if c.serverTiming {
		if h := servertiming.FromContext(ctx); h != nil {
			m := h.NewMetric("db")
			m.Desc = fp
			m.Duration = elapsed
		}
	}
	if err != nil {
		c.logger.Debug("Statement failed", "fingerprint", fp, "elapsed", elapsed, "error", err)
	}
}

// StartTiming starts a Server-Timing metric named name, if ctx carries a
// timing header. The returned function stops it.
func (c *Config) StartTiming(ctx context.Context, name string) func() {
	if !c.serverTiming {
		return func() {}
	}
	h := servertiming.FromContext(ctx)
	if h == nil {
		return func() {}
	}
	m := h.NewMetric(name).Start()
	return func() { m.Stop() }
}
