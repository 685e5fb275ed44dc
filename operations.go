package sensorthings

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/observability"
	"github.com/nlstn/go-sensorthings/internal/query"
	"github.com/nlstn/go-sensorthings/internal/visibility"
	"go.opentelemetry.io/otel/trace"
)

const (
	opRead           = "read"
	opReadCollection = "read_collection"
	opCreate         = "create"
	opUpdate         = "update"
	opDelete         = "delete"
)

// begin starts the span, timing and metrics of one operation. The returned
// function ends them with the outcome.
func (s *Service) begin(ctx context.Context, op string, path *query.ResourcePath, q *query.Query) (context.Context, func(error)) {
	obs := s.observability
	if obs == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	entitySet := path.EntityType().PluralName()

	var span trace.Span
	tracer := obs.Tracer()
	switch op {
	case opReadCollection:
		ctx, span = tracer.StartCollectionRead(ctx, entitySet, q.String())
	case opCreate:
		ctx, span = tracer.StartEntityCreate(ctx, entitySet)
	case opUpdate:
		ctx, span = tracer.StartEntityUpdate(ctx, entitySet, path.String())
	case opDelete:
		ctx, span = tracer.StartEntityDelete(ctx, entitySet, path.String())
	default:
		ctx, span = tracer.StartEntityRead(ctx, entitySet, path.String())
	}
	stop := obs.StartTiming(ctx, op)

	return ctx, func(err error) {
		stop()
		observability.End(span, err)
		obs.Metrics().RecordOperation(ctx, op, entitySet, time.Since(start), err)
	}
}

// ParsePath resolves a resource path such as /Things(1)/Datastreams and
// checks that the caller of ctx may access it.
func (s *Service) ParsePath(ctx context.Context, path string) (*query.ResourcePath, error) {
	rp, err := query.ParsePath(s.model.Registry, s.cfg.ServiceRoot, path)
	if err != nil {
		return nil, err
	}
	if err := checkPathAccess(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

func (s *Service) rendererFor(ctx context.Context) *visibility.Renderer {
	r := *s.renderer
	r.Hidden = hiddenFor(ctx)
	return &r
}

func expandDepth(q *query.Query) int {
	if q == nil {
		return 0
	}
	depth := 0
	for _, e := range q.Expand {
		if d := 1 + expandDepth(e.Query); d > depth {
			depth = d
		}
	}
	return depth
}

func (s *Service) checkQuery(t *model.EntityType, q *query.Query) error {
	if err := q.Validate(t); err != nil {
		return err
	}
	if d := expandDepth(q); d > s.cfg.MaxExpandDepth {
		return fmt.Errorf("%w: $expand depth %d exceeds the maximum of %d", model.ErrIllegalArgument, d, s.cfg.MaxExpandDepth)
	}
	return nil
}

// Get reads the resource at path. A single entity renders as one object;
// a collection renders as {"value": [...]} with @iot.count and
// @iot.nextLink where they apply. A nil q reads with defaults.
func (s *Service) Get(ctx context.Context, path string, q *query.Query) (map[string]any, error) {
	rp, err := s.ParsePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = query.New()
	}
	if err := s.checkQuery(rp.EntityType(), q); err != nil {
		return nil, err
	}

	op := opRead
	if rp.IsCollection() {
		op = opReadCollection
	}
	ctx, done := s.begin(ctx, op, rp, q)
	out, err := s.get(ctx, rp, q)
	done(err)
	return out, err
}

func (s *Service) get(ctx context.Context, rp *query.ResourcePath, q *query.Query) (map[string]any, error) {
	v := visibility.New(rp.EntityType(), q)
	r := s.rendererFor(ctx)
	if rp.IsCollection() {
		set, err := s.store.GetEntitySet(ctx, rp, q)
		if err != nil {
			return nil, err
		}
		return r.EntitySet(set, v, rp.URL()), nil
	}
	e, err := s.store.GetEntity(ctx, rp, q)
	if err != nil {
		return nil, err
	}
	return r.Entity(e, v, rp.URL()), nil
}

// Stream reads one page of the collection at path and calls fn with each
// rendered entity while the database cursor is open.
func (s *Service) Stream(ctx context.Context, path string, q *query.Query, fn func(entity map[string]any) error) error {
	rp, err := s.ParsePath(ctx, path)
	if err != nil {
		return err
	}
	if !rp.IsCollection() {
		return fmt.Errorf("%w: %s does not address a collection", model.ErrIllegalArgument, rp)
	}
	if q == nil {
		q = query.New()
	}
	if err := s.checkQuery(rp.EntityType(), q); err != nil {
		return err
	}

	ctx, done := s.begin(ctx, opReadCollection, rp, q)
	v := visibility.New(rp.EntityType(), q)
	r := s.rendererFor(ctx)
	err = s.store.Stream(ctx, rp, q, func(set *model.EntitySet) error {
		return set.Each(func(e *model.Entity) error {
			return fn(r.Entity(e, v, rp.URL()))
		})
	})
	done(err)
	return err
}

// DecodeEntity reads a JSON request body as an entity of type t.
func (s *Service) DecodeEntity(body io.Reader, t *model.EntityType) (*model.Entity, error) {
	return s.decoder.Decode(body, t)
}

// Create inserts the entity in body into the collection at path. Under a
// parent path such as /Datastreams(1)/Observations the new entity is linked
// to that parent. It returns the created entity as rendered for a GET of
// its self link.
func (s *Service) Create(ctx context.Context, path string, body io.Reader) (map[string]any, error) {
	rp, err := s.ParsePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if !rp.IsCollection() {
		return nil, fmt.Errorf("%w: entities can only be created in a collection, not %s", model.ErrInvalidState, rp)
	}
	e, err := s.DecodeEntity(body, rp.EntityType())
	if err != nil {
		return nil, err
	}
	if err := completeFromPath(e, rp); err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, opCreate, rp, nil)
	err = s.store.Insert(ctx, e)
	done(err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Created entity", "type", e.EntityType().Name(), "id", e.ID())
	return s.rendererFor(ctx).Entity(e, visibility.New(e.EntityType(), query.New()), ""), nil
}

// completeFromPath links e to the entity addressed by the parent segment of
// its collection path.
func completeFromPath(e *model.Entity, rp *query.ResourcePath) error {
	main := rp.Main()
	if main.Parent == nil {
		return nil
	}
	parent := main.Parent
	if !parent.HasKey() {
		return fmt.Errorf("%w: parent of %s is not addressed by key", model.ErrInvalidState, rp)
	}
	stub := model.NewEntity(parent.EntityType)
	if err := stub.SetPrimaryKeyValues(parent.Key); err != nil {
		return err
	}
	return e.CompleteFromParent(stub, main.Navigation)
}

// Update applies the members of body to the entity at path, leaving
// absent members unchanged. It returns the stored entity after the update.
func (s *Service) Update(ctx context.Context, path string, body io.Reader) (map[string]any, error) {
	rp, err := s.ParsePath(ctx, path)
	if err != nil {
		return nil, err
	}
	main := rp.Main()
	if rp.IsCollection() || !main.HasKey() {
		return nil, fmt.Errorf("%w: %s does not address an entity by key", model.ErrInvalidState, rp)
	}
	e, err := s.DecodeEntity(body, rp.EntityType())
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, opUpdate, rp, nil)
	msg, err := s.store.Update(ctx, main.Key, e)
	done(err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Updated entity", "type", rp.EntityType().Name(), "path", rp.String(), "changed", len(msg.Changes.EntityProperties)+len(msg.Changes.NavigationProperties))
	return s.rendererFor(ctx).Entity(msg.Entity, visibility.New(rp.EntityType(), query.New()), ""), nil
}

// Delete removes the entity at path. Dependent entities are removed by the
// foreign key constraints of the schema.
func (s *Service) Delete(ctx context.Context, path string) error {
	rp, err := s.ParsePath(ctx, path)
	if err != nil {
		return err
	}
	main := rp.Main()
	if rp.IsCollection() || !main.HasKey() {
		return fmt.Errorf("%w: %s does not address an entity by key", model.ErrInvalidState, rp)
	}

	ctx, done := s.begin(ctx, opDelete, rp, nil)
	err = s.store.Delete(ctx, rp.EntityType(), main.Key)
	done(err)
	if err == nil {
		s.logger.Debug("Deleted entity", "path", rp.String())
	}
	return err
}
