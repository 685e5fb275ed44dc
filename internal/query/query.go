// Package query holds the parsed form of a request: the resource path and
// the $select, $expand, $filter, $orderby, $top, $skip and $count options.
// Parsing URLs is left to the request layer; this package models the result
// and renders it back into URL form for generated links.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// OrderBy is one sort key.
type OrderBy struct {
	Expr       Expression
	Descending bool
}

func (o OrderBy) String() string {
	if o.Descending {
		return o.Expr.String() + " desc"
	}
	return o.Expr.String()
}

// Asc sorts ascending by expr.
func Asc(expr Expression) OrderBy { return OrderBy{Expr: expr} }

// Desc sorts descending by expr.
func Desc(expr Expression) OrderBy { return OrderBy{Expr: expr, Descending: true} }

// Expand requests the related entities behind one navigation property,
// shaped by its own nested query.
type Expand struct {
	Property *model.NavigationPropertyMain
	Query    *Query
}

// NewExpand builds an expand for a navigation chain. Every segment but the
// last gets an expand of the next one, so Datastreams/Sensor is an expand of
// Datastreams holding an expand of Sensor. The nested query applies to the
// last segment.
func NewExpand(q *Query, chain ...*model.NavigationPropertyMain) *Expand {
	if len(chain) == 0 {
		return nil
	}
	if q == nil {
		q = New()
	}
	inner := &Expand{Property: chain[len(chain)-1], Query: q}
	for i := len(chain) - 2; i >= 0; i-- {
		outer := New()
		outer.Expand = []*Expand{inner}
		inner = &Expand{Property: chain[i], Query: outer}
	}
	return inner
}

func (e *Expand) String() string {
	s := e.Property.Name()
	if e.Query != nil {
		if inner := e.Query.render(";", false); inner != "" {
			s += "(" + inner + ")"
		}
	}
	return s
}

// Query is the set of query options of one request or nested expand.
type Query struct {
	Select     []model.Property
	Expand     []*Expand
	Filter     Expression
	SkipFilter Expression
	OrderBy    []OrderBy
	Top        *int
	Skip       int
	Count      *bool
}

// New returns an empty query.
func New() *Query {
	return &Query{}
}

// WithTop sets $top.
func (q *Query) WithTop(top int) *Query {
	q.Top = &top
	return q
}

// WithCount sets $count.
func (q *Query) WithCount(count bool) *Query {
	q.Count = &count
	return q
}

// TopOrDefault returns $top, or def when it is not given.
func (q *Query) TopOrDefault(def int) int {
	if q == nil || q.Top == nil {
		return def
	}
	return *q.Top
}

// CountOrDefault returns $count, or def when it is not given.
func (q *Query) CountOrDefault(def bool) bool {
	if q == nil || q.Count == nil {
		return def
	}
	return *q.Count
}

// HasSelect reports whether $select limits the returned properties.
func (q *Query) HasSelect() bool {
	return q != nil && len(q.Select) > 0
}

// ExpandFor returns the expand of np, or nil.
func (q *Query) ExpandFor(np *model.NavigationPropertyMain) *Expand {
	if q == nil {
		return nil
	}
	for _, e := range q.Expand {
		if e.Property == np {
			return e
		}
	}
	return nil
}

// Validate resolves every property of the query against entity type t.
func (q *Query) Validate(t *model.EntityType) error {
	if q == nil {
		return nil
	}
	for _, p := range q.Select {
		if !t.HasProperty(p) {
			return model.UnknownPropertyError(t, p.Name())
		}
	}
	if q.Top != nil && *q.Top < 0 {
		return fmt.Errorf("%w: $top must not be negative", model.ErrParse)
	}
	if q.Skip < 0 {
		return fmt.Errorf("%w: $skip must not be negative", model.ErrParse)
	}
	for _, expr := range []Expression{q.Filter, q.SkipFilter} {
		if err := validateExpression(t, expr); err != nil {
			return err
		}
	}
	for _, o := range q.OrderBy {
		if err := validateExpression(t, o.Expr); err != nil {
			return err
		}
		if np := ToManySegment(o.Expr); np != nil {
			return fmt.Errorf("%w: can not order by %s, %s is a collection", model.ErrParse, o.Expr, np.Name())
		}
	}
	for _, e := range q.Expand {
		if !t.HasProperty(e.Property) {
			return model.NoRelationError(t, e.Property.Name())
		}
		if err := e.Query.Validate(e.Property.TargetType()); err != nil {
			return fmt.Errorf("in $expand of %s: %w", e.Property.Name(), err)
		}
	}
	return nil
}

func validateExpression(t *model.EntityType, expr Expression) error {
	var err error
	Walk(expr, func(e Expression) {
		if p, ok := e.(*Path); ok && err == nil {
			err = ValidatePath(t, p)
		}
	})
	return err
}

// String renders the query options as a URL query string.
func (q *Query) String() string {
	return q.render("&", true)
}

func (q *Query) render(sep string, escape bool) string {
	if q == nil {
		return ""
	}
	var parts []string
	add := func(name, value string) {
		if escape {
			value = escapeValue(value)
		}
		parts = append(parts, name+"="+value)
	}
	if q.Top != nil {
		add("$top", strconv.Itoa(*q.Top))
	}
	if q.Skip > 0 {
		add("$skip", strconv.Itoa(q.Skip))
	}
	if len(q.Select) > 0 {
		names := make([]string, len(q.Select))
		for i, p := range q.Select {
			names[i] = p.Name()
		}
		add("$select", strings.Join(names, ","))
	}
	if q.Filter != nil {
		add("$filter", q.Filter.String())
	}
	if q.SkipFilter != nil {
		add("$skipFilter", q.SkipFilter.String())
	}
	if len(q.Expand) > 0 {
		items := make([]string, len(q.Expand))
		for i, e := range q.Expand {
			items[i] = e.String()
		}
		add("$expand", strings.Join(items, ","))
	}
	if len(q.OrderBy) > 0 {
		items := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			items[i] = o.String()
		}
		add("$orderby", strings.Join(items, ","))
	}
	if q.Count != nil {
		add("$count", strconv.FormatBool(*q.Count))
	}
	return strings.Join(parts, sep)
}

func escapeValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// NextLink renders the link to the page following the current one. The
// current page holds pageSize entities starting at $skip. The query is left
// unchanged.
func (q *Query) NextLink(baseURL string, pageSize int) string {
	original := q.Skip
	defer func() { q.Skip = original }()
	q.Skip = original + pageSize
	return baseURL + "?" + q.String()
}
