package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
	"github.com/shopspring/decimal"
)

// valueHint is the type an operand is compared as.
type valueHint int

const (
	hintUnknown valueHint = iota
	hintNumber
	hintString
	hintBool
	hintTime
)

// operand is one compiled side of a comparison. Time operands have a start
// and an end; instants use the same expression for both. JSON documents and
// observation results are typed late, when the other side is known.
type operand struct {
	expr     SQLExpr
	end      SQLExpr
	interval bool
	hint     valueHint
	null     bool
	literal  any

	ref *TableRef
	pf  *PropertyFields
	sub []string
}

func (o operand) deferred() bool { return o.pf != nil }

// sqlf substitutes each %s of format with the SQL of the next part and
// concatenates the arguments in the same order.
func sqlf(format string, parts ...SQLExpr) SQLExpr {
	strs := make([]any, len(parts))
	var args []any
	for i, p := range parts {
		strs[i] = p.SQL
		args = append(args, p.Args...)
	}
	return SQLExpr{SQL: fmt.Sprintf(format, strs...), Args: args}
}

func (qs *QueryState) compileCondition(e query.Expression) (SQLExpr, error) {
	switch t := e.(type) {
	case *query.Logical:
		left, err := qs.compileCondition(t.Left)
		if err != nil {
			return SQLExpr{}, err
		}
		right, err := qs.compileCondition(t.Right)
		if err != nil {
			return SQLExpr{}, err
		}
		op := "AND"
		if t.Op == query.OpOr {
			op = "OR"
		}
		return sqlf("(%s "+op+" %s)", left, right), nil
	case *query.Not:
		inner, err := qs.compileCondition(t.Operand)
		if err != nil {
			return SQLExpr{}, err
		}
		return sqlf("NOT (%s)", inner), nil
	case *query.Comparison:
		return qs.compileComparison(t)
	case *query.Function:
		return qs.compileBoolFunction(t)
	case *query.Literal:
		if b, ok := t.Value.(bool); ok {
			if b {
				return SQLExpr{SQL: "1 = 1"}, nil
			}
			return SQLExpr{SQL: "1 = 0"}, nil
		}
	}
	return SQLExpr{}, fmt.Errorf("%w: %s is not a condition", model.ErrParse, e)
}

func (qs *QueryState) compileComparison(c *query.Comparison) (SQLExpr, error) {
	left, err := qs.compileOperand(c.Left)
	if err != nil {
		return SQLExpr{}, err
	}
	right, err := qs.compileOperand(c.Right)
	if err != nil {
		return SQLExpr{}, err
	}
	if left.null || right.null {
		return qs.compareNull(c.Op, left, right)
	}
	if left.interval || right.interval {
		return compareIntervals(c.Op, left, right)
	}
	l, err := qs.scalar(left, right)
	if err != nil {
		return SQLExpr{}, err
	}
	r, err := qs.scalar(right, left)
	if err != nil {
		return SQLExpr{}, err
	}
	return sqlf("%s "+sqlOperator(c.Op)+" %s", l, r), nil
}

func sqlOperator(op query.CompareOp) string {
	switch op {
	case query.OpNe:
		return "<>"
	case query.OpGt:
		return ">"
	case query.OpGe:
		return ">="
	case query.OpLt:
		return "<"
	case query.OpLe:
		return "<="
	default:
		return "="
	}
}

func (qs *QueryState) compareNull(op query.CompareOp, left, right operand) (SQLExpr, error) {
	if left.null && right.null {
		return SQLExpr{}, fmt.Errorf("%w: comparison of two null literals", model.ErrParse)
	}
	other := left
	if left.null {
		other = right
	}
	var e SQLExpr
	if other.deferred() && other.pf.kind == operandResult && len(other.sub) == 0 {
		e = SQLExpr{SQL: other.ref.column(qs.dialect, other.pf.Columns[0])}
	} else {
		var err error
		if e, err = qs.scalar(other, operand{}); err != nil {
			return SQLExpr{}, err
		}
	}
	switch op {
	case query.OpEq:
		return sqlf("%s IS NULL", e), nil
	case query.OpNe:
		return sqlf("%s IS NOT NULL", e), nil
	default:
		return SQLExpr{}, fmt.Errorf("%w: null can only be compared with eq and ne", model.ErrParse)
	}
}

// compareIntervals compares time values as half-open intervals [start,
// end), an instant x being [x, x].
func compareIntervals(op query.CompareOp, l, r operand) (SQLExpr, error) {
	for _, o := range []operand{l, r} {
		if !o.interval {
			return SQLExpr{}, fmt.Errorf("%w: a time can only be compared with a time", model.ErrParse)
		}
	}
	ls, le, rs, re := l.expr, l.end, r.expr, r.end
	switch op {
	case query.OpEq:
		return sqlf("(%s = %s AND %s = %s)", ls, rs, le, re), nil
	case query.OpNe:
		return sqlf("(%s <> %s OR %s <> %s)", ls, rs, le, re), nil
	case query.OpLt:
		return sqlf("(%s <= %s AND %s < %s)", le, rs, ls, rs), nil
	case query.OpLe:
		return sqlf("%s <= %s", le, re), nil
	case query.OpGt:
		return sqlf("(%s >= %s AND %s > %s)", ls, re, le, re), nil
	case query.OpGe:
		return sqlf("%s >= %s", ls, rs), nil
	}
	return SQLExpr{}, fmt.Errorf("%w: unsupported operator %s", model.ErrParse, op)
}

// scalar renders o as a single value, typed after other where o is a JSON
// document or an observation result.
func (qs *QueryState) scalar(o, other operand) (SQLExpr, error) {
	if o.interval {
		return o.expr, nil
	}
	if !o.deferred() {
		if b, ok := o.literal.(bool); ok && other.deferred() && (other.pf.kind == operandJSON || len(other.sub) > 0) {
			return SQLExpr{SQL: "?", Args: []any{qs.dialect.JSONBoolArg(b)}}, nil
		}
		return o.expr, nil
	}
	d := qs.dialect
	cols := o.pf.Columns
	hint := other.hint
	if o.pf.kind == operandResult {
		if len(o.sub) > 0 {
			return SQLExpr{SQL: d.JSONExtract(o.ref.column(d, cols[4]), o.sub, hint == hintNumber)}, nil
		}
		switch hint {
		case hintString:
			return SQLExpr{SQL: fmt.Sprintf("CASE WHEN %s = %d THEN %s END", o.ref.column(d, cols[0]), resultTypeString, o.ref.column(d, cols[2]))}, nil
		case hintBool:
			return SQLExpr{SQL: o.ref.column(d, cols[3])}, nil
		default:
			return SQLExpr{SQL: o.ref.column(d, cols[1])}, nil
		}
	}
	if len(o.sub) == 0 {
		return SQLExpr{SQL: o.ref.column(d, cols[0])}, nil
	}
	return SQLExpr{SQL: d.JSONExtract(o.ref.column(d, cols[0]), o.sub, hint == hintNumber)}, nil
}

func (qs *QueryState) compileOperand(e query.Expression) (operand, error) {
	switch t := e.(type) {
	case *query.Literal:
		return qs.literalOperand(t.Value)
	case *query.Path:
		return qs.pathOperand(t)
	case *query.Arithmetic:
		return qs.arithmeticOperand(t)
	case *query.Function:
		return qs.functionOperand(t)
	case *query.Comparison, *query.Logical, *query.Not:
		cond, err := qs.compileCondition(e)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("(%s)", cond), hint: hintBool}, nil
	}
	return operand{}, fmt.Errorf("%w: unsupported expression %s", model.ErrParse, e)
}

func (qs *QueryState) literalOperand(v any) (operand, error) {
	arg := func(x any) SQLExpr { return SQLExpr{SQL: "?", Args: []any{x}} }
	switch t := v.(type) {
	case nil:
		return operand{null: true}, nil
	case bool:
		return operand{expr: arg(t), hint: hintBool, literal: t}, nil
	case string:
		return operand{expr: arg(t), hint: hintString, literal: t}, nil
	case int:
		return operand{expr: arg(int64(t)), hint: hintNumber, literal: t}, nil
	case int64:
		return operand{expr: arg(t), hint: hintNumber, literal: t}, nil
	case float64:
		return operand{expr: arg(t), hint: hintNumber, literal: t}, nil
	case decimal.Decimal:
		f, _ := t.Float64()
		return operand{expr: arg(f), hint: hintNumber, literal: t}, nil
	case time.Time:
		return qs.timeOperand(model.NewTimeInstant(t)), nil
	case model.TimeValue:
		return qs.timeOperand(t), nil
	case model.ID:
		hint := hintString
		if t.Kind() == model.IDKindInteger {
			hint = hintNumber
		}
		return operand{expr: arg(t.Value()), hint: hint, literal: t}, nil
	}
	return operand{}, fmt.Errorf("%w: unsupported literal %v", model.ErrParse, v)
}

func (qs *QueryState) timeOperand(tv model.TimeValue) operand {
	return operand{
		expr:     SQLExpr{SQL: "?", Args: []any{qs.dialect.TimeArg(tv.Start())}},
		end:      SQLExpr{SQL: "?", Args: []any{qs.dialect.TimeArg(tv.End())}},
		interval: true,
		hint:     hintTime,
	}
}

func (qs *QueryState) pathOperand(p *query.Path) (operand, error) {
	ref, pf, err := qs.resolvePath(p)
	if err != nil {
		return operand{}, err
	}
	d := qs.dialect
	switch pf.kind {
	case operandInterval:
		if len(p.SubPath) > 0 {
			return operand{}, fmt.Errorf("%w: %s has no members", model.ErrParse, pf.Property.Name())
		}
		start := SQLExpr{SQL: ref.column(d, pf.Columns[0])}
		end := SQLExpr{SQL: ref.column(d, pf.Columns[len(pf.Columns)-1])}
		return operand{expr: start, end: end, interval: true, hint: hintTime}, nil
	case operandJSON, operandResult:
		return operand{ref: ref, pf: pf, sub: p.SubPath}, nil
	}
	if len(p.SubPath) > 0 {
		return operand{}, fmt.Errorf("%w: %s has no members", model.ErrParse, pf.Property.Name())
	}
	return operand{expr: SQLExpr{SQL: ref.column(d, pf.Columns[0])}, hint: qs.propertyHint(pf.Property)}, nil
}

func (qs *QueryState) propertyHint(p model.Property) valueHint {
	ep, ok := p.(*model.EntityPropertyMain)
	if !ok {
		if qs.schema.registry.IDKind() == model.IDKindInteger {
			return hintNumber
		}
		return hintString
	}
	switch ep.Type() {
	case model.TypeString, model.TypePassword:
		return hintString
	case model.TypeNumber, model.TypeInteger:
		return hintNumber
	case model.TypeBoolean:
		return hintBool
	case model.TypeID:
		if qs.schema.registry.IDKind() == model.IDKindInteger {
			return hintNumber
		}
		return hintString
	}
	return hintUnknown
}

// number renders o as a numeric value.
func (qs *QueryState) number(o operand) (SQLExpr, error) {
	if o.interval || o.null {
		return SQLExpr{}, fmt.Errorf("%w: expected a number", model.ErrParse)
	}
	return qs.scalar(o, operand{hint: hintNumber})
}

// text renders o as a string value.
func (qs *QueryState) text(o operand) (SQLExpr, error) {
	if o.interval || o.null {
		return SQLExpr{}, fmt.Errorf("%w: expected a string", model.ErrParse)
	}
	return qs.scalar(o, operand{hint: hintString})
}

func (qs *QueryState) arithmeticOperand(a *query.Arithmetic) (operand, error) {
	ops := make([]SQLExpr, 2)
	for i, side := range []query.Expression{a.Left, a.Right} {
		o, err := qs.compileOperand(side)
		if err != nil {
			return operand{}, err
		}
		if ops[i], err = qs.number(o); err != nil {
			return operand{}, err
		}
	}
	var expr SQLExpr
	switch a.Op {
	case query.OpAdd:
		expr = sqlf("(%s + %s)", ops[0], ops[1])
	case query.OpSub:
		expr = sqlf("(%s - %s)", ops[0], ops[1])
	case query.OpMul:
		expr = sqlf("(%s * %s)", ops[0], ops[1])
	case query.OpDiv:
		expr = sqlf("(CAST(%s AS DOUBLE PRECISION) / %s)", ops[0], ops[1])
	case query.OpMod:
		if qs.dialect == DialectPostgres {
			expr = sqlf("MOD(CAST(%s AS NUMERIC), CAST(%s AS NUMERIC))", ops[0], ops[1])
		} else {
			expr = sqlf("(%s %% %s)", ops[0], ops[1])
		}
	default:
		return operand{}, fmt.Errorf("%w: unsupported operator %s", model.ErrParse, a.Op)
	}
	return operand{expr: expr, hint: hintNumber}, nil
}

func (qs *QueryState) functionArgs(f *query.Function, want ...valueHint) ([]SQLExpr, error) {
	if len(f.Args) != len(want) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", model.ErrParse, f.Name, len(want), len(f.Args))
	}
	out := make([]SQLExpr, len(want))
	for i, arg := range f.Args {
		o, err := qs.compileOperand(arg)
		if err != nil {
			return nil, err
		}
		switch want[i] {
		case hintString:
			out[i], err = qs.text(o)
		case hintNumber:
			out[i], err = qs.number(o)
		case hintTime:
			if !o.interval {
				err = fmt.Errorf("%w: %s expects a time", model.ErrParse, f.Name)
			}
			out[i] = o.expr
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (qs *QueryState) compileBoolFunction(f *query.Function) (SQLExpr, error) {
	d := qs.dialect
	switch strings.ToLower(f.Name) {
	case "startswith":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return SQLExpr{}, err
		}
		return sqlf("substr(%s, 1, length(%s)) = %s", a[0], a[1], a[1]), nil
	case "endswith":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return SQLExpr{}, err
		}
		return sqlf("(length(%s) >= length(%s) AND substr(%s, length(%s) - length(%s) + 1) = %s)", a[0], a[1], a[0], a[0], a[1], a[1]), nil
	case "contains":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return SQLExpr{}, err
		}
		return sqlf(d.Position("%s", "%s")+" > 0", a[0], a[1]), nil
	case "substringof":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return SQLExpr{}, err
		}
		return sqlf(d.Position("%s", "%s")+" > 0", a[1], a[0]), nil
	}
	return SQLExpr{}, fmt.Errorf("%w: %s is not a condition", model.ErrParse, f)
}

func (qs *QueryState) functionOperand(f *query.Function) (operand, error) {
	d := qs.dialect
	name := strings.ToLower(f.Name)
	switch name {
	case "startswith", "endswith", "contains", "substringof":
		cond, err := qs.compileBoolFunction(f)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("(%s)", cond), hint: hintBool}, nil
	case "tolower", "toupper", "trim":
		a, err := qs.functionArgs(f, hintString)
		if err != nil {
			return operand{}, err
		}
		fn := map[string]string{"tolower": "lower", "toupper": "upper", "trim": "trim"}[name]
		return operand{expr: sqlf(fn+"(%s)", a[0]), hint: hintString}, nil
	case "length":
		a, err := qs.functionArgs(f, hintString)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("length(%s)", a[0]), hint: hintNumber}, nil
	case "concat":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("(%s || %s)", a[0], a[1]), hint: hintString}, nil
	case "indexof":
		a, err := qs.functionArgs(f, hintString, hintString)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("("+d.Position("%s", "%s")+" - 1)", a[0], a[1]), hint: hintNumber}, nil
	case "substring":
		if len(f.Args) == 3 {
			a, err := qs.functionArgs(f, hintString, hintNumber, hintNumber)
			if err != nil {
				return operand{}, err
			}
			return operand{expr: sqlf("substr(%s, %s + 1, %s)", a[0], a[1], a[2]), hint: hintString}, nil
		}
		a, err := qs.functionArgs(f, hintString, hintNumber)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("substr(%s, %s + 1)", a[0], a[1]), hint: hintString}, nil
	case "round":
		a, err := qs.functionArgs(f, hintNumber)
		if err != nil {
			return operand{}, err
		}
		return operand{expr: sqlf("round(%s)", a[0]), hint: hintNumber}, nil
	case "year", "month", "day", "hour", "minute", "second":
		a, err := qs.functionArgs(f, hintTime)
		if err != nil {
			return operand{}, err
		}
		col := qs.timeColumn(a[0])
		sql, err := d.Extract(name, col.SQL)
		if err != nil {
			return operand{}, fmt.Errorf("%w: %v", model.ErrParse, err)
		}
		return operand{expr: SQLExpr{SQL: sql, Args: col.Args}, hint: hintNumber}, nil
	case "now":
		if len(f.Args) != 0 {
			return operand{}, fmt.Errorf("%w: now takes no arguments", model.ErrParse)
		}
		return qs.timeOperand(model.Now()), nil
	}
	return operand{}, fmt.Errorf("%w: unknown function %s", model.ErrParse, f.Name)
}

// timeColumn prepares a stored time for date part extraction.
func (qs *QueryState) timeColumn(e SQLExpr) SQLExpr {
	if qs.dialect == DialectSQLite {
		return e
	}
	return sqlf("(%s AT TIME ZONE 'UTC')", e)
}

// compileOrder renders the sort expressions of one order key. Time values
// sort by start, then end.
func (qs *QueryState) compileOrder(e query.Expression) ([]SQLExpr, error) {
	// One root row per entity leaves no single value of a collection to sort by.
	if np := query.ToManySegment(e); np != nil {
		return nil, fmt.Errorf("%w: can not order by %s, %s is a collection", model.ErrParse, e, np.Name())
	}
	o, err := qs.compileOperand(e)
	if err != nil {
		return nil, err
	}
	if o.null {
		return nil, fmt.Errorf("%w: can not order by null", model.ErrParse)
	}
	if o.interval {
		if o.end.SQL == o.expr.SQL {
			return []SQLExpr{o.expr}, nil
		}
		return []SQLExpr{o.expr, o.end}, nil
	}
	s, err := qs.scalar(o, operand{hint: hintUnknown})
	if err != nil {
		return nil, err
	}
	return []SQLExpr{s}, nil
}
