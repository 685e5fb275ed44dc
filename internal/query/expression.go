package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/shopspring/decimal"
)

// Expression is a node of a parsed $filter or $orderby expression.
type Expression interface {
	// String renders the expression in URL query syntax.
	String() string
	expression()
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
)

// LogicalOp joins two boolean expressions.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// ArithmeticOp is a numeric operator.
type ArithmeticOp string

const (
	OpAdd ArithmeticOp = "add"
	OpSub ArithmeticOp = "sub"
	OpMul ArithmeticOp = "mul"
	OpDiv ArithmeticOp = "div"
	OpMod ArithmeticOp = "mod"
)

// Path references a property reachable from the queried entity type. All
// segments but the last are navigation properties. SubPath addresses keys
// inside a JSON object property, as in properties/owner.
type Path struct {
	Segments []model.Property
	SubPath  []string
}

// Literal is a constant: nil, bool, string, int64, float64, decimal.Decimal,
// model.TimeValue or model.ID.
type Literal struct {
	Value any
}

// Comparison compares two operands.
type Comparison struct {
	Op          CompareOp
	Left, Right Expression
}

// Logical combines two boolean operands.
type Logical struct {
	Op          LogicalOp
	Left, Right Expression
}

// Not negates a boolean operand.
type Not struct {
	Operand Expression
}

// Arithmetic applies a numeric operator.
type Arithmetic struct {
	Op          ArithmeticOp
	Left, Right Expression
}

// Function calls a built-in function such as startswith or tolower.
type Function struct {
	Name string
	Args []Expression
}

func (*Path) expression()       {}
func (*Literal) expression()    {}
func (*Comparison) expression() {}
func (*Logical) expression()    {}
func (*Not) expression()        {}
func (*Arithmetic) expression() {}
func (*Function) expression()   {}

// Prop builds a path through the given properties.
func Prop(segments ...model.Property) *Path {
	return &Path{Segments: segments}
}

// Sub appends JSON object keys to the path.
func (p *Path) Sub(keys ...string) *Path {
	p.SubPath = append(p.SubPath, keys...)
	return p
}

// Lit wraps a constant.
func Lit(v any) *Literal {
	return &Literal{Value: v}
}

func Compare(op CompareOp, left, right Expression) *Comparison {
	return &Comparison{Op: op, Left: left, Right: right}
}

func Eq(left, right Expression) *Comparison { return Compare(OpEq, left, right) }
func Ne(left, right Expression) *Comparison { return Compare(OpNe, left, right) }
func Gt(left, right Expression) *Comparison { return Compare(OpGt, left, right) }
func Ge(left, right Expression) *Comparison { return Compare(OpGe, left, right) }
func Lt(left, right Expression) *Comparison { return Compare(OpLt, left, right) }
func Le(left, right Expression) *Comparison { return Compare(OpLe, left, right) }

// And joins all operands with "and". Nil operands are dropped.
func And(operands ...Expression) Expression { return join(OpAnd, operands) }

// Or joins all operands with "or". Nil operands are dropped.
func Or(operands ...Expression) Expression { return join(OpOr, operands) }

func join(op LogicalOp, operands []Expression) Expression {
	var out Expression
	for _, o := range operands {
		if o == nil {
			continue
		}
		if out == nil {
			out = o
			continue
		}
		out = &Logical{Op: op, Left: out, Right: o}
	}
	return out
}

// Call builds a function call.
func Call(name string, args ...Expression) *Function {
	return &Function{Name: strings.ToLower(name), Args: args}
}

func (p *Path) String() string {
	parts := make([]string, 0, len(p.Segments)+len(p.SubPath))
	for _, s := range p.Segments {
		parts = append(parts, s.Name())
	}
	parts = append(parts, p.SubPath...)
	return strings.Join(parts, "/")
}

// Last returns the final property of the path.
func (p *Path) Last() model.Property {
	if len(p.Segments) == 0 {
		return nil
	}
	return p.Segments[len(p.Segments)-1]
}

func (l *Literal) String() string {
	return formatLiteral(l.Value)
}

func formatLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case model.TimeValue:
		return t.String()
	case model.ID:
		return t.URL()
	default:
		return fmt.Sprint(t)
	}
}

func (c *Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

func (l *Logical) String() string {
	return "(" + l.Left.String() + " " + string(l.Op) + " " + l.Right.String() + ")"
}

func (n *Not) String() string {
	return "not " + n.Operand.String()
}

func (a *Arithmetic) String() string {
	return "(" + a.Left.String() + " " + string(a.Op) + " " + a.Right.String() + ")"
}

func (f *Function) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ",") + ")"
}

// Walk calls fn for e and every nested expression, depth first.
func Walk(e Expression, fn func(Expression)) {
	if e == nil {
		return
	}
	fn(e)
	switch t := e.(type) {
	case *Comparison:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Logical:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Not:
		Walk(t.Operand, fn)
	case *Arithmetic:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Function:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	}
}

// ToManySegment returns the first navigation property to an entity set
// that a path in e follows, or nil.
func ToManySegment(e Expression) *model.NavigationPropertyMain {
	var found *model.NavigationPropertyMain
	Walk(e, func(e Expression) {
		p, ok := e.(*Path)
		if !ok || found != nil {
			return
		}
		for _, seg := range p.Segments {
			if np, ok := seg.(*model.NavigationPropertyMain); ok && np.IsEntitySet() {
				found = np
				return
			}
		}
	})
	return found
}

// ValidatePath checks that p can be followed from entity type t.
func ValidatePath(t *model.EntityType, p *Path) error {
	if len(p.Segments) == 0 {
		return model.UnknownPropertyError(t, p.String())
	}
	current := t
	for i, seg := range p.Segments {
		if !current.HasProperty(seg) {
			if seg.IsNavigation() {
				return model.NoRelationError(current, seg.Name())
			}
			return model.UnknownPropertyError(current, seg.Name())
		}
		np, ok := seg.(*model.NavigationPropertyMain)
		if !ok {
			if i != len(p.Segments)-1 {
				return fmt.Errorf("%w: %s is not a navigation property", model.ErrParse, seg.Name())
			}
			continue
		}
		current = np.TargetType()
	}
	if len(p.SubPath) > 0 {
		ep, ok := p.Last().(*model.EntityPropertyMain)
		if !ok || (ep.Type() != model.TypeObject && ep.Type() != model.TypeAny && ep.Type() != model.TypeGeoJSON) {
			return fmt.Errorf("%w: %s has no sub properties", model.ErrParse, p.Last().Name())
		}
	}
	return nil
}
