package factor

import (
	"fmt"
	"math"

	"github.com/bikeshrana/cnquant/internal/panel"
)

// Env resolves raw column identifiers to stored panels for one evaluation.
// Implemented by FactorCache and by lightweight test doubles.
type Env interface {
	Column(name string) (*panel.Frame, error)
}

// StrategyCompileError is raised by parse/validate failures (spec.md §7).
// It carries the expression and underlying cause for diagnostics.
type StrategyCompileError struct {
	Expr string
	Err  error
}

func (e *StrategyCompileError) Error() string {
	return fmt.Sprintf("factor: compile error in %q: %v", e.Expr, e.Err)
}

func (e *StrategyCompileError) Unwrap() error { return e.Err }

// Eval evaluates a parsed AST against env, returning a panel.Frame. Boolean
// results are represented as 0/1 panels (a NaN operand gives 0) so that comparisons and
// and/or compose uniformly with arithmetic (spec.md §4.1 edge cases).
func Eval(n *Node, env Env) (*panel.Frame, error) {
	switch n.Kind {
	case NodeNumber:
		return nil, nil // numbers are handled inline by binary ops; see evalBinOp
	case NodeColumn:
		if RawColumns[n.Name] {
			return env.Column(n.Name)
		}
		return nil, fmt.Errorf("factor: unknown identifier %q (not a raw column or call)", n.Name)
	case NodeNeg:
		operand, err := evalNode(n.Left, env)
		if err != nil {
			return nil, err
		}
		return operand.Map("neg", func(x float64) float64 { return -x }), nil
	case NodeCall:
		return evalCall(n, env)
	case NodeBinOp:
		return evalBinOp(n, env)
	default:
		return nil, fmt.Errorf("factor: unhandled node kind %d", n.Kind)
	}
}

// evalNode evaluates n, materialising bare number literals as constant
// frames aligned to a reference frame obtained from context when needed.
// Since Node carries no implicit index, number literals are resolved
// lazily inside evalBinOp/evalCall where an aligning sibling is available.
func evalNode(n *Node, env Env) (*panel.Frame, error) {
	if n.Kind == NodeNumber {
		return nil, fmt.Errorf("factor: bare numeric literal has no panel context")
	}
	return Eval(n, env)
}

func evalCall(n *Node, env Env) (*panel.Frame, error) {
	op, ok := OperatorTable[n.Name]
	if !ok {
		return nil, &StrategyCompileError{Expr: n.Name, Err: fmt.Errorf("unknown operator %q", n.Name)}
	}
	if len(n.Args) != op.Arity {
		return nil, &StrategyCompileError{Expr: n.Name, Err: fmt.Errorf("operator %q expects %d args, got %d", n.Name, op.Arity, len(n.Args))}
	}

	// First argument is always a panel expression; remaining args are
	// (today) always numeric window sizes, matching the operator table in
	// spec.md §4.1.
	firstPanel, err := Eval(n.Args[0], env)
	if err != nil {
		return nil, err
	}
	var numArgs []float64
	for _, a := range n.Args[1:] {
		if a.Kind != NodeNumber {
			return nil, &StrategyCompileError{Expr: n.Name, Err: fmt.Errorf("argument must be a numeric literal")}
		}
		numArgs = append(numArgs, a.Value)
	}
	return op.Fn([]*panel.Frame{firstPanel}, numArgs)
}

func evalBinOp(n *Node, env Env) (*panel.Frame, error) {
	// Constant folding against a panel sibling: when one side is a bare
	// number, evaluate the other side first and broadcast the constant.
	if n.Left.Kind == NodeNumber && n.Right.Kind == NodeNumber {
		return nil, fmt.Errorf("factor: constant-only expression %q has no panel context", Print(n))
	}
	if n.Left.Kind == NodeNumber {
		right, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return applyBinOp(n.Op, constantFrame(n.Left.Value, right), right), nil
	}
	if n.Right.Kind == NodeNumber {
		left, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		return applyBinOp(n.Op, left, constantFrame(n.Right.Value, left)), nil
	}

	left, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}
	aligned := panel.AlignUnion(left, right)
	return applyBinOp(n.Op, aligned[0], aligned[1]), nil
}

func constantFrame(v float64, like *panel.Frame) *panel.Frame {
	return like.Map("const", func(float64) float64 { return v })
}

func applyBinOp(op string, left, right *panel.Frame) *panel.Frame {
	switch op {
	case "+":
		return panel.Combine(op, left, right, func(x, y float64) float64 { return x + y })
	case "-":
		return panel.Combine(op, left, right, func(x, y float64) float64 { return x - y })
	case "*":
		return panel.Combine(op, left, right, func(x, y float64) float64 { return x * y })
	case "/":
		return panel.Combine(op, left, right, func(x, y float64) float64 {
			if y == 0 {
				return math.NaN()
			}
			return x / y
		})
	case ">":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x > y }))
	case "<":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x < y }))
	case ">=":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x >= y }))
	case "<=":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x <= y }))
	case "==":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x == y }))
	case "!=":
		return panel.Combine(op, left, right, boolOp(func(x, y float64) bool { return x != y }))
	case "and":
		return panel.Combine(op, left, right, func(x, y float64) float64 {
			return boolToFloat(isTrue(x) && isTrue(y))
		})
	case "or":
		return panel.Combine(op, left, right, func(x, y float64) float64 {
			return boolToFloat(isTrue(x) || isTrue(y))
		})
	default:
		panic("factor: unknown binary operator " + op)
	}
}

// boolOp wraps a comparison so that NaN on either side yields false, per
// spec.md §4.1 ("comparisons involving NaN yield false").
func boolOp(cmp func(x, y float64) bool) func(x, y float64) float64 {
	return func(x, y float64) float64 {
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0
		}
		return boolToFloat(cmp(x, y))
	}
}

func isTrue(x float64) bool {
	return !math.IsNaN(x) && x != 0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
