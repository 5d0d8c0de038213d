// Package expr evaluates small arithmetic formulas over named numeric inputs.
//
// The grammar is limited to numbers, identifiers, parentheses, unary and
// binary + - * /, and calls to abs, min and max. Anything else is rejected at
// parse time.
package expr

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"sort"
	"strconv"
)

// ErrUnsafeExpr is returned for formulas outside the supported grammar.
var ErrUnsafeExpr = errors.New("unsafe expression")

// Env resolves variable values. Missing variables evaluate to 0.
type Env map[string]float64

// Expr is a parsed formula.
type Expr struct {
	src  string
	root node
	vars []string
}

type node interface {
	eval(env Env) float64
}

type number float64

func (n number) eval(Env) float64 { return float64(n) }

type variable string

func (v variable) eval(env Env) float64 { return env[string(v)] }

type unary struct {
	neg bool
	x   node
}

func (u unary) eval(env Env) float64 {
	if u.neg {
		return -u.x.eval(env)
	}
	return u.x.eval(env)
}

type binary struct {
	op   token.Token
	x, y node
}

func (b binary) eval(env Env) float64 {
	x, y := b.x.eval(env), b.y.eval(env)
	switch b.op {
	case token.ADD:
		return x + y
	case token.SUB:
		return x - y
	case token.MUL:
		return x * y
	case token.QUO:
		if y == 0 {
			return 0
		}
		return x / y
	}
	return 0
}

type call struct {
	fn   string
	args []node
}

func (c call) eval(env Env) float64 {
	switch c.fn {
	case "abs":
		return math.Abs(c.args[0].eval(env))
	case "min":
		v := c.args[0].eval(env)
		for _, a := range c.args[1:] {
			v = math.Min(v, a.eval(env))
		}
		return v
	case "max":
		v := c.args[0].eval(env)
		for _, a := range c.args[1:] {
			v = math.Max(v, a.eval(env))
		}
		return v
	}
	return 0
}

// Parse parses a formula, rejecting unsupported constructs.
func Parse(src string) (*Expr, error) {
	tree, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsafeExpr, err)
	}
	vars := make(map[string]struct{})
	root, err := convert(tree, vars)
	if err != nil {
		return nil, err
	}

	e := &Expr{src: src, root: root}
	for name := range vars {
		e.vars = append(e.vars, name)
	}
	sort.Strings(e.vars)
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func convert(n ast.Expr, vars map[string]struct{}) (node, error) {
	switch n := n.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, fmt.Errorf("%w: literal %s", ErrUnsafeExpr, n.Value)
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: literal %s", ErrUnsafeExpr, n.Value)
		}
		return number(v), nil

	case *ast.Ident:
		switch n.Name {
		case "abs", "min", "max":
			return nil, fmt.Errorf("%w: function %s used as value", ErrUnsafeExpr, n.Name)
		}
		vars[n.Name] = struct{}{}
		return variable(n.Name), nil

	case *ast.ParenExpr:
		return convert(n.X, vars)

	case *ast.UnaryExpr:
		if n.Op != token.ADD && n.Op != token.SUB {
			return nil, fmt.Errorf("%w: operator %s", ErrUnsafeExpr, n.Op)
		}
		x, err := convert(n.X, vars)
		if err != nil {
			return nil, err
		}
		return unary{neg: n.Op == token.SUB, x: x}, nil

	case *ast.BinaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
		default:
			return nil, fmt.Errorf("%w: operator %s", ErrUnsafeExpr, n.Op)
		}
		x, err := convert(n.X, vars)
		if err != nil {
			return nil, err
		}
		y, err := convert(n.Y, vars)
		if err != nil {
			return nil, err
		}
		return binary{op: n.Op, x: x, y: y}, nil

	case *ast.CallExpr:
		fn, ok := n.Fun.(*ast.Ident)
		if !ok || n.Ellipsis.IsValid() {
			return nil, fmt.Errorf("%w: unsupported call", ErrUnsafeExpr)
		}
		switch fn.Name {
		case "abs":
			if len(n.Args) != 1 {
				return nil, fmt.Errorf("%w: abs takes 1 argument, got %d", ErrUnsafeExpr, len(n.Args))
			}
		case "min", "max":
			if len(n.Args) < 2 {
				return nil, fmt.Errorf("%w: %s takes at least 2 arguments", ErrUnsafeExpr, fn.Name)
			}
		default:
			return nil, fmt.Errorf("%w: function %s", ErrUnsafeExpr, fn.Name)
		}
		args := make([]node, len(n.Args))
		for i, a := range n.Args {
			arg, err := convert(a, vars)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return call{fn: fn.Name, args: args}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsafeExpr, n)
}

// Eval evaluates the formula. Non-finite results evaluate to 0.
func (e *Expr) Eval(env Env) float64 {
	if e == nil || e.root == nil {
		return 0
	}
	v := e.root.eval(env)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Vars returns the sorted variable names the formula references.
func (e *Expr) Vars() []string { return e.vars }

// String returns the source text.
func (e *Expr) String() string { return e.src }
