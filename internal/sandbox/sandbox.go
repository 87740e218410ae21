// Package sandbox evaluates boolean expressions used by Wait/Assert steps'
// expect.expression predicate and Branch steps' condition, inside a goja
// VM restricted to a small, side-effect-free grammar.
package sandbox

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

// Timeout bounds how long a single expression may run before it is
// interrupted; expressions here are pure comparisons over an already
// extracted context and never legitimately need more than this.
const Timeout = 100 * time.Millisecond

// allowedFunctions is the complete set of callable names an expression may
// invoke. Every entry is bound to a pure, side-effect-free Go closure by
// bindBuiltins before the expression runs; nothing else is ever callable.
var allowedFunctions = map[string]bool{
	"len": true,
	"sum": true,
	"min": true,
	"max": true,
	"all": true,
	"any": true,
	"abs": true,
}

// EvalBool compiles and runs expr against vars (exposed as top-level
// bindings in the VM's global scope) and returns its boolean result.
//
// expr is first parsed to an AST and walked against an allow-list: only
// binary/logical/unary operators, literals, identifiers, member/index
// access, conditional (ternary) expressions, and calls to the built-in
// allow-listed functions (len, sum, min, max, all, any, abs) survive.
// Function literals, loops, assignments, and any other side-effecting
// construct are rejected with KindSandboxForbiddenNode before anything is
// executed.
func EvalBool(expr string, vars map[string]any) (bool, error) {
	prog, err := parser.ParseFile(nil, "expr.js", expr, 0)
	if err != nil {
		return false, domerrors.Wrap(domerrors.KindSandboxForbiddenNode, err)
	}
	if err := allowListed(prog.Body); err != nil {
		return false, err
	}

	vm := goja.New()
	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return false, domerrors.Wrap(domerrors.KindInternal, err)
		}
	}
	if err := bindBuiltins(vm); err != nil {
		return false, domerrors.Wrap(domerrors.KindInternal, err)
	}

	done := make(chan struct{})
	timer := time.AfterFunc(Timeout, func() {
		vm.Interrupt(domerrors.New(domerrors.KindSandboxTimeout, "expression exceeded deadline"))
	})
	defer timer.Stop()
	defer close(done)

	val, err := vm.RunProgram(mustCompile(prog))
	if err != nil {
		if ierr, ok := err.(*goja.InterruptedError); ok {
			if d, ok := ierr.Value().(*domerrors.Detail); ok {
				return false, d
			}
		}
		return false, domerrors.Wrap(domerrors.KindSandboxForbiddenNode, err)
	}
	return val.ToBoolean(), nil
}

func mustCompile(prog *ast.Program) *goja.Program {
	compiled, err := goja.CompileAST(prog, false)
	if err != nil {
		panic(fmt.Sprintf("sandbox: recompiling pre-parsed AST failed: %v", err))
	}
	return compiled
}

// allowListed walks the statement list looking for anything beyond a
// single trailing expression statement, and recurses into that
// expression's own AST checking for forbidden node types.
func allowListed(body []ast.Statement) error {
	if len(body) != 1 {
		return domerrors.New(domerrors.KindSandboxForbiddenNode, "expression must be a single statement")
	}
	stmt, ok := body[0].(*ast.ExpressionStatement)
	if !ok {
		return domerrors.New(domerrors.KindSandboxForbiddenNode, "only a bare expression is permitted")
	}
	return checkExpr(stmt.Expression)
}

func checkExpr(e ast.Expression) error {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.BooleanLiteral, *ast.NumberLiteral, *ast.StringLiteral, *ast.NullLiteral, *ast.Identifier:
		return nil
	case *ast.BinaryExpression:
		if err := checkExpr(n.Left); err != nil {
			return err
		}
		return checkExpr(n.Right)
	case *ast.UnaryExpression:
		return checkExpr(n.Operand)
	case *ast.ConditionalExpression:
		if err := checkExpr(n.Test); err != nil {
			return err
		}
		if err := checkExpr(n.Consequent); err != nil {
			return err
		}
		return checkExpr(n.Alternate)
	case *ast.DotExpression:
		return checkExpr(n.Left)
	case *ast.BracketExpression:
		if err := checkExpr(n.Left); err != nil {
			return err
		}
		return checkExpr(n.Member)
	case *ast.ArrayLiteral:
		for _, v := range n.Value {
			if err := checkExpr(v); err != nil {
				return err
			}
		}
		return nil
	case *ast.CallExpression:
		ident, ok := n.Callee.(*ast.Identifier)
		if !ok {
			return domerrors.New(domerrors.KindSandboxForbiddenNode, "only calls to allow-listed functions are permitted")
		}
		name := fmt.Sprint(ident.Name)
		if !allowedFunctions[name] {
			return domerrors.New(domerrors.KindSandboxForbiddenNode, fmt.Sprintf("forbidden function call: %s", name))
		}
		for _, arg := range n.ArgumentList {
			if err := checkExpr(arg); err != nil {
				return err
			}
		}
		return nil
	case *ast.SequenceExpression:
		return domerrors.New(domerrors.KindSandboxForbiddenNode, "sequence expressions are forbidden")
	default:
		return domerrors.New(domerrors.KindSandboxForbiddenNode, fmt.Sprintf("forbidden expression node: %T", n))
	}
}

// bindBuiltins registers the allow-listed function names as pure Go
// closures in vm's global scope. Each operates over plain Go values (goja
// exports array/slice arguments to []any automatically), never touches
// anything outside its arguments, and never panics on mismatched types.
func bindBuiltins(vm *goja.Runtime) error {
	builtins := map[string]any{
		"len": builtinLen,
		"sum": builtinSum,
		"min": builtinMinMax(false),
		"max": builtinMinMax(true),
		"all": builtinAll,
		"any": builtinAny,
		"abs": builtinAbs,
	}
	for name, fn := range builtins {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func builtinLen(v any) int {
	switch x := v.(type) {
	case []any:
		return len(x)
	case string:
		return len(x)
	case map[string]any:
		return len(x)
	default:
		return 0
	}
}

func toFloatSlice(v any) []float64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		out = append(out, toFloat(item))
	}
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func builtinSum(v any) float64 {
	var total float64
	for _, f := range toFloatSlice(v) {
		total += f
	}
	return total
}

// builtinMinMax returns a variadic min/max implementation that also accepts
// a single array argument, covering both min(a, b, c) and min([a, b, c]).
func builtinMinMax(wantMax bool) func(args ...any) float64 {
	return func(args ...any) float64 {
		values := args
		if len(args) == 1 {
			if arr, ok := args[0].([]any); ok {
				values = arr
			}
		}
		if len(values) == 0 {
			return 0
		}
		best := toFloat(values[0])
		for _, v := range values[1:] {
			f := toFloat(v)
			if (wantMax && f > best) || (!wantMax && f < best) {
				best = f
			}
		}
		return best
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != ""
	case nil:
		return false
	default:
		return true
	}
}

func builtinAll(v any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if !truthy(item) {
			return false
		}
	}
	return true
}

func builtinAny(v any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if truthy(item) {
			return true
		}
	}
	return false
}

func builtinAbs(v any) float64 {
	f := toFloat(v)
	if f < 0 {
		return -f
	}
	return f
}
