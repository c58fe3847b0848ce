// Package expr implements the constrained expression evaluator used for task
// conditions, expression tasks, and transforms. Expressions are parsed into a
// typed HCL syntax tree and evaluated against a fixed scope of execution
// variables and prior task results. Arbitrary code is never evaluated: the
// only reachable names are the scope's roots and a whitelisted function table.
package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Expr is a compiled expression, safe for concurrent evaluation against
// independent scopes.
type Expr struct {
	src  string
	expr hclsyntax.Expression
}

// functionTable is the fixed whitelist of functions available to expressions.
var functionTable = map[string]function.Function{
	"length":   stdlib.LengthFunc,
	"contains": stdlib.ContainsFunc,
	"upper":    stdlib.UpperFunc,
	"lower":    stdlib.LowerFunc,
	"coalesce": stdlib.CoalesceFunc,
}

// Compile parses the expression source into an evaluable syntax tree. The
// returned error carries HCL's diagnostic text for the offending token.
func Compile(src string) (*Expr, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse expression %q: %s", src, diags.Error())
	}
	return &Expr{src: src, expr: parsed}, nil
}

// String returns the original source of the expression.
func (e *Expr) String() string {
	return e.src
}

// Eval evaluates the expression against the given scope.
func (e *Expr) Eval(scope *Scope) (cty.Value, error) {
	evalCtx, err := scope.evalContext()
	if err != nil {
		return cty.NilVal, err
	}

	// Reject references outside the scope's schema up front so the error
	// names the reference rather than surfacing as a generic eval failure.
	for _, traversal := range e.expr.Variables() {
		root := traversal.RootName()
		if _, ok := evalCtx.Variables[root]; !ok {
			return cty.NilVal, fmt.Errorf("expression %q references unknown name '%s' (available: var, task, item, index)", e.src, root)
		}
	}

	val, diags := e.expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("failed to evaluate expression %q: %s", e.src, diags.Error())
	}
	return val, nil
}

// EvalBool evaluates the expression and converts the result to a boolean.
func (e *Expr) EvalBool(scope *Scope) (bool, error) {
	val, err := e.Eval(scope)
	if err != nil {
		return false, err
	}
	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("expression %q did not produce a boolean: %w", e.src, err)
	}
	if boolVal.IsNull() {
		return false, fmt.Errorf("expression %q produced a null boolean", e.src)
	}
	return boolVal.True(), nil
}

// EvalNative evaluates the expression and converts the result back to a
// native Go value (bool, string, int64, float64, []any, map[string]any).
func (e *Expr) EvalNative(scope *Scope) (any, error) {
	val, err := e.Eval(scope)
	if err != nil {
		return nil, err
	}
	return FromCty(val)
}
