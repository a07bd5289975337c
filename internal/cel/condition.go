// Package cel compiles mapping-rule condition expressions.
//
// Conditions are CEL predicates over request attributes. They keep the
// configuration declarative: an expression can gate a rule, but it cannot
// reach into the engine or load code.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RuleCondition is a compiled mapping-rule condition.
type RuleCondition struct {
	source  string
	program cel.Program
}

// CompileCondition compiles a CEL expression into a rule condition.
//
// The expression is evaluated with a `request` variable carrying `method`,
// `path` and `headers`, e.g.:
//
//	request.method == "GET" && request.headers["x-tier"] == "premium"
//
// and must produce a bool.
func CompileCondition(expr string) (*RuleCondition, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expr, issues.Err())
	}
	// Accesses through the dyn-typed request map check as dyn, so only
	// reject expressions that are statically some other concrete type.
	// Dyn results are checked again at evaluation time.
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to plan condition %q: %w", expr, err)
	}

	return &RuleCondition{source: expr, program: program}, nil
}

// Allows evaluates the condition against the request attributes.
func (c *RuleCondition) Allows(method, path string, headers map[string]string) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{
		"request": map[string]any{
			"method":  method,
			"path":    path,
			"headers": headers,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", c.source, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q produced %T, want bool", c.source, out.Value())
	}
	return allowed, nil
}
