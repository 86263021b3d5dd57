package guards

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/cgast/vguard/pkg/verify"
)

// exprCostLimit bounds the work a single evaluation may do.
const exprCostLimit = 10000

// ExpressionOption configures an ExpressionGuard.
type ExpressionOption func(*ExpressionGuard)

// WithMessage sets the failure message used when the expression is false.
func WithMessage(msg string) ExpressionOption {
	return func(g *ExpressionGuard) { g.message = msg }
}

// WithExpressionSeverity sets the severity of a false result.
func WithExpressionSeverity(sev verify.Severity) ExpressionOption {
	return func(g *ExpressionGuard) { g.severity = sev }
}

// WithExpressionTypes restricts the guard to candidates of the given types.
func WithExpressionTypes(types ...string) ExpressionOption {
	return func(g *ExpressionGuard) {
		for _, t := range types {
			g.types[t] = true
		}
	}
}

// ExpressionGuard evaluates a CEL rule over the candidate and context.
// The rule sees the variables candidate, context, arguments and output,
// and must yield a bool. Evaluation errors fail closed.
type ExpressionGuard struct {
	name     string
	expr     string
	message  string
	severity verify.Severity
	types    map[string]bool
	prg      cel.Program
}

// NewExpressionGuard compiles expr. A compile error or a non-bool result
// type is a *verify.ConfigError.
func NewExpressionGuard(name, expr string, opts ...ExpressionOption) (*ExpressionGuard, error) {
	g := &ExpressionGuard{
		name:     name,
		expr:     expr,
		severity: verify.SeverityError,
		types:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if name == "" {
		return nil, verify.Configf("expression", "expression guard needs a name")
	}
	if g.message == "" {
		g.message = fmt.Sprintf("expression %s rejected the candidate", name)
	}
	if !g.severity.Valid() {
		return nil, verify.Configf(name, "invalid severity %q", g.severity)
	}

	env, err := cel.NewEnv(
		cel.Variable("candidate", cel.DynType),
		cel.Variable("context", cel.DynType),
		cel.Variable("arguments", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, &verify.ConfigError{Guard: name, Reason: "create CEL environment", Err: err}
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &verify.ConfigError{Guard: name, Reason: fmt.Sprintf("compile %q", expr), Err: issues.Err()}
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, verify.Configf(name, "expression %q yields %s, want bool", expr, out)
	}
	g.prg, err = env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(exprCostLimit),
	)
	if err != nil {
		return nil, &verify.ConfigError{Guard: name, Reason: "build CEL program", Err: err}
	}
	return g, nil
}

func (g *ExpressionGuard) Name() string { return g.name }

// Expression returns the source of the rule.
func (g *ExpressionGuard) Expression() string { return g.expr }

func (g *ExpressionGuard) Check(candidate verify.Candidate, ctx verify.Context) verify.CheckResult {
	if len(g.types) > 0 && !g.types[candidate.Type()] {
		return verify.Pass(g.name, "not applicable")
	}

	input := map[string]any{
		"candidate": plainJSON(map[string]any(candidate)),
		"context":   plainJSON(map[string]any(ctx)),
		"arguments": plainJSON(decodeArguments(candidate["arguments"])),
		"output":    plainJSON(candidate["output"]),
	}
	for k, v := range input {
		if v == nil {
			input[k] = map[string]any{}
		}
	}

	out, _, err := g.prg.Eval(input)
	if err != nil {
		return verify.Fail(g.name, verify.SeverityError,
			fmt.Sprintf("expression %s could not be evaluated: %v", g.name, err)).
			WithDetails(map[string]any{"error": err.Error(), "expression": g.expr})
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return verify.Fail(g.name, verify.SeverityError,
			fmt.Sprintf("expression %s returned %T, want bool", g.name, out.Value())).
			WithDetail("expression", g.expr)
	}
	if !allowed {
		return verify.Fail(g.name, g.severity, g.message).WithDetail("expression", g.expr)
	}
	return verify.Pass(g.name, "")
}

// plainJSON reduces v to decoded-JSON shapes so numbers reach CEL as doubles
// regardless of the Go type they were built with.
func plainJSON(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
