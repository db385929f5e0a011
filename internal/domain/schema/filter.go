package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled boolean predicate over a source document, exposed to
// the expression as the map variable "doc".
type Filter struct {
	expr string
	prg  cel.Program
}

// CompileFilter compiles expr. The expression must evaluate to bool.
func CompileFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Match evaluates the filter. A Program is safe for concurrent use.
func (f *Filter) Match(doc map[string]any) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{"doc": celValue(doc)})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T", f.expr, out.Value())
	}
	return b, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// celValue converts json.Number values, which CEL would treat as strings, to
// int64 or float64 inside nested maps and lists.
func celValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = celValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = celValue(item)
		}
		return out
	default:
		return v
	}
}
