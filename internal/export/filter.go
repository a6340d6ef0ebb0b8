package export

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// Filter is a compiled CEL predicate over calls. Expressions see a single
// variable, call, with the fields name, file, line, depth, goroutine,
// duration_ms, when_ms and caller:
//
//	call.duration_ms >= 100 && call.name.startsWith("main.")
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles expr.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(cel.Variable("call", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter %q must be a boolean expression, got %s", expr, t)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}
	return &Filter{expr: expr, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter for one call.
func (f *Filter) Match(c recording.Call) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{"call": callVars(c)})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %v, not a boolean", f.expr, out.Value())
	}
	return matched, nil
}

// Apply returns the calls that match, in order.
func (f *Filter) Apply(calls []recording.Call) ([]recording.Call, error) {
	kept := make([]recording.Call, 0, len(calls))
	for _, c := range calls {
		ok, err := f.Match(c)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func callVars(c recording.Call) map[string]any {
	return map[string]any{
		"name":        c.CallSite.Name,
		"file":        c.CallSite.Filename,
		"line":        int64(c.CallSite.Line),
		"depth":       int64(c.Depth),
		"goroutine":   c.GoroutineID,
		"duration_ms": c.Duration.Milliseconds(),
		"when_ms":     c.When.Milliseconds(),
		"caller":      c.CallerSite.Name,
	}
}
