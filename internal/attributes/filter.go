package attributes

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/postfix-tracer/internal/txn"
)

// Filter is a compiled boolean predicate over a transaction.
// The zero value and a nil *Filter match everything.
type Filter struct {
	program *vm.Program
	rawExpr string
	environ map[string]string
}

// NewFilter compiles exprStr, which must evaluate to a bool.
// An empty exprStr yields a filter that matches everything.
func NewFilter(exprStr string, opts ...Option) (*Filter, error) {
	if exprStr == "" {
		return &Filter{}, nil
	}
	o := buildOptions(opts)

	program, err := expr.Compile(exprStr, expr.Env(typeEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", err)
	}

	return &Filter{program: program, rawExpr: exprStr, environ: o.environ}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.rawExpr
}

// Match reports whether t passes the filter.
func (f *Filter) Match(t *txn.Transaction) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}

	output, err := expr.Run(f.program, Env(t, f.environ))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", f.rawExpr, err)
	}
	return output.(bool), nil
}
