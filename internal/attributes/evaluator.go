package attributes

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/postfix-tracer/internal/config"
	"github.com/mrzor/postfix-tracer/internal/txn"
	"go.opentelemetry.io/otel/attribute"
)

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	environ       map[string]string
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions.
func NewEvaluator(customAttrs []config.CustomAttribute, opts ...Option) (*Evaluator, error) {
	o := buildOptions(opts)
	exprEnv := typeEnv()

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := expr.Compile(attr.Expression, expr.Env(exprEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		environ:       o.environ,
	}, nil
}

// EvaluateCustomAttributes evaluates custom attribute expressions for t.
// An attribute whose expression fails is skipped; the failures are joined
// into the returned error alongside the attributes that did evaluate.
func (e *Evaluator) EvaluateCustomAttributes(t *txn.Transaction) ([]attribute.KeyValue, error) {
	if len(e.customAttrs) == 0 || t == nil {
		return nil, nil
	}

	env := Env(t, e.environ)

	var attrs []attribute.KeyValue
	var errs []error
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to evaluate expression for attribute %q: %w", customAttr.Name, err))
			continue
		}
		attrs = append(attrs, expand(customAttr.Name, output)...)
	}

	return attrs, errors.Join(errs...)
}

// expand turns a map result into name.key attributes and anything else into
// a single string attribute.
func expand(name string, output interface{}) []attribute.KeyValue {
	outputValue := reflect.ValueOf(output)
	if outputValue.Kind() != reflect.Map {
		return []attribute.KeyValue{attribute.String(name, fmt.Sprint(output))}
	}

	keys := outputValue.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		attrName := name + "." + sanitizeAttributeName(fmt.Sprint(key.Interface()))
		// Nested maps and slices use the default Go format.
		attrs = append(attrs, attribute.String(attrName, fmt.Sprintf("%v", outputValue.MapIndex(key).Interface())))
	}
	return attrs
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
