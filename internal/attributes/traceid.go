package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/postfix-tracer/internal/txn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	program *vm.Program
	rawExpr string
	environ map[string]string
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If exprStr is empty, the evaluator returns zero trace IDs and the SDK
// generates random ones.
func NewTraceIDEvaluator(exprStr string, opts ...Option) (*TraceIDEvaluator, error) {
	if exprStr == "" {
		return &TraceIDEvaluator{}, nil
	}
	o := buildOptions(opts)

	program, err := expr.Compile(exprStr, expr.Env(typeEnv()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile trace-id expression: %w", err)
	}

	return &TraceIDEvaluator{
		program: program,
		rawExpr: exprStr,
		environ: o.environ,
	}, nil
}

// Enabled reports whether an expression is configured.
func (e *TraceIDEvaluator) Enabled() bool {
	return e != nil && e.program != nil
}

// EvaluateAndValidate evaluates the trace-id expression for t and validates
// the result. Returns the trace ID, any warnings to attach to the span, and
// an error. An empty result yields a zero trace ID.
func (e *TraceIDEvaluator) EvaluateAndValidate(t *txn.Transaction) (trace.TraceID, []attribute.KeyValue, error) {
	if !e.Enabled() {
		return trace.TraceID{}, nil, nil
	}
	if t == nil {
		return trace.TraceID{}, nil, fmt.Errorf("no transaction")
	}

	output, err := expr.Run(e.program, Env(t, e.environ))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to evaluate trace-id expression: %w", err)
	}

	resultStr := fmt.Sprint(output)
	if resultStr == "" {
		return trace.TraceID{}, nil, nil
	}

	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}

	// Not a trace ID: use the first 16 bytes of its SHA-256.
	hash := sha256.Sum256([]byte(resultStr))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", resultStr)),
	}

	return traceID, warnings, nil
}
