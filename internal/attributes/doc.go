// Package attributes evaluates expr-lang expressions against a transaction.
//
// Expressions see the transaction's fields under snake_case names (status,
// queue_id, from, to, spam_score, ...) plus env, the tracer's own
// environment. See Env for the full list.
//
// Three evaluators:
//   - Filter: a boolean predicate deciding whether a transaction is reported
//   - Evaluator: custom span attributes; map results expand into name.key attributes
//   - TraceIDEvaluator: trace IDs (32 hex chars)
//
// Trace ID results that are not valid hex IDs are hashed with SHA-256 to
// produce one, so any stable value (a message ID, for instance) can group
// spans into a trace.
package attributes
