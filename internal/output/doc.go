// Package output provides reporters that turn finalized transactions into
// output.
//
// Every reporter implements Reporter: Report is called synchronously, in
// log order, once per finalization (plus once per non-final removal when the
// processor marks those). Reporters are pure formatting layers; they do not
// correlate, evaluate removal policy, or mutate the transaction.
//
// Available reporters, selected by name with New:
//   - summary: one line per transaction
//   - spam: one line per spam-verdict transaction
//   - detail: a multi-line block per transaction
//   - json: one JSON object per line
//   - otel: one OpenTelemetry span per transaction
//
// Multi fans a transaction out to several reporters and Filtered gates a
// reporter behind an expression.
package output
