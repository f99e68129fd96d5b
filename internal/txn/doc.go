// Package txn defines the per-message delivery transaction reconstructed from
// mail log lines.
//
// A Transaction is created when smtpd accepts a connection and is enriched by
// every later line that correlates to it:
//
//	connect ──→ accept (queue ID) ──→ cleanup (message-id) ──→ qmgr from=
//	   │                                   │
//	   │                                   └──→ re-injection: second queue ID
//	   │
//	   └──→ NOQUEUE reject (terminal)
//
//	delivery (pipe / smtp / virtual) ──→ spamd verdict ──→ qmgr removed
//
// The record only carries data. Correlation keys live in the correlation
// package and the transition rules in eventprocessor.
package txn
