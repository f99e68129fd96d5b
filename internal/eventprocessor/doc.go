// Package eventprocessor turns classified Postfix log lines into transactions
// and decides when a transaction is complete.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      linestream (one goroutine)         │
//	└─────────────────┬───────────────────────┘
//	                  │ HandleLine
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Line routing
//	│   - Ticks the logical clock             │
//	│   - Dispatches through logline rules    │
//	│   - Logs diagnostics by severity        │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ connect ──────→ new Transaction, keyed by smtpd pid
//	          ├──→ noqueue ──────→ rejected, finalized immediately
//	          ├──→ accept ───────→ primary queue ID
//	          ├──→ cleanup ──────→ message ID, or delivery queue ID on re-injection
//	          ├──→ queued ───────→ sender, size, recipient count
//	          ├──→ pipe/smtp/virtual → recipient, relay, delay, result, status
//	          ├──→ spam ─────────→ scanner pid → score, report, verdict
//	          └──→ removed ──────→ finalize (or non-final, per RemovalPolicy)
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   correlation.Store                     │  ← four key spaces + expiry
//	└─────────────────────────────────────────┘
//	                  │ finalized
//	                  ▼
//	             Reporter.Report
//
// Handlers return errors instead of logging them. A nil error covers both
// success and soft misses (optional enrichment with nothing to enrich). A
// warned miss is wrapped with Warning. Hard misses wrap one of the Err*NotFound
// sentinels, and parse failures wrap logline.ErrMalformed. No error stops
// ingestion.
package eventprocessor
