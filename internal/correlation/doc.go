// Package correlation indexes in-flight transactions by the identifiers the
// mail subsystems log.
//
// Four independent key spaces point at shared *txn.Transaction records:
//
//	ByConnection  smtpd pid          (recycled by the OS)
//	ByQueue       queue ID           (primary and re-injected)
//	ByMessage     Message-ID header  (stable across re-injection)
//	ByScanner     spamd child pid    (recycled by the OS)
//
// Store provides command-query separation:
//
// Queries (read-only):
//   - Get(space, key) - Look up a transaction
//   - Len(space) - Number of keys in a space
//   - Tracked() - Number of tracked transactions
//
// Commands (mutations):
//   - Track(t) - Start tracking a transaction, assigning its serial
//   - Put(space, key, t) - Index a transaction, replacing any stale entry
//   - Touch(t) - Record activity at the current clock
//   - MarkFinalized(t) - Start the retention grace window
//   - Tick() - Advance the logical clock by one line
//   - Sweep() - Purge expired transactions from every key space
//   - Delete(t) - Drop a transaction and all of its keys
//
// The clock counts processed lines rather than wall time, so expiry is
// deterministic for a given input. The number of tracked transactions is
// bounded by an LRU; the least recently touched transaction is evicted first.
//
// Thread-safe with RWMutex for concurrent access.
package correlation
