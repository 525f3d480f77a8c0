// Package txn provides the transactional substrate of the engine: exclusive
// resource locks per transaction, commit/rollback lifecycle, deadlock
// detection over a wait-for graph, and sweeping of expired transactions.
//
// Concurrency model: many logical actions can be in flight concurrently,
// each represented by one Tx. The only blocking point is lock acquisition;
// everything a transaction does between acquisitions is synchronous. Two
// transactions never concurrently own the same resource id.
//
// INVARIANTS:
//   - At most one owner per resource at any instant.
//   - A transaction that is not currently waiting has no outgoing wait-for
//     edges.
//   - A transaction is finalized (committed or rolled back) exactly once;
//     rollback is idempotent, commit is not.
package txn
