// Package op defines the relay work tree and the revision-checked arena that holds it.
//
// An Op is a tagged variant:
//   - Leaf: an opaque JSON payload interpreted by a plugin or a chain adapter
//   - Seq: children run strictly in order, the first failure aborts the rest
//   - Retry: re-runs Inner with a decremented budget, exhaustion fails the parent
//   - DeferUntil: not dispatched until Condition is confirmed externally
//   - Aggregate: children run independently and settle through a Combinator
//
// Queued operations are identified by an engine-generated ID and guarded by a
// revision counter. Arena.Replace only succeeds with the current revision and
// bumps it, so two writers can never silently overwrite each other.
//
// Equality is structural: two operations are equal when their canonical JSON
// encodings hash to the same BLAKE3 digest.
package op
