// Package dispatch drives queued operations through the optimization
// pipeline, one tick at a time.
//
// A tick runs these phases in order:
//   - gate: DeferUntil entries whose condition is now confirmed release their inner op
//   - filter: every filter-capable plugin sees the same batch of fresh entries
//     concurrently; the contributions are merged and applied
//   - process: claimed entries go back to the plugin named by their tag
//   - execute: ready leaves go to the chain executor; ready composites expand
//     into child entries
//
// Settling a child propagates to its parent: Seq advances or fails fast,
// Retry resubmits its inner op with one fewer attempt, Aggregate combines
// with all/any semantics and supersedes the losers, DeferUntil mirrors its
// inner op.
//
// Every state change is a compare-and-swap on the entry revision. A mutation
// computed from a revision that has since moved on is dropped without error,
// which is what makes replaying a tick after a crash safe.
//
// Plugin failures:
//   - transport error or timeout: no opinion, entries stay where they were
//   - retry=false error: the claimed entries fail with plugin_rejected
//   - malformed result: whole contribution discarded, plugin.misbehaving published
//
// Repeated failures trip a per-plugin circuit breaker that keeps the plugin
// out of ticks until its reset window elapses.
package dispatch
