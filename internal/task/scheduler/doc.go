// Package scheduler runs deferred work on a single worker goroutine.
//
// Callers submit units from any goroutine:
//   - one-shot units run once, on the iteration that dequeues them
//   - repeating units fire every Nth tick until ClearRepeating or Stop
//   - delayed units fire once, N ticks after they were dequeued
//
// One tick is one iteration of the worker loop, roughly every TickDelay.
// Each iteration dequeues at most one submission, then ticks every live
// repeating/delayed unit once. The iteration that dequeues a repeating or
// delayed unit (its promotion) counts as that unit's first tick, so a unit
// with interval N fires on the Nth iteration counting the promotion.
//
// Every action and all bookkeeping run on the worker, so actions never run
// concurrently with each other. A slow action delays everything behind it.
// Action errors and panics are logged and recorded; they never stop the loop.
package scheduler
