// Package loop provides the single goroutine that owns all record, store
// and coordinator state.
//
// Record mutation, merging and event dispatch run on the loop and never
// interleave. The only suspension points are network calls: Go runs the
// blocking part on its own goroutine and posts the continuation back to
// the loop, so a response is applied only between two tasks.
//
// Long-lived processes call Run. Tests and one-shot commands call Drain,
// which returns once the queue is empty and no network work is in flight.
package loop
