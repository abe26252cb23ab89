// Package coordinator keeps sibling stores consistent.
//
// Every non-standalone store registers with one Coordinator. When the
// server confirms a write in one store, the coordinator applies the
// confirmed records to every other registered store: matching records
// are merged, deletions are removed without a save, and creations are
// offered to each store's create filter. Failed requests stay with the
// store that issued them; the coordinator only re-broadcasts them.
//
// Registration follows a small state machine per store:
//
//	unregistered -> registered -> unregistering -> unregistered
//
// A serverOnly store is never subscribed for beforesave, save, update or
// remove, since it cannot be the source of a local edit.
//
// The coordinator runs on the loop of its stores and is not safe for
// concurrent use.
package coordinator
