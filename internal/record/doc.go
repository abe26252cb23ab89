// Package record implements edit-tracked records, their child
// collections (sub-stores) and the merge that folds one copy of a record
// into another.
//
// A Record is mutated with Set, optionally grouped by BeginEdit/EndEdit.
// Inside a transaction no notification fires; the outermost EndEdit
// fires one UpdateEvent naming every field whose value changed. A record
// reports edits and commits to its Container, which is the owning store
// for top-level records and the owning SubStore for children.
//
// None of the types here are safe for concurrent use. All mutation is
// expected to happen on one goroutine (see package loop).
package record
