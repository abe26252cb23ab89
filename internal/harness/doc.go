// Package harness runs yaml scenarios against a set of coordinated
// stores backed by an in-memory reference server.
//
// A scenario declares stores, a list of steps (create, set, save, load,
// open, remove, ...) and assertions over the resulting trace and state.
// The loop is drained after every step, so each step sees the effects of
// the previous one. Requests issued together may complete in any order;
// the trace lists the events of one step grouped by request in the order
// the requests were issued, which keeps golden traces stable.
//
// Records are referred to by the alias given when they were created. The
// same alias names the record in every store that holds a record with
// the same entry id.
package harness
