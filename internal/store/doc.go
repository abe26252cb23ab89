// Package store holds top-level records and talks to the server.
//
// A Store owns an ordered collection of records, the subset modified
// since the last save and the records removed since then. Save sends the
// pending changes through a Transport; Load and Open fetch records.
// Responses are applied on the loop, so record mutation never interleaves
// with a response.
//
// Lifecycle events are typed topics:
//
//	beforesave  a batch is about to be sent
//	save        every request of a batch has completed
//	update      a record changed (edit, commit or reject)
//	add         records were added
//	remove      a record was removed
//	write       the server confirmed create, update, destroy or open
//	exception   a request failed
//	load        a list load replaced the contents
//	open        a record was fully fetched
//	invalid     a record was excluded from a save by validation
//
// A store that is not standalone registers with a Registrar (the store
// coordinator) on construction and unregisters on Destroy. A serverOnly
// store never queues local edits and refuses to save.
package store
