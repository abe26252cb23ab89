// Package backend is a reference record server backed by SQLite.
//
// A Server executes wire requests against a single database file: items
// are stored as canonical JSON with their sub-store children in a
// separate table, every write bumps the item's version, and list loads
// compile restrictions to SQL where the SQL evaluation agrees with
// restriction.Match. Restrictions that cannot be expressed that way are
// evaluated in Go over the folder's rows.
//
// Server implements store.Transport, so a store can talk to it directly
// in-process or through the remote package's websocket handler.
package backend
