package store

import (
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/wire"
)

// Topic names accepted by HasListener.
const (
	TopicBeforeSave = "beforesave"
	TopicSave       = "save"
	TopicUpdate     = "update"
	TopicAdd        = "add"
	TopicRemove     = "remove"
	TopicWrite      = "write"
	TopicException  = "exception"
	TopicLoad       = "load"
	TopicOpen       = "open"
	TopicInvalid    = "invalid"
)

// UpdateOp says why a record changed.
type UpdateOp string

const (
	UpdateEdit   UpdateOp = "edit"
	UpdateCommit UpdateOp = "commit"
	UpdateReject UpdateOp = "reject"
)

// UpdateEvent reports a changed record.
type UpdateEvent struct {
	Store  *Store
	Record *record.Record
	Op     UpdateOp
	// Fields and SubStores are set for UpdateEdit.
	Fields    []string
	SubStores []string
}

// AddEvent reports records added to the store.
type AddEvent struct {
	Store   *Store
	Records []*record.Record
}

// RemoveEvent reports a record taken out of the store.
type RemoveEvent struct {
	Store  *Store
	Record *record.Record
	// External is set when the removal was confirmed elsewhere and will
	// not be sent to the server.
	External bool
}

// SaveEvent carries a batch before it is sent and after every request of
// it has completed.
type SaveEvent struct {
	Store *Store
	Batch *Batch
}

// WriteEvent reports records the server confirmed.
type WriteEvent struct {
	Store    *Store
	Request  string
	Action   wire.Action
	Records  []*record.Record
	Response *wire.Response
	// Seq is the loop clock value at which the response was applied.
	Seq int64
}

// ExceptionEvent reports a failed request. Pending changes are left
// untouched.
type ExceptionEvent struct {
	Store    *Store
	Request  string
	Action   wire.Action
	Records  []*record.Record
	Err      error
	Response *wire.Response
}

// LoadEvent reports the records of a completed list load.
type LoadEvent struct {
	Store   *Store
	Request string
	Records []*record.Record
	Total   int
	Options LoadOptions
}

// OpenEvent reports a fully fetched record.
type OpenEvent struct {
	Store   *Store
	Request string
	Record  *record.Record
}

// InvalidEvent reports a record left out of a save.
type InvalidEvent struct {
	Store  *Store
	Record *record.Record
	Err    *ValidationError
}
