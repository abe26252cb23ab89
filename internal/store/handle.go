package store

import (
	"context"
	"errors"
	"slices"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/wire"
)

// Handle tracks one outstanding request.
type Handle struct {
	id      string
	action  wire.Action
	records []*record.Record
	// sent holds the properties sent per record, to tell edits made
	// while the request was out from edits the server confirmed.
	sent map[*record.Record]ir.IRObject
	// children holds the child collection changes sent per record.
	children map[*record.Record]map[string]record.SentChanges
	batch   *Batch
	load    *LoadOptions
	seq     int64
	cancel  context.CancelFunc
	aborted bool
}

func (h *Handle) ID() string                { return h.id }
func (h *Handle) Action() wire.Action       { return h.action }
func (h *Handle) Records() []*record.Record { return slices.Clone(h.records) }
func (h *Handle) Seq() int64                { return h.seq }
func (h *Handle) Aborted() bool             { return h.aborted }
func (h *Handle) Batch() *Batch             { return h.batch }

// Batch is the set of requests issued by one Save.
type Batch struct {
	ID      string
	Create  []*record.Record
	Update  []*record.Record
	Destroy []*record.Record
	// Invalid lists records left out because they failed validation.
	Invalid []*ValidationError
	// Errors collects request failures, filled as responses arrive.
	Errors []error

	handles   []*Handle
	remaining int
	applied   int
}

// Empty reports whether the batch sends nothing.
func (b *Batch) Empty() bool {
	return len(b.Create) == 0 && len(b.Update) == 0 && len(b.Destroy) == 0
}

// Done reports whether every request of the batch has completed or was
// aborted.
func (b *Batch) Done() bool { return b.remaining == 0 }

// Handles returns the requests of the batch.
func (b *Batch) Handles() []*Handle { return slices.Clone(b.handles) }

// Err joins the request failures.
func (b *Batch) Err() error { return errors.Join(b.Errors...) }
