package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	return NewFactory(schema.MustBuiltin(), WithIDGenerator(&SequenceGenerator{}))
}

// persistedNote builds a server-side IPM.Note.
func persistedNote(t *testing.T, f *Factory, entryid string, data ir.IRObject) *Record {
	t.Helper()
	d := data.Clone()
	if d == nil {
		d = ir.IRObject{}
	}
	d["entryid"] = ir.IRString(entryid)
	r, err := f.CreateByMessageClass("IPM.Note", d, entryid)
	require.NoError(t, err)
	return r
}

func recipient(t *testing.T, f *Factory, rowid int64, name string) *Record {
	t.Helper()
	def, err := f.Registry().ByCustomTypeName("recipient")
	require.NoError(t, err)
	r, err := f.Materialize(def, ir.IRObject{"rowid": ir.IRInt(rowid), "display_name": ir.IRString(name)})
	require.NoError(t, err)
	return r
}

func phantomRecipient(t *testing.T, f *Factory, data ir.IRObject) *Record {
	t.Helper()
	r, err := f.CreateByCustomTypeName("recipient", data, "")
	require.NoError(t, err)
	return r
}

// recorder is a Container that remembers what it was told.
type recorder struct {
	updated   []UpdateEvent
	committed []*Record
	rejected  []*Record
}

func (c *recorder) RecordUpdated(r *Record, ev UpdateEvent) { c.updated = append(c.updated, ev) }
func (c *recorder) RecordCommitted(r *Record)               { c.committed = append(c.committed, r) }
func (c *recorder) RecordRejected(r *Record)                { c.rejected = append(c.rejected, r) }

func collectUpdates(r *Record) *[]UpdateEvent {
	var events []UpdateEvent
	r.Updates().Subscribe(&events, func(ev UpdateEvent) { events = append(events, ev) })
	return &events
}

func collectSubStore(s *SubStore) *[]SubStoreEvent {
	var events []SubStoreEvent
	s.Events().Subscribe(&events, func(ev SubStoreEvent) { events = append(events, ev) })
	return &events
}

func names(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.GetString("display_name")
	}
	return out
}
