package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/testutil"
	"github.com/roach88/recsync/internal/wire"
)

func listItem(id, subject string, version int64) wire.ResponseItem {
	return wire.ResponseItem{ID: id, Version: version, Props: ir.IRObject{
		"entryid":        ir.IRString(id),
		"message_class":  ir.IRString("IPM.Note"),
		"parent_entryid": ir.IRString("F1"),
		"subject":        ir.IRString(subject),
	}}
}

func TestLoad_FillsStore(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	ev := listen(s)
	e.transport.Enqueue(testutil.Reply(wire.Response{
		Items: []wire.ResponseItem{listItem("E1", "one", 2), listItem("E2", "two", 1)},
		Total: 5,
	}))

	h, err := s.Load(t.Context(), LoadOptions{
		Folders:     []string{"F1"},
		Restriction: restriction.Contains("subject", "o"),
		Sort:        []wire.SortKey{{Field: "subject"}},
		Limit:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, wire.ActionList, h.Action())
	e.drain()

	req := e.transport.Last()
	require.NotNil(t, req.List)
	assert.Equal(t, []string{"F1"}, req.List.Folders)
	assert.Equal(t, 2, req.List.Limit)
	assert.NotNil(t, req.List.Restriction.Restriction)

	require.Equal(t, 2, s.Len())
	assert.Equal(t, "E1", s.At(0).ID())
	assert.Equal(t, int64(2), s.At(0).Version())
	assert.Equal(t, ir.IRString("one"), s.At(0).Get("subject"))
	assert.Empty(t, s.Modified())
	require.Len(t, ev.load, 1)
	assert.Equal(t, 5, ev.load[0].Total)
	assert.Equal(t, []string{"F1"}, ev.load[0].Options.Folders)
	require.Len(t, ev.add, 1)
	assert.Len(t, ev.add[0].Records, 2)

	assert.True(t, s.ContainsFolderInLastLoad("F1"))
	assert.False(t, s.ContainsFolderInLastLoad("F2"))
	assert.False(t, s.ContainsFolderInLastLoad(""))
	assert.NotZero(t, s.LastExecution(wire.ActionList))
}

func TestLoad_KeepsIdentityAndLocalEdits(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	edited := e.note("E1", ir.IRObject{"subject": ir.IRString("old"), "body": ir.IRString("b")})
	stale := e.note("E2", nil)
	draft := e.phantomNote("draft")
	require.NoError(t, s.Add(edited, stale, draft))
	edit(t, edited, ir.IRObject{"subject": ir.IRString("mine")})

	e.transport.Enqueue(testutil.Reply(wire.Response{Items: []wire.ResponseItem{
		listItem("E1", "server", 3),
		listItem("E3", "three", 1),
	}}))
	_, err := s.Load(t.Context(), LoadOptions{Folders: []string{"F1"}})
	require.NoError(t, err)
	e.drain()

	require.Equal(t, 3, s.Len())
	assert.Same(t, edited, s.At(0))
	assert.Equal(t, "E3", s.At(1).ID())
	assert.Same(t, draft, s.At(2))
	assert.Equal(t, ir.IRString("mine"), edited.Get("subject"))
	assert.True(t, edited.IsModified("subject"))
	assert.Equal(t, int64(3), edited.Version())
	assert.True(t, stale.Destroyed())
	assert.ElementsMatch(t, []*record.Record{edited, draft}, s.Modified())
}

func TestLoad_SkipsUnknownTypes(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	e.transport.Enqueue(testutil.Reply(wire.Response{Items: []wire.ResponseItem{
		{ID: "X1", Props: ir.IRObject{"object_type": ir.IRInt(99)}},
		listItem("E1", "one", 1),
	}}))

	_, err := s.Load(t.Context(), LoadOptions{})
	require.NoError(t, err)
	e.drain()

	require.Equal(t, 1, s.Len())
	assert.Equal(t, "E1", s.At(0).ID())
}

func TestLoad_CancelsOutstandingLoad(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	ev := listen(s)

	e.transport.Hold()
	first, err := s.Load(t.Context(), LoadOptions{Folders: []string{"F1"}})
	require.NoError(t, err)
	second, err := s.Load(t.Context(), LoadOptions{Folders: []string{"F2"}})
	require.NoError(t, err)

	assert.True(t, first.Aborted())
	assert.Equal(t, []*Handle{second}, s.Pending())
	e.transport.Release()
	e.drain()

	assert.Len(t, ev.load, 1)
	assert.True(t, s.ContainsFolderInLastLoad("F2"))
	assert.False(t, s.IsExecuting(wire.ActionList))
}

func TestReload(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")

	_, err := s.Reload(t.Context())
	assert.ErrorIs(t, err, ErrNoLastLoad)

	_, err = s.Load(t.Context(), LoadOptions{Folders: []string{"F1"}})
	require.NoError(t, err)
	e.drain()
	_, err = s.Reload(t.Context())
	require.NoError(t, err)
	e.drain()

	reqs := e.transport.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].List, reqs[1].List)
	opts, ok := s.LastLoad()
	require.True(t, ok)
	assert.Equal(t, []string{"F1"}, opts.Folders)
}

func TestOpen_MergesFullRecord(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", ir.IRObject{"subject": ir.IRString("a")})
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("mine")})
	ev := listen(s)

	e.transport.Enqueue(testutil.Reply(wire.Response{Items: []wire.ResponseItem{{
		ID:      "E1",
		Version: 4,
		Props:   ir.IRObject{"subject": ir.IRString("server"), "body": ir.IRString("full text")},
		SubStores: map[string][]ir.IRObject{
			"recipients": {{"rowid": ir.IRInt(1), "display_name": ir.IRString("Ann")}},
		},
	}}}))
	h, err := s.Open(t.Context(), r)
	require.NoError(t, err)
	e.drain()

	req := e.transport.Last()
	assert.Equal(t, wire.ActionOpen, req.Action)
	assert.Nil(t, req.Items[0].Props)

	assert.True(t, r.Opened())
	assert.Equal(t, int64(4), r.Version())
	assert.Equal(t, ir.IRString("full text"), r.Get("body"))
	assert.Equal(t, ir.IRString("mine"), r.Get("subject"))
	assert.True(t, r.IsModified("subject"))
	assert.False(t, r.IsModified("body"))
	assert.Equal(t, 1, r.SubStore("recipients").Len())
	assert.True(t, h.Batch() == nil)

	require.Len(t, ev.open, 1)
	require.Len(t, ev.write, 1)
	assert.Equal(t, wire.ActionOpen, ev.write[0].Action)
}

func TestOpen_RejectsForeignAndPhantomRecords(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")

	_, err := s.Open(t.Context(), e.note("E1", nil))
	assert.Error(t, err)

	draft := e.phantomNote("d")
	require.NoError(t, s.Add(draft))
	_, err = s.Open(t.Context(), draft)
	assert.Error(t, err)
}

func TestDestroy_DropsLateResponses(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	ev := listen(s)

	e.transport.Hold()
	_, err := s.Load(t.Context(), LoadOptions{})
	require.NoError(t, err)
	s.Destroy()
	e.transport.Release()
	e.drain()

	assert.Empty(t, ev.load)
	assert.Empty(t, s.Pending())
}
