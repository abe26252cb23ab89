package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/testutil"
	"github.com/roach88/recsync/internal/wire"
)

func TestSave_CreatesPhantomRecords(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.phantomNote("hello")
	require.NoError(t, s.Add(r))
	ev := listen(s)

	b, err := s.Save(t.Context())
	require.NoError(t, err)
	assert.Len(t, b.Create, 1)
	assert.Len(t, ev.beforeSave, 1)
	assert.True(t, s.IsExecuting(wire.ActionCreate))

	e.drain()

	req := e.transport.Last()
	require.NotNil(t, req)
	assert.Equal(t, wire.ActionCreate, req.Action)
	assert.Equal(t, "inbox", req.Store)
	assert.Equal(t, "phantom:1", req.Items[0].ID)
	assert.Equal(t, ir.IRString("hello"), req.Items[0].Props["subject"])

	assert.Equal(t, "E-1", r.ID())
	assert.False(t, r.Phantom())
	assert.False(t, r.Dirty())
	assert.Equal(t, int64(1), r.Version())
	assert.Equal(t, ir.IRString("E-1"), r.Get("entryid"))
	assert.Empty(t, s.Modified())
	assert.Empty(t, s.Pending())
	assert.False(t, s.IsExecuting(wire.ActionCreate))

	require.Len(t, ev.write, 1)
	assert.Equal(t, wire.ActionCreate, ev.write[0].Action)
	assert.Same(t, r, ev.write[0].Records[0])
	require.Len(t, ev.save, 1)
	assert.Same(t, b, ev.save[0].Batch)
	assert.True(t, b.Done())
	assert.NoError(t, b.Err())
}

func TestSave_UpdateSendsChangedProps(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", ir.IRObject{"subject": ir.IRString("a"), "body": ir.IRString("unchanged")})
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("b")})

	b, err := s.Save(t.Context())
	require.NoError(t, err)
	assert.Len(t, b.Update, 1)
	e.drain()

	req := e.transport.Last()
	assert.Equal(t, wire.ActionUpdate, req.Action)
	assert.Equal(t, ir.IRObject{"subject": ir.IRString("b"), "entryid": ir.IRString("E1")}, req.Items[0].Props)
	assert.Empty(t, s.Modified())
	assert.False(t, r.IsModified("subject"))
	assert.Equal(t, ir.IRString("b"), r.Get("subject"))
}

func TestSave_DestroysRemovedRecords(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	require.NoError(t, s.Add(r))
	require.NoError(t, s.Remove(r))
	ev := listen(s)

	b, err := s.Save(t.Context())
	require.NoError(t, err)
	assert.Len(t, b.Destroy, 1)
	e.drain()

	req := e.transport.Last()
	assert.Equal(t, wire.ActionDestroy, req.Action)
	assert.Nil(t, req.Items[0].Props)
	assert.Empty(t, s.Removed())
	assert.True(t, r.Destroyed())
	require.Len(t, ev.write, 1)
	assert.Equal(t, wire.ActionDestroy, ev.write[0].Action)
}

func TestSave_RequestOrder(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	gone := e.note("E1", nil)
	changed := e.note("E2", nil)
	require.NoError(t, s.Add(gone, changed))
	require.NoError(t, s.Remove(gone))
	edit(t, changed, ir.IRObject{"subject": ir.IRString("x")})
	require.NoError(t, s.Add(e.phantomNote("new")))

	b, err := s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	var actions []wire.Action
	for _, req := range e.transport.Requests() {
		actions = append(actions, req.Action)
	}
	assert.ElementsMatch(t, []wire.Action{wire.ActionDestroy, wire.ActionCreate, wire.ActionUpdate}, actions)
	hs := b.Handles()
	require.Len(t, hs, 3)
	assert.Equal(t, wire.ActionDestroy, hs[0].Action())
	assert.Equal(t, wire.ActionCreate, hs[1].Action())
	assert.Equal(t, wire.ActionUpdate, hs[2].Action())
	assert.Less(t, hs[0].Seq(), hs[1].Seq())
}

func TestSave_NothingPending(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	ev := listen(s)

	b, err := s.Save(t.Context())
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Empty(t, ev.beforeSave)
	assert.Empty(t, e.transport.Requests())
}

func TestSave_NeedsTransport(t *testing.T) {
	e := newEnv(t)
	s, err := New("inbox", e.factory, WithLoop(e.loop))
	require.NoError(t, err)

	_, err = s.Save(t.Context())
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestSave_InvalidRecordIsLeftOut(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	good := e.phantomNote("ok")
	bad := e.phantomNote("bad")
	child, err := e.factory.CreateChild(bad.SubStore("recipients"), ir.IRObject{"rowid": ir.IRInt(1)})
	require.NoError(t, err)
	require.NoError(t, bad.SubStore("recipients").Add(child))
	require.NoError(t, s.Add(good, bad))
	ev := listen(s)

	b, err := s.Save(t.Context())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	require.Len(t, b.Invalid, 1)
	assert.Equal(t, bad.ID(), b.Invalid[0].RecordID)
	assert.Len(t, b.Create, 1)
	require.Len(t, ev.invalid, 1)
	assert.Same(t, bad, ev.invalid[0].Record)

	e.drain()
	assert.True(t, s.IsModified(bad))
	assert.False(t, s.IsModified(good))
}

func TestSave_TransportFailureKeepsPendingChanges(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	gone := e.note("E2", nil)
	require.NoError(t, s.Add(r, gone))
	require.NoError(t, s.Remove(gone))
	edit(t, r, ir.IRObject{"subject": ir.IRString("x")})
	ev := listen(s)

	offline := errors.New("offline")
	e.transport.Enqueue(testutil.Fail(offline), testutil.Fail(offline))
	b, err := s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	assert.Empty(t, ev.write)
	require.Len(t, ev.exception, 2)
	assert.True(t, IsTransportError(ev.exception[0].Err))
	assert.ErrorIs(t, ev.exception[0].Err, offline)
	assert.True(t, s.IsModified(r))
	assert.True(t, r.IsModified("subject"))
	require.Len(t, s.Removed(), 1)
	assert.Same(t, gone, s.Removed()[0])
	require.Len(t, ev.save, 1)
	assert.Error(t, b.Err())

	_, err = s.Save(t.Context())
	require.NoError(t, err)
	e.drain()
	assert.Empty(t, s.Modified())
	assert.Empty(t, s.Removed())
}

func TestSave_ServerErrorIsException(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("x")})
	ev := listen(s)

	e.transport.Enqueue(testutil.Reply(wire.Response{Error: &wire.Error{Code: wire.CodeConflict, Message: "version mismatch"}}))
	_, err := s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	require.Len(t, ev.exception, 1)
	var we *wire.Error
	require.ErrorAs(t, ev.exception[0].Err, &we)
	assert.Equal(t, wire.CodeConflict, we.Code)
	assert.NotNil(t, ev.exception[0].Response)
	assert.True(t, s.IsModified(r))
}

func TestSave_AbortFiresNothing(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("x")})
	ev := listen(s)

	e.transport.Hold()
	b, err := s.Save(t.Context())
	require.NoError(t, err)
	h := b.Handles()[0]
	s.Abort(h)
	e.transport.Release()
	e.drain()

	assert.True(t, h.Aborted())
	assert.Empty(t, s.Pending())
	assert.Empty(t, ev.write)
	assert.Empty(t, ev.exception)
	assert.Empty(t, ev.save)
	assert.True(t, s.IsModified(r))
	assert.True(t, r.IsModified("subject"))
	assert.True(t, b.Done())
}

func TestSave_RecordInFlightWaitsForNextSave(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.phantomNote("once")
	require.NoError(t, s.Add(r))

	e.transport.Hold()
	_, err := s.Save(t.Context())
	require.NoError(t, err)
	second, err := s.Save(t.Context())
	require.NoError(t, err)
	assert.True(t, second.Empty())
	e.transport.Release()
	e.drain()

	assert.Len(t, e.transport.Requests(), 1)
}

func TestSave_EditsDuringFlightStayModified(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", ir.IRObject{"subject": ir.IRString("a")})
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("b")})

	e.transport.Hold()
	_, err := s.Save(t.Context())
	require.NoError(t, err)
	edit(t, r, ir.IRObject{"subject": ir.IRString("c"), "body": ir.IRString("later")})
	e.transport.Release()
	e.drain()

	assert.Equal(t, ir.IRString("c"), r.Get("subject"))
	assert.Equal(t, ir.IRString("b"), r.Original("subject"))
	assert.Equal(t, []string{"subject", "body"}, r.ModifiedFields())
	assert.True(t, s.IsModified(r))
}

// withRecipients answers like Echo and reports the recipients the server
// now holds for the first item.
func withRecipients(children ...ir.IRObject) testutil.Responder {
	echo := testutil.Echo(testutil.NewSequence("X"))
	return func(req *wire.Request) (*wire.Response, error) {
		resp, err := echo(req)
		if err != nil {
			return nil, err
		}
		resp.Items[0].SubStores = map[string][]ir.IRObject{"recipients": children}
		return resp, nil
	}
}

func (e *env) recipient(r *record.Record, name string) *record.Record {
	e.t.Helper()
	child, err := e.factory.CreateChild(r.SubStore("recipients"), ir.IRObject{"display_name": ir.IRString(name)})
	require.NoError(e.t, err)
	require.NoError(e.t, r.SubStore("recipients").Add(child))
	return child
}

func TestSave_SubStoreEditsDuringFlightStayPending(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", ir.IRObject{"subject": ir.IRString("a")})
	require.NoError(t, s.Add(r))
	edit(t, r, ir.IRObject{"subject": ir.IRString("b")})
	sent := e.recipient(r, "Ann")
	recips := r.SubStore("recipients")

	e.transport.Enqueue(withRecipients(ir.IRObject{"rowid": ir.IRInt(1), "display_name": ir.IRString("Ann")}))
	e.transport.Hold()
	_, err := s.Save(t.Context())
	require.NoError(t, err)
	late := e.recipient(r, "Bob")
	e.transport.Release()
	e.drain()

	require.Equal(t, 2, recips.Len())
	assert.Same(t, sent, recips.At(0))
	assert.False(t, sent.Phantom())
	assert.Equal(t, ir.IRInt(1), sent.Get("rowid"))
	assert.Same(t, late, recips.At(1))
	assert.True(t, late.Phantom())
	assert.Equal(t, []*record.Record{late}, recips.Modified())
	assert.False(t, r.IsModified("subject"))
	assert.True(t, r.Dirty())
	assert.True(t, s.IsModified(r))

	_, err = s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	req := e.transport.Last()
	require.Len(t, req.Items, 1)
	changes := req.Items[0].SubStores["recipients"]
	require.NotNil(t, changes)
	require.Len(t, changes.Add, 1)
	assert.Equal(t, ir.IRString("Bob"), changes.Add[0]["display_name"])
	assert.Empty(t, changes.Modify)
	assert.False(t, r.Dirty())
}

func TestSave_ChildRemovedDuringCreateIsDestroyedNext(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	require.NoError(t, s.Add(r))
	child := e.recipient(r, "Ann")
	recips := r.SubStore("recipients")

	e.transport.Enqueue(withRecipients(ir.IRObject{"rowid": ir.IRInt(7), "display_name": ir.IRString("Ann")}))
	e.transport.Hold()
	_, err := s.Save(t.Context())
	require.NoError(t, err)
	require.NoError(t, recips.Remove(child))
	e.transport.Release()
	e.drain()

	assert.Zero(t, recips.Len(), "the server's copy is not brought back")
	assert.Equal(t, []*record.Record{child}, recips.Removed())
	assert.Equal(t, ir.IRInt(7), child.Get("rowid"))
	assert.True(t, s.IsModified(r))

	_, err = s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	changes := e.transport.Last().Items[0].SubStores["recipients"]
	require.NotNil(t, changes)
	require.Len(t, changes.Remove, 1)
	assert.Equal(t, ir.IRInt(7), changes.Remove[0]["rowid"])
	assert.True(t, child.Destroyed())
}

func TestSave_PartialResponseIsAtomic(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	first := e.note("E1", ir.IRObject{"subject": ir.IRString("a")})
	second := e.note("E2", ir.IRObject{"subject": ir.IRString("a")})
	require.NoError(t, s.Add(first, second))
	edit(t, first, ir.IRObject{"subject": ir.IRString("one")})
	edit(t, second, ir.IRObject{"subject": ir.IRString("two")})
	ev := listen(s)

	e.transport.Enqueue(testutil.Reply(wire.Response{Items: []wire.ResponseItem{
		{ID: "E1", Version: 2, Props: ir.IRObject{"entryid": ir.IRString("E1"), "subject": ir.IRString("one")}},
	}}))
	b, err := s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	require.Len(t, ev.exception, 1)
	assert.Empty(t, ev.write)
	assert.Error(t, b.Err())
	assert.Equal(t, []*record.Record{first, second}, s.Modified())
	assert.True(t, first.IsModified("subject"))
	assert.Equal(t, ir.IRString("a"), first.Original("subject"))
	assert.Zero(t, first.Version())
	assert.True(t, second.IsModified("subject"))
}

func TestSave_MessageActionsAreSentAndCleared(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.note("E1", nil)
	require.NoError(t, s.Add(r))
	r.MoveTo("F9", "S1")
	s.QueueActions(r)

	_, err := s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	req := e.transport.Last()
	require.Len(t, req.Items[0].Actions, 1)
	assert.Equal(t, "move", req.Items[0].Actions[0].Type)
	assert.False(t, r.HasActions())
	assert.Empty(t, s.Modified())
}

func TestSave_ServerSubStoreContentsReplaceLocal(t *testing.T) {
	e := newEnv(t)
	s := e.store("inbox")
	r := e.phantomNote("with attachment")
	att, err := e.factory.CreateChild(r.SubStore("attachments"), ir.IRObject{"name": ir.IRString("a.txt")})
	require.NoError(t, err)
	require.NoError(t, r.SubStore("attachments").Add(att))
	require.NoError(t, s.Add(r))

	e.transport.Enqueue(func(req *wire.Request) (*wire.Response, error) {
		return &wire.Response{ID: req.ID, Action: req.Action, Items: []wire.ResponseItem{{
			ID:      "E7",
			TempID:  req.Items[0].ID,
			Version: 1,
			Props:   ir.IRObject{"entryid": ir.IRString("E7"), "hasattach": ir.IRBool(true)},
			SubStores: map[string][]ir.IRObject{
				"attachments": {{"attach_num": ir.IRInt(0), "name": ir.IRString("a.txt")}},
			},
		}}}, nil
	})
	_, err = s.Save(t.Context())
	require.NoError(t, err)
	e.drain()

	sub := r.SubStore("attachments")
	require.Equal(t, 1, sub.Len())
	assert.Equal(t, ir.IRInt(0), sub.At(0).Get("attach_num"))
	assert.False(t, sub.At(0).Phantom())
	assert.False(t, sub.HasChanges())
	assert.Equal(t, ir.IRBool(true), r.Get("hasattach"))
	assert.False(t, r.Dirty())
}
