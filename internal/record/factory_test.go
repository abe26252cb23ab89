package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

func TestCreateByMessageClassAppliesDefaults(t *testing.T) {
	f := newTestFactory(t)
	r, err := f.CreateByMessageClass("ipm.note", ir.IRObject{"subject": ir.IRString("hi")}, "")
	require.NoError(t, err)

	assert.True(t, r.Phantom())
	assert.Equal(t, "phantom:1", r.ID())
	assert.Equal(t, "ipm.note", r.GetString("message_class"))
	assert.Equal(t, ir.IRInt(1), r.Get("importance"))
	assert.Equal(t, ir.IRString("hi"), r.Get("subject"))
	assert.Empty(t, r.ModifiedFields(), "initial data is not a modification")
	assert.True(t, r.SupportsSubStore("recipients"))
	assert.True(t, r.SupportsSubStore("attachments"))
	assert.False(t, r.SupportsSubStore("members"))
}

func TestCreateBySubclassInheritsParent(t *testing.T) {
	f := newTestFactory(t)
	r, err := f.CreateByMessageClass("IPM.Appointment.Occurrence", nil, "E9")
	require.NoError(t, err)

	assert.False(t, r.Phantom())
	assert.Equal(t, "E9", r.ID())
	assert.Equal(t, "E9", r.GetString("entryid"))
	assert.True(t, r.Schema().Has("startdate"))
	assert.True(t, r.Schema().Has("subject"))
	assert.Equal(t, "recipient", r.SubStore("recipients").ChildDefinition().Name())
}

func TestCreateByUnknownClassFails(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.CreateByMessageClass("REPORT.IPM.Note.NDR", nil, "")
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestCreateByObjectTypeAndRecordData(t *testing.T) {
	f := newTestFactory(t)

	folder, err := f.CreateByObjectType(schema.ObjectTypeFolder, ir.IRObject{"display_name": ir.IRString("Inbox")}, "F1")
	require.NoError(t, err)
	assert.Equal(t, "IPF.Note", folder.GetString("container_class"))
	assert.Empty(t, folder.SubStores())

	task, err := f.CreateByRecordData(ir.IRObject{"message_class": ir.IRString("IPM.Task")}, "T1")
	require.NoError(t, err)
	assert.True(t, task.Schema().Has("percent_complete"))
}

func TestCreateRejectsBadValues(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.CreateByMessageClass("IPM.Note", ir.IRObject{"importance": ir.IRString("high")}, "")
	require.Error(t, err)
	assert.True(t, schema.IsFieldError(err))
}

func TestMaterializeUsesIDField(t *testing.T) {
	f := newTestFactory(t)
	r := recipient(t, f, 4, "Dee")
	assert.False(t, r.Phantom())
	assert.Equal(t, "4", r.ID())
	key, ok := r.IdentityKey()
	assert.True(t, ok)
	assert.Equal(t, "4", key)

	def, err := f.Registry().ByCustomTypeName("attachment")
	require.NoError(t, err)
	att, err := f.Materialize(def, ir.IRObject{"name": ir.IRString("a.txt")})
	require.NoError(t, err)
	assert.False(t, att.Phantom())
	_, ok = att.IdentityKey()
	assert.True(t, ok, "persisted records fall back to their id")
}

func TestCreateChildMatchesSubStoreType(t *testing.T) {
	f := newTestFactory(t)
	msg := persistedNote(t, f, "E1", nil)
	child, err := f.CreateChild(msg.SubStore("attachments"), nil)
	require.NoError(t, err)
	assert.True(t, child.Phantom())
	assert.Equal(t, ir.IRInt(-1), child.Get("attach_num"))
	_, ok := child.IdentityKey()
	assert.False(t, ok, "unassigned attach_num has no identity")
}

func TestFactoryCopyGivesNewIdentity(t *testing.T) {
	f := newTestFactory(t)
	msg := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("s")})
	require.NoError(t, msg.SubStore("recipients").Add(recipient(t, f, 1, "r1")))

	cp := f.Copy(msg, "")
	assert.True(t, cp.Phantom())
	assert.True(t, IsTemporaryID(cp.ID()))
	assert.Equal(t, "s", cp.GetString("subject"))
	require.Equal(t, 1, cp.SubStore("recipients").Len())
	assert.NotSame(t, msg.SubStore("recipients").At(0), cp.SubStore("recipients").At(0))

	require.NoError(t, cp.Set("subject", ir.IRString("changed")))
	assert.Equal(t, "s", msg.GetString("subject"))

	named := f.Copy(msg, "E2")
	assert.False(t, named.Phantom())
	assert.Equal(t, "E2", named.ID())
}

func TestUUIDv7GeneratorIsTemporary(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	assert.True(t, IsTemporaryID(id))
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
	assert.False(t, IsTemporaryID("AB01"))
}

func TestSameEntryID(t *testing.T) {
	assert.True(t, SameEntryID("00AB", "00AB"))
	assert.False(t, SameEntryID("00AB", "00ab"))
	assert.False(t, SameEntryID("", ""))
}

func TestFromServerSkipsDefaultsAndLoadsChildren(t *testing.T) {
	f := newTestFactory(t)
	def, err := f.Registry().ByMessageClass("IPM.Note")
	require.NoError(t, err)

	r, err := f.FromServer(def, "E9",
		ir.IRObject{"subject": ir.IRString("x"), "bogus": ir.IRInt(1)},
		map[string][]ir.IRObject{"recipients": {{"rowid": ir.IRInt(4), "display_name": ir.IRString("D")}}})
	require.NoError(t, err)

	assert.Equal(t, "E9", r.ID())
	assert.False(t, r.Phantom())
	assert.False(t, r.Dirty())
	assert.True(t, ir.IsNull(r.Get("importance")))
	assert.True(t, ir.IsNull(r.Get("bogus")))

	sub := r.SubStore("recipients")
	require.Equal(t, 1, sub.Len())
	assert.Equal(t, "4", sub.At(0).ID())
	assert.False(t, sub.At(0).Phantom())
	assert.False(t, sub.HasChanges())
}

func TestFromServerRejectsBadValue(t *testing.T) {
	f := newTestFactory(t)
	def, err := f.Registry().ByMessageClass("IPM.Note")
	require.NoError(t, err)

	_, err = f.FromServer(def, "E9", ir.IRObject{"importance": ir.IRString("high")}, nil)
	assert.Error(t, err)
}
