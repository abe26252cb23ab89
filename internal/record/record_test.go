package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
)

func TestTransactionFiresOneAggregatedEvent(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("a")})
	events := collectUpdates(r)

	r.BeginEdit()
	require.NoError(t, r.Set("body", ir.IRString("x")))
	require.NoError(t, r.Set("subject", ir.IRString("b")))
	require.NoError(t, r.Set("importance", ir.IRInt(2)))
	require.NoError(t, r.Set("importance", ir.IRInt(1)))
	assert.Empty(t, *events, "no notification inside a transaction")
	require.NoError(t, r.EndEdit())

	require.Len(t, *events, 1)
	assert.Equal(t, []string{"subject", "body"}, (*events)[0].Fields)
	assert.True(t, r.Dirty())
}

func TestNestedTransactionsFireAtOutermost(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)
	events := collectUpdates(r)

	r.BeginEdit()
	r.BeginEdit()
	require.NoError(t, r.Set("subject", ir.IRString("x")))
	require.NoError(t, r.EndEdit())
	assert.Empty(t, *events)
	assert.True(t, r.Editing())
	require.NoError(t, r.EndEdit())
	assert.Len(t, *events, 1)
}

func TestSetOutsideTransactionFiresImmediately(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)
	c := &recorder{}
	require.NoError(t, r.Attach(c))
	events := collectUpdates(r)

	require.NoError(t, r.Set("subject", ir.IRString("x")))
	require.Len(t, *events, 1)
	assert.Equal(t, []string{"subject"}, (*events)[0].Fields)
	require.Len(t, c.updated, 1)
}

func TestNoOpSet(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("same")})
	c := &recorder{}
	require.NoError(t, r.Attach(c))
	events := collectUpdates(r)

	require.NoError(t, r.Set("subject", ir.IRString("same")))

	assert.False(t, r.Dirty())
	assert.Empty(t, *events)
	assert.Empty(t, c.updated)
}

func TestForceProtocolFieldIsFlaggedEvenWhenEqual(t *testing.T) {
	f := newTestFactory(t)
	r, err := f.CreateByMessageClass("IPM.Appointment", ir.IRObject{"entryid": ir.IRString("A1"), "startdate": ir.IRInt(1000)}, "A1")
	require.NoError(t, err)
	c := &recorder{}
	require.NoError(t, r.Attach(c))
	events := collectUpdates(r)

	require.NoError(t, r.Set("startdate", ir.NewIRTimeUnix(1000)))

	assert.True(t, r.IsModified("startdate"))
	assert.Empty(t, *events, "value did not change")
	assert.Len(t, c.updated, 1, "container still learns the record is dirty")
}

func TestEndEditWithoutBeginIsMisuse(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)

	err := r.EndEdit()
	require.Error(t, err)
	assert.Equal(t, ErrCodeEditDepth, MisuseCodeOf(err))
}

func TestSetUnknownField(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)

	err := r.Set("no_such_field", ir.IRString("x"))
	assert.Equal(t, ErrCodeUnknownField, MisuseCodeOf(err))

	err = r.Set("importance", ir.IRString("high"))
	assert.Error(t, err)
	assert.False(t, IsMisuse(err))
}

func TestSetValuesUsesOneTransaction(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)
	events := collectUpdates(r)

	require.NoError(t, r.SetValues(ir.IRObject{"subject": ir.IRString("s"), "body": ir.IRString("b")}))
	require.Len(t, *events, 1)
	assert.Equal(t, []string{"subject", "body"}, (*events)[0].Fields)

	err := r.SetValues(ir.IRObject{"bogus": ir.IRInt(1)})
	assert.Equal(t, ErrCodeUnknownField, MisuseCodeOf(err))
}

func TestCommitClearsModifiedWithoutNotifyingFields(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)
	c := &recorder{}
	require.NoError(t, r.Attach(c))
	require.NoError(t, r.Set("subject", ir.IRString("x")))
	events := collectUpdates(r)

	require.NoError(t, r.Commit())

	assert.False(t, r.Dirty())
	assert.Empty(t, r.ModifiedFields())
	assert.Equal(t, ir.IRString("x"), r.Get("subject"))
	assert.Empty(t, *events)
	assert.Equal(t, []*Record{r}, c.committed)
}

func TestCommitExceptKeepsLaterEdits(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("a")})
	c := &recorder{}
	require.NoError(t, r.Attach(c))
	require.NoError(t, r.SetValues(ir.IRObject{"subject": ir.IRString("c"), "body": ir.IRString("later")}))

	require.NoError(t, r.CommitExcept(ir.IRObject{
		"subject":    ir.IRString("b"),
		"body":       ir.IRNull{},
		"importance": ir.IRInt(1),
	}))

	assert.Equal(t, []string{"subject", "body"}, r.ModifiedFields())
	assert.Equal(t, ir.IRString("b"), r.Original("subject"))
	assert.True(t, ir.IsNull(r.Original("body")))
	assert.True(t, r.Dirty())
	assert.Equal(t, []*Record{r}, c.committed)
}

func TestRejectRestoresOriginals(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("orig")})
	require.NoError(t, r.Set("subject", ir.IRString("edited")))
	require.NoError(t, r.Set("subject", ir.IRString("edited again")))
	assert.Equal(t, ir.IRString("orig"), r.Original("subject"))

	events := collectUpdates(r)
	require.NoError(t, r.Reject())

	assert.Equal(t, ir.IRString("orig"), r.Get("subject"))
	assert.False(t, r.Dirty())
	require.Len(t, *events, 1)
	assert.Equal(t, []string{"subject"}, (*events)[0].Fields)
}

func TestCancelEditRestoresState(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", ir.IRObject{"subject": ir.IRString("orig")})
	events := collectUpdates(r)

	r.BeginEdit()
	require.NoError(t, r.Set("subject", ir.IRString("x")))
	r.CancelEdit()

	assert.Equal(t, ir.IRString("orig"), r.Get("subject"))
	assert.False(t, r.Dirty())
	assert.False(t, r.Editing())
	assert.Empty(t, *events)
}

func TestAssignIDHappensOnce(t *testing.T) {
	f := newTestFactory(t)
	r, err := f.CreateByMessageClass("IPM.Note", nil, "")
	require.NoError(t, err)
	assert.True(t, r.Phantom())
	assert.Equal(t, "phantom:1", r.ID())
	_, ok := r.IdentityKey()
	assert.False(t, ok)

	require.NoError(t, r.AssignID("E9"))
	assert.False(t, r.Phantom())
	assert.Equal(t, "E9", r.ID())
	assert.Equal(t, ir.IRString("E9"), r.Get("entryid"))
	assert.False(t, r.IsModified("entryid"))

	err = r.AssignID("E10")
	assert.Equal(t, ErrCodeAlreadyAssigned, MisuseCodeOf(err))
	assert.Equal(t, "E9", r.ID())
}

func TestDestroyedRecordFailsLoudly(t *testing.T) {
	f := newTestFactory(t)
	r := persistedNote(t, f, "E1", nil)
	r.Destroy()

	assert.True(t, IsDestroyed(r.Set("subject", ir.IRString("x"))))
	assert.True(t, IsDestroyed(r.Commit()))
	assert.True(t, IsDestroyed(r.SubStore("recipients").Add(recipient(t, f, 1, "a"))))
}

func TestSetDoesNotAliasCallerValues(t *testing.T) {
	f := newTestFactory(t)
	r, err := f.CreateByCustomTypeName("rule", ir.IRObject{"rule_name": ir.IRString("r")}, "")
	require.NoError(t, err)

	actions := ir.IRArray{ir.IRString("move")}
	require.NoError(t, r.Set("rule_actions", actions))
	actions[0] = ir.IRString("delete")
	assert.Equal(t, ir.IRArray{ir.IRString("move")}, r.Get("rule_actions"))

	got := r.Get("rule_actions").(ir.IRArray)
	got[0] = ir.IRString("copy")
	assert.Equal(t, ir.IRArray{ir.IRString("move")}, r.Get("rule_actions"))

	data := r.Data()
	data["rule_name"] = ir.IRString("changed outside")
	assert.Equal(t, "r", r.GetString("rule_name"))
}
