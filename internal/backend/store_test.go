package backend_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/backend"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
	"github.com/roach88/recsync/internal/testutil"
)

// TestStoreRoundTrip drives a store against a real server: create with
// a child, update, list with a restriction and open.
func TestStoreRoundTrip(t *testing.T) {
	srv, err := backend.Open(filepath.Join(t.TempDir(), "rt.db"), backend.WithIDs(testutil.NewSequence("ENTRY").Next))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	l := loop.New()
	factory := record.NewFactory(schema.MustBuiltin(), record.WithIDGenerator(&record.SequenceGenerator{}))
	drain := func() {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, l.Drain(ctx))
	}
	newStore := func(name string) *store.Store {
		s, err := store.New(name, factory, store.WithLoop(l), store.WithTransport(srv), store.Standalone())
		require.NoError(t, err)
		return s
	}

	drafts := newStore("drafts")
	r, err := factory.CreateByMessageClass("IPM.Note", ir.IRObject{
		"subject":        ir.IRString("hello world"),
		"parent_entryid": ir.IRString("F1"),
	}, "")
	require.NoError(t, err)
	recips := r.SubStore("recipients")
	ann, err := factory.CreateChild(recips, ir.IRObject{
		"display_name": ir.IRString("Ann"),
		"smtp_address": ir.IRString("ann@example.com"),
	})
	require.NoError(t, err)
	require.NoError(t, recips.Add(ann))
	require.NoError(t, drafts.Add(r))

	_, err = drafts.Save(t.Context())
	require.NoError(t, err)
	drain()

	assert.False(t, r.Phantom())
	assert.Equal(t, "ENTRY-1", r.ID())
	assert.Equal(t, int64(1), r.Version())
	assert.Empty(t, drafts.Modified())
	require.Equal(t, 1, recips.Len())
	assert.Equal(t, ir.IRInt(1), recips.At(0).Get("rowid"))
	assert.False(t, recips.HasChanges())

	require.NoError(t, r.Set("subject", ir.IRString("hello again")))
	_, err = drafts.Save(t.Context())
	require.NoError(t, err)
	drain()
	assert.Equal(t, int64(2), r.Version())
	assert.False(t, r.Dirty())

	inbox := newStore("inbox")
	_, err = inbox.Load(t.Context(), store.LoadOptions{
		Folders:     []string{"F1"},
		Restriction: restriction.Contains("subject", "AGAIN"),
	})
	require.NoError(t, err)
	drain()

	require.Equal(t, 1, inbox.Len())
	listed := inbox.At(0)
	assert.Equal(t, "ENTRY-1", listed.ID())
	assert.Equal(t, ir.IRString("hello again"), listed.Get("subject"))
	assert.Zero(t, listed.SubStore("recipients").Len())

	_, err = inbox.Open(t.Context(), listed)
	require.NoError(t, err)
	drain()
	assert.True(t, listed.Opened())
	require.Equal(t, 1, listed.SubStore("recipients").Len())
	assert.Equal(t, ir.IRString("Ann"), listed.SubStore("recipients").At(0).Get("display_name"))

	require.NoError(t, inbox.Remove(listed))
	_, err = inbox.Save(t.Context())
	require.NoError(t, err)
	drain()

	n, err := srv.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}
