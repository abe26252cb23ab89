package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/wire"
)

func TestScriptedTransport_EchoAssignsEntryIDs(t *testing.T) {
	tr := NewScriptedTransport(NewSequence("E"))
	resp, err := tr.Execute(context.Background(), &wire.Request{
		ID:     "r1",
		Action: wire.ActionCreate,
		Items:  []wire.Item{{ID: "phantom:1", Props: ir.IRObject{"subject": ir.IRString("hi")}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "E-1", resp.Items[0].ID)
	assert.Equal(t, "phantom:1", resp.Items[0].TempID)
	assert.Equal(t, int64(1), resp.Items[0].Version)
	assert.Equal(t, ir.IRString("E-1"), resp.Items[0].Props["entryid"])
	assert.Equal(t, "r1", resp.ID)
}

func TestScriptedTransport_ScriptBeforeFallback(t *testing.T) {
	tr := NewScriptedTransport(NewSequence("E"))
	boom := errors.New("boom")
	tr.Enqueue(Fail(boom), Reply(wire.Response{Total: 7}))

	_, err := tr.Execute(context.Background(), &wire.Request{ID: "a", Action: wire.ActionList})
	assert.ErrorIs(t, err, boom)

	resp, err := tr.Execute(context.Background(), &wire.Request{ID: "b", Action: wire.ActionList})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Total)
	assert.Equal(t, "b", resp.ID)
	assert.Equal(t, wire.ActionList, resp.Action)

	resp, err = tr.Execute(context.Background(), &wire.Request{ID: "c", Action: wire.ActionList})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Len(t, tr.Requests(), 3)
	assert.Equal(t, "c", tr.Last().ID)
}

func TestScriptedTransport_HoldUntilRelease(t *testing.T) {
	tr := NewScriptedTransport(NewSequence("E"))
	tr.Hold()

	done := make(chan error, 1)
	go func() {
		_, err := tr.Execute(context.Background(), &wire.Request{ID: "x", Action: wire.ActionOpen})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("request completed while held")
	case <-time.After(20 * time.Millisecond):
	}
	tr.Release()
	require.NoError(t, <-done)
}

func TestScriptedTransport_HeldRequestHonoursCancel(t *testing.T) {
	tr := NewScriptedTransport(NewSequence("E"))
	tr.Hold()
	defer tr.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Execute(ctx, &wire.Request{ID: "x", Action: wire.ActionOpen})
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
