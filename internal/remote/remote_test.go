package remote_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/backend"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/remote"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
	"github.com/roach88/recsync/internal/testutil"
	"github.com/roach88/recsync/internal/wire"
)

func testSettings() remote.Settings {
	s := remote.DefaultSettings()
	s.PingInterval = 0
	return s
}

// serve starts a websocket server over exec and returns its ws:// URL.
func serve(t *testing.T, exec remote.Executor) string {
	t.Helper()
	h := remote.NewHandler(exec, testSettings())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *remote.Client {
	t.Helper()
	c, err := remote.Dial(t.Context(), url, testSettings())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func openBackend(t *testing.T) *backend.Server {
	t.Helper()
	srv, err := backend.Open(filepath.Join(t.TempDir(), "remote.db"), backend.WithIDs(testutil.NewSequence("ENTRY").Next))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestClient_RoundTripAgainstBackend(t *testing.T) {
	c := dial(t, serve(t, openBackend(t)))

	resp, err := c.Execute(t.Context(), &wire.Request{
		ID:     "r1",
		Store:  "drafts",
		Action: wire.ActionCreate,
		Items: []wire.Item{{
			ID:           "phantom-1",
			MessageClass: "IPM.Note",
			Props: ir.IRObject{
				"subject":        ir.IRString("over the wire"),
				"parent_entryid": ir.IRString("F1"),
			},
		}},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Equal(t, "r1", resp.ID)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "ENTRY-1", resp.Items[0].ID)
	assert.Equal(t, "phantom-1", resp.Items[0].TempID)
	assert.Equal(t, int64(1), resp.Items[0].Version)

	resp, err = c.Execute(t.Context(), &wire.Request{
		ID:     "r2",
		Store:  "inbox",
		Action: wire.ActionList,
		List:   &wire.ListParams{Folders: []string{"F1"}},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, ir.IRString("over the wire"), resp.Items[0].Props["subject"])
}

func TestClient_ServerErrorsComeBackAsResponses(t *testing.T) {
	c := dial(t, serve(t, openBackend(t)))

	resp, err := c.Execute(t.Context(), &wire.Request{
		ID:     "r1",
		Action: wire.ActionOpen,
		Items:  []wire.Item{{ID: "MISSING", MessageClass: "IPM.Note"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeNotFound, resp.Error.Code)
}

func TestHandler_ExecutorErrorBecomesFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.NewSequence("E"))
	tr.Enqueue(testutil.Fail(errors.New("disk on fire")))
	c := dial(t, serve(t, tr))

	resp, err := c.Execute(t.Context(), &wire.Request{ID: "r1", Action: wire.ActionList})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "disk on fire")
}

func TestClient_ConcurrentRequestsMatchByID(t *testing.T) {
	c := dial(t, serve(t, testutil.NewScriptedTransport(testutil.NewSequence("E"))))

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("req-%02d", i)
			resp, err := c.Execute(context.Background(), &wire.Request{
				ID:     id,
				Action: wire.ActionUpdate,
				Items:  []wire.Item{{ID: id, Version: int64(i)}},
			})
			if err != nil {
				errs <- err
				return
			}
			if resp.ID != id || len(resp.Items) != 1 || resp.Items[0].Version != int64(i)+1 {
				errs <- fmt.Errorf("request %s got response %s", id, resp.ID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.NewSequence("E"))
	tr.Hold()
	t.Cleanup(tr.Release)
	c := dial(t, serve(t, tr))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, &wire.Request{ID: "held", Action: wire.ActionList})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The id is free again once the caller gave up.
	tr.Release()
	resp, err := c.Execute(t.Context(), &wire.Request{ID: "held", Action: wire.ActionList})
	require.NoError(t, err)
	assert.Equal(t, "held", resp.ID)
}

func TestClient_CloseFailsPendingRequests(t *testing.T) {
	tr := testutil.NewScriptedTransport(testutil.NewSequence("E"))
	tr.Hold()
	t.Cleanup(tr.Release)
	c := dial(t, serve(t, tr))

	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), &wire.Request{ID: "pending", Action: wire.ActionList})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(tr.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, remote.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed by Close")
	}

	_, err := c.Execute(t.Context(), &wire.Request{ID: "after", Action: wire.ActionList})
	require.ErrorIs(t, err, remote.ErrClosed)
	assert.NoError(t, c.Close())
}

func TestClient_RejectsRequestWithoutID(t *testing.T) {
	c := dial(t, serve(t, testutil.NewScriptedTransport(testutil.NewSequence("E"))))
	_, err := c.Execute(t.Context(), &wire.Request{Action: wire.ActionList})
	require.Error(t, err)
}

func TestHandler_MalformedRequest(t *testing.T) {
	url := serve(t, testutil.NewScriptedTransport(testutil.NewSequence("E")))
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var resp wire.Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeInvalid, resp.Error.Code)
}

func TestDial_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := remote.Dial(t.Context(), url, testSettings())
	require.Error(t, err)
}

// TestStoreOverWebsocket saves and reloads through a store whose
// transport is a websocket client.
func TestStoreOverWebsocket(t *testing.T) {
	c := dial(t, serve(t, openBackend(t)))

	l := loop.New()
	factory := record.NewFactory(schema.MustBuiltin(), record.WithIDGenerator(&record.SequenceGenerator{}))
	drain := func() {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, l.Drain(ctx))
	}

	drafts, err := store.New("drafts", factory, store.WithLoop(l), store.WithTransport(c), store.Standalone())
	require.NoError(t, err)
	r, err := factory.CreateByMessageClass("IPM.Note", ir.IRObject{
		"subject":        ir.IRString("remote draft"),
		"parent_entryid": ir.IRString("F9"),
	}, "")
	require.NoError(t, err)
	require.NoError(t, drafts.Add(r))

	_, err = drafts.Save(t.Context())
	require.NoError(t, err)
	drain()
	assert.False(t, r.Phantom())
	assert.Equal(t, "ENTRY-1", r.ID())

	inbox, err := store.New("inbox", factory, store.WithLoop(l), store.WithTransport(c), store.Standalone())
	require.NoError(t, err)
	_, err = inbox.Load(t.Context(), store.LoadOptions{Folders: []string{"F9"}})
	require.NoError(t, err)
	drain()
	require.Equal(t, 1, inbox.Len())
	assert.Equal(t, ir.IRString("remote draft"), inbox.At(0).Get("subject"))
}
