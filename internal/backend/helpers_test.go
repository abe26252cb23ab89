package backend

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/testutil"
	"github.com/roach88/recsync/internal/wire"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestServer opens a server in a temp dir with sequential entry
// ids ENTRY-1, ENTRY-2, ... and a fixed clock.
func createTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	ids := testutil.NewSequence("ENTRY")
	base := []Option{WithIDs(ids.Next), WithClock(func() time.Time { return fixedNow })}
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func execute(t *testing.T, s *Server, req *wire.Request) *wire.Response {
	t.Helper()
	if req.ID == "" {
		req.ID = "req"
	}
	resp, err := s.Execute(t.Context(), req)
	require.NoError(t, err)
	return resp
}

// run executes action over items and requires success.
func run(t *testing.T, s *Server, action wire.Action, items ...wire.Item) *wire.Response {
	t.Helper()
	resp := execute(t, s, &wire.Request{Store: "test", Action: action, Items: items})
	require.Nil(t, resp.Error, "unexpected server error")
	require.Len(t, resp.Items, len(items))
	return resp
}

func createNote(t *testing.T, s *Server, folder string, props ir.IRObject) wire.ResponseItem {
	t.Helper()
	p := props.Clone()
	if p == nil {
		p = ir.IRObject{}
	}
	p["parent_entryid"] = ir.IRString(folder)
	resp := run(t, s, wire.ActionCreate, wire.Item{ID: "phantom-x", MessageClass: "IPM.Note", Props: p})
	return resp.Items[0]
}

func list(t *testing.T, s *Server, params wire.ListParams) *wire.Response {
	t.Helper()
	resp := execute(t, s, &wire.Request{Store: "test", Action: wire.ActionList, List: &params})
	require.Nil(t, resp.Error, "unexpected server error")
	return resp
}

func ids(items []wire.ResponseItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func countRows(t *testing.T, s *Server, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
