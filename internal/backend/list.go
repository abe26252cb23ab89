package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/wire"
)

// list returns one page of the items matching params and the number of
// matches overall. List rows carry props only, no children.
func (s *Server) list(ctx context.Context, q querier, params *wire.ListParams) ([]wire.ResponseItem, int, error) {
	var p wire.ListParams
	if params != nil {
		p = *params
	}
	if p.Start < 0 || p.Limit < 0 {
		return nil, 0, invalid("negative start or limit")
	}

	f := newSQLFilter()
	where := []string{"1 = 1"}
	var args []any
	if len(p.Folders) > 0 {
		where = append(where, "items.parent_entryid IN (?"+strings.Repeat(", ?", len(p.Folders)-1)+")")
		for _, folder := range p.Folders {
			args = append(args, folder)
		}
	}

	order, orderArgs, err := f.OrderBy(p.Sort)
	if err != nil {
		return nil, 0, invalid("sort: %v", err)
	}

	r := p.Restriction.Restriction
	rsql, rargs, err := f.Compile(r)
	switch {
	case err == nil:
		where = append(where, rsql)
		args = append(args, rargs...)
		return s.listSQL(ctx, q, strings.Join(where, " AND "), args, order, orderArgs, p)
	case errors.Is(err, errNotCompilable):
		slog.Debug("restriction evaluated in Go", "reason", err)
		return s.listFiltered(ctx, q, strings.Join(where, " AND "), args, order, orderArgs, r, p)
	default:
		return nil, 0, invalid("restriction: %v", err)
	}
}

func (s *Server) listSQL(ctx context.Context, q querier, where string, args []any, order string, orderArgs []any, p wire.ListParams) ([]wire.ResponseItem, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limit := -1
	if p.Limit > 0 {
		limit = p.Limit
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + where + order + ` LIMIT ? OFFSET ?`
	all := append(append(append([]any{}, args...), orderArgs...), limit, p.Start)
	rows, err := readRows(ctx, q, query, all...)
	if err != nil {
		return nil, 0, err
	}
	return listItems(rows), total, nil
}

// listFiltered reads every row the folder filter selects and applies r
// with restriction.Match.
func (s *Server) listFiltered(ctx context.Context, q querier, where string, args []any, order string, orderArgs []any, r restriction.Restriction, p wire.ListParams) ([]wire.ResponseItem, int, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + where + order
	rows, err := readRows(ctx, q, query, append(append([]any{}, args...), orderArgs...)...)
	if err != nil {
		return nil, 0, err
	}

	var matched []row
	for _, rw := range rows {
		subj := &rowSubject{ctx: ctx, q: q, row: rw}
		if restriction.Match(r, subj) {
			matched = append(matched, rw)
		}
		if subj.err != nil {
			return nil, 0, subj.err
		}
	}

	total := len(matched)
	start := min(p.Start, total)
	end := total
	if p.Limit > 0 {
		end = min(start+p.Limit, total)
	}
	return listItems(matched[start:end]), total, nil
}

// readRows scans a whole result set before returning, so the single
// connection is free for follow-up queries.
func readRows(ctx context.Context, q querier, query string, args ...any) ([]row, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		r, err := scanRow(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func listItems(rows []row) []wire.ResponseItem {
	out := make([]wire.ResponseItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, wire.ResponseItem{ID: r.EntryID, Version: r.Version, Props: r.Props})
	}
	return out
}

// rowSubject exposes a stored item to restriction.Match, loading
// children on demand.
type rowSubject struct {
	ctx      context.Context
	q        querier
	row      row
	children map[string][]restriction.Subject
	err      error
}

func (s *rowSubject) Get(field string) ir.IRValue { return s.row.Props.Get(field) }

func (s *rowSubject) Children(name string) []restriction.Subject {
	if cs, ok := s.children[name]; ok {
		return cs
	}
	props, err := childProps(s.ctx, s.q, s.row.EntryID, name)
	if err != nil {
		s.err = err
		return nil
	}
	out := make([]restriction.Subject, len(props))
	for i, p := range props {
		out[i] = restriction.Object{Data: p}
	}
	if s.children == nil {
		s.children = make(map[string][]restriction.Subject)
	}
	s.children[name] = out
	return out
}
