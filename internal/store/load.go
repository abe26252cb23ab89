package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/wire"
)

// LoadOptions selects the records of a list load. The folders and the
// restriction are also the view criteria DefaultCreateFilter checks.
type LoadOptions struct {
	Folders     []string
	Restriction restriction.Restriction
	Sort        []wire.SortKey
	Start       int
	Limit       int
}

func (o *LoadOptions) params() *wire.ListParams {
	return &wire.ListParams{
		Folders:     slices.Clone(o.Folders),
		Restriction: restriction.Envelope{Restriction: o.Restriction},
		Sort:        slices.Clone(o.Sort),
		Start:       o.Start,
		Limit:       o.Limit,
	}
}

func (o LoadOptions) clone() LoadOptions {
	o.Folders = slices.Clone(o.Folders)
	o.Sort = slices.Clone(o.Sort)
	return o
}

// Load replaces the contents of the store with a list from the server.
// Outstanding load and open requests are cancelled first.
func (s *Store) Load(ctx context.Context, opts LoadOptions) (*Handle, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.transport == nil {
		return nil, fmt.Errorf("load %s: %w", s.name, ErrNoTransport)
	}
	s.CancelLoadRequests()
	o := opts.clone()
	s.lastLoad = &o
	return s.execute(ctx, wire.ActionList, nil, nil, &o)
}

// Reload repeats the last Load.
func (s *Store) Reload(ctx context.Context) (*Handle, error) {
	if s.lastLoad == nil {
		return nil, ErrNoLastLoad
	}
	return s.Load(ctx, *s.lastLoad)
}

// LastLoad returns the options of the last Load.
func (s *Store) LastLoad() (LoadOptions, bool) {
	if s.lastLoad == nil {
		return LoadOptions{}, false
	}
	return s.lastLoad.clone(), true
}

// ContainsFolderInLastLoad reports whether the last Load listed folder.
func (s *Store) ContainsFolderInLastLoad(folder string) bool {
	if s.lastLoad == nil || folder == "" {
		return false
	}
	return slices.ContainsFunc(s.lastLoad.Folders, func(f string) bool {
		return record.SameEntryID(f, folder)
	})
}

// Open fetches the full record r.
func (s *Store) Open(ctx context.Context, r *record.Record) (*Handle, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if !s.Contains(r) {
		return nil, fmt.Errorf("open %s: record %s is not in the store", s.name, r.ID())
	}
	if r.Phantom() {
		return nil, fmt.Errorf("open %s: record %s was never saved", s.name, r.ID())
	}
	return s.execute(ctx, wire.ActionOpen, []*record.Record{r}, nil, nil)
}

// CancelLoadRequests aborts outstanding list and open requests.
func (s *Store) CancelLoadRequests() {
	for _, h := range s.Pending() {
		if h.action == wire.ActionList || h.action == wire.ActionOpen {
			s.Abort(h)
		}
	}
}

func (s *Store) applyOpen(h *Handle, resp *wire.Response) error {
	var opened []*record.Record
	for _, r := range h.records {
		if r.Destroyed() || !s.Contains(r) {
			continue
		}
		item, ok := responseItem(resp, r.ID())
		if !ok {
			return fmt.Errorf("no response item for record %s", r.ID())
		}
		if err := s.mergeServerItem(r, item, true); err != nil {
			return err
		}
		r.SetVersion(item.Version)
		r.AfterOpen()
		opened = append(opened, r)
	}
	for _, r := range opened {
		s.open.Emit(OpenEvent{Store: s, Request: h.id, Record: r})
	}
	s.emitWrite(h, opened, resp)
	return nil
}

// applyList replaces the records with the list result. Records already
// present keep their identity and their local edits; records with
// pending changes that the result does not contain stay at the end.
func (s *Store) applyList(h *Handle, resp *wire.Response) error {
	next := make([]*record.Record, 0, len(resp.Items))
	var added []*record.Record
	kept := make(map[*record.Record]bool, len(resp.Items))
	reg := s.factory.Registry()

	for _, item := range resp.Items {
		if existing := s.findByData(item.ID, item.Props); existing != nil && !kept[existing] {
			if err := s.mergeServerItem(existing, item, true); err != nil {
				return err
			}
			existing.SetVersion(item.Version)
			kept[existing] = true
			next = append(next, existing)
			continue
		}
		def, err := reg.ByRecordData(item.Props)
		if err != nil {
			slog.Warn("list item of unknown type skipped", "store", s.name, "id", item.ID, "error", err)
			continue
		}
		r, err := s.factory.FromServer(def, item.ID, item.Props, item.SubStores)
		if err != nil {
			return err
		}
		r.SetVersion(item.Version)
		if err := r.Attach(s); err != nil {
			return err
		}
		kept[r] = true
		next = append(next, r)
		added = append(added, r)
	}

	var dropped []*record.Record
	for _, r := range s.records {
		switch {
		case kept[r]:
		case s.IsModified(r):
			next = append(next, r)
		default:
			dropped = append(dropped, r)
		}
	}
	s.records = next
	for _, r := range dropped {
		r.Detach(s)
		r.Destroy()
	}

	s.lastExecution[wire.ActionList] = s.loop.Clock().Next()
	if len(added) > 0 {
		s.add.Emit(AddEvent{Store: s, Records: added})
	}
	var opts LoadOptions
	if h.load != nil {
		opts = h.load.clone()
	}
	total := resp.Total
	if total == 0 {
		total = len(resp.Items)
	}
	slog.Info("store loaded", "store", s.name, "records", len(s.records), "total", total, "dropped", len(dropped))
	s.load.Emit(LoadEvent{Store: s, Request: h.id, Records: slices.Clone(s.records), Total: total, Options: opts})
	return nil
}
