package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/wire"
)

// Save sends every pending change: removed records are destroyed, phantom
// records created and modified records updated. Records failing
// validation are left out; they are reported on the invalid topic and the
// returned error joins their ValidationErrors while the rest of the
// batch is still sent. Records with a request already out wait for the
// next save.
func (s *Store) Save(ctx context.Context) (*Batch, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.serverOnly {
		return nil, fmt.Errorf("save %s: %w", s.name, ErrServerOnly)
	}
	if s.transport == nil {
		return nil, fmt.Errorf("save %s: %w", s.name, ErrNoTransport)
	}

	b := &Batch{ID: s.requestIDs()}
	for _, r := range s.removed {
		if s.inFlight[r] == nil {
			b.Destroy = append(b.Destroy, r)
		}
	}
	for _, r := range s.modified {
		if s.inFlight[r] != nil {
			continue
		}
		if err := r.Validate(); err != nil {
			ve := &ValidationError{RecordID: r.ID(), Err: err}
			b.Invalid = append(b.Invalid, ve)
			slog.Debug("record left out of save", "store", s.name, "record", r.ID(), "error", err)
			s.invalid.Emit(InvalidEvent{Store: s, Record: r, Err: ve})
			continue
		}
		if r.Phantom() {
			b.Create = append(b.Create, r)
		} else {
			b.Update = append(b.Update, r)
		}
	}
	invalid := validationErr(b.Invalid)
	if b.Empty() {
		return b, invalid
	}

	s.beforeSave.Emit(SaveEvent{Store: s, Batch: b})
	for _, step := range []struct {
		action  wire.Action
		records []*record.Record
	}{
		{wire.ActionDestroy, b.Destroy},
		{wire.ActionCreate, b.Create},
		{wire.ActionUpdate, b.Update},
	} {
		if len(step.records) == 0 {
			continue
		}
		h, err := s.execute(ctx, step.action, step.records, b, nil)
		if err != nil {
			return b, errors.Join(err, invalid)
		}
		b.handles = append(b.handles, h)
		b.remaining++
	}
	slog.Info("store save issued",
		"store", s.name,
		"batch", b.ID,
		"create", len(b.Create),
		"update", len(b.Update),
		"destroy", len(b.Destroy),
		"invalid", len(b.Invalid))
	return b, invalid
}

func validationErr(ves []*ValidationError) error {
	errs := make([]error, len(ves))
	for i, ve := range ves {
		errs[i] = ve
	}
	return errors.Join(errs...)
}

// execute sends one request off the loop. The response is applied on the
// loop by complete.
func (s *Store) execute(ctx context.Context, action wire.Action, recs []*record.Record, b *Batch, load *LoadOptions) (*Handle, error) {
	if s.transport == nil {
		return nil, ErrNoTransport
	}
	req := &wire.Request{ID: s.requestIDs(), Store: s.name, Action: action}
	h := &Handle{
		id:      req.ID,
		action:  action,
		records: slices.Clone(recs),
		batch:   b,
		load:    load,
	}
	if action == wire.ActionCreate || action == wire.ActionUpdate {
		h.sent = make(map[*record.Record]ir.IRObject, len(recs))
		h.children = make(map[*record.Record]map[string]record.SentChanges, len(recs))
	}
	for _, r := range recs {
		item := wire.Encode(action, r)
		req.Items = append(req.Items, item)
		if h.sent != nil {
			h.sent[r] = item.Props
			h.children[r] = r.SnapshotChanges()
		}
	}
	if load != nil {
		req.List = load.params()
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.seq = s.loop.Clock().Next()
	s.lastExecution[action] = h.seq
	s.pending[h.id] = h
	if action != wire.ActionList {
		for _, r := range recs {
			s.inFlight[r] = h
		}
	}

	transport := s.transport
	ok := s.loop.Go(ctx, func(ctx context.Context) loop.Task {
		resp, err := transport.Execute(ctx, req)
		return func() { s.complete(h, resp, err) }
	})
	if !ok {
		s.release(h)
		h.cancel()
		return nil, fmt.Errorf("%s request %s: %w", action, h.id, loop.ErrStopped)
	}
	slog.Debug("store request issued", "store", s.name, "action", action, "request", h.id, "records", len(recs))
	return h, nil
}

// release forgets h.
func (s *Store) release(h *Handle) {
	delete(s.pending, h.id)
	for _, r := range h.records {
		if s.inFlight[r] == h {
			delete(s.inFlight, r)
		}
	}
}

// Abort cancels h. Its response, if any arrives, is dropped: no write
// event fires and pending changes stay as they are.
func (s *Store) Abort(h *Handle) {
	if h == nil || h.aborted || s.pending[h.id] != h {
		return
	}
	h.aborted = true
	s.release(h)
	h.cancel()
	slog.Debug("store request aborted", "store", s.name, "action", h.action, "request", h.id)
	s.finishBatch(h)
}

// Pending returns the outstanding requests in issue order.
func (s *Store) Pending() []*Handle {
	out := make([]*Handle, 0, len(s.pending))
	for _, h := range s.pending {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Handle) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// IsExecuting reports whether a request for action is outstanding.
func (s *Store) IsExecuting(action wire.Action) bool {
	for _, h := range s.pending {
		if h.action == action {
			return true
		}
	}
	return false
}

// LastExecution returns the clock value at which the last request for
// action was issued, or 0.
func (s *Store) LastExecution(action wire.Action) int64 { return s.lastExecution[action] }

func (s *Store) complete(h *Handle, resp *wire.Response, err error) {
	defer h.cancel()
	if h.aborted || s.pending[h.id] != h {
		return
	}
	s.release(h)
	if s.destroyed {
		return
	}
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		s.fail(h, resp, err)
		return
	}

	var applyErr error
	switch h.action {
	case wire.ActionCreate, wire.ActionUpdate:
		applyErr = s.applyWrite(h, resp)
	case wire.ActionDestroy:
		s.applyDestroy(h, resp)
	case wire.ActionOpen:
		applyErr = s.applyOpen(h, resp)
	case wire.ActionList:
		applyErr = s.applyList(h, resp)
	}
	if applyErr != nil {
		s.fail(h, resp, applyErr)
		return
	}
	if b := h.batch; b != nil {
		b.applied++
	}
	s.finishBatch(h)
}

func (s *Store) fail(h *Handle, resp *wire.Response, err error) {
	err = &TransportError{RequestID: h.id, Action: string(h.action), Err: err}
	slog.Warn("store request failed", "store", s.name, "action", h.action, "request", h.id, "error", err)
	if h.batch != nil {
		h.batch.Errors = append(h.batch.Errors, err)
	}
	s.exception.Emit(ExceptionEvent{Store: s, Request: h.id, Action: h.action, Records: slices.Clone(h.records), Err: err, Response: resp})
	s.finishBatch(h)
}

// finishBatch fires save once every request of h's batch is settled and
// at least one of them was not aborted.
func (s *Store) finishBatch(h *Handle) {
	b := h.batch
	if b == nil || b.remaining == 0 {
		return
	}
	b.remaining--
	if b.remaining > 0 {
		return
	}
	if b.applied == 0 && len(b.Errors) == 0 {
		return
	}
	s.save.Emit(SaveEvent{Store: s, Batch: b})
}

// applyWrite folds the server's view of created or updated records back
// into them and commits what was sent. Every record must have its
// response item before any of them is touched; a response missing one
// fails the whole request and leaves every record pending.
func (s *Store) applyWrite(h *Handle, resp *wire.Response) error {
	type confirmed struct {
		r    *record.Record
		item wire.ResponseItem
	}
	var todo []confirmed
	for _, r := range h.records {
		if r.Destroyed() || !s.Contains(r) {
			continue
		}
		item, ok := responseItem(resp, r.ID())
		if !ok {
			return fmt.Errorf("no response item for record %s", r.ID())
		}
		todo = append(todo, confirmed{r: r, item: item})
	}

	var written []*record.Record
	for _, c := range todo {
		if err := s.confirmWrite(h, c.r, c.item); err != nil {
			s.emitWrite(h, written, resp)
			return fmt.Errorf("record %s: %w", c.r.ID(), err)
		}
		written = append(written, c.r)
	}
	s.emitWrite(h, written, resp)
	return nil
}

// confirmWrite commits the part of r that h carried and merges the
// server's item into it.
func (s *Store) confirmWrite(h *Handle, r *record.Record, item wire.ResponseItem) error {
	if h.action == wire.ActionCreate && r.Phantom() {
		if err := r.AssignID(item.ID); err != nil {
			return err
		}
	}

	// Fields edited again while the request was out keep their local
	// value and stay modified against what was sent.
	later := ir.IRObject{}
	sent := h.sent[r]
	for _, f := range r.ModifiedFields() {
		v, wasSent := sent[f]
		switch {
		case wasSent && ir.Equal(v, r.Get(f)):
		case wasSent:
			later[f] = v
		default:
			later[f] = r.Original(f)
		}
	}
	if len(later) > 0 {
		item.Props = item.Props.Clone()
		for f := range later {
			delete(item.Props, f)
		}
	}

	// Commit before merging so the server's children land on a
	// collection whose only pending changes are the unsent ones.
	r.ClearActions()
	if err := r.CommitSent(later, h.children[r]); err != nil {
		return err
	}
	if err := s.mergeServerItem(r, item, false); err != nil {
		return err
	}
	r.SetVersion(item.Version)
	return nil
}

// mergeServerItem applies the properties and sub-store contents of item
// to r. With preserve set, fields modified locally keep their value and
// sub-stores with pending changes are left alone.
func (s *Store) mergeServerItem(r *record.Record, item wire.ResponseItem, preserve bool) error {
	src, err := s.factory.FromServer(r.Definition(), r.ID(), item.Props, nil)
	if err != nil {
		return err
	}
	src.SetVersion(item.Version)
	opts := []record.MergeOption{record.Authoritative()}
	if preserve {
		opts = append(opts, record.PreserveModified())
	}
	if err := record.ApplyData(r, src, opts...); err != nil {
		return err
	}
	if len(item.SubStores) == 0 {
		return nil
	}
	holder, err := s.factory.FromServer(r.Definition(), r.ID(), nil, item.SubStores)
	if err != nil {
		return err
	}
	for _, sub := range r.SubStores() {
		if _, ok := item.SubStores[sub.Name()]; !ok {
			continue
		}
		if preserve && sub.HasChanges() {
			continue
		}
		if err := sub.Replace(holder.SubStore(sub.Name()).Items()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyDestroy(h *Handle, resp *wire.Response) {
	for _, r := range h.records {
		s.removed = slices.DeleteFunc(s.removed, func(x *record.Record) bool { return x == r })
	}
	s.emitWrite(h, h.records, resp)
	for _, r := range h.records {
		if !s.Contains(r) {
			r.Destroy()
		}
	}
}

func (s *Store) emitWrite(h *Handle, recs []*record.Record, resp *wire.Response) {
	if len(recs) == 0 {
		return
	}
	seq := s.loop.Clock().Next()
	slog.Debug("store write", "store", s.name, "action", h.action, "records", len(recs), "seq", seq)
	s.write.Emit(WriteEvent{Store: s, Request: h.id, Action: h.action, Records: slices.Clone(recs), Response: resp, Seq: seq})
}

// responseItem finds the item answering for the record with id: by the
// echoed temporary id first, then by id.
func responseItem(resp *wire.Response, id string) (wire.ResponseItem, bool) {
	for _, it := range resp.Items {
		if it.TempID != "" && it.TempID == id {
			return it, true
		}
	}
	for _, it := range resp.Items {
		if record.SameEntryID(it.ID, id) {
			return it, true
		}
	}
	return wire.ResponseItem{}, false
}
