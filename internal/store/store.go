package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recsync/internal/event"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/wire"
)

// Transport sends a request to the server. Execute is called off the
// loop and must not touch records.
type Transport interface {
	Execute(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

// Store is an ordered collection of top-level records. Its methods must
// be called on the loop that applies its responses.
type Store struct {
	name    string
	factory *record.Factory

	transport    Transport
	loop         *loop.Loop
	registrar    Registrar
	standalone   bool
	serverOnly   bool
	createFilter CreateFilter
	requestIDs   func() string

	records  []*record.Record
	modified []*record.Record
	removed  []*record.Record

	pending       map[string]*Handle
	inFlight      map[*record.Record]*Handle
	lastLoad      *LoadOptions
	lastExecution map[wire.Action]int64
	registered    bool
	destroyed     bool

	beforeSave event.Topic[SaveEvent]
	save       event.Topic[SaveEvent]
	update     event.Topic[UpdateEvent]
	add        event.Topic[AddEvent]
	remove     event.Topic[RemoveEvent]
	write      event.Topic[WriteEvent]
	exception  event.Topic[ExceptionEvent]
	load       event.Topic[LoadEvent]
	open       event.Topic[OpenEvent]
	invalid    event.Topic[InvalidEvent]
}

// New creates a store. Unless it is standalone, the store registers with
// its coordinator.
func New(name string, factory *record.Factory, opts ...Option) (*Store, error) {
	if name == "" {
		return nil, errors.New("store name must not be empty")
	}
	if factory == nil {
		return nil, errors.New("store needs a record factory")
	}
	s := &Store{
		name:          name,
		factory:       factory,
		createFilter:  DefaultCreateFilter,
		requestIDs:    wire.NewRequestID,
		pending:       make(map[string]*Handle),
		inFlight:      make(map[*record.Record]*Handle),
		lastExecution: make(map[wire.Action]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loop == nil {
		if s.registrar != nil && !s.standalone {
			return nil, fmt.Errorf("store %s: %w", name, ErrNoLoop)
		}
		s.loop = loop.New()
	}
	if !s.standalone && s.registrar != nil {
		if err := s.registrar.Register(s); err != nil {
			return nil, fmt.Errorf("register store %s: %w", name, err)
		}
		s.registered = true
	}
	return s, nil
}

func (s *Store) Name() string                   { return s.name }
func (s *Store) Factory() *record.Factory       { return s.factory }
func (s *Store) Loop() *loop.Loop               { return s.loop }
func (s *Store) ServerOnly() bool               { return s.serverOnly }
func (s *Store) Standalone() bool               { return s.standalone }
func (s *Store) Destroyed() bool                { return s.destroyed }
func (s *Store) String() string                 { return "store " + s.name }
func (s *Store) Len() int                       { return len(s.records) }
func (s *Store) At(i int) *record.Record        { return s.records[i] }
func (s *Store) Records() []*record.Record      { return slices.Clone(s.records) }
func (s *Store) Modified() []*record.Record     { return slices.Clone(s.modified) }
func (s *Store) Removed() []*record.Record      { return slices.Clone(s.removed) }
func (s *Store) IndexOf(r *record.Record) int   { return slices.Index(s.records, r) }
func (s *Store) Contains(r *record.Record) bool { return s.IndexOf(r) >= 0 }

// IsModified reports whether r is queued for the next save.
func (s *Store) IsModified(r *record.Record) bool { return slices.Contains(s.modified, r) }

// GetByID returns the record with entry id id, or nil.
func (s *Store) GetByID(id string) *record.Record {
	for _, r := range s.records {
		if record.SameEntryID(r.ID(), id) {
			return r
		}
	}
	return nil
}

// FindByIdentity returns the record whose identity key is key, or nil.
func (s *Store) FindByIdentity(key string) *record.Record {
	for _, r := range s.records {
		if k, ok := r.IdentityKey(); ok && record.SameEntryID(k, key) {
			return r
		}
	}
	return nil
}

// Event topics.
func (s *Store) OnBeforeSave() *event.Topic[SaveEvent]     { return &s.beforeSave }
func (s *Store) OnSave() *event.Topic[SaveEvent]           { return &s.save }
func (s *Store) OnUpdate() *event.Topic[UpdateEvent]       { return &s.update }
func (s *Store) OnAdd() *event.Topic[AddEvent]             { return &s.add }
func (s *Store) OnRemove() *event.Topic[RemoveEvent]       { return &s.remove }
func (s *Store) OnWrite() *event.Topic[WriteEvent]         { return &s.write }
func (s *Store) OnException() *event.Topic[ExceptionEvent] { return &s.exception }
func (s *Store) OnLoad() *event.Topic[LoadEvent]           { return &s.load }
func (s *Store) OnOpen() *event.Topic[OpenEvent]           { return &s.open }
func (s *Store) OnInvalid() *event.Topic[InvalidEvent]     { return &s.invalid }

// HasListener reports whether owner subscribed to the named topic.
func (s *Store) HasListener(topic string, owner any) bool {
	switch topic {
	case TopicBeforeSave:
		return s.beforeSave.HasSubscriber(owner)
	case TopicSave:
		return s.save.HasSubscriber(owner)
	case TopicUpdate:
		return s.update.HasSubscriber(owner)
	case TopicAdd:
		return s.add.HasSubscriber(owner)
	case TopicRemove:
		return s.remove.HasSubscriber(owner)
	case TopicWrite:
		return s.write.HasSubscriber(owner)
	case TopicException:
		return s.exception.HasSubscriber(owner)
	case TopicLoad:
		return s.load.HasSubscriber(owner)
	case TopicOpen:
		return s.open.HasSubscriber(owner)
	case TopicInvalid:
		return s.invalid.HasSubscriber(owner)
	}
	return false
}

// Add adds records at the end. Phantom or dirty records are queued
// for the next save. A record whose id is already present is a misuse
// error and nothing is added.
func (s *Store) Add(recs ...*record.Record) error {
	if s.destroyed {
		return ErrDestroyed
	}
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.Destroyed() {
			return &record.MisuseError{Code: record.ErrCodeDestroyed, Message: "add destroyed record to " + s.name, RecordID: r.ID()}
		}
		if c := r.Container(); c != nil && c != record.Container(s) {
			return &record.MisuseError{Code: record.ErrCodeForeignRecord, Message: "record already belongs to another container", RecordID: r.ID()}
		}
		if s.GetByID(r.ID()) != nil || seen[r.ID()] {
			return &record.MisuseError{Code: record.ErrCodeDuplicateIdentity, Message: "id already in " + s.name, RecordID: r.ID()}
		}
		seen[r.ID()] = true
	}
	if len(recs) == 0 {
		return nil
	}
	for _, r := range recs {
		if err := r.Attach(s); err != nil {
			return err
		}
		s.records = append(s.records, r)
		s.removed = slices.DeleteFunc(s.removed, func(x *record.Record) bool { return x == r })
		if !s.serverOnly && (r.Phantom() || r.Dirty() || r.HasActions()) {
			s.markModified(r)
		}
	}
	s.add.Emit(AddEvent{Store: s, Records: slices.Clone(recs)})
	return nil
}

// Remove takes r out of the store. A persisted record is queued for
// destruction on the next save; a phantom record is destroyed.
func (s *Store) Remove(r *record.Record) error {
	if s.destroyed {
		return ErrDestroyed
	}
	idx := s.IndexOf(r)
	if idx < 0 {
		return nil
	}
	s.records = slices.Delete(s.records, idx, idx+1)
	s.unmarkModified(r)
	r.Detach(s)
	queued := !r.Phantom() && !s.serverOnly
	if queued {
		s.removed = append(s.removed, r)
	}
	s.remove.Emit(RemoveEvent{Store: s, Record: r})
	if !queued {
		r.Destroy()
	}
	return nil
}

// RemoveExternal takes r out of the store without queuing a destroy. It
// is used for deletions already confirmed by the server.
func (s *Store) RemoveExternal(r *record.Record) {
	idx := s.IndexOf(r)
	if idx < 0 {
		return
	}
	s.records = slices.Delete(s.records, idx, idx+1)
	s.unmarkModified(r)
	r.Detach(s)
	s.remove.Emit(RemoveEvent{Store: s, Record: r, External: true})
	r.Destroy()
}

// RejectChanges drops every pending change that has no request out:
// modified records get their original values back, phantom records are
// removed and destroyed, and removed records return to the end of the
// store.
func (s *Store) RejectChanges() error {
	if s.destroyed {
		return ErrDestroyed
	}
	var errs []error
	for _, r := range slices.Clone(s.modified) {
		if s.inFlight[r] != nil {
			continue
		}
		if r.Phantom() {
			errs = append(errs, s.Remove(r))
			continue
		}
		r.ClearActions()
		errs = append(errs, r.Reject())
	}

	var restored []*record.Record
	for _, r := range s.removed {
		if s.inFlight[r] != nil {
			continue
		}
		if err := r.Attach(s); err != nil {
			errs = append(errs, err)
			continue
		}
		s.records = append(s.records, r)
		restored = append(restored, r)
	}
	if len(restored) > 0 {
		s.removed = slices.DeleteFunc(s.removed, func(r *record.Record) bool { return slices.Contains(restored, r) })
		s.add.Emit(AddEvent{Store: s, Records: restored})
	}
	slog.Debug("store changes rejected", "store", s.name, "restored", len(restored), "modified", len(s.modified))
	return errors.Join(errs...)
}

// Destroy aborts outstanding requests, leaves the coordinator and
// destroys every record. Responses arriving later are dropped.
func (s *Store) Destroy() {
	if s.destroyed {
		return
	}
	for _, h := range s.Pending() {
		s.Abort(h)
	}
	if s.registered {
		if err := s.registrar.Unregister(s); err != nil {
			slog.Error("unregister store failed", "store", s.name, "error", err)
		}
		s.registered = false
	}
	for _, r := range s.records {
		r.Destroy()
	}
	for _, r := range s.removed {
		r.Destroy()
	}
	s.records, s.modified, s.removed = nil, nil, nil
	s.destroyed = true
	slog.Debug("store destroyed", "store", s.name)
}

// RecordUpdated implements record.Container.
func (s *Store) RecordUpdated(r *record.Record, ev record.UpdateEvent) {
	switch {
	case s.serverOnly:
		s.unmarkModified(r)
	case r.Phantom() || r.Dirty() || r.HasActions():
		s.markModified(r)
	default:
		s.unmarkModified(r)
	}
	s.update.Emit(UpdateEvent{Store: s, Record: r, Op: UpdateEdit, Fields: ev.Fields, SubStores: ev.SubStores})
}

// RecordCommitted implements record.Container.
func (s *Store) RecordCommitted(r *record.Record) {
	if !s.serverOnly && (r.Phantom() || r.Dirty() || r.HasActions()) {
		s.markModified(r)
	} else {
		s.unmarkModified(r)
	}
	s.update.Emit(UpdateEvent{Store: s, Record: r, Op: UpdateCommit})
}

// RecordRejected implements record.Container.
func (s *Store) RecordRejected(r *record.Record) {
	if !r.Phantom() && !r.HasActions() {
		s.unmarkModified(r)
	}
	s.update.Emit(UpdateEvent{Store: s, Record: r, Op: UpdateReject})
}

// QueueActions queues r for the next save because message actions were
// added to it.
func (s *Store) QueueActions(r *record.Record) {
	if s.Contains(r) && r.HasActions() && !s.serverOnly {
		s.markModified(r)
	}
}

func (s *Store) markModified(r *record.Record) {
	if !slices.Contains(s.modified, r) {
		s.modified = append(s.modified, r)
	}
}

func (s *Store) unmarkModified(r *record.Record) {
	s.modified = slices.DeleteFunc(s.modified, func(x *record.Record) bool { return x == r })
}

// findByData locates the record a response item refers to.
func (s *Store) findByData(id string, data ir.IRObject) *record.Record {
	if r := s.GetByID(id); r != nil {
		return r
	}
	for _, r := range s.records {
		if idf := r.Definition().IDField(); idf != "" {
			if v, ok := data[idf]; ok && ir.Equal(v, r.Get(idf)) && !ir.IsBlank(v) {
				return r
			}
		}
	}
	return nil
}
