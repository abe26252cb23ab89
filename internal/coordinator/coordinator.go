package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recsync/internal/event"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/store"
	"github.com/roach88/recsync/internal/wire"
)

// DefaultDedupWindow is the number of recent writes remembered for
// duplicate suppression.
const DefaultDedupWindow = 256

// State is the registration state of a store.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateUnregistering
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateUnregistering:
		return "unregistering"
	}
	return "unregistered"
}

// PropagatedEvent reports a confirmed write applied to a sibling store.
type PropagatedEvent struct {
	From *store.Store
	To   *store.Store
	// Request is the id of the request whose write was propagated.
	Request string
	Action  wire.Action
	Record  *record.Record
}

type entry struct {
	store *store.Store
	state State
	subs  event.Group
}

// Coordinator propagates confirmed writes between registered stores.
type Coordinator struct {
	ctx     context.Context
	entries []*entry
	writes  *writeWindow

	beforeRecordSave  event.Topic[store.SaveEvent]
	afterRecordSave   event.Topic[store.SaveEvent]
	afterRecordUpdate event.Topic[store.UpdateEvent]
	recordRemove      event.Topic[store.RemoveEvent]
	afterRecordWrite  event.Topic[store.WriteEvent]
	storeException    event.Topic[store.ExceptionEvent]
	propagated        event.Topic[PropagatedEvent]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDedupWindow sets how many recent writes are remembered. Zero
// disables duplicate suppression. Default: DefaultDedupWindow.
func WithDedupWindow(n int) Option {
	return func(c *Coordinator) {
		c.writes = newWriteWindow(n)
	}
}

// WithContext sets the context for requests the coordinator causes,
// such as the reload after a message class change.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		c.ctx = ctx
	}
}

// New creates a coordinator with no stores.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		ctx:    context.Background(),
		writes: newWriteWindow(DefaultDedupWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeforeRecordSave fires when a registered store is about to save.
func (c *Coordinator) BeforeRecordSave() *event.Topic[store.SaveEvent] { return &c.beforeRecordSave }

// AfterRecordSave fires once every request of a store's save settled.
func (c *Coordinator) AfterRecordSave() *event.Topic[store.SaveEvent] { return &c.afterRecordSave }

// AfterRecordUpdate fires for record edits in a registered store.
func (c *Coordinator) AfterRecordUpdate() *event.Topic[store.UpdateEvent] { return &c.afterRecordUpdate }

// RecordRemove fires when a record leaves a registered store.
func (c *Coordinator) RecordRemove() *event.Topic[store.RemoveEvent] { return &c.recordRemove }

// AfterRecordWrite fires for every confirmed write, before propagation.
func (c *Coordinator) AfterRecordWrite() *event.Topic[store.WriteEvent] { return &c.afterRecordWrite }

// StoreException fires when a request of any store fails.
func (c *Coordinator) StoreException() *event.Topic[store.ExceptionEvent] { return &c.storeException }

// Propagated fires after a write was merged into a sibling store.
func (c *Coordinator) Propagated() *event.Topic[PropagatedEvent] { return &c.propagated }

// DedupWindow returns how many recent writes are remembered.
func (c *Coordinator) DedupWindow() int { return c.writes.size }

func (c *Coordinator) find(s *store.Store) *entry {
	for _, e := range c.entries {
		if e.store == s {
			return e
		}
	}
	return nil
}

// Register subscribes to s. Stores are usually registered by
// store.New through store.WithCoordinator.
func (c *Coordinator) Register(s *store.Store) error {
	if c.find(s) != nil {
		return fmt.Errorf("register %s: %w", s.Name(), ErrAlreadyRegistered)
	}
	for _, other := range c.entries {
		if other.state == StateRegistered && other.store.Loop() != s.Loop() {
			return fmt.Errorf("register %s: %w", s.Name(), ErrLoopMismatch)
		}
	}
	e := &entry{store: s}
	if !s.ServerOnly() {
		e.subs.Add(
			s.OnBeforeSave().Subscribe(c, c.onBeforeSave),
			s.OnSave().Subscribe(c, c.onSave),
			s.OnUpdate().Subscribe(c, c.onUpdate),
			s.OnRemove().Subscribe(c, c.onRemove),
		)
	}
	e.subs.Add(
		s.OnWrite().Subscribe(c, c.onWrite),
		s.OnException().Subscribe(c, c.onException),
	)
	e.state = StateRegistered
	c.entries = append(c.entries, e)
	slog.Info("store registered", "store", s.Name(), "server_only", s.ServerOnly(), "subscriptions", e.subs.Len())
	return nil
}

// Unregister removes every subscription to s.
func (c *Coordinator) Unregister(s *store.Store) error {
	e := c.find(s)
	if e == nil {
		return fmt.Errorf("unregister %s: %w", s.Name(), ErrNotRegistered)
	}
	e.state = StateUnregistering
	e.subs.UnsubscribeAll()
	c.entries = slices.DeleteFunc(c.entries, func(x *entry) bool { return x == e })
	e.state = StateUnregistered
	slog.Info("store unregistered", "store", s.Name())
	return nil
}

// State returns the registration state of s.
func (c *Coordinator) State(s *store.Store) State {
	if e := c.find(s); e != nil {
		return e.state
	}
	return StateUnregistered
}

// IsRegistered reports whether s is registered.
func (c *Coordinator) IsRegistered(s *store.Store) bool {
	return c.State(s) == StateRegistered
}

// Stores returns the registered stores in registration order.
func (c *Coordinator) Stores() []*store.Store {
	out := make([]*store.Store, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.store)
	}
	return out
}

// Subscriptions returns how many subscriptions the coordinator holds on
// s.
func (c *Coordinator) Subscriptions(s *store.Store) int {
	if e := c.find(s); e != nil {
		return e.subs.Len()
	}
	return 0
}

// StoresForFolders returns the registered stores whose last load listed
// any of folders.
func (c *Coordinator) StoresForFolders(folders ...string) []*store.Store {
	var out []*store.Store
	for _, e := range c.entries {
		if slices.ContainsFunc(folders, e.store.ContainsFolderInLastLoad) {
			out = append(out, e.store)
		}
	}
	return out
}

func (c *Coordinator) onBeforeSave(ev store.SaveEvent) { c.beforeRecordSave.Emit(ev) }
func (c *Coordinator) onSave(ev store.SaveEvent)       { c.afterRecordSave.Emit(ev) }
func (c *Coordinator) onRemove(ev store.RemoveEvent)   { c.recordRemove.Emit(ev) }

func (c *Coordinator) onUpdate(ev store.UpdateEvent) {
	if ev.Record.EventPropagation() {
		c.afterRecordUpdate.Emit(ev)
	}
}

func (c *Coordinator) onException(ev store.ExceptionEvent) {
	slog.Warn("store exception", "store", ev.Store.Name(), "action", ev.Action, "error", ev.Err)
	c.storeException.Emit(ev)
}

func (c *Coordinator) onWrite(ev store.WriteEvent) {
	if key, ok := writeKey(ev); ok {
		if c.writes.Seen(key) {
			slog.Debug("duplicate write ignored", "store", ev.Store.Name(), "action", ev.Action)
			return
		}
		c.writes.Record(key)
	}
	c.afterRecordWrite.Emit(ev)

	var recs []*record.Record
	for _, r := range ev.Records {
		if r.EventPropagation() {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return
	}

	for _, e := range slices.Clone(c.entries) {
		target := e.store
		if target == ev.Store || target.Destroyed() || e.state != StateRegistered {
			continue
		}
		for _, r := range recs {
			changed, err := target.ApplyExternal(c.ctx, ev.Action, r)
			if err != nil {
				slog.Error("write propagation failed",
					"from", ev.Store.Name(),
					"to", target.Name(),
					"action", ev.Action,
					"record", r.ID(),
					"error", err)
				continue
			}
			if changed {
				slog.Debug("write propagated", "from", ev.Store.Name(), "to", target.Name(), "action", ev.Action, "record", r.ID())
				c.propagated.Emit(PropagatedEvent{From: ev.Store, To: target, Request: ev.Request, Action: ev.Action, Record: r})
			}
		}
	}
}

func writeKey(ev store.WriteEvent) (string, bool) {
	if ev.Response == nil {
		return "", false
	}
	digest, err := ir.WriteDigest(ev.Store.Name(), string(ev.Action), ev.Response.Payload())
	if err != nil {
		slog.Error("write digest failed", "store", ev.Store.Name(), "error", err)
		return "", false
	}
	return ev.Response.ID + ":" + digest, true
}
