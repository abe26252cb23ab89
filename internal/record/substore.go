package record

import (
	"slices"

	"github.com/roach88/recsync/internal/event"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

// SubStoreOp names a change to a child collection.
type SubStoreOp string

const (
	SubStoreAdd    SubStoreOp = "add"
	SubStoreRemove SubStoreOp = "remove"
	SubStoreUpdate SubStoreOp = "update"
)

// SubStoreEvent describes a change to a child collection.
type SubStoreEvent struct {
	Store   *SubStore
	Op      SubStoreOp
	Records []*Record
	// Fields is set for SubStoreUpdate.
	Fields []string
}

// Changes is the payload a save needs from a child collection. The three
// lists are disjoint.
type Changes struct {
	// Add holds children never seen by the server.
	Add []*Record
	// Modify holds existing children changed since the last commit.
	Modify []*Record
	// Remove holds existing children deleted since the last commit.
	Remove []*Record
}

// Empty reports whether there is nothing to send.
func (c Changes) Empty() bool {
	return len(c.Add) == 0 && len(c.Modify) == 0 && len(c.Remove) == 0
}

// SubStore is a child collection exclusively owned by one parent record.
type SubStore struct {
	name     string
	childDef *schema.Definition
	parent   *Record

	items    []*Record
	modified []*Record
	removed  []*Record
	deferred []*Record
	// unkeyed holds children created by the last confirmed save that have
	// no id-field value yet, in the order they were sent.
	unkeyed []*Record

	events event.Topic[SubStoreEvent]
}

func newSubStore(name string, childDef *schema.Definition, parent *Record) *SubStore {
	return &SubStore{name: name, childDef: childDef, parent: parent}
}

// Name returns the sub-store key.
func (s *SubStore) Name() string { return s.name }

// Parent returns the owning record.
func (s *SubStore) Parent() *Record { return s.parent }

// ChildDefinition returns the type of the children.
func (s *SubStore) ChildDefinition() *schema.Definition { return s.childDef }

// Events returns the add/remove/update topic.
func (s *SubStore) Events() *event.Topic[SubStoreEvent] { return &s.events }

// Len returns the number of children.
func (s *SubStore) Len() int { return len(s.items) }

// Items returns the children in insertion order.
func (s *SubStore) Items() []*Record { return slices.Clone(s.items) }

// At returns the i-th child.
func (s *SubStore) At(i int) *Record { return s.items[i] }

// Modified returns the children added or changed since the last commit.
func (s *SubStore) Modified() []*Record { return slices.Clone(s.modified) }

// Removed returns the children removed since the last commit.
func (s *SubStore) Removed() []*Record { return slices.Clone(s.removed) }

// Contains reports whether rec is one of the children.
func (s *SubStore) Contains(rec *Record) bool { return slices.Contains(s.items, rec) }

// IsModified reports whether rec is in the modified set.
func (s *SubStore) IsModified(rec *Record) bool { return slices.Contains(s.modified, rec) }

// IsRemoved reports whether rec is in the removed set.
func (s *SubStore) IsRemoved(rec *Record) bool { return slices.Contains(s.removed, rec) }

// HasChanges reports whether anything is pending for the next save.
func (s *SubStore) HasChanges() bool { return len(s.modified) > 0 || len(s.removed) > 0 }

// FindByIdentity returns the child with identity key, or nil.
func (s *SubStore) FindByIdentity(key string) *Record {
	for _, item := range s.items {
		if k, ok := item.IdentityKey(); ok && SameEntryID(k, key) {
			return item
		}
	}
	return nil
}

func (s *SubStore) findRemoved(key string) *Record {
	for _, item := range s.removed {
		if k, ok := item.IdentityKey(); ok && SameEntryID(k, key) {
			return item
		}
	}
	return nil
}

// findCopy returns a child that shares rec's origin.
func (s *SubStore) findCopy(rec *Record) *Record {
	o := rec.origin()
	for _, item := range s.items {
		if item == rec || item.origin() == o {
			return item
		}
	}
	return nil
}

// Add appends children. Phantom or dirty children join the modified set.
// A child whose identity is already present is rejected and nothing is
// added. The add notification is held back while the parent is inside a
// transaction.
func (s *SubStore) Add(recs ...*Record) error {
	if s.parent.destroyed {
		return misuse(ErrCodeDestroyed, s.parent.id, "add to %s of destroyed record", s.name)
	}
	seen := make(map[string]bool)
	for _, rec := range recs {
		if rec.destroyed {
			return misuse(ErrCodeDestroyed, rec.id, "add destroyed record to %s", s.name)
		}
		if rec.container != nil && rec.container != s {
			return misuse(ErrCodeForeignRecord, rec.id, "record already belongs to another container")
		}
		if s.Contains(rec) {
			return misuse(ErrCodeDuplicateIdentity, rec.id, "record already in %s", s.name)
		}
		if key, ok := rec.IdentityKey(); ok {
			if s.FindByIdentity(key) != nil || seen[key] {
				return misuse(ErrCodeDuplicateIdentity, rec.id, "identity %q already in %s", key, s.name)
			}
			seen[key] = true
		}
	}
	if len(recs) == 0 {
		return nil
	}

	for _, rec := range recs {
		rec.container = s
		s.items = append(s.items, rec)
		s.removed = slices.DeleteFunc(s.removed, func(r *Record) bool { return r == rec })
		if rec.phantom || rec.Dirty() {
			s.markModified(rec)
		}
	}
	if s.parent.editDepth > 0 {
		s.deferred = append(s.deferred, recs...)
	} else {
		s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreAdd, Records: slices.Clone(recs)})
	}
	s.parent.subStoreChanged(s.name)
	return nil
}

// Remove takes a child out of the collection. A persisted child moves to
// the removed set; a phantom child is dropped.
func (s *SubStore) Remove(rec *Record) error {
	if s.parent.destroyed {
		return misuse(ErrCodeDestroyed, s.parent.id, "remove from %s of destroyed record", s.name)
	}
	idx := slices.Index(s.items, rec)
	if idx < 0 {
		return nil
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	s.unmarkModified(rec)
	s.deferred = slices.DeleteFunc(s.deferred, func(r *Record) bool { return r == rec })
	if !rec.phantom {
		s.removed = append(s.removed, rec)
	}
	rec.container = nil
	s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreRemove, Records: []*Record{rec}})
	s.parent.subStoreChanged(s.name)
	return nil
}

// CommitChanges clears the modified and removed sets after the parent
// was saved. Added children become persisted.
func (s *SubStore) CommitChanges() {
	for _, rec := range slices.Clone(s.modified) {
		rec.persist()
		for _, name := range rec.subOrder {
			rec.subStores[name].CommitChanges()
		}
		rec.modified = make(map[string]ir.IRValue)
	}
	for _, rec := range s.removed {
		rec.Destroy()
	}
	s.modified = nil
	s.removed = nil
	s.unkeyed = nil
}

// SentChanges is a child collection's pending changes as captured when a
// save request was built, with the values each added or modified child
// had at that point.
type SentChanges struct {
	Changes
	values map[*Record]ir.IRObject
}

// Snapshot captures the pending changes for a save request.
func (s *SubStore) Snapshot() SentChanges {
	snap := SentChanges{Changes: s.Changes(), values: make(map[*Record]ir.IRObject)}
	for _, rec := range s.modified {
		snap.values[rec] = rec.data.Clone()
	}
	return snap
}

// CommitSent commits the changes in sent after the server confirmed them.
// Children added, removed or edited after the snapshot keep their pending
// state. A child edited again while the request was out stays modified
// against the value that was sent.
func (s *SubStore) CommitSent(sent SentChanges) {
	s.unkeyed = nil
	for _, rec := range slices.Concat(sent.Add, sent.Modify) {
		if rec.destroyed {
			continue
		}
		created := rec.phantom
		rec.persist()
		if created && !rec.hasFieldIdentity() {
			s.unkeyed = append(s.unkeyed, rec)
		}
		for _, name := range rec.subOrder {
			rec.subStores[name].CommitChanges()
		}
		values := sent.values[rec]
		keep := make(map[string]ir.IRValue)
		for name := range rec.modified {
			if v, ok := values[name]; ok && !ir.Equal(v, rec.data.Get(name)) {
				keep[name] = v
			}
		}
		rec.modified = keep

		switch {
		case s.Contains(rec):
			if !rec.Dirty() {
				s.unmarkModified(rec)
			}
		case created && rec.container == nil && !s.IsRemoved(rec):
			// Created on the server but dropped here while the request
			// was out: the next save destroys it.
			s.removed = append(s.removed, rec)
		}
	}
	for _, rec := range sent.Remove {
		if !s.IsRemoved(rec) {
			continue
		}
		s.removed = slices.DeleteFunc(s.removed, func(r *Record) bool { return r == rec })
		rec.Destroy()
	}
}

// RejectChanges restores removed children, drops added ones and rejects
// edits to the rest.
func (s *SubStore) RejectChanges() {
	for _, rec := range slices.Clone(s.modified) {
		if rec.phantom {
			s.items = slices.DeleteFunc(s.items, func(r *Record) bool { return r == rec })
			rec.container = nil
			continue
		}
		for name, orig := range rec.modified {
			rec.data[name] = orig
		}
		rec.modified = make(map[string]ir.IRValue)
	}
	for _, rec := range s.removed {
		rec.container = s
		s.items = append(s.items, rec)
	}
	s.modified = nil
	s.removed = nil
	s.unkeyed = nil
}

// Replace makes the collection hold the children reported by the server
// after a save. Existing children with a matching identity are kept and
// receive the server's values; the others are dropped. Pending changes
// survive: a modified child keeps its edited fields, a child added
// locally stays at the end, and a child removed locally is not brought
// back. Children the server created for the last confirmed save are
// matched, in order, to the local children that were sent without a key.
func (s *SubStore) Replace(children []*Record) error {
	if s.parent.destroyed {
		return misuse(ErrCodeDestroyed, s.parent.id, "replace %s of destroyed record", s.name)
	}
	next := make([]*Record, 0, len(children))
	kept := make(map[*Record]bool, len(children))
	var added []*Record
	unkeyed := s.unkeyed
	s.unkeyed = nil
	for _, child := range children {
		var existing *Record
		if key, ok := child.IdentityKey(); ok {
			if s.findRemoved(key) != nil {
				continue
			}
			existing = s.FindByIdentity(key)
		}
		if existing == nil && len(unkeyed) > 0 {
			existing, unkeyed = unkeyed[0], unkeyed[1:]
			if existing.destroyed {
				existing = nil
			} else if !s.Contains(existing) {
				// Removed while its create was out: it only needs the key
				// for the destroy that follows.
				if err := ApplyData(existing, child, Authoritative()); err != nil {
					return err
				}
				existing.adoptKey()
				continue
			}
		}
		if existing != nil && !kept[existing] {
			pending := s.IsModified(existing)
			opts := []MergeOption{Authoritative()}
			if pending {
				opts = append(opts, PreserveModified())
			}
			if err := ApplyData(existing, child, opts...); err != nil {
				return err
			}
			if !pending {
				existing.persist()
				existing.modified = make(map[string]ir.IRValue)
			}
			existing.adoptKey()
			kept[existing] = true
			next = append(next, existing)
			continue
		}
		if child.container != nil && child.container != s {
			child = child.Copy()
			child.copiedFrom = nil
		}
		child.container = s
		kept[child] = true
		next = append(next, child)
		added = append(added, child)
	}

	var dropped []*Record
	for _, item := range s.items {
		switch {
		case kept[item]:
		case s.IsModified(item):
			next = append(next, item)
		default:
			item.container = nil
			dropped = append(dropped, item)
		}
	}
	s.items = next
	s.modified = slices.DeleteFunc(s.modified, func(r *Record) bool { return !slices.Contains(next, r) })
	s.deferred = nil

	for _, item := range dropped {
		s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreRemove, Records: []*Record{item}})
		item.Destroy()
	}
	if len(added) > 0 {
		s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreAdd, Records: added})
	}
	if len(added) > 0 || len(dropped) > 0 {
		s.parent.subStoreChanged(s.name)
	}
	return nil
}

// Changes returns the pending add, modify and remove lists.
func (s *SubStore) Changes() Changes {
	var c Changes
	for _, rec := range s.modified {
		if rec.phantom {
			c.Add = append(c.Add, rec)
		} else {
			c.Modify = append(c.Modify, rec)
		}
	}
	c.Remove = slices.Clone(s.removed)
	return c
}

// RecordUpdated implements Container.
func (s *SubStore) RecordUpdated(rec *Record, ev UpdateEvent) {
	if rec.Dirty() {
		s.markModified(rec)
	} else if !rec.phantom {
		s.unmarkModified(rec)
	}
	if len(ev.Fields) > 0 || len(ev.SubStores) > 0 {
		s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreUpdate, Records: []*Record{rec}, Fields: ev.Fields})
	}
	s.parent.subStoreChanged(s.name)
}

// RecordCommitted implements Container.
func (s *SubStore) RecordCommitted(rec *Record) {
	if rec.Dirty() {
		s.markModified(rec)
	} else if !rec.phantom {
		s.unmarkModified(rec)
	}
}

// RecordRejected implements Container.
func (s *SubStore) RecordRejected(rec *Record) {
	if !rec.phantom {
		s.unmarkModified(rec)
	}
	s.parent.subStoreChanged(s.name)
}

func (s *SubStore) markModified(rec *Record) {
	if !slices.Contains(s.modified, rec) {
		s.modified = append(s.modified, rec)
	}
}

func (s *SubStore) unmarkModified(rec *Record) {
	s.modified = slices.DeleteFunc(s.modified, func(r *Record) bool { return r == rec })
}

func (s *SubStore) flushDeferred() {
	if len(s.deferred) == 0 {
		return
	}
	recs := s.deferred
	s.deferred = nil
	s.events.Emit(SubStoreEvent{Store: s, Op: SubStoreAdd, Records: recs})
}

func (s *SubStore) destroy() {
	for _, rec := range s.items {
		rec.Destroy()
	}
	for _, rec := range s.removed {
		rec.Destroy()
	}
	s.items, s.modified, s.removed, s.deferred, s.unkeyed = nil, nil, nil, nil, nil
}

// copyFor deep-copies the collection for a copied parent.
func (s *SubStore) copyFor(parent *Record) *SubStore {
	c := newSubStore(s.name, s.childDef, parent)
	for _, item := range s.items {
		cp := item.Copy()
		cp.container = c
		c.items = append(c.items, cp)
		if s.IsModified(item) {
			c.modified = append(c.modified, cp)
		}
	}
	for _, item := range s.removed {
		c.removed = append(c.removed, item.Copy())
	}
	return c
}
