package record

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/recsync/internal/event"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

// UpdateEvent is fired once per outermost transaction that changed the
// record.
type UpdateEvent struct {
	Record *Record
	// Fields lists the fields whose value differs from the value they had
	// when the transaction began, in schema order.
	Fields []string
	// SubStores lists the sub-stores whose contents changed, sorted.
	SubStores []string
}

// Container owns records: a store for top-level records, a SubStore for
// children.
type Container interface {
	RecordUpdated(r *Record, ev UpdateEvent)
	RecordCommitted(r *Record)
	RecordRejected(r *Record)
}

// Action is a message action sent along with the next save, such as a
// copy or move to another folder.
type Action struct {
	Type  string
	Props ir.IRObject
}

const (
	ActionCopy = "copy"
	ActionMove = "move"
)

// Record is an edit-tracked instance of a schema.Definition.
type Record struct {
	def *schema.Definition
	sch *schema.Schema

	id      string
	phantom bool
	data    ir.IRObject
	// modified maps a changed field to the value it had at the last commit.
	modified map[string]ir.IRValue

	editDepth   int
	pre         map[string]ir.IRValue
	preModified map[string]ir.IRValue
	touched     bool
	subChanged  map[string]bool

	subStores map[string]*SubStore
	subOrder  []string

	container Container
	updates   event.Topic[UpdateEvent]

	destroyed  bool
	propagate  bool
	actions    []Action
	opened     bool
	version    int64
	copiedFrom *Record
}

func newRecord(def *schema.Definition, sch *schema.Schema, id string, phantom bool, data ir.IRObject) *Record {
	r := &Record{
		def:       def,
		sch:       sch,
		id:        id,
		phantom:   phantom,
		data:      data,
		modified:  make(map[string]ir.IRValue),
		subStores: make(map[string]*SubStore),
		propagate: true,
	}
	return r
}

// Definition returns the record's type.
func (r *Record) Definition() *schema.Definition { return r.def }

// Schema returns the record's field schema.
func (r *Record) Schema() *schema.Schema { return r.sch }

// ID returns the server identity, or the temporary id while phantom.
func (r *Record) ID() string { return r.id }

// Phantom reports whether the record has never been persisted.
func (r *Record) Phantom() bool { return r.phantom }

// Get returns a copy of the value of field, or IRNull.
func (r *Record) Get(field string) ir.IRValue { return ir.Clone(r.data.Get(field)) }

// GetString returns a string field, or "".
func (r *Record) GetString(field string) string { return r.data.String(field) }

// Data returns a deep copy of all field values.
func (r *Record) Data() ir.IRObject { return r.data.Clone() }

// IsModified reports whether field changed since the last commit.
func (r *Record) IsModified(field string) bool {
	_, ok := r.modified[field]
	return ok
}

// ModifiedFields returns the changed fields in schema order.
func (r *Record) ModifiedFields() []string {
	var out []string
	for _, name := range r.sch.Names() {
		if _, ok := r.modified[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Original returns the value field had at the last commit.
func (r *Record) Original(field string) ir.IRValue {
	if v, ok := r.modified[field]; ok {
		return ir.Clone(v)
	}
	return r.Get(field)
}

// Dirty reports whether the record has uncommitted changes: modified
// fields or pending sub-store changes.
func (r *Record) Dirty() bool {
	if len(r.modified) > 0 {
		return true
	}
	for _, s := range r.subStores {
		if s.HasChanges() {
			return true
		}
	}
	return false
}

// Editing reports whether a transaction is open.
func (r *Record) Editing() bool { return r.editDepth > 0 }

// Destroyed reports whether Destroy was called.
func (r *Record) Destroyed() bool { return r.destroyed }

// Version returns the last server version seen for the record.
func (r *Record) Version() int64 { return r.version }

// SetVersion records a server version. Lower versions are ignored.
func (r *Record) SetVersion(v int64) {
	if v > r.version {
		r.version = v
	}
}

// Opened reports whether the full record has been fetched.
func (r *Record) Opened() bool { return r.opened }

// AfterOpen marks the record as fully fetched.
func (r *Record) AfterOpen() { r.opened = true }

// EventPropagation reports whether changes to this record may be
// re-broadcast to sibling stores.
func (r *Record) EventPropagation() bool { return r.propagate }

// SetEventPropagation enables or disables re-broadcast.
func (r *Record) SetEventPropagation(on bool) { r.propagate = on }

// Container returns the current owner, or nil.
func (r *Record) Container() Container { return r.container }

// Attach sets the owner. A record belongs to at most one container.
func (r *Record) Attach(c Container) error {
	if r.container != nil && r.container != c {
		return misuse(ErrCodeForeignRecord, r.id, "record already belongs to another container")
	}
	r.container = c
	return nil
}

// Detach clears the owner if it is c.
func (r *Record) Detach(c Container) {
	if r.container == c {
		r.container = nil
	}
}

// Updates returns the topic fired by the outermost EndEdit and by Reject.
func (r *Record) Updates() *event.Topic[UpdateEvent] { return &r.updates }

// IdentityKey returns the value that identifies the record within a
// collection: the definition's id field when set (negative numbers mean
// unassigned), otherwise the id of a persisted record. Phantom records
// without an id field value have no identity.
func (r *Record) IdentityKey() (string, bool) {
	if idf := r.def.IDField(); idf != "" {
		switch v := r.data[idf].(type) {
		case ir.IRString:
			if v != "" {
				return string(v), true
			}
		case ir.IRInt:
			if v >= 0 {
				return strconv.FormatInt(int64(v), 10), true
			}
		}
	}
	if !r.phantom && r.id != "" {
		return r.id, true
	}
	return "", false
}

// SameIdentity reports whether r and other identify the same item.
func (r *Record) SameIdentity(other *Record) bool {
	if r == other {
		return true
	}
	a, ok := r.IdentityKey()
	if !ok {
		return false
	}
	b, ok := other.IdentityKey()
	return ok && SameEntryID(a, b)
}

// SupportsSubStore reports whether the record owns a sub-store name.
func (r *Record) SupportsSubStore(name string) bool {
	_, ok := r.subStores[name]
	return ok
}

// SubStore returns the named sub-store, or nil.
func (r *Record) SubStore(name string) *SubStore { return r.subStores[name] }

// SubStores returns all sub-stores sorted by name.
func (r *Record) SubStores() []*SubStore {
	out := make([]*SubStore, 0, len(r.subOrder))
	for _, name := range r.subOrder {
		out = append(out, r.subStores[name])
	}
	return out
}

func (r *Record) addSubStore(s *SubStore) {
	r.subStores[s.name] = s
	r.subOrder = append(r.subOrder, s.name)
	sort.Strings(r.subOrder)
}

// BeginEdit opens a transaction. Calls nest.
func (r *Record) BeginEdit() {
	if r.editDepth == 0 {
		r.pre = make(map[string]ir.IRValue)
		r.preModified = make(map[string]ir.IRValue, len(r.modified))
		for k, v := range r.modified {
			r.preModified[k] = v
		}
		r.subChanged = make(map[string]bool)
		r.touched = false
	}
	r.editDepth++
}

// EndEdit closes a transaction. The outermost call fires one UpdateEvent
// naming every field whose final value differs from its value when the
// transaction began, then tells the container.
func (r *Record) EndEdit() error {
	if r.editDepth == 0 {
		return misuse(ErrCodeEditDepth, r.id, "EndEdit without matching BeginEdit")
	}
	r.editDepth--
	if r.editDepth > 0 {
		return nil
	}

	var fields []string
	for _, name := range r.sch.Names() {
		if old, ok := r.pre[name]; ok && !ir.Equal(old, r.data.Get(name)) {
			fields = append(fields, name)
		}
	}
	var subs []string
	for name := range r.subChanged {
		subs = append(subs, name)
	}
	sort.Strings(subs)
	touched := r.touched
	r.pre, r.preModified, r.subChanged, r.touched = nil, nil, nil, false

	for _, name := range r.subOrder {
		r.subStores[name].flushDeferred()
	}

	if !touched && len(subs) == 0 {
		return nil
	}
	ev := UpdateEvent{Record: r, Fields: fields, SubStores: subs}
	if r.container != nil {
		r.container.RecordUpdated(r, ev)
	}
	if len(fields) > 0 || len(subs) > 0 {
		r.updates.Emit(ev)
	}
	return nil
}

// CancelEdit closes every open transaction and restores the fields and
// the modified set to their state at the outermost BeginEdit. Sub-store
// changes made during the transaction are kept. No event fires.
func (r *Record) CancelEdit() {
	if r.editDepth == 0 {
		return
	}
	for name, old := range r.pre {
		r.data[name] = old
	}
	r.modified = r.preModified
	r.editDepth = 0
	r.pre, r.preModified, r.subChanged, r.touched = nil, nil, nil, false
	for _, name := range r.subOrder {
		r.subStores[name].flushDeferred()
	}
}

// Set changes one field. Setting a field to its current value is a no-op
// unless the field is declared force-protocol, in which case it is still
// flagged as modified so it is transmitted on the next save.
func (r *Record) Set(field string, value ir.IRValue) error {
	if r.destroyed {
		return misuse(ErrCodeDestroyed, r.id, "set %q on destroyed record", field)
	}
	f, ok := r.sch.Field(field)
	if !ok {
		return &MisuseError{
			Code:     ErrCodeUnknownField,
			Message:  fmt.Sprintf("field %q not declared by %s", field, r.def.Name()),
			RecordID: r.id,
		}
	}
	v, err := r.sch.Convert(field, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", field, err)
	}
	r.set(f, ir.Clone(v), false)
	return nil
}

// SetValues sets several fields inside one transaction. Fields are
// applied in schema order.
func (r *Record) SetValues(values ir.IRObject) error {
	r.BeginEdit()
	var errs []error
	for _, name := range r.sch.Names() {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := r.Set(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range values {
		if !r.sch.Has(name) {
			errs = append(errs, misuse(ErrCodeUnknownField, r.id, "field %q not declared by %s", name, r.def.Name()))
		}
	}
	if err := r.EndEdit(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// set applies a converted value. Authoritative values come from the
// server: they are not flagged as modified and clear any local flag.
func (r *Record) set(f schema.Field, v ir.IRValue, authoritative bool) {
	old := r.data.Get(f.Name)
	_, wasModified := r.modified[f.Name]

	if ir.Equal(old, v) {
		switch {
		case authoritative && wasModified:
			r.BeginEdit()
			delete(r.modified, f.Name)
			r.touched = true
			_ = r.EndEdit()
		case !authoritative && f.ForceProtocol && !wasModified:
			r.BeginEdit()
			r.modified[f.Name] = old
			r.touched = true
			_ = r.EndEdit()
		}
		return
	}

	r.BeginEdit()
	if _, seen := r.pre[f.Name]; !seen {
		r.pre[f.Name] = old
	}
	switch {
	case authoritative:
		delete(r.modified, f.Name)
	case !wasModified:
		r.modified[f.Name] = old
	}
	r.data[f.Name] = v
	r.touched = true
	_ = r.EndEdit()
}

// subStoreChanged is called by a child collection after it changed.
func (r *Record) subStoreChanged(name string) {
	r.BeginEdit()
	r.subChanged[name] = true
	_ = r.EndEdit()
}

// Commit accepts all changes: modified fields and every sub-store's
// pending changes are cleared. Field consumers are not notified.
func (r *Record) Commit() error {
	return r.CommitExcept(nil)
}

// CommitExcept commits like Commit, except that the fields named in keep
// stay modified, with the value in keep as their committed value. It is
// used for fields edited again while a save was in flight.
func (r *Record) CommitExcept(keep ir.IRObject) error {
	if r.destroyed {
		return misuse(ErrCodeDestroyed, r.id, "commit destroyed record")
	}
	for _, name := range r.subOrder {
		r.subStores[name].CommitChanges()
	}
	r.commitFields(keep)
	return nil
}

// CommitSent commits what a save request carried. Fields are handled as
// in CommitExcept. Of each child collection only the changes captured in
// sent are committed; changes made after the snapshot stay pending.
func (r *Record) CommitSent(keep ir.IRObject, sent map[string]SentChanges) error {
	if r.destroyed {
		return misuse(ErrCodeDestroyed, r.id, "commit destroyed record")
	}
	for _, name := range r.subOrder {
		if snap, ok := sent[name]; ok {
			r.subStores[name].CommitSent(snap)
		}
	}
	r.commitFields(keep)
	return nil
}

// SnapshotChanges captures the pending changes of every child collection
// that has any.
func (r *Record) SnapshotChanges() map[string]SentChanges {
	out := make(map[string]SentChanges)
	for _, name := range r.subOrder {
		if sub := r.subStores[name]; sub.HasChanges() {
			out[name] = sub.Snapshot()
		}
	}
	return out
}

func (r *Record) commitFields(keep ir.IRObject) {
	r.modified = make(map[string]ir.IRValue)
	for name, orig := range keep {
		if r.sch.Has(name) && !ir.Equal(orig, r.data.Get(name)) {
			r.modified[name] = ir.Clone(orig)
		}
	}
	r.copiedFrom = nil
	if r.container != nil {
		r.container.RecordCommitted(r)
	}
}

// Reject restores every modified field to its committed value and
// discards pending sub-store changes.
func (r *Record) Reject() error {
	if r.destroyed {
		return misuse(ErrCodeDestroyed, r.id, "reject destroyed record")
	}
	var fields []string
	for _, name := range r.sch.Names() {
		if orig, ok := r.modified[name]; ok {
			if !ir.Equal(orig, r.data.Get(name)) {
				fields = append(fields, name)
			}
			r.data[name] = orig
		}
	}
	var subs []string
	for _, name := range r.subOrder {
		if r.subStores[name].HasChanges() {
			subs = append(subs, name)
		}
		r.subStores[name].RejectChanges()
	}
	r.modified = make(map[string]ir.IRValue)
	if r.container != nil {
		r.container.RecordRejected(r)
	}
	if len(fields) > 0 || len(subs) > 0 {
		r.updates.Emit(UpdateEvent{Record: r, Fields: fields, SubStores: subs})
	}
	return nil
}

// AssignID gives a phantom record its permanent identity. It may happen
// only once.
func (r *Record) AssignID(id string) error {
	if !r.phantom {
		return misuse(ErrCodeAlreadyAssigned, r.id, "record already has permanent id")
	}
	if id == "" {
		return misuse(ErrCodeAlreadyAssigned, r.id, "permanent id must not be empty")
	}
	r.id = id
	r.phantom = false
	if idf := r.def.IDField(); idf != "" && ir.IsBlank(r.data[idf]) && r.sch.Has(idf) {
		if f, _ := r.sch.Field(idf); f.Type == schema.TypeAuto || f.Type == schema.TypeString {
			r.data[idf] = ir.IRString(id)
		}
	}
	return nil
}

// hasFieldIdentity reports whether the definition's id field holds a
// value.
func (r *Record) hasFieldIdentity() bool {
	if r.def.IDField() == "" {
		return false
	}
	switch v := r.data[r.def.IDField()].(type) {
	case ir.IRString:
		return v != ""
	case ir.IRInt:
		return v >= 0
	}
	return false
}

// adoptKey makes the identity key the id of a persisted record.
func (r *Record) adoptKey() {
	if r.phantom || !r.hasFieldIdentity() {
		return
	}
	if key, ok := r.IdentityKey(); ok {
		r.id = key
	}
}

// persist marks a child as stored on the server after its parent saved.
// Its identity key becomes its id when it has one.
func (r *Record) persist() {
	if !r.phantom {
		return
	}
	r.phantom = false
	if key, ok := r.IdentityKey(); ok {
		r.id = key
	}
	r.copiedFrom = nil
}

// Destroy releases the record and its children. Later mutation fails.
func (r *Record) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	for _, name := range r.subOrder {
		r.subStores[name].destroy()
	}
	r.container = nil
}

// Actions returns the pending message actions.
func (r *Record) Actions() []Action {
	out := make([]Action, len(r.actions))
	for i, a := range r.actions {
		out[i] = Action{Type: a.Type, Props: a.Props.Clone()}
	}
	return out
}

// HasActions reports whether message actions are pending.
func (r *Record) HasActions() bool { return len(r.actions) > 0 }

// AddAction queues a message action for the next save.
func (r *Record) AddAction(a Action) {
	r.actions = append(r.actions, Action{Type: a.Type, Props: a.Props.Clone()})
}

// CopyTo queues a copy of the message into another folder.
func (r *Record) CopyTo(folderEntryID, storeEntryID string) {
	r.AddAction(Action{Type: ActionCopy, Props: ir.IRObject{
		"destination_parent_entryid": ir.IRString(folderEntryID),
		"destination_store_entryid":  ir.IRString(storeEntryID),
	}})
}

// MoveTo queues a move of the message into another folder.
func (r *Record) MoveTo(folderEntryID, storeEntryID string) {
	r.AddAction(Action{Type: ActionMove, Props: ir.IRObject{
		"destination_parent_entryid": ir.IRString(folderEntryID),
		"destination_store_entryid":  ir.IRString(storeEntryID),
	}})
}

// ClearActions drops pending message actions.
func (r *Record) ClearActions() { r.actions = nil }

// Validate checks blank constraints on the record and its children.
func (r *Record) Validate() error {
	errs := r.sch.Validate(r.data)
	for _, name := range r.subOrder {
		for _, child := range r.subStores[name].items {
			if err := child.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Copy returns an unowned deep copy: same id, phantom state, data,
// modified set, sub-store contents and actions.
func (r *Record) Copy() *Record {
	c := newRecord(r.def, r.sch, r.id, r.phantom, r.data.Clone())
	for k, v := range r.modified {
		c.modified[k] = ir.Clone(v)
	}
	c.actions = r.Actions()
	c.opened = r.opened
	c.version = r.version
	c.propagate = r.propagate
	c.copiedFrom = r
	for _, name := range r.subOrder {
		c.addSubStore(r.subStores[name].copyFor(c))
	}
	return c
}

// CopyAs returns a copy under a new identity. An empty id yields a
// phantom copy with the given temporary id generator.
func (r *Record) CopyAs(id string, ids IDGenerator) *Record {
	c := r.Copy()
	c.copiedFrom = nil
	if id == "" {
		c.id = ids.Generate()
		c.phantom = true
		return c
	}
	c.id = id
	c.phantom = false
	return c
}

// origin follows copy links back to the first record.
func (r *Record) origin() *Record {
	o := r
	for o.copiedFrom != nil {
		o = o.copiedFrom
	}
	return o
}

func (r *Record) String() string {
	state := "persisted"
	if r.phantom {
		state = "phantom"
	}
	return fmt.Sprintf("%s(%s %s)", r.def.Name(), r.id, state)
}
