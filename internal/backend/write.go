package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/wire"
)

func (s *Server) open(ctx context.Context, q querier, item wire.Item) (wire.ResponseItem, error) {
	r, err := readItem(ctx, q, item.ID)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	var names []string
	if def, err := s.definition(r.MessageClass, r.ObjectType); err == nil {
		names = def.SubStoreNames()
	} else if names, err = storedSubStores(ctx, q, r.EntryID); err != nil {
		return wire.ResponseItem{}, err
	}
	return s.responseItem(ctx, q, r.EntryID, "", names)
}

func (s *Server) create(ctx context.Context, q querier, item wire.Item) (wire.ResponseItem, error) {
	def, err := s.definition(item.MessageClass, item.ObjectType)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	seq, err := nextSeq(ctx, q)
	if err != nil {
		return wire.ResponseItem{}, err
	}

	id := s.ids()
	props := ir.IRObject{}
	for k, v := range item.Props {
		if !ir.IsNull(v) {
			props[k] = v
		}
	}
	props[idField(def)] = ir.IRString(id)
	if item.MessageClass != "" && props.String("message_class") == "" {
		props["message_class"] = ir.IRString(item.MessageClass)
	}
	s.stamp(def, props, true)

	r := row{
		EntryID:      id,
		MessageClass: props.String("message_class"),
		ObjectType:   item.ObjectType,
		Version:      1,
		Props:        props,
		Seq:          seq,
	}
	copies, err := s.applyActions(&r, item.Actions)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	r.ParentEntryID = r.Props.String("parent_entryid")
	if err := insertItem(ctx, q, r); err != nil {
		return wire.ResponseItem{}, err
	}
	touched, err := s.applySubStores(ctx, q, def, id, item.SubStores)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	if err := s.insertCopies(ctx, q, def, r, copies); err != nil {
		return wire.ResponseItem{}, err
	}
	slog.Debug("item created", "entryid", id, "temp_id", item.ID, "class", r.MessageClass)
	return s.responseItem(ctx, q, id, item.ID, touched)
}

func (s *Server) update(ctx context.Context, q querier, item wire.Item) (wire.ResponseItem, error) {
	r, err := readItem(ctx, q, item.ID)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	if s.strict && item.Version != 0 && item.Version != r.Version {
		return wire.ResponseItem{}, conflict(r.EntryID, r.Version, item.Version)
	}
	class := r.MessageClass
	if class == "" {
		class = item.MessageClass
	}
	def, err := s.definition(class, r.ObjectType)
	if err != nil {
		return wire.ResponseItem{}, err
	}

	for k, v := range item.Props {
		if ir.IsNull(v) {
			delete(r.Props, k)
		} else {
			r.Props[k] = v
		}
	}
	r.Props[idField(def)] = ir.IRString(r.EntryID)
	if c := r.Props.String("message_class"); c != "" {
		r.MessageClass = c
	}
	s.stamp(def, r.Props, false)
	r.Version++

	copies, err := s.applyActions(&r, item.Actions)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	r.ParentEntryID = r.Props.String("parent_entryid")
	if err := updateItem(ctx, q, r); err != nil {
		return wire.ResponseItem{}, err
	}
	touched, err := s.applySubStores(ctx, q, def, r.EntryID, item.SubStores)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	if err := s.insertCopies(ctx, q, def, r, copies); err != nil {
		return wire.ResponseItem{}, err
	}
	slog.Debug("item updated", "entryid", r.EntryID, "version", r.Version)
	return s.responseItem(ctx, q, r.EntryID, "", touched)
}

func (s *Server) destroy(ctx context.Context, q querier, item wire.Item) (wire.ResponseItem, error) {
	deleted, err := deleteItem(ctx, q, item.ID)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	if !deleted {
		slog.Debug("destroy of missing item", "entryid", item.ID)
	}
	return wire.ResponseItem{ID: item.ID, Deleted: true}, nil
}

// responseItem reads back an item with the children of the named
// sub-stores.
func (s *Server) responseItem(ctx context.Context, q querier, id, tempID string, substores []string) (wire.ResponseItem, error) {
	r, err := readItem(ctx, q, id)
	if err != nil {
		return wire.ResponseItem{}, err
	}
	ri := wire.ResponseItem{ID: r.EntryID, Version: r.Version, Props: r.Props}
	if tempID != r.EntryID {
		ri.TempID = tempID
	}
	for _, name := range substores {
		children, err := childProps(ctx, q, r.EntryID, name)
		if err != nil {
			return wire.ResponseItem{}, err
		}
		if ri.SubStores == nil {
			ri.SubStores = make(map[string][]ir.IRObject, len(substores))
		}
		ri.SubStores[name] = children
	}
	return ri, nil
}

func idField(def *schema.Definition) string {
	if f := def.IDField(); f != "" {
		return f
	}
	return "entryid"
}

// stamp sets creation and modification times on types that declare them.
func (s *Server) stamp(def *schema.Definition, props ir.IRObject, created bool) {
	sch := def.Schema()
	now := ir.NewIRTime(s.now())
	if created && sch.Has("creation_time") && ir.IsNull(props.Get("creation_time")) {
		props["creation_time"] = now
	}
	if sch.Has("last_modification_time") {
		props["last_modification_time"] = now
	}
}

// applySubStores applies per-collection remove, modify and add lists in
// that order and returns the names of the collections touched.
func (s *Server) applySubStores(ctx context.Context, q querier, def *schema.Definition, parent string, changes map[string]*wire.SubStoreChanges) ([]string, error) {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ch := changes[name]
		spec, ok := def.SubStore(name)
		if !ok {
			return nil, invalid("%s has no sub-store %q", def.Name(), name)
		}
		childDef, err := s.reg.ByCustomTypeName(spec.ChildType)
		if err != nil {
			return nil, invalid("sub-store %q: %v", name, err)
		}
		if err := s.applyChildChanges(ctx, q, childDef, parent, name, ch); err != nil {
			return nil, fmt.Errorf("sub-store %q: %w", name, err)
		}
	}
	return names, nil
}

func (s *Server) applyChildChanges(ctx context.Context, q querier, childDef *schema.Definition, parent, name string, ch *wire.SubStoreChanges) error {
	if ch.Empty() {
		return nil
	}
	idf := childDef.IDField()
	if idf == "" {
		idf = "id"
	}
	existing, err := readChildren(ctx, q, parent, name)
	if err != nil {
		return err
	}
	positions := make(map[string]int, len(existing))
	nextPos := 0
	var nextInt int64 = 1
	for _, c := range existing {
		positions[c.Key] = c.Position
		nextPos = max(nextPos, c.Position+1)
		if n, ok := c.Props.Get(idf).(ir.IRInt); ok {
			nextInt = max(nextInt, int64(n)+1)
		}
	}

	for _, obj := range ch.Remove {
		key, err := childKey(obj, idf)
		if err != nil {
			return err
		}
		if err := deleteChild(ctx, q, parent, name, key); err != nil {
			return err
		}
		delete(positions, key)
	}
	for _, obj := range ch.Modify {
		key, err := childKey(obj, idf)
		if err != nil {
			return err
		}
		pos, ok := positions[key]
		if !ok {
			pos = nextPos
			nextPos++
		}
		if err := putChild(ctx, q, parent, name, child{Key: key, Position: pos, Props: withoutNulls(obj)}); err != nil {
			return err
		}
	}
	intIDs := false
	if f, ok := childDef.Schema().Field(idf); ok && f.Type == schema.TypeInt {
		intIDs = true
	}
	for _, obj := range ch.Add {
		props := withoutNulls(obj)
		if unassigned(props.Get(idf)) {
			if intIDs {
				props[idf] = ir.IRInt(nextInt)
				nextInt++
			} else {
				props[idf] = ir.IRString(s.ids())
			}
		}
		key, err := childKey(props, idf)
		if err != nil {
			return err
		}
		if err := putChild(ctx, q, parent, name, child{Key: key, Position: nextPos, Props: props}); err != nil {
			return err
		}
		nextPos++
	}
	return nil
}

// unassigned reports whether a child id still needs a server value.
// Integer ids below zero are placeholders.
func unassigned(v ir.IRValue) bool {
	if n, ok := v.(ir.IRInt); ok {
		return n < 0
	}
	return ir.IsBlank(v)
}

func childKey(obj ir.IRObject, idf string) (string, error) {
	v := obj.Get(idf)
	if ir.IsNull(v) {
		return "", invalid("child without %s", idf)
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("child key: %w", err)
	}
	return string(b), nil
}

func withoutNulls(obj ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(obj))
	for k, v := range obj {
		if !ir.IsNull(v) {
			out[k] = v
		}
	}
	return out
}

// applyActions applies moves to r and returns the copies to insert once
// r is written.
func (s *Server) applyActions(r *row, actions []wire.MessageAction) ([]ir.IRObject, error) {
	var copies []ir.IRObject
	for _, a := range actions {
		dest := a.Props.String("destination_parent_entryid")
		if dest == "" {
			return nil, invalid("%s action without destination_parent_entryid", a.Type)
		}
		target := ir.IRObject{"parent_entryid": ir.IRString(dest)}
		if st := a.Props.String("destination_store_entryid"); st != "" {
			target["store_entryid"] = ir.IRString(st)
		}
		switch a.Type {
		case record.ActionMove:
			for k, v := range target {
				r.Props[k] = v
			}
		case record.ActionCopy:
			copies = append(copies, target)
		default:
			return nil, invalid("unknown message action %q", a.Type)
		}
	}
	return copies, nil
}

func (s *Server) insertCopies(ctx context.Context, q querier, def *schema.Definition, src row, targets []ir.IRObject) error {
	for _, target := range targets {
		seq, err := nextSeq(ctx, q)
		if err != nil {
			return err
		}
		id := s.ids()
		props := src.Props.Clone()
		for k, v := range target {
			props[k] = v
		}
		props[idField(def)] = ir.IRString(id)
		cp := row{
			EntryID:       id,
			ParentEntryID: props.String("parent_entryid"),
			MessageClass:  src.MessageClass,
			ObjectType:    src.ObjectType,
			Version:       1,
			Props:         props,
			Seq:           seq,
		}
		if err := insertItem(ctx, q, cp); err != nil {
			return err
		}
		if err := copyChildren(ctx, q, src.EntryID, id); err != nil {
			return err
		}
		slog.Debug("item copied", "from", src.EntryID, "to", id, "folder", cp.ParentEntryID)
	}
	return nil
}
