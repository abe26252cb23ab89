package wire

import (
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/schema"
)

// Encode builds the request item for r under action. Open and destroy
// carry identity only; create carries every property; update carries
// the modified properties.
func Encode(action Action, r *record.Record) Item {
	item := identity(r)
	switch action {
	case ActionCreate:
		item.Props = fullProps(r)
		item.SubStores = subStoreChanges(r)
		item.Actions = messageActions(r)
	case ActionUpdate:
		item.Props = changedProps(r)
		item.SubStores = subStoreChanges(r)
		item.Actions = messageActions(r)
	}
	return item
}

func identity(r *record.Record) Item {
	item := Item{ID: r.ID(), Version: r.Version()}
	def := r.Definition()
	switch def.Kind() {
	case schema.KindMessageClass:
		item.MessageClass = r.GetString("message_class")
		if item.MessageClass == "" {
			item.MessageClass = def.MessageClass()
		}
	case schema.KindObjectType:
		item.ObjectType = def.Code()
	}
	return item
}

// fullProps returns every non-null field.
func fullProps(r *record.Record) ir.IRObject {
	out := ir.IRObject{}
	for k, v := range r.Data() {
		if !ir.IsNull(v) {
			out[k] = v
		}
	}
	return out
}

// changedProps returns the modified fields plus the id field.
func changedProps(r *record.Record) ir.IRObject {
	out := ir.IRObject{}
	for _, name := range r.ModifiedFields() {
		out[name] = r.Get(name)
	}
	if idf := r.Definition().IDField(); idf != "" {
		if v := r.Get(idf); !ir.IsNull(v) {
			out[idf] = v
		}
	}
	return out
}

func subStoreChanges(r *record.Record) map[string]*SubStoreChanges {
	var out map[string]*SubStoreChanges
	for _, s := range r.SubStores() {
		ch := s.Changes()
		if ch.Empty() {
			continue
		}
		sc := &SubStoreChanges{}
		for _, c := range ch.Add {
			sc.Add = append(sc.Add, fullProps(c))
		}
		for _, c := range ch.Modify {
			sc.Modify = append(sc.Modify, fullProps(c))
		}
		for _, c := range ch.Remove {
			sc.Remove = append(sc.Remove, ChildIdentity(c))
		}
		if out == nil {
			out = make(map[string]*SubStoreChanges)
		}
		out[s.Name()] = sc
	}
	return out
}

// ChildIdentity returns the fields that identify a child: its id field,
// or "id" when the type declares none.
func ChildIdentity(c *record.Record) ir.IRObject {
	if idf := c.Definition().IDField(); idf != "" {
		if v := c.Get(idf); !ir.IsNull(v) {
			return ir.IRObject{idf: v}
		}
	}
	return ir.IRObject{"id": ir.IRString(c.ID())}
}

func messageActions(r *record.Record) []MessageAction {
	var out []MessageAction
	for _, a := range r.Actions() {
		out = append(out, MessageAction{Type: a.Type, Props: a.Props})
	}
	return out
}
