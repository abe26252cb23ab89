package record

import (
	"fmt"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

// Factory creates correctly typed records with their sub-stores wired.
type Factory struct {
	reg *schema.Registry
	ids IDGenerator
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithIDGenerator sets the temporary id source for phantom records.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) FactoryOption {
	return func(f *Factory) {
		f.ids = g
	}
}

// NewFactory creates a factory over reg.
func NewFactory(reg *schema.Registry, opts ...FactoryOption) *Factory {
	f := &Factory{reg: reg, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Registry returns the definitions the factory resolves against.
func (f *Factory) Registry() *schema.Registry { return f.reg }

// IDs returns the temporary id generator.
func (f *Factory) IDs() IDGenerator { return f.ids }

// CreateByMessageClass creates a record for a message class. An empty id
// creates a phantom record with a temporary id.
func (f *Factory) CreateByMessageClass(class string, data ir.IRObject, id string) (*Record, error) {
	def, err := f.reg.ByMessageClass(class)
	if err != nil {
		return nil, err
	}
	data = data.Clone()
	if data == nil {
		data = ir.IRObject{}
	}
	if data.String("message_class") == "" {
		data["message_class"] = ir.IRString(class)
	}
	return f.create(def, data, id)
}

// CreateByObjectType creates a record for a MAPI object type.
func (f *Factory) CreateByObjectType(objectType int, data ir.IRObject, id string) (*Record, error) {
	def, err := f.reg.ByObjectType(objectType)
	if err != nil {
		return nil, err
	}
	return f.create(def, data, id)
}

// CreateByCustomType creates a record for a custom type code.
func (f *Factory) CreateByCustomType(code int, data ir.IRObject, id string) (*Record, error) {
	def, err := f.reg.ByCustomType(code)
	if err != nil {
		return nil, err
	}
	return f.create(def, data, id)
}

// CreateByCustomTypeName creates a record for a named custom type.
func (f *Factory) CreateByCustomTypeName(name string, data ir.IRObject, id string) (*Record, error) {
	def, err := f.reg.ByCustomTypeName(name)
	if err != nil {
		return nil, err
	}
	return f.create(def, data, id)
}

// CreateByRecordData picks the type from data's message_class or
// object_type.
func (f *Factory) CreateByRecordData(data ir.IRObject, id string) (*Record, error) {
	def, err := f.reg.ByRecordData(data)
	if err != nil {
		return nil, err
	}
	return f.create(def, data, id)
}

// CreateChild creates a phantom child suitable for s.
func (f *Factory) CreateChild(s *SubStore, data ir.IRObject) (*Record, error) {
	return f.create(s.childDef, data, "")
}

// Materialize builds a persisted record from server data. The id is the
// value of the definition's id field.
func (f *Factory) Materialize(def *schema.Definition, data ir.IRObject) (*Record, error) {
	return f.build(def, data, childID(def, data, f.ids), false)
}

// MaterializeChild builds a persisted child for s.
func (f *Factory) MaterializeChild(s *SubStore, data ir.IRObject) (*Record, error) {
	return f.Materialize(s.childDef, data)
}

// Copy returns a copy of r under a new identity; an empty id makes a
// phantom copy.
func (f *Factory) Copy(r *Record, id string) *Record {
	return r.CopyAs(id, f.ids)
}

// FromServer builds a persisted record holding exactly data, without
// defaults, with children loaded into the named sub-stores. It is the
// source side of merges of server responses.
func (f *Factory) FromServer(def *schema.Definition, id string, data ir.IRObject, children map[string][]ir.IRObject) (*Record, error) {
	sch, err := def.Seal()
	if err != nil {
		return nil, err
	}
	values, err := sch.ConvertObject(data)
	if err != nil {
		return nil, fmt.Errorf("server data for %s: %w", def.Name(), err)
	}
	r, err := f.attachSubStores(newRecord(def, sch, id, false, values))
	if err != nil {
		return nil, err
	}
	for _, name := range r.subOrder {
		s := r.subStores[name]
		for _, cd := range children[name] {
			child, err := f.FromServer(s.childDef, childID(s.childDef, cd, f.ids), cd, nil)
			if err != nil {
				return nil, fmt.Errorf("sub-store %q: %w", name, err)
			}
			child.container = s
			s.items = append(s.items, child)
		}
	}
	return r, nil
}

func childID(def *schema.Definition, data ir.IRObject, ids IDGenerator) string {
	if idf := def.IDField(); idf != "" {
		switch v := data[idf].(type) {
		case ir.IRString:
			if v != "" {
				return string(v)
			}
		case ir.IRInt:
			if v >= 0 {
				return fmt.Sprintf("%d", int64(v))
			}
		}
	}
	return ids.Generate()
}

func (f *Factory) create(def *schema.Definition, data ir.IRObject, id string) (*Record, error) {
	if id == "" {
		return f.build(def, data, f.ids.Generate(), true)
	}
	return f.build(def, data, id, false)
}

func (f *Factory) build(def *schema.Definition, data ir.IRObject, id string, phantom bool) (*Record, error) {
	sch, err := def.Seal()
	if err != nil {
		return nil, err
	}
	values := sch.Defaults()
	converted, err := sch.ConvertObject(data)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", def.Name(), err)
	}
	for k, v := range converted {
		values[k] = v
	}
	if idf := def.IDField(); !phantom && idf != "" && ir.IsBlank(values[idf]) {
		if fld, ok := sch.Field(idf); ok && (fld.Type == schema.TypeAuto || fld.Type == schema.TypeString) {
			values[idf] = ir.IRString(id)
		}
	}

	return f.attachSubStores(newRecord(def, sch, id, phantom, values))
}

// attachSubStores creates the sub-stores declared by the record's definition.
func (f *Factory) attachSubStores(r *Record) (*Record, error) {
	def := r.def
	for _, name := range def.SubStoreNames() {
		spec, _ := def.SubStore(name)
		childDef, err := f.reg.ByCustomTypeName(spec.ChildType)
		if err != nil {
			return nil, fmt.Errorf("sub-store %q of %s: %w", name, def.Name(), err)
		}
		r.addSubStore(newSubStore(name, childDef, r))
	}
	return r, nil
}
