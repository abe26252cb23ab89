package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/recsync/internal/ir"
)

// Kind says how a definition is keyed in the registry.
type Kind int

const (
	KindMessageClass Kind = iota
	KindObjectType
	KindCustomType
)

func (k Kind) String() string {
	switch k {
	case KindMessageClass:
		return "message_class"
	case KindObjectType:
		return "object_type"
	case KindCustomType:
		return "custom_type"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MAPI object types.
const (
	ObjectTypeStore    = 1
	ObjectTypeFolder   = 3
	ObjectTypeMessage  = 5
	ObjectTypeMailUser = 6
	ObjectTypeAttach   = 7
	ObjectTypeDistList = 8
)

// SubStoreSpec declares that records of a type own a child collection.
type SubStoreSpec struct {
	// Name is the sub-store key, e.g. "recipients".
	Name string
	// ChildType is the custom type name of the child records.
	ChildType string
}

// Definition describes one record type. Fields, defaults and sub-stores
// may be added until the definition is sealed.
type Definition struct {
	mu sync.Mutex

	kind  Kind
	class string
	code  int
	name  string

	fields    []Field
	subStores map[string]SubStoreSpec
	idField   string
	sealed    bool
	schema    *Schema
}

func newDefinition(kind Kind, class string, code int, name string) *Definition {
	return &Definition{
		kind:      kind,
		class:     class,
		code:      code,
		name:      name,
		subStores: make(map[string]SubStoreSpec),
	}
}

// Kind returns how the definition is keyed.
func (d *Definition) Kind() Kind { return d.kind }

// MessageClass returns the message class key, or "" for other kinds.
func (d *Definition) MessageClass() string { return d.class }

// Code returns the object type or custom type number.
func (d *Definition) Code() int { return d.code }

// Name returns a display name: the message class, or the custom type name.
func (d *Definition) Name() string {
	if d.kind == KindMessageClass {
		return d.class
	}
	return d.name
}

// AddField declares a field, replacing any earlier field of the same name.
func (d *Definition) AddField(f Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("add field %q to %s: %w", f.Name, d.Name(), ErrSealed)
	}
	if f.Type == "" {
		f.Type = TypeAuto
	}
	if !f.Type.valid() {
		return &DefinitionError{Field: f.Name, Message: fmt.Sprintf("unknown field type %q", f.Type)}
	}
	for i := range d.fields {
		if d.fields[i].Name == f.Name {
			d.fields[i] = f
			return nil
		}
	}
	d.fields = append(d.fields, f)
	return nil
}

// AddDefault sets the default value of an already declared field.
func (d *Definition) AddDefault(name string, v ir.IRValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("add default %q to %s: %w", name, d.Name(), ErrSealed)
	}
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Default = v
			return nil
		}
	}
	return &DefinitionError{Field: name, Message: "default for undeclared field"}
}

// SetSubStore declares a child collection.
func (d *Definition) SetSubStore(spec SubStoreSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("set sub-store %q on %s: %w", spec.Name, d.Name(), ErrSealed)
	}
	if spec.Name == "" || spec.ChildType == "" {
		return &DefinitionError{Field: "substores", Message: "sub-store needs a name and a child type"}
	}
	d.subStores[spec.Name] = spec
	return nil
}

// SetIDField names the field holding the record's identity.
func (d *Definition) SetIDField(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("set id field on %s: %w", d.Name(), ErrSealed)
	}
	d.idField = name
	return nil
}

// IDField returns the identity field, or "".
func (d *Definition) IDField() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idField
}

// SubStore returns the spec for name.
func (d *Definition) SubStore(name string) (SubStoreSpec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	spec, ok := d.subStores[name]
	return spec, ok
}

// SupportsSubStore reports whether records of this type own name.
func (d *Definition) SupportsSubStore(name string) bool {
	_, ok := d.SubStore(name)
	return ok
}

// SubStoreNames returns the declared sub-store names, sorted.
func (d *Definition) SubStoreNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.subStores))
	for n := range d.subStores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sealed reports whether the definition is frozen.
func (d *Definition) Sealed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sealed
}

// Seal freezes the definition and returns its schema. Sealing twice
// returns the same schema.
func (d *Definition) Seal() (*Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return d.schema, nil
	}
	s, err := NewSchema(d.fields...)
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", d.Name(), err)
	}
	d.schema = s
	d.sealed = true
	return s, nil
}

// Schema returns the sealed schema, or a snapshot of the current fields
// when the definition is still open.
func (d *Definition) Schema() *Schema {
	d.mu.Lock()
	if d.sealed {
		s := d.schema
		d.mu.Unlock()
		return s
	}
	fields := make([]Field, len(d.fields))
	copy(fields, d.fields)
	d.mu.Unlock()

	s, err := NewSchema(fields...)
	if err != nil {
		// AddField keeps names unique, so this only fires on an empty name.
		return &Schema{index: map[string]int{}}
	}
	return s
}

// overlay copies fields, sub-stores and the identity field from src
// into d. Values from src win.
func (d *Definition) overlay(src *Definition) {
	src.mu.Lock()
	fields := make([]Field, len(src.fields))
	copy(fields, src.fields)
	subs := make(map[string]SubStoreSpec, len(src.subStores))
	for k, v := range src.subStores {
		subs[k] = v
	}
	id := src.idField
	src.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fields {
		replaced := false
		for i := range d.fields {
			if d.fields[i].Name == f.Name {
				d.fields[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			d.fields = append(d.fields, f)
		}
	}
	for k, v := range subs {
		d.subStores[k] = v
	}
	if id != "" {
		d.idField = id
	}
}
